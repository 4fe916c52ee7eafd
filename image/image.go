// Package image materializes container images as mounted root filesystems
// and releases them again. The container engine is reached through the
// Backend interface; everything that differs between storage drivers lives
// in a Strategy chosen once per scan run.
package image

import (
	"context"
	"errors"
	"strings"
)

// ErrReleased is returned when a Handle is used after a successful unmount
var ErrReleased = errors.New("mount handle already released")

// Ref identifies a candidate image
type Ref struct {
	ID   string // Engine image ID (sha256:...)
	Name string // First repository tag, if any
}

// Short returns the 12 character image ID
func (r Ref) Short() string {
	id := strings.TrimPrefix(r.ID, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (r Ref) String() string {
	if r.Name != "" {
		return r.Short() + " (" + r.Name + ")"
	}
	return r.Short()
}

// Matches reports whether filter selects this image: an ID prefix (with or
// without the sha256: prefix) or an exact name.
func (r Ref) Matches(filter string) bool {
	if filter == "" {
		return false
	}
	if r.Name == filter {
		return true
	}
	id := strings.TrimPrefix(r.ID, "sha256:")
	return strings.HasPrefix(id, strings.TrimPrefix(filter, "sha256:"))
}

// Driver is the storage driver family; it only decides how mounts are
// materialized and torn down.
type Driver int

const (
	DriverGeneric Driver = iota
	DriverDeviceMapper
)

// ParseDriver maps an engine storage driver name to a Driver
func ParseDriver(name string) Driver {
	if name == "devicemapper" {
		return DriverDeviceMapper
	}
	return DriverGeneric
}

func (d Driver) String() string {
	if d == DriverDeviceMapper {
		return "devicemapper"
	}
	return "generic"
}

// Backend is the container engine as seen by the scanner
type Backend interface {
	// ListImages returns every image on the host
	ListImages(ctx context.Context) ([]Ref, error)

	// StorageDriver reports the engine's storage driver
	StorageDriver(ctx context.Context) (Driver, error)

	// Materialize produces the root filesystem of ref at path and returns
	// a backend ID needed to release it. With devicemapper the content
	// appears one level down, under path/rootfs.
	Materialize(ctx context.Context, ref Ref, path string) (string, error)

	// Release frees everything Materialize allocated for id
	Release(ctx context.Context, id string) error

	// InspectDeviceName returns the thin device backing id (devicemapper only)
	InspectDeviceName(ctx context.Context, id string) (string, error)
}

// Handle tracks one materialized image
type Handle struct {
	Path      string // Image mount point
	Ref       Ref
	BackendID string // Empty when materialization failed
	Device    string // Thin device name (devicemapper), resolved at mount time
	Released  bool
}

// StaleRemover is implemented by backends that can find and remove what an
// interrupted run left behind
type StaleRemover interface {
	RemoveStale(ctx context.Context) (int, error)
}
