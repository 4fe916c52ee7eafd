// Package mount wraps the raw mount primitives used while emulating a host
// root on top of an image filesystem. Every operation is synchronous. Force
// mode changes whether a failure is returned, never what is attempted.
package mount

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"imgscan/log"
)

var (
	// ErrNotMounted is wrapped by Mounter.Unmount when the target is not a mount point
	ErrNotMounted = errors.New("not mounted")

	// ErrNoDevice is wrapped by Mounter.RemoveDevice when the device is already gone
	ErrNoDevice = errors.New("no such device")
)

// Mounter is the raw mount capability. SystemMounter talks to the kernel,
// MockMounter records calls for tests.
type Mounter interface {
	// Bind makes source visible at target (read-write bind mount)
	Bind(source, target string) error

	// Mount mounts a filesystem of the given type (overlay, xfs, ...)
	Mount(source, target, fstype, options string) error

	// Unmount detaches the mount at target
	Unmount(target string) error

	// ActivateDevice creates a device-mapper device from a table line
	ActivateDevice(name, table string) error

	// RemoveDevice releases a device-mapper device
	RemoveDevice(name string) error

	// Mounted lists mount points at or below prefix, deepest first
	Mounted(prefix string) ([]string, error)
}

// MountError identifies the failed mount operation and its target
type MountError struct {
	Op     string // "bind", "mount", "unmount", "remove-device", "materialize", "release", ...
	Path   string
	Source string
	Device string
	Err    error
}

func (e *MountError) Error() string {
	switch {
	case e.Device != "":
		return fmt.Sprintf("%s device %s: %v", e.Op, e.Device, e.Err)
	case e.Source != "":
		return fmt.Sprintf("%s %s to %s: %v", e.Op, e.Source, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// Controller performs bind-mount, unmount-path and thin device removal on
// top of a Mounter. Failures in force mode are logged and swallowed.
type Controller struct {
	mounter Mounter
	logger  log.LibraryLogger
}

// NewController creates a Controller. A nil logger discards messages.
func NewController(m Mounter, logger log.LibraryLogger) *Controller {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &Controller{mounter: m, logger: logger}
}

// Mounter returns the underlying capability
func (c *Controller) Mounter() Mounter {
	return c.mounter
}

// BindMount bind-mounts source onto target
func (c *Controller) BindMount(source, target string) error {
	c.logger.Debug("bind %s -> %s", source, target)
	if err := c.mounter.Bind(source, target); err != nil {
		return &MountError{Op: "bind", Path: target, Source: source, Err: err}
	}
	return nil
}

// UnmountPath unmounts a single path. With force set, a failure (including
// the path not being mounted at all) is logged and nil is returned.
func (c *Controller) UnmountPath(path string, force bool) error {
	c.logger.Debug("unmount %s (force=%v)", path, force)
	err := c.mounter.Unmount(path)
	if err == nil {
		return nil
	}
	if force {
		c.logger.Warn("ignoring unmount failure on %s: %v", path, err)
		return nil
	}
	return &MountError{Op: "unmount", Path: path, Err: err}
}

// RemoveThinDevice releases a device-mapper thin device. A device that is
// already gone counts as success only in force mode.
func (c *Controller) RemoveThinDevice(name string, force bool) error {
	c.logger.Debug("remove thin device %q (force=%v)", name, force)

	var err error
	if name == "" {
		err = ErrNoDevice
	} else {
		err = c.mounter.RemoveDevice(name)
	}
	if err == nil {
		return nil
	}
	if force {
		if errors.Is(err, ErrNoDevice) {
			c.logger.Debug("thin device %q already removed", name)
		} else {
			c.logger.Warn("ignoring device removal failure on %q: %v", name, err)
		}
		return nil
	}
	return &MountError{Op: "remove-device", Device: name, Err: err}
}

// Outstanding lists mount points still present at or below prefix
func (c *Controller) Outstanding(prefix string) ([]string, error) {
	mounts, err := c.mounter.Mounted(prefix)
	if err != nil {
		return nil, &MountError{Op: "list", Path: prefix, Err: err}
	}
	return mounts, nil
}

// sortDeepestFirst orders mount points so nested mounts come before their parents
func sortDeepestFirst(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di > dj
		}
		return paths[i] > paths[j]
	})
}
