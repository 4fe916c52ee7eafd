package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"imgscan/mount"
)

var (
	_ Backend      = (*MockBackend)(nil)
	_ StaleRemover = (*MockBackend)(nil)
)

// MockBackend is a Backend for tests. Materialize lays down a small image
// root (see Releases) and, when Mounter is set, registers the image mount
// and thin device with it so leaks show up in MockMounter.Live().
//
// The devicemapper self bind is not emulated: content is always written at
// the mount point itself, and path/rootfs is only created as bind source.
type MockBackend struct {
	mu sync.Mutex

	Images []Ref
	Driver Driver

	// Releases maps image IDs to release file contents. Missing or empty
	// means the image has no release file.
	Releases    map[string]string
	ReleaseFile string

	// Mounter, when set, receives the image mount and device activation
	Mounter mount.Mounter

	failures map[string]error
	calls    []string
	active   map[string]string // backend ID -> image ID
	next     int
}

// NewMockBackend creates a MockBackend serving images with driver
func NewMockBackend(driver Driver, images ...Ref) *MockBackend {
	return &MockBackend{
		Images:      images,
		Driver:      driver,
		Releases:    make(map[string]string),
		ReleaseFile: "redhat-release",
		failures:    make(map[string]error),
		active:      make(map[string]string),
	}
}

// FailOn makes op ("list", "driver", "materialize", "release", "inspect",
// "stale") return err. Like the engine client, every call also fails with
// ctx.Err() once ctx is done.
func (b *MockBackend) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

func (b *MockBackend) record(ctx context.Context, op, arg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, op+":"+arg)
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.failures[op]
}

// Calls returns the recorded calls as "op:arg"
func (b *MockBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// CallCount returns how often op was called
func (b *MockBackend) CallCount(op string) int {
	n := 0
	for _, c := range b.Calls() {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

// Active returns backend IDs that were materialized but not released
func (b *MockBackend) Active() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.active))
	for id := range b.active {
		out = append(out, id)
	}
	return out
}

func (b *MockBackend) ListImages(ctx context.Context) ([]Ref, error) {
	if err := b.record(ctx, "list", ""); err != nil {
		return nil, err
	}
	return append([]Ref(nil), b.Images...), nil
}

func (b *MockBackend) StorageDriver(ctx context.Context) (Driver, error) {
	if err := b.record(ctx, "driver", ""); err != nil {
		return DriverGeneric, err
	}
	return b.Driver, nil
}

func (b *MockBackend) Materialize(ctx context.Context, ref Ref, path string) (string, error) {
	if err := b.record(ctx, "materialize", ref.ID); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.next++
	id := fmt.Sprintf("mock-%d", b.next)
	b.active[id] = ref.ID
	release := b.Releases[ref.ID]
	b.mu.Unlock()

	etc := filepath.Join(path, "etc")
	if err := os.MkdirAll(etc, 0755); err != nil {
		return id, err
	}
	if err := os.WriteFile(filepath.Join(etc, "hostname"), []byte(ref.Short()+"\n"), 0644); err != nil {
		return id, err
	}
	if release != "" {
		if err := os.WriteFile(filepath.Join(etc, b.ReleaseFile), []byte(release+"\n"), 0644); err != nil {
			return id, err
		}
	}

	if b.Driver == DriverDeviceMapper {
		if err := os.MkdirAll(filepath.Join(path, "rootfs"), 0755); err != nil {
			return id, err
		}
		if b.Mounter != nil {
			if err := b.Mounter.ActivateDevice(deviceName(id), "0 2048 thin /dev/mapper/mock-pool 1"); err != nil {
				return id, err
			}
		}
	}
	if b.Mounter != nil {
		if err := b.Mounter.Mount("image:"+ref.ID, path, "overlay", ""); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (b *MockBackend) Release(ctx context.Context, id string) error {
	if err := b.record(ctx, "release", id); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, id)
	return nil
}

func (b *MockBackend) InspectDeviceName(ctx context.Context, id string) (string, error) {
	if err := b.record(ctx, "inspect", id); err != nil {
		return "", err
	}
	return deviceName(id), nil
}

func deviceName(id string) string {
	return "docker-253:0-" + id
}

// RemoveStale releases every active backend ID
func (b *MockBackend) RemoveStale(ctx context.Context) (int, error) {
	if err := b.record(ctx, "stale", ""); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.active)
	b.active = make(map[string]string)
	return n, nil
}
