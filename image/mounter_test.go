package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"imgscan/log"
	"imgscan/mount"
)

var testRef = Ref{ID: "sha256:aaaabbbbccccdddd", Name: "centos:7"}

func newTestMounter(t *testing.T, d Driver) (*Mounter, *MockBackend, *mount.MockMounter, string) {
	t.Helper()
	mm := mount.NewMockMounter()
	b := NewMockBackend(d, testRef)
	b.Mounter = mm
	b.Releases[testRef.ID] = "Example Distro release 7.2"
	path := filepath.Join(t.TempDir(), "image")
	m := NewMounter(b, mount.NewController(mm, log.NoOpLogger{}), d, nil)
	return m, b, mm, path
}

func TestMounter_GenericRoundTrip(t *testing.T) {
	m, b, mm, path := newTestMounter(t, DriverGeneric)
	ctx := context.Background()

	h, err := m.Mount(ctx, path, testRef)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if h.BackendID == "" {
		t.Error("BackendID not set")
	}
	if h.Device != "" {
		t.Errorf("generic mount resolved device %q", h.Device)
	}
	if _, err := os.Stat(filepath.Join(path, "etc", "redhat-release")); err != nil {
		t.Errorf("release file missing: %v", err)
	}
	if mm.CallCount("bind") != 0 {
		t.Errorf("generic mount should not bind, got %d", mm.CallCount("bind"))
	}

	if err := m.Unmount(ctx, h); err != nil {
		t.Fatalf("Unmount failed: %v", err)
	}
	if n := mm.CallCountFor("unmount", path); n != 1 {
		t.Errorf("unmount-path calls = %d, want 1", n)
	}
	if n := mm.CallCount("remove-device"); n != 0 {
		t.Errorf("remove-device calls = %d, want 0", n)
	}
	if len(mm.Live()) != 0 {
		t.Errorf("mounts left: %v", mm.Live())
	}
	if len(b.Active()) != 0 {
		t.Errorf("backend handles left: %v", b.Active())
	}
	if !h.Released {
		t.Error("handle not marked released")
	}
}

func TestMounter_DeviceMapperRoundTrip(t *testing.T) {
	m, b, mm, path := newTestMounter(t, DriverDeviceMapper)
	ctx := context.Background()

	h, err := m.Mount(ctx, path, testRef)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if h.Device != deviceName(h.BackendID) {
		t.Errorf("Device = %q", h.Device)
	}
	binds := mm.CallsFor("bind")
	if len(binds) != 1 || binds[0].Source != filepath.Join(path, "rootfs") || binds[0].Target != path {
		t.Errorf("self bind = %v", binds)
	}

	if err := m.Unmount(ctx, h); err != nil {
		t.Fatalf("Unmount failed: %v", err)
	}
	if n := mm.CallCountFor("unmount", path); n != 2 {
		t.Errorf("unmount-path calls = %d, want 2", n)
	}
	if n := mm.CallCount("remove-device"); n != 1 {
		t.Errorf("remove-device calls = %d, want 1", n)
	}
	if len(mm.Live()) != 0 || len(mm.Devices()) != 0 {
		t.Errorf("leaked mounts %v devices %v", mm.Live(), mm.Devices())
	}
	if len(b.Active()) != 0 {
		t.Errorf("backend handles left: %v", b.Active())
	}
}

func TestMounter_DeviceRemovedBeforeRelease(t *testing.T) {
	m, b, mm, path := newTestMounter(t, DriverDeviceMapper)
	ctx := context.Background()

	h, err := m.Mount(ctx, path, testRef)
	if err != nil {
		t.Fatal(err)
	}
	// A backend that cannot release must leave the device already removed
	b.FailOn("release", errors.New("container in use"))
	if err := m.Unmount(ctx, h); err == nil {
		t.Fatal("expected release error")
	}
	if mm.CallCount("remove-device") != 1 {
		t.Error("device should be removed before release")
	}
	if h.Released {
		t.Error("handle must stay unreleased after failure")
	}
}

func TestMounter_UnmountReleasedHandle(t *testing.T) {
	m, _, _, path := newTestMounter(t, DriverGeneric)
	ctx := context.Background()

	h, err := m.Mount(ctx, path, testRef)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Unmount(ctx, h); err != nil {
		t.Fatal(err)
	}
	err = m.Unmount(ctx, h)
	if !errors.Is(err, ErrReleased) {
		t.Errorf("second Unmount = %v, want ErrReleased", err)
	}
}

func TestMounter_MaterializeFailure(t *testing.T) {
	m, b, mm, path := newTestMounter(t, DriverGeneric)
	boom := errors.New("no space left on device")
	b.FailOn("materialize", boom)

	h, err := m.Mount(context.Background(), path, testRef)
	if err == nil {
		t.Fatal("expected error")
	}
	if h == nil {
		t.Fatal("handle must be returned on failure")
	}
	if h.BackendID != "" {
		t.Errorf("BackendID = %q", h.BackendID)
	}
	var me *mount.MountError
	if !errors.As(err, &me) || me.Op != "materialize" {
		t.Errorf("error = %v, want materialize MountError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("error should wrap the backend failure")
	}

	errs := m.ForceUnmount(context.Background(), path, h)
	if len(errs) != 0 {
		t.Errorf("ForceUnmount errors = %v", errs)
	}
	if b.CallCount("release") != 0 {
		t.Error("nothing to release without a backend ID")
	}
	if len(mm.Live()) != 0 {
		t.Errorf("mounts left: %v", mm.Live())
	}
}

func TestMounter_InspectFailureResolvesLater(t *testing.T) {
	m, b, mm, path := newTestMounter(t, DriverDeviceMapper)
	ctx := context.Background()

	b.FailOn("inspect", errors.New("engine timeout"))
	h, err := m.Mount(ctx, path, testRef)
	if err == nil {
		t.Fatal("expected inspect error")
	}
	if h.BackendID == "" || h.Device != "" {
		t.Fatalf("handle = %+v", h)
	}

	// Recovery resolves the device once the engine answers again
	b.FailOn("inspect", nil)
	m.ForceUnmount(ctx, path, h)

	if b.CallCount("inspect") != 2 {
		t.Errorf("inspect calls = %d, want 2", b.CallCount("inspect"))
	}
	if len(mm.Devices()) != 0 {
		t.Errorf("devices left: %v", mm.Devices())
	}
	if len(b.Active()) != 0 {
		t.Errorf("backend handles left: %v", b.Active())
	}
	if len(mm.Live()) != 0 {
		t.Errorf("mounts left: %v", mm.Live())
	}
}

func TestMounter_ForceUnmountNilHandle(t *testing.T) {
	for _, d := range []Driver{DriverGeneric, DriverDeviceMapper} {
		t.Run(d.String(), func(t *testing.T) {
			m, b, mm, path := newTestMounter(t, d)
			mm.StrictUnmount = true

			errs := m.ForceUnmount(context.Background(), path, nil)
			if len(errs) != 0 {
				t.Errorf("ForceUnmount errors = %v", errs)
			}
			if mm.CallCountFor("unmount", path) == 0 {
				t.Error("path should still be unmounted")
			}
			if b.CallCount("release") != 0 {
				t.Error("release without backend ID")
			}
		})
	}
}

func TestMounter_ForceUnmountSwallowsFailures(t *testing.T) {
	m, b, mm, path := newTestMounter(t, DriverDeviceMapper)
	ctx := context.Background()

	h, err := m.Mount(ctx, path, testRef)
	if err != nil {
		t.Fatal(err)
	}
	mm.FailOn("unmount", path, errors.New("device busy"))
	mm.FailOn("remove-device", "*", errors.New("device busy"))
	b.FailOn("release", errors.New("conflict"))

	errs := m.ForceUnmount(ctx, path, h)
	if len(errs) != 0 {
		t.Errorf("force mode must swallow failures, got %v", errs)
	}
	if mm.CallCountFor("unmount", path) != 2 || mm.CallCount("remove-device") != 1 || b.CallCount("release") != 1 {
		t.Errorf("every step should be attempted: %v", mm.Calls())
	}
	if !h.Released {
		t.Error("handle should be marked released")
	}
}

func TestMounter_PartialMaterializeKeepsBackendID(t *testing.T) {
	for _, d := range []Driver{DriverGeneric, DriverDeviceMapper} {
		t.Run(d.String(), func(t *testing.T) {
			m, b, mm, path := newTestMounter(t, d)
			// The backend allocates its container, then the image mount fails
			mm.FailOn("mount", path, errors.New("wrong fs type"))

			h, err := m.Mount(context.Background(), path, testRef)
			if err == nil {
				t.Fatal("expected error")
			}
			if h.BackendID != "mock-1" {
				t.Fatalf("BackendID = %q, want mock-1", h.BackendID)
			}

			if errs := m.ForceUnmount(context.Background(), path, h); len(errs) != 0 {
				t.Errorf("ForceUnmount errors = %v", errs)
			}
			if len(b.Active()) != 0 {
				t.Errorf("backend IDs leaked: %v", b.Active())
			}
			if len(mm.Devices()) != 0 {
				t.Errorf("thin devices leaked: %v", mm.Devices())
			}
		})
	}
}
