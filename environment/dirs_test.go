package environment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"imgscan/config"
	"imgscan/log"
)

func newTestDirs(t *testing.T) (*DirectorySet, *MockHost, *config.Config) {
	t.Helper()
	cfg := config.UnderRoot(t.TempDir())
	host := NewMockHost().(*MockHost)
	return NewDirectorySet(cfg, host, nil), host, cfg
}

func TestDirectorySet_Ensure(t *testing.T) {
	dirs, host, cfg := newTestDirs(t)

	if err := dirs.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	for _, p := range dirs.Paths() {
		if !host.Exists(p) {
			t.Errorf("%s was not created", p)
		}
	}
	if !host.Exists(cfg.CollectorPythonDir()) {
		t.Error("interpreter mount point missing")
	}

	// Idempotent: nothing is recreated on the second call
	before := host.OpCount("mkdir")
	if err := dirs.Ensure(); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if host.OpCount("mkdir") != before {
		t.Error("Ensure should skip existing directories")
	}
}

func TestDirectorySet_EnsureFailure(t *testing.T) {
	dirs, host, cfg := newTestDirs(t)
	host.FailOnPath("mkdir", cfg.HostLogDir, errors.New("read-only file system"))

	err := dirs.Ensure()
	var de *DirectoryError
	if !errors.As(err, &de) {
		t.Fatalf("Ensure error = %v, want *DirectoryError", err)
	}
	if de.Path != cfg.HostLogDir || de.Op != "mkdir" {
		t.Errorf("DirectoryError = %+v", de)
	}
}

func TestDirectorySet_TeardownKeepsRetained(t *testing.T) {
	dirs, host, cfg := newTestDirs(t)
	if err := dirs.Ensure(); err != nil {
		t.Fatal(err)
	}
	// Something the collector produced must survive
	artifact := filepath.Join(cfg.VarTmpDir, "insights-image.tar.gz")
	if err := os.WriteFile(artifact, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := dirs.Teardown(false); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}

	for _, p := range []string{cfg.OutputDir, cfg.CollectorDir, cfg.VarTmpDir, artifact} {
		if !host.Exists(p) {
			t.Errorf("retained %s was removed", p)
		}
	}
	for _, p := range []string{cfg.ImageDir, cfg.HostLogDir, cfg.StagingEtcDir, cfg.CollectorOptDir()} {
		if host.Exists(p) {
			t.Errorf("ephemeral %s survived teardown", p)
		}
	}
}

func TestDirectorySet_TeardownForceNeverFails(t *testing.T) {
	tests := []struct {
		name  string
		setup func(host *MockHost, cfg *config.Config)
	}{
		{"nothing created", func(*MockHost, *config.Config) {}},
		{"image dir unremovable", func(h *MockHost, cfg *config.Config) {
			h.FailOnPath("remove", cfg.ImageDir, errors.New("device busy"))
		}},
		{"every remove fails", func(h *MockHost, _ *config.Config) {
			h.FailOn("remove", errors.New("permission denied"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dirs, host, cfg := newTestDirs(t)
			logger := log.NewMemoryLogger()
			dirs.logger = logger
			tt.setup(host, cfg)

			if err := dirs.Teardown(true); err != nil {
				t.Fatalf("Teardown(force) = %v, want nil", err)
			}

			// Every non-retained directory was attempted
			want := 0
			for _, p := range dirs.Paths() {
				if !dirs.Retained(p) {
					want++
				}
			}
			if got := host.OpCount("remove"); got != want {
				t.Errorf("remove attempts = %d, want %d", got, want)
			}
		})
	}
}

func TestDirectorySet_TeardownStopsOnFirstFailure(t *testing.T) {
	dirs, host, cfg := newTestDirs(t)
	host.FailOnPath("remove", cfg.ImageDir, errors.New("device busy"))

	err := dirs.Teardown(false)
	var de *DirectoryError
	if !errors.As(err, &de) || de.Path != cfg.ImageDir {
		t.Fatalf("Teardown error = %v, want DirectoryError on image dir", err)
	}
	if host.OpCount("remove") != 1 {
		t.Errorf("remove attempts = %d, want 1", host.OpCount("remove"))
	}
}

func TestDirectorySet_MountGuard(t *testing.T) {
	dirs, host, cfg := newTestDirs(t)
	if err := dirs.Ensure(); err != nil {
		t.Fatal(err)
	}
	dirs.SetMountGuard(func(p string) ([]string, error) {
		if p == cfg.ImageDir {
			return []string{filepath.Join(cfg.ImageDir, "tmp")}, nil
		}
		return nil, nil
	})

	err := dirs.Teardown(false)
	if !errors.Is(err, ErrMountsPresent) {
		t.Fatalf("Teardown error = %v, want ErrMountsPresent", err)
	}
	if !host.Exists(cfg.ImageDir) {
		t.Error("image dir with live mounts must not be removed")
	}

	// Forced teardown skips the busy dir but cleans the rest
	if err := dirs.Teardown(true); err != nil {
		t.Fatal(err)
	}
	if !host.Exists(cfg.ImageDir) || host.Exists(cfg.StagingEtcDir) {
		t.Error("forced teardown should skip only the guarded dir")
	}
}

func TestDirectorySet_Reset(t *testing.T) {
	dirs, host, _ := newTestDirs(t)
	if err := dirs.Ensure(); err != nil {
		t.Fatal(err)
	}
	if err := dirs.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	for _, p := range dirs.Paths() {
		if host.Exists(p) {
			t.Errorf("%s survived Reset", p)
		}
	}
}
