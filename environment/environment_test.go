package environment

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestNew_ValidBackend(t *testing.T) {
	tests := []struct {
		backend string
		check   func(Host) bool
	}{
		{"mock", func(h Host) bool { _, ok := h.(*MockHost); return ok }},
		{"system", func(h Host) bool { _, ok := h.(*SystemHost); return ok }},
	}
	for _, tt := range tests {
		host, err := New(tt.backend)
		if err != nil {
			t.Fatalf("New(%q) error = %v, want nil", tt.backend, err)
		}
		if !tt.check(host) {
			t.Errorf("New(%q) returned %T", tt.backend, host)
		}
	}
}

func TestNew_InvalidBackend(t *testing.T) {
	host, err := New("nonexistent")
	if host != nil {
		t.Error("New(\"nonexistent\") should return nil host")
	}

	var unknownErr *ErrUnknownBackend
	if !errors.As(err, &unknownErr) {
		t.Fatalf("error type = %T, want *ErrUnknownBackend", err)
	}
	if unknownErr.Backend != "nonexistent" {
		t.Errorf("ErrUnknownBackend.Backend = %q, want %q", unknownErr.Backend, "nonexistent")
	}
	if err.Error() != "unknown host backend: nonexistent" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRegister_Duplicate(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Register() with duplicate name should panic")
		}
	}()

	Register("mock", NewMockHost)
}

func TestEmulatorError(t *testing.T) {
	inner := errors.New("permission denied")
	tests := []struct {
		name string
		err  *EmulatorError
		want string
	}{
		{"with path", &EmulatorError{Op: "stage", Path: "/home/temp_etc/pki", Err: inner}, "emulator stage /home/temp_etc/pki: permission denied"},
		{"without path", &EmulatorError{Op: "unmount", Err: inner}, "emulator unmount: permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, inner) {
				t.Error("errors.Is() should find inner error")
			}
		})
	}
}

func TestDirectoryError(t *testing.T) {
	inner := errors.New("read-only file system")
	err := &DirectoryError{Op: "mkdir", Path: "/var/tmp/log", Err: inner}

	if !strings.Contains(err.Error(), "/var/tmp/log") {
		t.Errorf("Error() = %q, should name the path", err.Error())
	}
	if err.Unwrap() != inner {
		t.Error("Unwrap() should return the cause")
	}
}

func TestErrExecutionFailed_Error(t *testing.T) {
	inner := errors.New("no such file")
	tests := []struct {
		op   string
		want string
	}{
		{"chroot", "chroot failed: command /mnt/launcher.sh: no such file"},
		{"", "failed to execute /mnt/launcher.sh: no such file"},
	}
	for _, tt := range tests {
		err := &ErrExecutionFailed{Op: tt.op, Command: "/mnt/launcher.sh", Err: inner}
		if got := err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestSystemHost_Execute(t *testing.T) {
	requireShell(t)
	host := NewSystemHost()

	var out bytes.Buffer
	result, err := host.Execute(context.Background(), &ExecCommand{
		Command: "sh",
		Args:    []string{"-c", "echo collected; exit 3"},
		Stdout:  &out,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, non-zero exit is not an execution failure", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if strings.TrimSpace(out.String()) != "collected" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestSystemHost_ExecuteMissingCommand(t *testing.T) {
	host := NewSystemHost()

	result, err := host.Execute(context.Background(), &ExecCommand{Command: "/nonexistent/launcher.sh"})
	var execErr *ErrExecutionFailed
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ErrExecutionFailed", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
}

func TestSystemHost_ExecuteTimeout(t *testing.T) {
	requireShell(t)
	host := NewSystemHost()

	start := time.Now()
	_, err := host.Execute(context.Background(), &ExecCommand{
		Command: "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("timeout did not stop the command")
	}
}

func TestWithSlash(t *testing.T) {
	tests := map[string]string{
		"/img/etc":  "/img/etc/",
		"/img/etc/": "/img/etc/",
		"/":         "/",
	}
	for in, want := range tests {
		if got := withSlash(in); got != want {
			t.Errorf("withSlash(%q) = %q, want %q", in, got, want)
		}
	}
}
