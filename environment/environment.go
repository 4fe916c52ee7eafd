// Package environment turns a mounted image root into something that looks
// like a live host root, runs the collector inside it and tears it all down.
//
// Every filesystem and process action goes through the Host capability so
// that sessions can be exercised without root privileges:
//   - "system": real filesystem, rsync/cp/mv and chroot(8)
//   - "mock": operates on a temporary tree, records every call
//
// Usage example:
//
//	host, err := environment.New(cfg.HostBackend)
//	if err != nil {
//	    return err
//	}
//	ctl := mount.NewController(mount.NewSystemMounter(), logger)
//	em := environment.NewEmulator(cfg, host, ctl, logger)
//
//	if err := em.PrepareDirs(); err != nil {
//	    return err
//	}
//	// ... mount image at cfg.ImageDir ...
//	if em.IsApplicable() {
//	    if err := em.Setup(); err != nil {
//	        return err
//	    }
//	    if err := em.Execute(ctx, os.Stdout); err != nil {
//	        return err
//	    }
//	    if err := em.Unmount(false); err != nil {
//	        return err
//	    }
//	}
//	return em.CleanupDirs(false)
package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Host abstracts every side effect a session has on the host: directory
// management, copying and running commands. Mounts are handled separately
// by mount.Controller.
type Host interface {
	// MkdirAll creates path and any missing parents
	MkdirAll(path string) error

	// RemoveAll removes path and everything below it
	RemoveAll(path string) error

	// Exists reports whether path exists
	Exists(path string) bool

	// ReadFile returns the contents of a file
	ReadFile(path string) ([]byte, error)

	// ReadDir returns the entry names of a directory
	ReadDir(path string) ([]string, error)

	// SyncTree copies the contents of src into dst, preserving attributes
	// (rsync -aqPS src/ dst/)
	SyncTree(src, dst string) error

	// CopyFile copies a single file into the directory dstDir
	CopyFile(src, dstDir string) error

	// CopyTree copies the directory src to dst; dst must not exist
	CopyTree(src, dst string) error

	// Move moves src into the directory dstDir
	Move(src, dstDir string) error

	// Execute runs a command, inside a chroot when cmd.Root is set.
	//
	// Returns:
	//   - ExecResult with exit code and duration
	//   - error if execution fails (not if command exits non-zero)
	Execute(ctx context.Context, cmd *ExecCommand) (*ExecResult, error)
}

// ExecCommand describes a command to execute
type ExecCommand struct {
	// Root is the directory to chroot into. Empty runs on the host.
	Root string

	// Command is the executable. With Root set it is a path inside Root.
	Command string

	// Args are the command arguments (excluding Command itself)
	Args []string

	// Env replaces the environment when non-empty
	Env map[string]string

	// Stdout and Stderr receive output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Timeout is the maximum execution duration. Zero means no timeout.
	// Context cancellation takes precedence.
	Timeout time.Duration
}

// ExecResult contains the result of command execution.
type ExecResult struct {
	// ExitCode is the command's exit code. -1 when it never ran.
	ExitCode int

	// Duration is how long the command took to execute.
	Duration time.Duration
}

// NewHostFunc is a constructor function for Host implementations.
type NewHostFunc func() Host

// Backend registry for Host implementations.
var backends = make(map[string]NewHostFunc)

// Register registers a Host backend.
//
// Panics if name is already registered (programming error).
func Register(name string, fn NewHostFunc) {
	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("host backend already registered: %s", name))
	}
	backends[name] = fn
}

// New creates a new Host instance for the specified backend.
func New(backend string) (Host, error) {
	fn, ok := backends[backend]
	if !ok {
		return nil, &ErrUnknownBackend{Backend: backend}
	}
	return fn(), nil
}

// ErrUnknownBackend is returned when requesting an unregistered backend.
type ErrUnknownBackend struct {
	Backend string
}

func (e *ErrUnknownBackend) Error() string {
	return fmt.Sprintf("unknown host backend: %s", e.Backend)
}

var (
	// ErrInvalidTransition is wrapped when a session step is called out of order
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrSessionAborted is wrapped when a step is attempted after a failure
	ErrSessionAborted = errors.New("session aborted by earlier failure")

	// ErrMountsPresent is wrapped when a directory still has mounts below it
	ErrMountsPresent = errors.New("mounts still present")
)

// EmulatorError reports a failed session step: directory provisioning,
// staging, preparing /etc, or running the launcher.
type EmulatorError struct {
	Op   string // Session step: "prepare-dirs", "first-mounts", "stage", "execute", ...
	Path string // Path or command involved
	Err  error
}

func (e *EmulatorError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("emulator %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("emulator %s: %v", e.Op, e.Err)
}

func (e *EmulatorError) Unwrap() error {
	return e.Err
}

// DirectoryError names the directory a create or remove failed on
type DirectoryError struct {
	Op   string // "mkdir" or "remove"
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// ErrExecutionFailed indicates a command could not be run at all.
//
// This is different from the command returning a non-zero exit code.
type ErrExecutionFailed struct {
	Op      string // "chroot", "exec"
	Command string
	Err     error
}

func (e *ErrExecutionFailed) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s failed: command %s: %v", e.Op, e.Command, e.Err)
	}
	return fmt.Sprintf("failed to execute %s: %v", e.Command, e.Err)
}

func (e *ErrExecutionFailed) Unwrap() error {
	return e.Err
}
