package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"imgscan/util"
)

var _ Host = (*SystemHost)(nil)

// SystemHost performs real filesystem operations and runs commands with
// chroot(8). Copies shell out to rsync/cp/mv so attributes, devices and
// sparse files survive the same way they do for an operator running the
// commands by hand.
type SystemHost struct{}

// NewSystemHost returns the host backend
func NewSystemHost() Host {
	return &SystemHost{}
}

func init() {
	Register("system", NewSystemHost)
}

func (SystemHost) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (SystemHost) RemoveAll(path string) error {
	return util.RemoveAll(path)
}

func (SystemHost) Exists(path string) bool {
	return util.FileExists(path)
}

func (SystemHost) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (SystemHost) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (SystemHost) SyncTree(src, dst string) error {
	return util.RunCommandQuiet("rsync", "-aqPS", withSlash(src), withSlash(dst))
}

func (SystemHost) CopyFile(src, dstDir string) error {
	return util.CopyFile(src, withSlash(dstDir))
}

func (SystemHost) CopyTree(src, dst string) error {
	return util.CopyDir(src, dst)
}

func (SystemHost) Move(src, dstDir string) error {
	return util.RunCommandQuiet("mv", src, withSlash(dstDir))
}

// Execute runs cmd, through chroot when cmd.Root is set.
//
// A command returning a non-zero exit code is not an error here; the code
// is reported in ExecResult. Failure to start the command, a timeout or a
// cancelled context is returned as *ErrExecutionFailed.
func (SystemHost) Execute(ctx context.Context, cmd *ExecCommand) (*ExecResult, error) {
	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	op := "exec"
	name, args := cmd.Command, cmd.Args
	if cmd.Root != "" {
		// chroot <root> <command> <args...>
		op = "chroot"
		name = "chroot"
		args = append([]string{cmd.Root, cmd.Command}, cmd.Args...)
	}

	execCmd := exec.CommandContext(execCtx, name, args...)
	execCmd.Dir = "/"

	if len(cmd.Env) > 0 {
		env := make([]string, 0, len(cmd.Env))
		for k, v := range cmd.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		execCmd.Env = env
	}
	if cmd.Stdout != nil {
		execCmd.Stdout = cmd.Stdout
	}
	if cmd.Stderr != nil {
		execCmd.Stderr = cmd.Stderr
	}

	start := time.Now()
	err := execCmd.Run()
	result := &ExecResult{Duration: time.Since(start)}

	if err != nil {
		if ctxErr := execCtx.Err(); ctxErr != nil {
			result.ExitCode = -1
			return result, &ErrExecutionFailed{Op: op, Command: cmd.Command, Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, &ErrExecutionFailed{Op: op, Command: cmd.Command, Err: err}
	}

	return result, nil
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return filepath.Clean(p) + "/"
}
