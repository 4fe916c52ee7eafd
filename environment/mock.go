package environment

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var _ Host = (*MockHost)(nil)

// MockHost is a Host for tests. Filesystem operations act on the real
// filesystem (tests point every path below t.TempDir()), but copies are
// done in Go instead of shelling out, Execute never runs anything, and
// every call is recorded. Failures can be injected per operation.
//
// Usage example:
//
//	host := environment.NewMockHost()
//	host.FailOn("copy-file", errors.New("disk full"))
//	host.OnExecute = func(cmd *environment.ExecCommand) error {
//	    // pretend the collector wrote its archive
//	    return os.WriteFile(filepath.Join(cfg.VarTmpDir, "out.tar.gz"), nil, 0644)
//	}
type MockHost struct {
	mu sync.Mutex

	ops      []HostOp
	failures map[string]error

	// ExecuteResult is returned by Execute. Defaults to exit code 0.
	ExecuteResult *ExecResult

	// OnExecute runs inside Execute before ExecuteResult is returned. A
	// non-nil error is returned as an execution failure.
	OnExecute func(cmd *ExecCommand) error

	// ExecuteCalls records every executed command
	ExecuteCalls []*ExecCommand
}

// HostOp is one recorded Host call
type HostOp struct {
	Op   string // "mkdir", "remove", "read", "readdir", "sync", "copy-file", "copy-tree", "move", "execute"
	Args []string
}

// NewMockHost creates a MockHost that succeeds at everything
func NewMockHost() Host {
	return &MockHost{
		failures:      make(map[string]error),
		ExecuteResult: &ExecResult{ExitCode: 0},
	}
}

func init() {
	Register("mock", NewMockHost)
}

// FailOn makes every call of op return err
func (m *MockHost) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// FailOnPath makes op return err when its first argument is path
func (m *MockHost) FailOnPath(op, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+":"+filepath.Clean(path)] = err
}

// ClearFailures removes every injected failure
func (m *MockHost) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

func (m *MockHost) record(op string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, HostOp{Op: op, Args: args})
	if len(args) > 0 {
		if err, ok := m.failures[op+":"+filepath.Clean(args[0])]; ok {
			return err
		}
	}
	if err, ok := m.failures[op]; ok {
		return err
	}
	return nil
}

// Ops returns a copy of all recorded calls
func (m *MockHost) Ops() []HostOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HostOp, len(m.ops))
	copy(out, m.ops)
	return out
}

// OpCount returns how often op was called
func (m *MockHost) OpCount(op string) int {
	n := 0
	for _, o := range m.Ops() {
		if o.Op == op {
			n++
		}
	}
	return n
}

// GetExecuteCallCount returns the number of Execute calls
func (m *MockHost) GetExecuteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ExecuteCalls)
}

func (m *MockHost) MkdirAll(path string) error {
	if err := m.record("mkdir", path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0755)
}

func (m *MockHost) RemoveAll(path string) error {
	if err := m.record("remove", path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}

// Exists is not recorded; it is a pure probe
func (m *MockHost) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *MockHost) ReadFile(path string) ([]byte, error) {
	if err := m.record("read", path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (m *MockHost) ReadDir(path string) ([]string, error) {
	if err := m.record("readdir", path); err != nil {
		return nil, err
	}
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

func (m *MockHost) SyncTree(src, dst string) error {
	if err := m.record("sync", src, dst); err != nil {
		return err
	}
	return copyTree(src, dst)
}

func (m *MockHost) CopyFile(src, dstDir string) error {
	if err := m.record("copy-file", src, dstDir); err != nil {
		return err
	}
	return copyFile(src, filepath.Join(dstDir, filepath.Base(src)))
}

func (m *MockHost) CopyTree(src, dst string) error {
	if err := m.record("copy-tree", src, dst); err != nil {
		return err
	}
	return copyTree(src, dst)
}

func (m *MockHost) Move(src, dstDir string) error {
	if err := m.record("move", src, dstDir); err != nil {
		return err
	}
	return os.Rename(src, filepath.Join(dstDir, filepath.Base(src)))
}

func (m *MockHost) Execute(ctx context.Context, cmd *ExecCommand) (*ExecResult, error) {
	if err := m.record("execute", cmd.Command); err != nil {
		return &ExecResult{ExitCode: -1}, &ErrExecutionFailed{Op: "chroot", Command: cmd.Command, Err: err}
	}

	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, cmd)
	hook := m.OnExecute
	result := *m.ExecuteResult
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &ExecResult{ExitCode: -1}, &ErrExecutionFailed{Op: "chroot", Command: cmd.Command, Err: err}
	}
	if cmd.Stdout != nil {
		io.WriteString(cmd.Stdout, "mock: "+strings.Join(append([]string{cmd.Command}, cmd.Args...), " ")+"\n")
	}
	if hook != nil {
		if err := hook(cmd); err != nil {
			return &ExecResult{ExitCode: -1}, &ErrExecutionFailed{Op: "chroot", Command: cmd.Command, Err: err}
		}
	}
	// A context cancelled while the command ran kills it
	if err := ctx.Err(); err != nil {
		return &ExecResult{ExitCode: -1}, &ErrExecutionFailed{Op: "chroot", Command: cmd.Command, Err: err}
	}
	return &result, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree copies the contents of src into dst, creating dst as needed
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}
