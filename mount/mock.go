package mount

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

var _ Mounter = (*MockMounter)(nil)

// MockMounter is a Mounter for tests. It never touches the kernel: mounts
// are tracked in memory (stacked per target, like the kernel does), every
// call is recorded, and failures can be injected per operation and path.
//
// Example:
//
//	m := mount.NewMockMounter()
//	m.FailOn("bind", "/img/var/log", errors.New("busy"))
//	// ... exercise code ...
//	if m.CallCount("unmount") != 11 { ... }
type MockMounter struct {
	mu       sync.Mutex
	calls    []Call
	mounted  map[string][]string // target -> stacked sources
	devices  map[string]bool
	failures map[string]error

	// StrictUnmount makes Unmount of a path that is not mounted fail with
	// ErrNotMounted, like the kernel does. Off by default.
	StrictUnmount bool
}

// Call is one recorded Mounter invocation
type Call struct {
	Op     string // "bind", "mount", "unmount", "activate", "remove-device", "mounted"
	Target string // mount target or device name
	Source string
}

func (c Call) String() string {
	if c.Source != "" {
		return fmt.Sprintf("%s:%s<-%s", c.Op, c.Target, c.Source)
	}
	return c.Op + ":" + c.Target
}

// NewMockMounter creates a MockMounter with no mounts
func NewMockMounter() *MockMounter {
	return &MockMounter{
		mounted:  make(map[string][]string),
		devices:  make(map[string]bool),
		failures: make(map[string]error),
	}
}

// FailOn makes op on target return err. A target of "*" matches every target.
func (m *MockMounter) FailOn(op, target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+":"+target] = err
}

// ClearFailures removes every injected failure
func (m *MockMounter) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// AddDevice registers an already active device (e.g. created by a backend)
func (m *MockMounter) AddDevice(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[name] = true
}

// record appends the call and returns the injected failure, if any.
// Caller holds m.mu.
func (m *MockMounter) record(op, target, source string) error {
	m.calls = append(m.calls, Call{Op: op, Target: target, Source: source})
	if err, ok := m.failures[op+":"+target]; ok {
		return err
	}
	if err, ok := m.failures[op+":*"]; ok {
		return err
	}
	return nil
}

func (m *MockMounter) Bind(source, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target = filepath.Clean(target)
	if err := m.record("bind", target, source); err != nil {
		return err
	}
	m.mounted[target] = append(m.mounted[target], source)
	return nil
}

func (m *MockMounter) Mount(source, target, fstype, options string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target = filepath.Clean(target)
	if err := m.record("mount", target, source); err != nil {
		return err
	}
	m.mounted[target] = append(m.mounted[target], source)
	return nil
}

func (m *MockMounter) Unmount(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target = filepath.Clean(target)
	if err := m.record("unmount", target, ""); err != nil {
		return err
	}
	stack := m.mounted[target]
	if len(stack) == 0 {
		if m.StrictUnmount {
			return fmt.Errorf("%w: %s", ErrNotMounted, target)
		}
		return nil
	}
	if len(stack) == 1 {
		delete(m.mounted, target)
	} else {
		m.mounted[target] = stack[:len(stack)-1]
	}
	return nil
}

func (m *MockMounter) ActivateDevice(name, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("activate", name, table); err != nil {
		return err
	}
	m.devices[name] = true
	return nil
}

func (m *MockMounter) RemoveDevice(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("remove-device", name, ""); err != nil {
		return err
	}
	if !m.devices[name] {
		return fmt.Errorf("%w: %s", ErrNoDevice, name)
	}
	delete(m.devices, name)
	return nil
}

func (m *MockMounter) Mounted(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix = filepath.Clean(prefix)
	if err := m.record("mounted", prefix, ""); err != nil {
		return nil, err
	}
	var out []string
	for target := range m.mounted {
		if target == prefix || strings.HasPrefix(target, prefix+"/") {
			out = append(out, target)
		}
	}
	sortDeepestFirst(out)
	return out, nil
}

// Calls returns a copy of all recorded calls
func (m *MockMounter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the recorded calls for op
func (m *MockMounter) CallsFor(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how often op was invoked
func (m *MockMounter) CallCount(op string) int {
	return len(m.CallsFor(op))
}

// CallCountFor returns how often op was invoked on target
func (m *MockMounter) CallCountFor(op, target string) int {
	target = filepath.Clean(target)
	n := 0
	for _, c := range m.CallsFor(op) {
		if c.Target == target {
			n++
		}
	}
	return n
}

// Live returns the currently mounted targets, deepest first
func (m *MockMounter) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.mounted))
	for target := range m.mounted {
		out = append(out, target)
	}
	sortDeepestFirst(out)
	return out
}

// Devices returns the names of active devices
func (m *MockMounter) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.devices))
	for name := range m.devices {
		out = append(out, name)
	}
	return out
}

// Reset clears recorded calls but keeps mounts, devices and failures
func (m *MockMounter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
