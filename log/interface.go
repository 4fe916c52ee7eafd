package log

import "fmt"

// LibraryLogger is a minimal interface for packages that need to report
// progress and diagnostics without knowing where the output ends up.
//
// The scan pipeline writes through this interface so the same code runs
// under the CLI (file + stdout logging), in tests (MemoryLogger) or silently
// (NoOpLogger).
type LibraryLogger interface {
	// Info logs informational messages (e.g., "Mounting image abc123")
	Info(format string, args ...any)

	// Debug logs debug/diagnostic messages (may be no-op in production)
	Debug(format string, args ...any)

	// Warn logs warning messages (non-fatal issues, swallowed force-mode failures)
	Warn(format string, args ...any)

	// Error logs error messages
	Error(format string, args ...any)
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

func (NoOpLogger) Info(format string, args ...any)  {}
func (NoOpLogger) Debug(format string, args ...any) {}
func (NoOpLogger) Warn(format string, args ...any)  {}
func (NoOpLogger) Error(format string, args ...any) {}

// StdoutLogger prints all messages to stdout with severity prefix.
type StdoutLogger struct {
	// Verbose enables Debug output
	Verbose bool
}

func (s StdoutLogger) Info(format string, args ...any) {
	fmt.Printf("[INFO] "+format+"\n", args...)
}

func (s StdoutLogger) Debug(format string, args ...any) {
	if s.Verbose {
		fmt.Printf("[DEBUG] "+format+"\n", args...)
	}
}

func (s StdoutLogger) Warn(format string, args ...any) {
	fmt.Printf("[WARN] "+format+"\n", args...)
}

func (s StdoutLogger) Error(format string, args ...any) {
	fmt.Printf("[ERROR] "+format+"\n", args...)
}

// MultiLogger fans every message out to several loggers.
type MultiLogger []LibraryLogger

func (m MultiLogger) Info(format string, args ...any) {
	for _, l := range m {
		l.Info(format, args...)
	}
}

func (m MultiLogger) Debug(format string, args ...any) {
	for _, l := range m {
		l.Debug(format, args...)
	}
}

func (m MultiLogger) Warn(format string, args ...any) {
	for _, l := range m {
		l.Warn(format, args...)
	}
}

func (m MultiLogger) Error(format string, args ...any) {
	for _, l := range m {
		l.Error(format, args...)
	}
}
