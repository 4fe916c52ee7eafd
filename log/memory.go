package log

import (
	"fmt"
	"strings"
	"sync"
)

// Compile-time interface checks
var (
	_ LibraryLogger = (*MemoryLogger)(nil)
	_ LibraryLogger = NoOpLogger{}
	_ LibraryLogger = StdoutLogger{}
	_ LibraryLogger = MultiLogger(nil)
)

// MemoryLogger captures all log messages in memory. Used by tests to
// assert on what the scan pipeline reported.
type MemoryLogger struct {
	mu       sync.Mutex
	messages []LogMessage
}

// LogMessage represents a captured log entry
type LogMessage struct {
	Level   string // "INFO", "DEBUG", "WARN", "ERROR"
	Message string
}

// NewMemoryLogger creates an empty MemoryLogger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) record(level, format string, args []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, LogMessage{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (m *MemoryLogger) Info(format string, args ...any)  { m.record("INFO", format, args) }
func (m *MemoryLogger) Debug(format string, args ...any) { m.record("DEBUG", format, args) }
func (m *MemoryLogger) Warn(format string, args ...any)  { m.record("WARN", format, args) }
func (m *MemoryLogger) Error(format string, args ...any) { m.record("ERROR", format, args) }

// Messages returns a copy of all captured messages
func (m *MemoryLogger) Messages() []LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// MessagesByLevel returns all messages of a specific level
func (m *MemoryLogger) MessagesByLevel(level string) []LogMessage {
	var out []LogMessage
	for _, msg := range m.Messages() {
		if msg.Level == level {
			out = append(out, msg)
		}
	}
	return out
}

// HasMessage reports whether any message contains substring
func (m *MemoryLogger) HasMessage(substring string) bool {
	return m.HasMessageWithLevel("", substring)
}

// HasMessageWithLevel reports whether a message at level contains substring.
// An empty level matches every level.
func (m *MemoryLogger) HasMessageWithLevel(level, substring string) bool {
	for _, msg := range m.Messages() {
		if (level == "" || msg.Level == level) && strings.Contains(msg.Message, substring) {
			return true
		}
	}
	return false
}

// CountByLevel returns the number of messages at a specific level
func (m *MemoryLogger) CountByLevel(level string) int {
	return len(m.MessagesByLevel(level))
}

// Clear removes all captured messages
func (m *MemoryLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// String returns all messages, one per line (useful when a test fails)
func (m *MemoryLogger) String() string {
	var sb strings.Builder
	for i, msg := range m.Messages() {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, msg.Level, msg.Message)
	}
	return sb.String()
}
