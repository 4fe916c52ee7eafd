package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imgscan/config"
)

// Compile-time interface checks
var (
	_ LibraryLogger = (*Logger)(nil)
	_ LibraryLogger = (*ContextLogger)(nil)
)

// Log file names below Config.LogsPath
const (
	ResultsLog = "00_last_results.log"
	ScannedLog = "01_scanned_list.log"
	FailureLog = "02_failure_list.log"
	SkippedLog = "03_skipped_list.log"
	DebugLog   = "04_debug.log"
)

// Logger manages the per-run log files of imgscan
type Logger struct {
	cfg         *config.Config
	resultsFile *os.File
	scannedFile *os.File
	failureFile *os.File
	skippedFile *os.File
	debugFile   *os.File
	mu          sync.Mutex
}

// LogContext provides metadata for contextual logging
type LogContext struct {
	RunID string // Scan run UUID (full or short)
	Image string // Image ID or name
}

// ContextLogger wraps Logger with context metadata for enriched log entries
type ContextLogger struct {
	logger *Logger
	ctx    LogContext
}

// NewLogger creates the logs directory and truncates all run log files
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	l := &Logger{cfg: cfg}
	files := []struct {
		name string
		dst  **os.File
	}{
		{ResultsLog, &l.resultsFile},
		{ScannedLog, &l.scannedFile},
		{FailureLog, &l.failureFile},
		{SkippedLog, &l.skippedFile},
		{DebugLog, &l.debugFile},
	}
	for _, f := range files {
		fh, err := os.Create(filepath.Join(cfg.LogsPath, f.name))
		if err != nil {
			l.Close()
			return nil, err
		}
		*f.dst = fh
	}

	l.writeHeaders()
	return l, nil
}

// Close closes all log files
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range []*os.File{l.resultsFile, l.scannedFile, l.failureFile, l.skippedFile, l.debugFile} {
		if f != nil {
			f.Close()
		}
	}
}

func (l *Logger) writeHeaders() {
	timestamp := time.Now().Format(time.RFC3339)

	fmt.Fprintf(l.resultsFile, "imgscan run log - %s\n", timestamp)
	fmt.Fprintf(l.resultsFile, "%s\n\n", strings.Repeat("=", 70))

	fmt.Fprintf(l.scannedFile, "Scanned images - %s\n\n", timestamp)
	fmt.Fprintf(l.failureFile, "Failed images - %s\n\n", timestamp)
	fmt.Fprintf(l.skippedFile, "Skipped images - %s\n\n", timestamp)
	fmt.Fprintf(l.debugFile, "Debug log - %s\n\n", timestamp)
}

// write appends line to every given file and syncs them. Caller holds l.mu.
func (l *Logger) write(line string, files ...*os.File) {
	for _, f := range files {
		f.WriteString(line)
		f.Sync()
	}
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

// Scanned logs an image the collector ran against
func (l *Logger) Scanned(image string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.write(fmt.Sprintf("[%s] SCANNED: %s\n", stamp(), image), l.resultsFile)
	l.write(image+"\n", l.scannedFile)
}

// Failed logs an image whose session failed in the given step
func (l *Logger) Failed(image, step, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.write(fmt.Sprintf("[%s] FAILED: %s (step: %s): %s\n", stamp(), image, step, reason), l.resultsFile)
	l.write(fmt.Sprintf("%s (step: %s)\n", image, step), l.failureFile)
}

// Skipped logs an image that was not applicable
func (l *Logger) Skipped(image, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.write(fmt.Sprintf("[%s] SKIPPED: %s (%s)\n", stamp(), image, reason), l.resultsFile)
	l.write(fmt.Sprintf("%s: %s\n", image, reason), l.skippedFile)
}

// Debug logs debug information
func (l *Logger) Debug(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.write(fmt.Sprintf("[%s] %s\n", stamp(), fmt.Sprintf(format, args...)), l.debugFile)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.write(fmt.Sprintf("[%s] ERROR: %s\n", stamp(), fmt.Sprintf(format, args...)), l.resultsFile, l.debugFile)
}

// Warn logs a warning message (non-fatal issues)
func (l *Logger) Warn(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.write(fmt.Sprintf("[%s] WARN: %s\n", stamp(), fmt.Sprintf(format, args...)), l.resultsFile, l.debugFile)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.write(fmt.Sprintf("[%s] INFO: %s\n", stamp(), fmt.Sprintf(format, args...)), l.resultsFile)
}

// WriteSummary writes a summary to the results log
func (l *Logger) WriteSummary(total, scanned, failed, skipped int, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.resultsFile, "\n%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "SCAN SUMMARY\n")
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(l.resultsFile, "Total images:      %d\n", total)
	fmt.Fprintf(l.resultsFile, "Scanned:           %d\n", scanned)
	fmt.Fprintf(l.resultsFile, "Failed:            %d\n", failed)
	fmt.Fprintf(l.resultsFile, "Skipped:           %d\n", skipped)
	fmt.Fprintf(l.resultsFile, "Duration:          %s\n", duration)
	fmt.Fprintf(l.resultsFile, "%s\n", strings.Repeat("=", 70))

	l.resultsFile.Sync()
}

// WithContext creates a ContextLogger with metadata for enriched logging.
// The RunID is truncated to 8 characters for readability.
//
// Example:
//
//	ctxLogger := logger.WithContext(log.LogContext{RunID: runID, Image: "3f2a9c1b"})
//	ctxLogger.Info("mounting image")
//	// Output: [15:04:05] [a1b2c3d4] 3f2a9c1b: INFO: mounting image
func (l *Logger) WithContext(ctx LogContext) *ContextLogger {
	return &ContextLogger{logger: l, ctx: ctx}
}

func (cl *ContextLogger) prefix() string {
	short := cl.ctx.RunID
	if len(short) > 8 {
		short = short[:8]
	}
	if cl.ctx.Image == "" {
		return fmt.Sprintf("[%s] ", short)
	}
	return fmt.Sprintf("[%s] %s: ", short, cl.ctx.Image)
}

func (cl *ContextLogger) emit(level string, toResults bool, format string, args []any) {
	msg := fmt.Sprintf("[%s] %s%s: %s\n", stamp(), cl.prefix(), level, fmt.Sprintf(format, args...))

	cl.logger.mu.Lock()
	defer cl.logger.mu.Unlock()

	if toResults {
		cl.logger.write(msg, cl.logger.resultsFile)
	}
	if level != "INFO" {
		cl.logger.write(msg, cl.logger.debugFile)
	}
}

// Info logs an informational message with context
func (cl *ContextLogger) Info(format string, args ...any) { cl.emit("INFO", true, format, args) }

// Debug logs debug information with context
func (cl *ContextLogger) Debug(format string, args ...any) { cl.emit("DEBUG", false, format, args) }

// Warn logs a warning with context
func (cl *ContextLogger) Warn(format string, args ...any) { cl.emit("WARN", true, format, args) }

// Error logs an error with context
func (cl *ContextLogger) Error(format string, args ...any) { cl.emit("ERROR", true, format, args) }
