package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imgscan/config"
)

var _ io.Writer = (*ImageLogger)(nil)

const imageLogDir = "images"

// ImageLogPath returns the log file path for an image
func ImageLogPath(cfg *config.Config, imageID string) string {
	return filepath.Join(cfg.LogsPath, imageLogDir, imageID+".log")
}

// ImageLogger logs step headers and launcher output for a single image
type ImageLogger struct {
	image string
	file  *os.File
	mu    sync.Mutex
}

// NewImageLogger creates the log for one image. On failure a logger that
// discards everything is returned so a scan never stops over its own logs.
func NewImageLogger(cfg *config.Config, imageID string) *ImageLogger {
	path := ImageLogPath(cfg, imageID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create image log dir: %v\n", err)
		return &ImageLogger{image: imageID}
	}

	file, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create image log: %v\n", err)
		return &ImageLogger{image: imageID}
	}

	return &ImageLogger{image: imageID, file: file}
}

// Close closes the image logger
func (il *ImageLogger) Close() {
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.file != nil {
		il.file.Close()
		il.file = nil
	}
}

// WriteHeader writes the log header
func (il *ImageLogger) WriteHeader(name string) {
	il.printf("%s\n", strings.Repeat("=", 70))
	il.printf("Scan Log: %s (%s)\n", il.image, name)
	il.printf("Started: %s\n", time.Now().Format(time.RFC3339))
	il.printf("%s\n\n", strings.Repeat("=", 70))
}

// WriteStep writes a step header
func (il *ImageLogger) WriteStep(step string) {
	il.printf("\n%s\n", strings.Repeat("-", 70))
	il.printf("Step: %s\n", step)
	il.printf("Time: %s\n", time.Now().Format("15:04:05"))
	il.printf("%s\n\n", strings.Repeat("-", 70))
}

// WriteCommand writes a command being executed
func (il *ImageLogger) WriteCommand(cmd string) {
	il.printf("Executing: %s\n", cmd)
}

// WriteFailure writes a failure message
func (il *ImageLogger) WriteFailure(step string, err error) {
	il.printf("\nFAILED in %s: %v\n", step, err)
}

// WriteResult writes the final outcome and duration
func (il *ImageLogger) WriteResult(outcome string, duration time.Duration) {
	il.printf("\n%s\n", strings.Repeat("=", 70))
	il.printf("Result: %s\n", outcome)
	il.printf("Duration: %s\n", duration)
	il.printf("%s\n", strings.Repeat("=", 70))
}

// Write implements io.Writer so launcher output can be streamed directly
func (il *ImageLogger) Write(p []byte) (int, error) {
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.file == nil {
		return len(p), nil
	}
	n, err := il.file.Write(p)
	il.file.Sync()
	return n, err
}

func (il *ImageLogger) printf(format string, args ...any) {
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.file == nil {
		return
	}
	fmt.Fprintf(il.file, format, args...)
	il.file.Sync()
}
