package log

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imgscan/config"
)

// logAliases maps short names accepted by the logs command to files
var logAliases = map[string]string{
	"00":      ResultsLog,
	"results": ResultsLog,
	"01":      ScannedLog,
	"scanned": ScannedLog,
	"02":      FailureLog,
	"failure": FailureLog,
	"03":      SkippedLog,
	"skipped": SkippedLog,
	"04":      DebugLog,
	"debug":   DebugLog,
}

// ResolveLogName maps an alias (e.g. "02" or "failure") to a log file path.
// Anything else is treated as an image ID and resolved to its image log.
func ResolveLogName(cfg *config.Config, name string) string {
	if file, ok := logAliases[name]; ok {
		return filepath.Join(cfg.LogsPath, file)
	}
	return ImageLogPath(cfg, name)
}

// ListLogs lists all available log files
func ListLogs(cfg *config.Config, w io.Writer) {
	fmt.Fprintln(w, "Available log files:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary logs:")
	fmt.Fprintln(w, "  00 or results - "+ResultsLog)
	fmt.Fprintln(w, "  01 or scanned - "+ScannedLog)
	fmt.Fprintln(w, "  02 or failure - "+FailureLog)
	fmt.Fprintln(w, "  03 or skipped - "+SkippedLog)
	fmt.Fprintln(w, "  04 or debug   - "+DebugLog)
	fmt.Fprintln(w)

	entries, err := os.ReadDir(filepath.Join(cfg.LogsPath, imageLogDir))
	if err != nil {
		return
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".log"))
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	fmt.Fprintln(w, "Image logs:")
	for _, id := range ids {
		fmt.Fprintf(w, "  %s\n", id)
	}
}

// ViewLog copies a log file to w
func ViewLog(cfg *config.Config, name string, w io.Writer) error {
	file, err := os.Open(ResolveLogName(cfg, name))
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(w, file)
	return err
}

// TailLog writes the last n lines of a log file to w
func TailLog(cfg *config.Config, name string, n int, w io.Writer) error {
	file, err := os.Open(ResolveLogName(cfg, name))
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	start := len(lines) - n
	if start < 0 {
		start = 0
	}
	for _, line := range lines[start:] {
		fmt.Fprintln(w, line)
	}
	return nil
}

// GetLogSummary returns counts of scanned, failed and skipped images
// recorded by the last run
func GetLogSummary(cfg *config.Config) map[string]int {
	summary := make(map[string]int)

	for key, file := range map[string]string{
		"scanned": ScannedLog,
		"failed":  FailureLog,
		"skipped": SkippedLog,
	} {
		if n, err := countEntries(filepath.Join(cfg.LogsPath, file)); err == nil {
			summary[key] = n
		}
	}

	return summary
}

// countEntries counts list entries, skipping the header line and blanks
func countEntries(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	count := 0
	first := true
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			continue
		}
		if line != "" && !strings.HasPrefix(line, "#") {
			count++
		}
	}

	return count, scanner.Err()
}
