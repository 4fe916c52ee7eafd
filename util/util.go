package util

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNotRoot is returned by RequireRoot when the process lacks privileges
var ErrNotRoot = errors.New("root privileges required")

// Geteuid is replaceable in tests
var Geteuid = unix.Geteuid

// RequireRoot fails unless the effective user is root
func RequireRoot() error {
	if Geteuid() != 0 {
		return fmt.Errorf("%w (euid %d)", ErrNotRoot, Geteuid())
	}
	return nil
}

// AskYN prompts the user for yes/no confirmation
func AskYN(prompt string, defaultYes bool) bool {
	if defaultYes {
		fmt.Printf("%s [Y/n]: ", prompt)
	} else {
		fmt.Printf("%s [y/N]: ", prompt)
	}

	var response string
	fmt.Scanln(&response)
	return parseYN(response, defaultYes)
}

func parseYN(response string, defaultYes bool) bool {
	response = strings.ToLower(strings.TrimSpace(response))
	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists checks if a directory exists
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CopyFile copies a file from src to dst, preserving mode and times
func CopyFile(src, dst string) error {
	return RunCommandQuiet("cp", "-p", src, dst)
}

// CopyDir recursively copies a directory
func CopyDir(src, dst string) error {
	return RunCommandQuiet("cp", "-Rp", src, dst)
}

// RemoveAll removes a directory tree, falling back to rm -rf
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err == nil {
		return nil
	}
	return RunCommandQuiet("rm", "-rf", path)
}

// RunCommandQuiet runs a command and folds its output into the error
func RunCommandQuiet(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return nil
}

// ShortID truncates an image or run identifier for display
func ShortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// FormatDuration formats a duration in seconds as a human-readable string
func FormatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	seconds = seconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}
