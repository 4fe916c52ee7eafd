package service

import (
	"time"

	"imgscan/scan"
	"imgscan/scandb"
)

// ScanOptions contains options for Scan
type ScanOptions struct {
	Images     []string // ID prefixes or names to scan (empty = all images)
	KeepOutput bool     // Keep output from earlier runs instead of clearing it
}

// ScanResult contains the results of a scan run
type ScanResult struct {
	RunID    string
	Report   *scan.Report
	Duration time.Duration
}

// Stats converts the report into run statistics
func (r *ScanResult) Stats() scandb.RunStats {
	if r == nil || r.Report == nil {
		return scandb.RunStats{}
	}
	return scandb.RunStats{
		Total:   len(r.Report.Results),
		Scanned: r.Report.Count(scan.OutcomeSuccess),
		Failed:  r.Report.Count(scan.OutcomeFailed),
		Skipped: r.Report.Count(scan.OutcomeSkipped),
	}
}

// InitResult contains the results of Initialize
type InitResult struct {
	DirsCreated         []string // Directories created
	DatabaseInitialized bool
	Warnings            []string // Missing host sources and other non-fatal problems
}

// StatusOptions contains options for GetStatus
type StatusOptions struct {
	RunID  string   // Show only this run
	Limit  int      // Number of recent runs (0 = all)
	Images []string // Also look up the latest record of these image IDs
}

// StatusResult contains the results of a status query
type StatusResult struct {
	Runs         []RunStatus
	Active       *scandb.RunRecord // Run that never finished, if any
	Images       []ImageStatus
	LastLog      map[string]int // Counts from the last run's log files
	DatabaseSize int64
}

// RunStatus is one run with its image records
type RunStatus struct {
	Run    scandb.RunRecord
	Images []scandb.RunImageRecord
}

// ImageStatus is the latest known record for an image
type ImageStatus struct {
	ImageID string
	Latest  *scandb.RunImageRecord // nil if never scanned
}

// CleanupOptions contains options for Cleanup
type CleanupOptions struct {
	Purge bool // Also remove retained directories (output, collector, var-tmp)
}

// CleanupResult contains the results of a cleanup operation
type CleanupResult struct {
	Recovery     scan.RecoveryReport
	Unmounted    []string // Leftover mounts found below the image root
	StaleRemoved int      // Backend leftovers removed (stale containers)
	RunsClosed   []string // Unfinished runs marked as aborted
	Purged       bool
	Errors       []error // Non-fatal errors encountered
}

// DatabaseResult contains the results of a database operation
type DatabaseResult struct {
	DatabaseRemoved bool
	FilesRemoved    []string
}
