// Package scan runs the per-image scan loop: mount an image, emulate a
// host on top of it, run the collector, tear everything down again, and
// finally gather the collected output.
package scan

import (
	"errors"
	"time"

	"imgscan/environment"
	"imgscan/image"
	"imgscan/mount"
)

// Outcome is the result of scanning one image
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// FailureKind tells which layer a failure came from
type FailureKind int

const (
	KindNone FailureKind = iota
	KindMount
	KindEmulator
	KindOther
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMount:
		return "mount"
	case KindEmulator:
		return "emulator"
	}
	return "other"
}

// Classify maps an error to its FailureKind. Bind failures inside an
// emulation session surface as mount failures.
func Classify(err error) FailureKind {
	if err == nil {
		return KindNone
	}
	var ee *environment.EmulatorError
	var de *environment.DirectoryError
	var me *mount.MountError
	switch {
	case errors.As(err, &ee), errors.As(err, &de):
		return KindEmulator
	case errors.As(err, &me):
		return KindMount
	}
	return KindOther
}

// Result describes one scanned image
type Result struct {
	Image      image.Ref
	Applicable bool
	Outcome    Outcome
	Step       string // Step that failed, empty on success
	Reason     string
	Kind       FailureKind
	Duration   time.Duration
}

// Report is the outcome of a whole scan run
type Report struct {
	Driver   image.Driver
	Results  []Result
	Gathered []string // Paths moved into the output directory
	Duration time.Duration
}

// Count returns how many results have outcome o
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}
