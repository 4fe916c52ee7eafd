package scan

import (
	"context"

	"imgscan/config"
	"imgscan/environment"
	"imgscan/image"
	"imgscan/log"
	"imgscan/mount"
)

// RecoveryReport summarizes a forced cleanup
type RecoveryReport struct {
	Errors      []error  // Failures that were ignored along the way
	Outstanding []string // Mounts still present below the image root afterwards
}

// Clean reports whether every mount below the image root was released
func (r RecoveryReport) Clean() bool {
	return len(r.Outstanding) == 0
}

// Recovery releases whatever an interrupted image left behind
type Recovery struct {
	cfg     *config.Config
	mounter *image.Mounter
	ctl     *mount.Controller
	logger  log.LibraryLogger
}

// NewRecovery creates a Recovery
func NewRecovery(cfg *config.Config, mounter *image.Mounter, ctl *mount.Controller, logger log.LibraryLogger) *Recovery {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &Recovery{cfg: cfg, mounter: mounter, ctl: ctl, logger: logger}
}

// ForceClean tears down the session em and the image handle h in force
// mode. Either may be nil. It never fails; the caller still returns the
// error that triggered it.
func (r *Recovery) ForceClean(ctx context.Context, em *environment.Emulator, h *image.Handle) RecoveryReport {
	// Backend calls must not fail just because the run was interrupted
	ctx = context.WithoutCancel(ctx)

	var rep RecoveryReport
	root := r.cfg.ImageDir
	if h != nil && h.Path != "" {
		root = h.Path
	}
	r.logger.Warn("forced cleanup of %s", root)

	if em != nil {
		if err := em.Unmount(true); err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}

	rep.Errors = append(rep.Errors, r.mounter.ForceUnmount(ctx, root, h)...)

	if em != nil {
		if err := em.CleanupDirs(true); err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}

	left, err := r.ctl.Outstanding(root)
	if err != nil {
		rep.Errors = append(rep.Errors, err)
	}
	rep.Outstanding = left

	if rep.Clean() {
		r.logger.Info("all mounts and devices below %s have been released", root)
	} else {
		r.logger.Error("%d mounts still present below %s: %v", len(left), root, left)
	}
	return rep
}
