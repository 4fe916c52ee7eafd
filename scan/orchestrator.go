package scan

import (
	"context"
	"fmt"
	"time"

	"imgscan/config"
	"imgscan/environment"
	"imgscan/image"
	"imgscan/log"
	"imgscan/mount"
)

// Orchestrator scans images one at a time. Bind mounts and chroot state
// are host-global, so there is never more than one session alive.
type Orchestrator struct {
	cfg      *config.Config
	host     environment.Host
	ctl      *mount.Controller
	mounter  *image.Mounter
	recovery *Recovery
	logger   *log.Logger

	// RunID tags log lines; may be empty
	RunID string

	// OnResult, when set, is called after each image finished
	OnResult func(Result)
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(cfg *config.Config, host environment.Host, ctl *mount.Controller, mounter *image.Mounter, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		host:     host,
		ctl:      ctl,
		mounter:  mounter,
		recovery: NewRecovery(cfg, mounter, ctl, logger),
		logger:   logger,
	}
}

// Scan processes refs in order. The first failing image is cleaned up by
// force and aborts the run; its error is returned together with the
// partial report. Cancelling ctx stops the run before the next image.
// Output is gathered once every image has been processed.
func (o *Orchestrator) Scan(ctx context.Context, refs []image.Ref) (*Report, error) {
	start := time.Now()
	report := &Report{Driver: o.mounter.Driver()}
	defer func() {
		report.Duration = time.Since(start)
		o.logger.WriteSummary(len(refs), report.Count(OutcomeSuccess),
			report.Count(OutcomeFailed), report.Count(OutcomeSkipped), report.Duration)
	}()

	if len(refs) == 0 {
		o.logger.Info("no images to scan")
		return report, nil
	}
	o.logger.Info("scanning %d images (storage driver %s)", len(refs), report.Driver)

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("scan interrupted after %d of %d images", i, len(refs))
			return report, err
		}

		res, err := o.scanImage(ctx, ref)
		report.Results = append(report.Results, res)
		if o.OnResult != nil {
			o.OnResult(res)
		}
		if err != nil {
			return report, fmt.Errorf("scan of %s aborted: %w", ref.Short(), err)
		}
	}

	gathered, err := Gather(o.host, o.cfg)
	report.Gathered = gathered
	if err != nil {
		o.logger.Error("gathering output failed: %v", err)
		return report, err
	}
	o.logger.Info("gathered %d entries into %s", len(gathered), o.cfg.OutputDir)
	return report, nil
}

// scanImage runs one image from directory setup to directory cleanup
func (o *Orchestrator) scanImage(ctx context.Context, ref image.Ref) (Result, error) {
	start := time.Now()
	res := Result{Image: ref}

	il := log.NewImageLogger(o.cfg, ref.Short())
	defer il.Close()
	il.WriteHeader(ref.Name)

	logger := o.logger.WithContext(log.LogContext{RunID: o.RunID, Image: ref.Short()})
	em := environment.NewEmulator(o.cfg, o.host, o.ctl, logger)

	// Cancellation only takes effect between images. Once an image is
	// started it runs to the end or to the launcher timeout, and teardown
	// must still reach the backend.
	work := context.WithoutCancel(ctx)

	var h *image.Handle
	step := ""
	run := func(name string, fn func() error) error {
		step = name
		il.WriteStep(name)
		return fn()
	}

	err := run("prepare-dirs", em.PrepareDirs)
	if err == nil {
		err = run("mount-image", func() error {
			var merr error
			h, merr = o.mounter.Mount(work, o.cfg.ImageDir, ref)
			return merr
		})
	}
	if err == nil {
		res.Applicable = em.IsApplicable()
		if res.Applicable {
			logger.Info("scanning %s", ref)
			err = run("setup", em.Setup)
			if err == nil {
				il.WriteCommand("chroot " + em.Root() + " " + em.LauncherCommand())
				err = run("execute", func() error { return em.Execute(work, il) })
			}
			if err == nil {
				err = run("unmount-session", func() error { return em.Unmount(false) })
			}
		} else {
			logger.Info("%s does not match %q %q, skipping", ref, o.cfg.ReleaseName, o.cfg.ReleaseVersion)
		}
	}
	if err == nil {
		err = run("unmount-image", func() error { return o.mounter.Unmount(work, h) })
	}
	if err == nil {
		err = run("cleanup-dirs", func() error { return em.CleanupDirs(false) })
	}

	res.Duration = time.Since(start)
	if err != nil {
		il.WriteFailure(step, err)
		rep := o.recovery.ForceClean(work, em, h)
		if rep.Clean() {
			logger.Error("unable to complete %s: %v. All mounts and devices have been removed.", step, err)
		} else {
			logger.Error("unable to complete %s: %v. Mounts left: %v", step, err, rep.Outstanding)
		}

		res.Outcome = OutcomeFailed
		res.Step = step
		res.Reason = err.Error()
		res.Kind = Classify(err)
		o.logger.Failed(ref.String(), step, err.Error())
		il.WriteResult(res.Outcome.String(), res.Duration)
		return res, err
	}

	if res.Applicable {
		res.Outcome = OutcomeSuccess
		o.logger.Scanned(ref.String())
	} else {
		res.Outcome = OutcomeSkipped
		res.Reason = "not applicable"
		o.logger.Skipped(ref.String(), res.Reason)
	}
	il.WriteResult(res.Outcome.String(), res.Duration)
	return res, nil
}
