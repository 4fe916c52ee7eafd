package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imgscan/environment"
	"imgscan/image"
	"imgscan/mount"
	"imgscan/scan"
)

// errInterrupted is recorded on runs closed by Cleanup
var errInterrupted = errors.New("run interrupted; closed by cleanup")

// Cleanup releases what a crashed or killed run left behind: session and
// image mounts below the image root, stale backend containers and the
// ephemeral directories. Unfinished runs are marked as aborted. With
// opts.Purge the retained directories are removed as well.
//
// Every step runs in force mode; problems are collected in
// CleanupResult.Errors. An error is only returned when cleanup could not
// start at all.
func (s *Service) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupResult, error) {
	if err := s.requireRoot(); err != nil {
		return nil, err
	}
	result := &CleanupResult{}

	ctl := mount.NewController(s.mounter, s.lib)

	driver := image.DriverGeneric
	backend, err := s.imageBackend()
	if err != nil {
		s.logger.Warn("image backend unavailable, skipping backend cleanup: %v", err)
		result.Errors = append(result.Errors, err)
	} else if d, err := backend.StorageDriver(ctx); err == nil {
		driver = d
	} else {
		result.Errors = append(result.Errors, err)
	}

	em := environment.NewEmulator(s.cfg, s.host, ctl, s.lib)
	mounter := image.NewMounter(backend, ctl, driver, s.lib)
	result.Recovery = scan.NewRecovery(s.cfg, mounter, ctl, s.lib).ForceClean(ctx, em, nil)
	result.Errors = append(result.Errors, result.Recovery.Errors...)

	// Anything the fixed unmount list does not know about
	for _, p := range result.Recovery.Outstanding {
		if err := ctl.UnmountPath(p, true); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Unmounted = append(result.Unmounted, p)
	}
	if len(result.Unmounted) > 0 {
		left, err := ctl.Outstanding(s.cfg.ImageDir)
		if err != nil {
			result.Errors = append(result.Errors, err)
		} else if len(left) > 0 {
			result.Errors = append(result.Errors, fmt.Errorf("%d mounts could not be released: %v", len(left), left))
		} else if err := em.Dirs().Teardown(true); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	if sr, ok := backend.(image.StaleRemover); ok {
		n, err := sr.RemoveStale(ctx)
		result.StaleRemoved = n
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
		if n > 0 {
			s.logger.Info("removed %d stale containers", n)
		}
	}

	for {
		active, err := s.db.ActiveRun()
		if err != nil {
			result.Errors = append(result.Errors, err)
			break
		}
		if active == nil {
			break
		}
		if err := s.db.FinishRun(active.ID, active.Stats, time.Now(), errInterrupted); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}
		result.RunsClosed = append(result.RunsClosed, active.ID)
		s.logger.Info("closed unfinished run %s", active.ID)
	}

	if opts.Purge {
		if err := em.Dirs().Reset(); err != nil {
			result.Errors = append(result.Errors, err)
		} else {
			result.Purged = true
			s.logger.Info("removed all scan directories")
		}
	}

	return result, nil
}
