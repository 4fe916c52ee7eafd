package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"imgscan/image"
	"imgscan/mount"
	"imgscan/scan"
	"imgscan/scandb"
)

// Scan runs one scan over the selected images and records it in the scan
// database.
//
// The process includes:
//  1. Privilege check (before anything is mounted)
//  2. Listing images and selecting those matching opts.Images
//  3. Clearing output of earlier runs unless opts.KeepOutput is set
//  4. Running the orchestrator, which stops at the first failing image
//
// The returned ScanResult is populated even when the scan failed.
func (s *Service) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	start := time.Now()

	if err := s.requireRoot(); err != nil {
		return nil, err
	}

	if active, err := s.db.ActiveRun(); err == nil && active != nil {
		s.logger.Warn("run %s started %s never finished; consider running cleanup",
			active.ID, active.StartTime.Format(time.RFC3339))
	}

	backend, err := s.imageBackend()
	if err != nil {
		return nil, err
	}

	all, err := backend.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	refs, err := selectImages(all, opts.Images)
	if err != nil {
		return nil, err
	}

	driver, err := backend.StorageDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine storage driver: %w", err)
	}

	if !opts.KeepOutput {
		if err := s.host.RemoveAll(s.cfg.OutputDir); err != nil {
			return nil, fmt.Errorf("unable to remove old output %s: %w", s.cfg.OutputDir, err)
		}
	}

	runID := uuid.New().String()
	if err := s.db.StartRun(runID, driver.String(), start); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	ctl := mount.NewController(s.mounter, s.lib)
	orch := scan.NewOrchestrator(s.cfg, s.host, ctl, image.NewMounter(backend, ctl, driver, s.lib), s.logger)
	orch.RunID = runID
	orch.OnResult = func(r scan.Result) {
		if err := s.db.PutRunImage(imageRecord(runID, r)); err != nil {
			s.logger.Warn("failed to record %s: %v", r.Image.Short(), err)
		}
	}

	report, scanErr := orch.Scan(ctx, refs)
	result := &ScanResult{
		RunID:    runID,
		Report:   report,
		Duration: time.Since(start),
	}

	if err := s.db.FinishRun(runID, result.Stats(), time.Now(), scanErr); err != nil {
		s.logger.Warn("failed to finish run %s: %v", runID, err)
	}
	return result, scanErr
}

// selectImages keeps the images matching any filter. No filters selects
// every image.
func selectImages(all []image.Ref, filters []string) ([]image.Ref, error) {
	if len(filters) == 0 {
		return all, nil
	}

	var out []image.Ref
	for _, ref := range all {
		for _, f := range filters {
			if ref.Matches(f) {
				out = append(out, ref)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no images match %v", filters)
	}
	return out, nil
}

func imageRecord(runID string, r scan.Result) *scandb.RunImageRecord {
	end := time.Now()
	status := scandb.RunStatusSuccess
	switch r.Outcome {
	case scan.OutcomeSkipped:
		status = scandb.RunStatusSkipped
	case scan.OutcomeFailed:
		status = scandb.RunStatusFailed
	}
	rec := &scandb.RunImageRecord{
		RunID:      runID,
		ImageID:    r.Image.ID,
		Name:       r.Image.Name,
		Status:     status,
		Applicable: r.Applicable,
		Step:       r.Step,
		Reason:     r.Reason,
		StartTime:  end.Add(-r.Duration),
		EndTime:    end,
	}
	if r.Kind != scan.KindNone {
		rec.Kind = r.Kind.String()
	}
	return rec
}
