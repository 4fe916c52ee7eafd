package service

import (
	"fmt"
	"os"

	"imgscan/log"
)

// GetStatus returns recent runs with their per-image records, the run
// that never finished (if any) and the counts from the last run's logs.
//
// With opts.RunID only that run is returned. opts.Images adds the latest
// record of each listed image ID.
func (s *Service) GetStatus(opts StatusOptions) (*StatusResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	result := &StatusResult{
		LastLog: log.GetLogSummary(s.cfg),
	}

	if opts.RunID != "" {
		run, err := s.db.GetRun(opts.RunID)
		if err != nil {
			return nil, err
		}
		images, err := s.db.ListRunImages(run.ID)
		if err != nil {
			return nil, err
		}
		result.Runs = []RunStatus{{Run: *run, Images: images}}
	} else {
		runs, err := s.db.ListRuns(opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		for _, run := range runs {
			images, err := s.db.ListRunImages(run.ID)
			if err != nil {
				return nil, err
			}
			result.Runs = append(result.Runs, RunStatus{Run: run, Images: images})
		}
	}

	active, err := s.db.ActiveRun()
	if err != nil {
		return nil, err
	}
	result.Active = active

	for _, id := range opts.Images {
		latest, err := s.db.LatestFor(id)
		if err != nil {
			return nil, err
		}
		result.Images = append(result.Images, ImageStatus{ImageID: id, Latest: latest})
	}

	if info, err := os.Stat(s.cfg.Database.Path); err == nil {
		result.DatabaseSize = info.Size()
	}
	return result, nil
}
