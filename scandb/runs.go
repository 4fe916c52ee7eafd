package scandb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
)

// RunStats aggregates per-run image outcomes
type RunStats struct {
	Total   int `json:"total"`
	Scanned int `json:"scanned"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunRecord captures one imgscan invocation
type RunRecord struct {
	ID        string    `json:"id"`
	Driver    string    `json:"driver"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Aborted   bool      `json:"aborted"`
	Error     string    `json:"error,omitempty"`
	Stats     RunStats  `json:"stats"`
}

// Active reports whether the run has not finished
func (r *RunRecord) Active() bool {
	return r.EndTime.IsZero()
}

// RunImageRecord is one image processed within a run
type RunImageRecord struct {
	RunID      string    `json:"run_id"`
	ImageID    string    `json:"image_id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Applicable bool      `json:"applicable"`
	Step       string    `json:"step,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

// StartRun writes a new run entry
func (db *DB) StartRun(runID, driver string, startTime time.Time) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	rec := RunRecord{ID: runID, Driver: driver, StartTime: startTime}
	return db.saveRunRecord(runID, &rec)
}

// FinishRun records the end of a run. runErr is the error that aborted it,
// if any.
func (db *DB) FinishRun(runID string, stats RunStats, endTime time.Time, runErr error) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	return db.updateRunRecord(runID, func(rec *RunRecord) {
		rec.EndTime = endTime
		rec.Stats = stats
		rec.Aborted = runErr != nil
		if runErr != nil {
			rec.Error = runErr.Error()
		}
	})
}

// GetRun fetches a run record by its ID
func (db *DB) GetRun(runID string) (*RunRecord, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}

	var rec RunRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		data := bucket.Get([]byte(runID))
		if data == nil {
			return &RecordError{Op: "get run", UUID: runID, Err: ErrRecordNotFound}
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		return bucket.ForEach(func(k, v []byte) error {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return &RecordError{Op: "unmarshal run", UUID: string(k), Err: err}
			}
			runs = append(runs, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ActiveRun returns the first run that has no end time, if any
func (db *DB) ActiveRun() (*RunRecord, error) {
	var rec *RunRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return &RecordError{Op: "unmarshal run", UUID: string(k), Err: err}
			}
			if r.Active() {
				rec = &r
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PutRunImage writes or updates an image record for its run and points the
// image index at it
func (db *DB) PutRunImage(rec *RunImageRecord) error {
	if rec == nil {
		return fmt.Errorf("image record is nil")
	}
	if err := validateRunID(rec.RunID); err != nil {
		return err
	}
	if rec.ImageID == "" {
		return &ValidationError{Field: "imageID", Err: ErrEmptyImageID}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal image", UUID: rec.RunID, Err: err}
	}

	return db.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket([]byte(BucketRunImages))
		if images == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRunImages, Err: ErrBucketNotFound}
		}
		index := tx.Bucket([]byte(BucketImageIndex))
		if index == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketImageIndex, Err: ErrBucketNotFound}
		}
		if err := images.Put(runImageKey(rec.RunID, rec.ImageID), data); err != nil {
			return err
		}
		return index.Put([]byte(rec.ImageID), []byte(rec.RunID))
	})
}

// ListRunImages returns all image records of a run in key order
func (db *DB) ListRunImages(runID string) ([]RunImageRecord, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}

	prefix := runImagePrefix(runID)
	var records []RunImageRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRunImages))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRunImages, Err: ErrBucketNotFound}
		}
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec RunImageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return &RecordError{Op: "unmarshal image", UUID: runID, Err: err}
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func runImageKey(runID, imageID string) []byte {
	return append(runImagePrefix(runID), []byte(imageID)...)
}

func runImagePrefix(runID string) []byte {
	return []byte(runID + "\x00")
}

func (db *DB) saveRunRecord(runID string, rec *RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &RecordError{Op: "marshal run", UUID: runID, Err: err}
	}

	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}
		return bucket.Put([]byte(runID), data)
	})
}

func (db *DB) updateRunRecord(runID string, mutate func(*RunRecord)) error {
	return db.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketRuns))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRuns, Err: ErrBucketNotFound}
		}

		data := bucket.Get([]byte(runID))
		if data == nil {
			return &RecordError{Op: "update run", UUID: runID, Err: ErrRecordNotFound}
		}

		var rec RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return &RecordError{Op: "unmarshal run", UUID: runID, Err: err}
		}

		mutate(&rec)

		updated, err := json.Marshal(&rec)
		if err != nil {
			return &RecordError{Op: "marshal run", UUID: runID, Err: err}
		}
		return bucket.Put([]byte(runID), updated)
	})
}
