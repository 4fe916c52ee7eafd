// Package scandb keeps the history of scan runs in a bbolt database: one
// record per run, one record per image scanned in a run, and an index of
// the latest run that touched each image.
package scandb

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
const (
	BucketRuns       = "scan_runs"
	BucketRunImages  = "run_images"
	BucketImageIndex = "image_index"
)

// DB wraps a bbolt database for scan history
type DB struct {
	db   *bolt.DB
	path string
}

// OpenDB opens or creates the database at path and initializes its
// buckets. The parent directory is created if needed.
//
// Example:
//
//	db, err := scandb.OpenDB("/var/lib/imgscan/scans.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketRunImages, BucketImageIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return &DatabaseError{Op: "create bucket", Bucket: name, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{db: bdb, path: path}, nil
}

// Close closes the database. It is safe to call more than once.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	return err
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// LatestFor returns the most recent image record for imageID, or nil if
// the image was never scanned.
func (db *DB) LatestFor(imageID string) (*RunImageRecord, error) {
	if imageID == "" {
		return nil, &ValidationError{Field: "imageID", Err: ErrEmptyImageID}
	}

	var rec *RunImageRecord
	err := db.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket([]byte(BucketImageIndex))
		if index == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketImageIndex, Err: ErrBucketNotFound}
		}
		runID := index.Get([]byte(imageID))
		if runID == nil {
			return nil
		}

		images := tx.Bucket([]byte(BucketRunImages))
		if images == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketRunImages, Err: ErrBucketNotFound}
		}
		data := images.Get(runImageKey(string(runID), imageID))
		if data == nil {
			return &RecordError{Op: "lookup image", UUID: string(runID), Err: ErrOrphanedRecord}
		}

		rec = &RunImageRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return &RecordError{Op: "unmarshal image", UUID: string(runID), Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// validateRunID checks that runID is a UUID
func validateRunID(runID string) error {
	if runID == "" {
		return &ValidationError{Field: "runID", Err: ErrEmptyUUID}
	}
	if _, err := uuid.Parse(runID); err != nil {
		return &ValidationError{Field: "runID", Value: runID, Err: ErrInvalidUUID}
	}
	return nil
}

// Backup writes a consistent copy of the database to path
func (db *DB) Backup(path string) error {
	err := db.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
	if err != nil {
		return &DatabaseError{Op: "backup", Err: err}
	}
	return nil
}
