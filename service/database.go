package service

import (
	"fmt"
	"os"
	"time"

	"imgscan/scandb"
)

// ResetDatabase removes the scan database. This deletes all scan history;
// the caller confirms with the user first. The database is reopened empty.
func (s *Service) ResetDatabase() (*DatabaseResult, error) {
	result := &DatabaseResult{}
	dbPath := s.cfg.Database.Path

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return result, nil
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return nil, fmt.Errorf("failed to close database before reset: %w", err)
		}
		s.db = nil
	}

	if err := os.Remove(dbPath); err != nil {
		return nil, fmt.Errorf("failed to remove database: %w", err)
	}
	result.DatabaseRemoved = true
	result.FilesRemoved = append(result.FilesRemoved, dbPath)
	s.logger.Info("Scan database removed: %s", dbPath)

	db, err := scandb.OpenDB(dbPath)
	if err != nil {
		return result, fmt.Errorf("failed to recreate database: %w", err)
	}
	s.db = db
	return result, nil
}

// DatabaseExists reports whether the database file exists
func (s *Service) DatabaseExists() bool {
	_, err := os.Stat(s.cfg.Database.Path)
	return err == nil
}

// GetDatabasePath returns the database file path
func (s *Service) GetDatabasePath() string {
	return s.cfg.Database.Path
}

// BackupDatabase writes a copy of the database next to it with a
// timestamp suffix and returns the backup path.
func (s *Service) BackupDatabase() (string, error) {
	dbPath := s.cfg.Database.Path
	if !s.DatabaseExists() {
		return "", fmt.Errorf("database does not exist: %s", dbPath)
	}

	if s.db == nil {
		return "", fmt.Errorf("database not initialized")
	}

	backup := fmt.Sprintf("%s.%s.bak", dbPath, time.Now().Format("20060102-150405"))
	if err := s.db.Backup(backup); err != nil {
		return "", err
	}
	s.logger.Info("Database backed up to %s", backup)
	return backup, nil
}
