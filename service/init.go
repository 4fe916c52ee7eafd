package service

import (
	"fmt"
	"os"
	"path/filepath"

	"imgscan/util"
)

// Initialize prepares a host for scanning: it creates the missing log,
// output, collector and database directories and checks that every host
// source a session binds or copies from exists. Missing sources are
// reported as warnings since the first scan would fail on them.
func (s *Service) Initialize() (*InitResult, error) {
	result := &InitResult{}

	dirs := []struct {
		label string
		path  string
	}{
		{"Logs", s.cfg.LogsPath},
		{"Output", s.cfg.OutputDir},
		{"Collector", s.cfg.CollectorDir},
		{"Database", filepath.Dir(s.cfg.Database.Path)},
	}
	for _, d := range dirs {
		if util.DirExists(d.path) {
			s.logger.Debug("%s directory exists: %s", d.label, d.path)
			continue
		}
		if err := os.MkdirAll(d.path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory (%s): %w", d.label, d.path, err)
		}
		result.DirsCreated = append(result.DirsCreated, d.path)
		s.logger.Info("Created %s: %s", d.label, d.path)
	}

	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	result.DatabaseInitialized = true

	sources := []struct {
		label string
		path  string
	}{
		{"launcher", s.cfg.LauncherPath},
		{"collector configuration", filepath.Join(s.cfg.CollectorDir, "etc")},
		{"interpreter runtime", s.cfg.InterpreterDir},
		{"credentials", s.cfg.CredentialsDir},
		{"home directory", s.cfg.HomeDir},
		{"resolver configuration", s.cfg.ResolvConf},
	}
	for _, src := range sources {
		if !s.host.Exists(src.path) {
			msg := fmt.Sprintf("%s not found: %s", src.label, src.path)
			result.Warnings = append(result.Warnings, msg)
			s.logger.Warn("%s", msg)
		}
	}

	return result, nil
}
