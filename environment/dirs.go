package environment

import (
	"fmt"

	"imgscan/config"
	"imgscan/log"
)

// MountGuard lists mounts still present at or below a path
type MountGuard func(path string) ([]string, error)

// DirectorySet is the fixed list of host scratch directories a session
// needs. Output, collector and var-tmp directories are retained across
// sessions; everything else is removed after each image.
type DirectorySet struct {
	host     Host
	logger   log.LibraryLogger
	paths    []string
	retained map[string]bool
	guard    MountGuard
}

// NewDirectorySet builds the directory list from cfg
func NewDirectorySet(cfg *config.Config, host Host, logger log.LibraryLogger) *DirectorySet {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &DirectorySet{
		host:   host,
		logger: logger,
		paths: []string{
			cfg.ImageDir,
			cfg.OutputDir,
			cfg.CollectorDir,
			cfg.HostLogDir,
			cfg.VarTmpDir,
			cfg.CollectorOptDir(),
			cfg.CollectorPythonDir(),
			cfg.StagingEtcDir,
		},
		retained: map[string]bool{
			cfg.OutputDir:    true,
			cfg.CollectorDir: true,
			cfg.VarTmpDir:    true,
		},
	}
}

// SetMountGuard installs a check that keeps Teardown from recursively
// removing a directory that still has something mounted below it.
func (d *DirectorySet) SetMountGuard(g MountGuard) {
	d.guard = g
}

// Paths returns the directory list in creation order
func (d *DirectorySet) Paths() []string {
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out
}

// Retained reports whether path survives per-image teardown
func (d *DirectorySet) Retained(path string) bool {
	return d.retained[path]
}

// Ensure creates every missing directory
func (d *DirectorySet) Ensure() error {
	for _, p := range d.paths {
		if d.host.Exists(p) {
			continue
		}
		if err := d.host.MkdirAll(p); err != nil {
			return &DirectoryError{Op: "mkdir", Path: p, Err: err}
		}
	}
	return nil
}

// Teardown removes every non-retained directory. Without force the first
// failure is returned; with force every directory is attempted and
// failures are only logged.
func (d *DirectorySet) Teardown(force bool) error {
	for _, p := range d.paths {
		if d.retained[p] {
			continue
		}
		if err := d.remove(p); err != nil {
			if !force {
				return err
			}
			d.logger.Warn("ignoring %v", err)
		}
	}
	return nil
}

// Reset removes every directory including the retained ones. It is only
// used for an explicit top-level reset, never between images.
func (d *DirectorySet) Reset() error {
	var firstErr error
	for _, p := range d.paths {
		if err := d.remove(p); err != nil {
			d.logger.Warn("reset: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *DirectorySet) remove(p string) error {
	if d.guard != nil {
		mounts, err := d.guard(p)
		if err != nil {
			return &DirectoryError{Op: "remove", Path: p, Err: err}
		}
		if len(mounts) > 0 {
			return &DirectoryError{Op: "remove", Path: p, Err: fmt.Errorf("%w: %v", ErrMountsPresent, mounts)}
		}
	}
	if err := d.host.RemoveAll(p); err != nil {
		return &DirectoryError{Op: "remove", Path: p, Err: err}
	}
	return nil
}
