package image

import (
	"context"
	"errors"

	"imgscan/log"
	"imgscan/mount"
)

// Mounter mounts images at a path and unmounts them again using the
// strategy of the run's storage driver.
type Mounter struct {
	backend  Backend
	ctl      *mount.Controller
	strategy Strategy
	logger   log.LibraryLogger
}

// NewMounter creates a Mounter for driver
func NewMounter(backend Backend, ctl *mount.Controller, driver Driver, logger log.LibraryLogger) *Mounter {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &Mounter{
		backend:  backend,
		ctl:      ctl,
		strategy: StrategyFor(driver, backend, ctl, logger),
		logger:   logger,
	}
}

// Driver returns the storage driver this Mounter was built for
func (m *Mounter) Driver() Driver {
	return m.strategy.Driver()
}

// Mount materializes ref at path. The handle is returned even on error so
// that recovery can release whatever part was established.
func (m *Mounter) Mount(ctx context.Context, path string, ref Ref) (*Handle, error) {
	h := &Handle{Path: path, Ref: ref}
	m.logger.Debug("materializing %s at %s (%s)", ref, path, m.Driver())
	if err := m.strategy.Materialize(ctx, h); err != nil {
		return h, err
	}
	return h, nil
}

// Unmount reverses Mount: the image root is unmounted first, then the
// driver's extra steps run, and only then is the handle released.
func (m *Mounter) Unmount(ctx context.Context, h *Handle) error {
	if h.Released {
		return &mount.MountError{Op: "unmount", Path: h.Path, Err: ErrReleased}
	}
	if err := m.ctl.UnmountPath(h.Path, false); err != nil {
		return err
	}
	if err := m.strategy.ExtraTeardown(ctx, h, false); err != nil {
		return err
	}
	if err := m.strategy.Release(ctx, h, false); err != nil {
		return err
	}
	h.Released = true
	return nil
}

// ForceUnmount runs the same steps as Unmount in force mode against path.
// h may be nil when the image never got that far. It never fails; the
// returned errors are for reporting only.
func (m *Mounter) ForceUnmount(ctx context.Context, path string, h *Handle) []error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(m.ctl.UnmountPath(path, true))

	if h == nil {
		h = &Handle{Path: path}
	}
	if h.Released {
		return errs
	}
	collect(m.strategy.ExtraTeardown(ctx, h, true))
	collect(m.strategy.Release(ctx, h, true))
	h.Released = true

	if len(errs) > 0 {
		m.logger.Warn("forced unmount of %s: %v", path, errors.Join(errs...))
	}
	return errs
}
