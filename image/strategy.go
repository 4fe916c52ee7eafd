package image

import (
	"context"
	"path/filepath"

	"imgscan/log"
	"imgscan/mount"
)

// Strategy holds the storage driver specific parts of mounting an image.
// StrategyFor is the only place that looks at the driver.
type Strategy interface {
	Driver() Driver

	// Materialize asks the backend for the image filesystem at h.Path and
	// finishes whatever the driver needs on top. h.BackendID is set as soon
	// as the backend returned one, even if a later step fails.
	Materialize(ctx context.Context, h *Handle) error

	// ExtraTeardown runs after the image root was unmounted once and
	// before the backend releases the handle.
	ExtraTeardown(ctx context.Context, h *Handle, force bool) error

	// Release hands the backend ID back to the backend
	Release(ctx context.Context, h *Handle, force bool) error
}

// StrategyFor returns the strategy for a storage driver
func StrategyFor(d Driver, backend Backend, ctl *mount.Controller, logger log.LibraryLogger) Strategy {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	base := genericStrategy{backend: backend, ctl: ctl, logger: logger}
	if d == DriverDeviceMapper {
		return deviceMapperStrategy{base}
	}
	return base
}

type genericStrategy struct {
	backend Backend
	ctl     *mount.Controller
	logger  log.LibraryLogger
}

func (genericStrategy) Driver() Driver { return DriverGeneric }

func (s genericStrategy) Materialize(ctx context.Context, h *Handle) error {
	id, err := s.backend.Materialize(ctx, h.Ref, h.Path)
	if id != "" {
		h.BackendID = id
	}
	if err != nil {
		return &mount.MountError{Op: "materialize", Path: h.Path, Source: h.Ref.ID, Err: err}
	}
	return nil
}

func (genericStrategy) ExtraTeardown(ctx context.Context, h *Handle, force bool) error {
	return nil
}

func (s genericStrategy) Release(ctx context.Context, h *Handle, force bool) error {
	if h.BackendID == "" {
		return nil
	}
	if err := s.backend.Release(ctx, h.BackendID); err != nil {
		if force {
			s.logger.Warn("ignoring release failure for %s: %v", h.BackendID, err)
			return nil
		}
		return &mount.MountError{Op: "release", Path: h.Path, Err: err}
	}
	return nil
}

// deviceMapperStrategy reproduces the devicemapper quirks: content lands
// in path/rootfs and is bound over path, and the thin device must be
// unmounted a second time and removed explicitly.
type deviceMapperStrategy struct {
	genericStrategy
}

func (deviceMapperStrategy) Driver() Driver { return DriverDeviceMapper }

func (s deviceMapperStrategy) Materialize(ctx context.Context, h *Handle) error {
	if err := s.genericStrategy.Materialize(ctx, h); err != nil {
		return err
	}

	dev, err := s.backend.InspectDeviceName(ctx, h.BackendID)
	if err != nil {
		return &mount.MountError{Op: "inspect-device", Path: h.Path, Err: err}
	}
	h.Device = dev

	return s.ctl.BindMount(filepath.Join(h.Path, "rootfs"), h.Path)
}

func (s deviceMapperStrategy) ExtraTeardown(ctx context.Context, h *Handle, force bool) error {
	if h.Device == "" && h.BackendID != "" {
		// Materialize failed before the name was cached
		dev, err := s.backend.InspectDeviceName(ctx, h.BackendID)
		if err != nil {
			if !force {
				return &mount.MountError{Op: "inspect-device", Path: h.Path, Err: err}
			}
			s.logger.Warn("cannot resolve thin device for %s: %v", h.BackendID, err)
		}
		h.Device = dev
	}

	// The first unmount leaves a stale reference behind
	if err := s.ctl.UnmountPath(h.Path, force); err != nil {
		return err
	}
	return s.ctl.RemoveThinDevice(h.Device, force)
}
