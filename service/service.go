// Package service provides the imgscan operations used by the CLI.
//
// The service layer sits between the CLI (cmd/) and the library packages
// (scan, image, environment, mount, scandb):
//
//   - CLI layer (cmd/): flags, prompts, output formatting
//   - Service layer (service/): wires configuration, logging, the scan
//     database and the host capabilities together
//   - Library layer: mounts, sessions and the scan loop, with no terminal I/O
//
// Host capabilities (image backend, mounter, filesystem host) are injected
// with Options so the whole service can run against mocks.
package service

import (
	"fmt"
	"io"

	"imgscan/config"
	"imgscan/environment"
	"imgscan/image"
	"imgscan/image/docker"
	"imgscan/log"
	"imgscan/mount"
	"imgscan/scandb"
	"imgscan/util"
)

// Service coordinates scans, cleanup and status queries.
//
// Usage:
//
//	cfg, _ := config.LoadConfig("", "default")
//	svc, err := service.NewService(cfg)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	result, err := svc.Scan(ctx, service.ScanOptions{})
type Service struct {
	cfg         *config.Config
	logger      *log.Logger
	lib         log.LibraryLogger // logger handed to mount, image and environment
	db          *scandb.DB
	host        environment.Host
	mounter     mount.Mounter
	backend     image.Backend
	requireRoot func() error
}

// Option customizes a Service
type Option func(*Service)

// WithBackend sets the image backend instead of connecting to Docker
func WithBackend(b image.Backend) Option {
	return func(s *Service) { s.backend = b }
}

// WithMounter sets the raw mount capability
func WithMounter(m mount.Mounter) Option {
	return func(s *Service) { s.mounter = m }
}

// WithHost sets the filesystem host instead of cfg.HostBackend
func WithHost(h environment.Host) Option {
	return func(s *Service) { s.host = h }
}

// WithPrivilegeCheck replaces the root check run before any mount
func WithPrivilegeCheck(fn func() error) Option {
	return func(s *Service) { s.requireRoot = fn }
}

// NewService initializes the logger and opens the scan database. The
// caller must call Close.
func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:         cfg,
		requireRoot: util.RequireRoot,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.host == nil {
		host, err := environment.New(cfg.HostBackend)
		if err != nil {
			return nil, err
		}
		s.host = host
	}
	if s.mounter == nil {
		s.mounter = mount.NewSystemMounter()
	}

	logger, err := log.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	s.logger = logger
	s.lib = logger
	if cfg.Debug {
		s.lib = log.MultiLogger{logger, log.StdoutLogger{Verbose: true}}
	}

	db, err := scandb.OpenDB(cfg.Database.Path)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to open scan database: %w", err)
	}
	s.db = db

	return s, nil
}

// Close releases the logger, the database and the backend connection
func (s *Service) Close() error {
	var errs []error

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend close: %w", err))
		}
	}
	if s.logger != nil {
		s.logger.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("service close errors: %v", errs)
	}
	return nil
}

// Config returns the service's configuration
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Logger returns the service's logger
func (s *Service) Logger() *log.Logger {
	return s.logger
}

// Database returns the scan database
func (s *Service) Database() *scandb.DB {
	return s.db
}

// imageBackend returns the injected backend or connects to Docker
func (s *Service) imageBackend() (image.Backend, error) {
	if s.backend != nil {
		return s.backend, nil
	}
	b, err := docker.New(s.cfg.DockerHost, s.mounter, s.lib)
	if err != nil {
		return nil, err
	}
	s.backend = b
	return b, nil
}
