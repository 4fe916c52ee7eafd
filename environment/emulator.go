package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"imgscan/config"
	"imgscan/log"
	"imgscan/mount"
)

// pseudoFilesystems are bound from the host into the image root first
var pseudoFilesystems = []string{"sys", "proc", "dev", "tmp"}

// unmountOrder lists every session mount target relative to the image
// root, deepest binds first.
var unmountOrder = []string{
	"var/tmp",
	"var/log",
	"mnt/opt/python",
	"mnt",
	"etc/pki/consumer",
	"root",
	"sys",
	"proc",
	"dev",
	"tmp",
	"etc",
}

// Emulator owns one emulation session on top of an image mounted at
// cfg.ImageDir. Steps must be called in order; a failed step aborts the
// session and only forced teardown is accepted afterwards.
type Emulator struct {
	cfg    *config.Config
	host   Host
	ctl    *mount.Controller
	dirs   *DirectorySet
	logger log.LibraryLogger

	state    State
	first    []string
	second   []string
	executed bool
	tornDown bool
	aborted  bool
}

// NewEmulator creates an idle session
func NewEmulator(cfg *config.Config, host Host, ctl *mount.Controller, logger log.LibraryLogger) *Emulator {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	dirs := NewDirectorySet(cfg, host, logger)
	dirs.SetMountGuard(ctl.Outstanding)
	return &Emulator{
		cfg:    cfg,
		host:   host,
		ctl:    ctl,
		dirs:   dirs,
		logger: logger,
	}
}

// Root is the image mount point
func (e *Emulator) Root() string {
	return e.cfg.ImageDir
}

// Dirs returns the session's directory set
func (e *Emulator) Dirs() *DirectorySet {
	return e.dirs
}

// State returns the current lifecycle state
func (e *Emulator) State() State {
	return e.state
}

// Session returns a snapshot of the session
func (e *Emulator) Session() Session {
	return Session{
		State:       e.state,
		FirstPhase:  append([]string(nil), e.first...),
		SecondPhase: append([]string(nil), e.second...),
		Executed:    e.executed,
		TornDown:    e.tornDown,
		Aborted:     e.aborted,
	}
}

func (e *Emulator) path(rel string) string {
	return filepath.Join(e.cfg.ImageDir, rel)
}

// begin checks that the session may move from one of the given states
func (e *Emulator) begin(op string, from ...State) error {
	if e.aborted {
		return &EmulatorError{Op: op, Err: ErrSessionAborted}
	}
	for _, s := range from {
		if e.state == s {
			return nil
		}
	}
	return &EmulatorError{Op: op, Err: fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, e.state)}
}

// fail marks the session aborted and wraps err as an EmulatorError unless
// it already is a session or mount error.
func (e *Emulator) fail(op, path string, err error) error {
	e.aborted = true
	var ee *EmulatorError
	var me *mount.MountError
	if errors.As(err, &ee) || errors.As(err, &me) {
		return err
	}
	return &EmulatorError{Op: op, Path: path, Err: err}
}

// IsApplicable probes the release file of the mounted image
func (e *Emulator) IsApplicable() bool {
	return IsApplicable(e.host, e.cfg.ImageDir, ReleaseRule{
		File:    e.cfg.ReleaseFile,
		Name:    e.cfg.ReleaseName,
		Version: e.cfg.ReleaseVersion,
	})
}

// PrepareDirs creates the directory set (Idle -> DirsReady)
func (e *Emulator) PrepareDirs() error {
	if err := e.begin("prepare-dirs", StateIdle); err != nil {
		return err
	}
	if err := e.dirs.Ensure(); err != nil {
		var de *DirectoryError
		path := ""
		if errors.As(err, &de) {
			path = de.Path
		}
		return e.fail("prepare-dirs", path, err)
	}
	e.state = StateDirsReady
	return nil
}

// ensureTarget creates a missing mount point inside the image
func (e *Emulator) ensureTarget(target string) error {
	if e.host.Exists(target) {
		return nil
	}
	return e.host.MkdirAll(target)
}

func (e *Emulator) bind(op, source, rel string, established *[]string) error {
	target := e.path(rel)
	if err := e.ensureTarget(target); err != nil {
		return e.fail(op, target, err)
	}
	if err := e.ctl.BindMount(source, target); err != nil {
		return e.fail(op, target, err)
	}
	*established = append(*established, target)
	return nil
}

// FirstMounts copies the image /etc out to the staging directory, binds
// the host pseudo-filesystems and then binds the staging directory over
// the image /etc (DirsReady -> FirstMounted).
func (e *Emulator) FirstMounts() error {
	const op = "first-mounts"
	if err := e.begin(op, StateDirsReady); err != nil {
		return err
	}

	// The copy must see the image's own /etc, before the staging bind hides it
	imageEtc := e.path("etc")
	if e.host.Exists(imageEtc) {
		if err := e.host.SyncTree(imageEtc, e.cfg.StagingEtcDir); err != nil {
			return e.fail(op, imageEtc, err)
		}
	}

	for _, d := range pseudoFilesystems {
		if err := e.bind(op, filepath.Join(e.cfg.SystemPath, d), d, &e.first); err != nil {
			return err
		}
	}
	if err := e.bind(op, e.cfg.StagingEtcDir, "etc", &e.first); err != nil {
		return err
	}

	e.state = StateFirstMounted
	return nil
}

// Stage makes sure the staged /etc carries pki/consumer, which some images
// lack (FirstMounted -> Staged).
func (e *Emulator) Stage() error {
	const op = "stage"
	if err := e.begin(op, StateFirstMounted); err != nil {
		return err
	}
	for _, rel := range []string{"pki", "pki/consumer"} {
		p := filepath.Join(e.cfg.StagingEtcDir, rel)
		if e.host.Exists(p) {
			continue
		}
		if err := e.host.MkdirAll(p); err != nil {
			return e.fail(op, p, err)
		}
	}
	e.state = StateStaged
	return nil
}

// SecondMounts layers the host var-tmp, log, collector, interpreter,
// credentials and home directories into the image (Staged -> SecondMounted).
func (e *Emulator) SecondMounts() error {
	const op = "second-mounts"
	if err := e.begin(op, StateStaged); err != nil {
		return err
	}

	binds := []struct{ source, target string }{
		{e.cfg.VarTmpDir, "var/tmp"},
		{e.cfg.HostLogDir, "var/log"},
		{e.cfg.CollectorDir, "mnt"},
		{e.cfg.InterpreterDir, "mnt/opt/python"},
		{e.cfg.CredentialsDir, "etc/pki/consumer"},
		{e.cfg.HomeDir, "root"},
	}
	for _, b := range binds {
		if err := e.bind(op, b.source, b.target, &e.second); err != nil {
			return err
		}
	}

	e.state = StateSecondMounted
	return nil
}

// PrepareEtc copies the host resolver config into the image /etc and
// replaces the collector's configuration directory there with a fresh copy
// (SecondMounted -> EtcPrepared).
func (e *Emulator) PrepareEtc() error {
	const op = "prepare-etc"
	if err := e.begin(op, StateSecondMounted); err != nil {
		return err
	}

	etc := e.path("etc")
	if err := e.host.CopyFile(e.cfg.ResolvConf, etc); err != nil {
		return e.fail(op, e.cfg.ResolvConf, err)
	}

	collectorEtc := filepath.Join(etc, e.cfg.CollectorEtcName)
	if err := e.host.RemoveAll(collectorEtc); err != nil {
		return e.fail(op, collectorEtc, err)
	}
	if err := e.host.CopyTree(filepath.Join(e.cfg.CollectorDir, "etc"), collectorEtc); err != nil {
		return e.fail(op, collectorEtc, err)
	}

	e.state = StateEtcPrepared
	return nil
}

// LauncherCommand is the launcher path as seen inside the image
func (e *Emulator) LauncherCommand() string {
	return "/mnt/" + filepath.Base(e.cfg.LauncherPath)
}

// CopyLauncher places the launcher script in the image /mnt
// (EtcPrepared -> LauncherCopied).
func (e *Emulator) CopyLauncher() error {
	const op = "copy-launcher"
	if err := e.begin(op, StateEtcPrepared); err != nil {
		return err
	}
	if err := e.host.CopyFile(e.cfg.LauncherPath, e.path("mnt")); err != nil {
		return e.fail(op, e.cfg.LauncherPath, err)
	}
	e.state = StateLauncherCopied
	return nil
}

// Setup runs every step from FirstMounted through LauncherCopied
func (e *Emulator) Setup() error {
	steps := []func() error{
		e.FirstMounts,
		e.Stage,
		e.SecondMounts,
		e.PrepareEtc,
		e.CopyLauncher,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the launcher inside the image root. Launcher output goes to
// out. A non-zero exit status fails the session (LauncherCopied -> Executed).
func (e *Emulator) Execute(ctx context.Context, out io.Writer) error {
	const op = "execute"
	if err := e.begin(op, StateLauncherCopied); err != nil {
		return err
	}

	cmd := &ExecCommand{
		Root:    e.cfg.ImageDir,
		Command: e.LauncherCommand(),
		Stdout:  out,
		Stderr:  out,
		Timeout: e.cfg.LauncherTimeout,
	}
	e.logger.Info("running %s in %s", cmd.Command, cmd.Root)

	result, err := e.host.Execute(ctx, cmd)
	if err != nil {
		return e.fail(op, cmd.Command, err)
	}
	if result.ExitCode != 0 {
		return e.fail(op, cmd.Command, fmt.Errorf("launcher exited with code %d", result.ExitCode))
	}

	e.executed = true
	e.logger.Debug("launcher finished in %s", result.Duration)
	e.state = StateExecuted
	return nil
}

// Unmount releases every session mount in fixed order. Without force the
// session must have executed and the first failure is returned. With force
// it may be called from any state, every target is attempted and failures
// are only logged.
func (e *Emulator) Unmount(force bool) error {
	const op = "unmount"
	if !force {
		if err := e.begin(op, StateExecuted); err != nil {
			return err
		}
	}

	for _, rel := range unmountOrder {
		target := e.path(rel)
		if err := e.ctl.UnmountPath(target, force); err != nil {
			return e.fail(op, target, err)
		}
	}

	e.first, e.second = nil, nil
	if !force || e.state == StateExecuted {
		e.state = StateUnmounted
	}
	return nil
}

// CleanupDirs removes the ephemeral directories. Normally allowed after
// Unmount, or straight from DirsReady when the image was not applicable.
// With force it may be called from any state and never fails.
func (e *Emulator) CleanupDirs(force bool) error {
	const op = "cleanup-dirs"
	if !force {
		if err := e.begin(op, StateDirsReady, StateUnmounted); err != nil {
			return err
		}
	}

	if err := e.dirs.Teardown(force); err != nil {
		var de *DirectoryError
		path := ""
		if errors.As(err, &de) {
			path = de.Path
		}
		return e.fail(op, path, err)
	}

	e.tornDown = true
	e.state = StateDirsCleaned
	return nil
}
