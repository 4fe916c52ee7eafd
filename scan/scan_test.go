package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgscan/config"
	"imgscan/environment"
	"imgscan/image"
	"imgscan/log"
	"imgscan/mount"
)

var (
	distroRef = image.Ref{ID: "sha256:1111111111111111aaaa", Name: "distro:7"}
	otherRef  = image.Ref{ID: "sha256:2222222222222222bbbb", Name: "alpine:3"}
	thirdRef  = image.Ref{ID: "sha256:3333333333333333cccc", Name: "distro:7.9"}
)

type scanFixture struct {
	cfg     *config.Config
	host    *environment.MockHost
	mm      *mount.MockMounter
	backend *image.MockBackend
	orch    *Orchestrator
	results []Result
}

func newScanFixture(t *testing.T, driver image.Driver) *scanFixture {
	t.Helper()
	cfg := config.UnderRoot(t.TempDir())
	cfg.ReleaseName = "Example Distro"
	cfg.ReleaseVersion = "7."
	cfg.OutputType = "images"
	require.NoError(t, environment.BuildHostFixture(cfg))

	f := &scanFixture{
		cfg:     cfg,
		host:    environment.NewMockHost().(*environment.MockHost),
		mm:      mount.NewMockMounter(),
		backend: image.NewMockBackend(driver, distroRef, otherRef, thirdRef),
	}
	f.backend.Mounter = f.mm
	f.backend.ReleaseFile = cfg.ReleaseFile
	f.backend.Releases[distroRef.ID] = "Example Distro 7.2"
	f.backend.Releases[thirdRef.ID] = "Example Distro release 7.9 (Maipo)"

	// The collector writes one archive per run into var-tmp
	f.host.OnExecute = func(cmd *environment.ExecCommand) error {
		name := fmt.Sprintf("collector-%d.tar.gz", f.host.GetExecuteCallCount())
		return os.WriteFile(filepath.Join(cfg.VarTmpDir, name), []byte("data"), 0644)
	}

	logger, err := log.NewLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(logger.Close)

	ctl := mount.NewController(f.mm, logger)
	mounter := image.NewMounter(f.backend, ctl, driver, logger)
	f.orch = NewOrchestrator(cfg, f.host, ctl, mounter, logger)
	f.orch.RunID = "0123456789abcdef"
	f.orch.OnResult = func(r Result) { f.results = append(f.results, r) }
	return f
}

func TestScan_ApplicableImage(t *testing.T) {
	for _, driver := range []image.Driver{image.DriverGeneric, image.DriverDeviceMapper} {
		t.Run(driver.String(), func(t *testing.T) {
			f := newScanFixture(t, driver)

			report, err := f.orch.Scan(context.Background(), []image.Ref{distroRef})
			require.NoError(t, err)
			require.Len(t, report.Results, 1)

			res := report.Results[0]
			assert.Equal(t, OutcomeSuccess, res.Outcome)
			assert.True(t, res.Applicable)
			assert.Equal(t, KindNone, res.Kind)
			assert.Equal(t, driver, report.Driver)

			// Output populated, var-tmp gone, nothing left mounted
			out, err := os.ReadDir(filepath.Join(f.cfg.OutputDir, "images"))
			require.NoError(t, err)
			assert.Len(t, out, 1)
			assert.Len(t, report.Gathered, 1)
			assert.NoDirExists(t, f.cfg.VarTmpDir)
			assert.Empty(t, f.mm.Live())
			assert.Empty(t, f.mm.Devices())
			assert.Empty(t, f.backend.Active())

			assert.Equal(t, 1, f.host.GetExecuteCallCount())
			assert.Equal(t, f.cfg.ImageDir, f.host.ExecuteCalls[0].Root)

			assert.DirExists(t, f.cfg.OutputDir)
			assert.DirExists(t, f.cfg.CollectorDir)
			assert.NoDirExists(t, f.cfg.StagingEtcDir)
			assert.NoDirExists(t, f.cfg.ImageDir)

			assert.Len(t, f.results, 1)
		})
	}
}

func TestScan_DeviceMapperTeardownCounts(t *testing.T) {
	f := newScanFixture(t, image.DriverDeviceMapper)

	_, err := f.orch.Scan(context.Background(), []image.Ref{distroRef})
	require.NoError(t, err)

	assert.Equal(t, 2, f.mm.CallCountFor("unmount", f.cfg.ImageDir))
	assert.Equal(t, 1, f.mm.CallCount("remove-device"))
}

func TestScan_GenericTeardownCounts(t *testing.T) {
	f := newScanFixture(t, image.DriverGeneric)

	_, err := f.orch.Scan(context.Background(), []image.Ref{distroRef})
	require.NoError(t, err)

	assert.Equal(t, 1, f.mm.CallCountFor("unmount", f.cfg.ImageDir))
	assert.Zero(t, f.mm.CallCount("remove-device"))
}

func TestScan_NotApplicableIsSkipped(t *testing.T) {
	f := newScanFixture(t, image.DriverGeneric)

	report, err := f.orch.Scan(context.Background(), []image.Ref{otherRef})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.False(t, res.Applicable)

	assert.Zero(t, f.host.GetExecuteCallCount(), "launcher must not run")
	assert.Zero(t, f.mm.CallCount("bind"), "no session mounts expected")
	assert.Equal(t, 1, f.backend.CallCount("materialize"))
	assert.Equal(t, 1, f.backend.CallCount("release"))
	assert.Empty(t, f.mm.Live())
}

func TestScan_FailureAtSecondMounts(t *testing.T) {
	f := newScanFixture(t, image.DriverDeviceMapper)
	boom := errors.New("device or resource busy")
	f.mm.FailOn("bind", filepath.Join(f.cfg.ImageDir, "var/tmp"), boom)

	report, err := f.orch.Scan(context.Background(), []image.Ref{distroRef, thirdRef})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "original failure must be reported")

	require.Len(t, report.Results, 1, "run must stop at the failing image")
	res := report.Results[0]
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, KindMount, res.Kind)
	assert.Equal(t, "setup", res.Step)

	// First phase binds were force unmounted
	for _, rel := range []string{"sys", "proc", "dev", "tmp", "etc"} {
		assert.Equal(t, 1, f.mm.CallCountFor("unmount", filepath.Join(f.cfg.ImageDir, rel)), rel)
	}
	assert.Equal(t, 2, f.mm.CallCountFor("unmount", f.cfg.ImageDir))
	assert.Equal(t, 1, f.mm.CallCount("remove-device"))
	assert.Empty(t, f.mm.Live())
	assert.Empty(t, f.mm.Devices())
	assert.Empty(t, f.backend.Active())

	assert.Zero(t, f.host.GetExecuteCallCount())
	assert.Equal(t, 1, f.backend.CallCount("materialize"), "second image must not be touched")
	assert.DirExists(t, f.cfg.VarTmpDir, "no gather after a failed run")
}

func TestScan_FailureReleasesEarlierImages(t *testing.T) {
	f := newScanFixture(t, image.DriverGeneric)
	f.host.ExecuteResult = &environment.ExecResult{ExitCode: 0}
	calls := 0
	f.host.OnExecute = func(cmd *environment.ExecCommand) error {
		calls++
		if calls == 2 {
			return errors.New("collector crashed")
		}
		return nil
	}

	report, err := f.orch.Scan(context.Background(), []image.Ref{distroRef, otherRef, thirdRef})
	require.Error(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, OutcomeSuccess, report.Results[0].Outcome)
	assert.Equal(t, OutcomeSkipped, report.Results[1].Outcome)
	assert.Equal(t, OutcomeFailed, report.Results[2].Outcome)
	assert.Equal(t, KindEmulator, report.Results[2].Kind)
	assert.Equal(t, "execute", report.Results[2].Step)

	assert.Empty(t, f.mm.Live(), "every mount from every image must be released")
	assert.Empty(t, f.backend.Active())
}

func TestScan_MaterializeFailure(t *testing.T) {
	f := newScanFixture(t, image.DriverDeviceMapper)
	f.backend.FailOn("materialize", errors.New("no such image"))

	report, err := f.orch.Scan(context.Background(), []image.Ref{distroRef})
	require.Error(t, err)
	assert.Equal(t, KindMount, report.Results[0].Kind)
	assert.Equal(t, "mount-image", report.Results[0].Step)
	assert.Empty(t, f.mm.Live())
	assert.Zero(t, f.mm.CallCount("bind"))
}

func TestScan_ImageMountFailsAfterBackendAllocated(t *testing.T) {
	for _, driver := range []image.Driver{image.DriverGeneric, image.DriverDeviceMapper} {
		t.Run(driver.String(), func(t *testing.T) {
			f := newScanFixture(t, driver)
			f.mm.FailOn("mount", f.cfg.ImageDir, errors.New("wrong fs type"))

			report, err := f.orch.Scan(context.Background(), []image.Ref{distroRef})
			require.Error(t, err)
			assert.Equal(t, "mount-image", report.Results[0].Step)
			assert.Equal(t, KindMount, report.Results[0].Kind)
			assert.Equal(t, 1, f.backend.CallCount("release"))
			assert.Empty(t, f.backend.Active(), "container leaked")
			assert.Empty(t, f.mm.Devices(), "thin device leaked")
			assert.Empty(t, f.mm.Live())
		})
	}
}

func TestScan_LauncherExitCode(t *testing.T) {
	f := newScanFixture(t, image.DriverGeneric)
	f.host.ExecuteResult = &environment.ExecResult{ExitCode: 3}

	report, err := f.orch.Scan(context.Background(), []image.Ref{distroRef})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Equal(t, KindEmulator, report.Results[0].Kind)
	assert.Empty(t, f.mm.Live())
}

func TestScan_CancelledBetweenImages(t *testing.T) {
	f := newScanFixture(t, image.DriverGeneric)
	ctx, cancel := context.WithCancel(context.Background())
	f.orch.OnResult = func(Result) { cancel() }

	report, err := f.orch.Scan(ctx, []image.Ref{distroRef, thirdRef})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeSuccess, report.Results[0].Outcome)
	assert.Equal(t, 1, f.backend.CallCount("materialize"))
	assert.Empty(t, f.mm.Live())
}

func TestScan_InterruptedDuringExecute(t *testing.T) {
	f := newScanFixture(t, image.DriverDeviceMapper)
	ctx, cancel := context.WithCancel(context.Background())
	f.host.OnExecute = func(cmd *environment.ExecCommand) error {
		cancel()
		return nil
	}

	report, err := f.orch.Scan(ctx, []image.Ref{distroRef, thirdRef})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeSuccess, report.Results[0].Outcome, "image in progress runs to the end")
	assert.Equal(t, 1, f.backend.CallCount("materialize"))
	assert.Empty(t, f.backend.Active())
	assert.Empty(t, f.mm.Devices())
	assert.Empty(t, f.mm.Live())
}

func TestScan_FailureAfterInterruptReleasesImage(t *testing.T) {
	f := newScanFixture(t, image.DriverDeviceMapper)
	ctx, cancel := context.WithCancel(context.Background())
	f.host.ExecuteResult = &environment.ExecResult{ExitCode: 3}
	f.host.OnExecute = func(cmd *environment.ExecCommand) error {
		cancel()
		return nil
	}

	report, err := f.orch.Scan(ctx, []image.Ref{distroRef})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Equal(t, OutcomeFailed, report.Results[0].Outcome)
	assert.Equal(t, 1, f.backend.CallCount("release"))
	assert.Empty(t, f.backend.Active(), "container leaked")
	assert.Empty(t, f.mm.Devices(), "thin device leaked")
	assert.Empty(t, f.mm.Live())
}

func TestScan_NoImages(t *testing.T) {
	f := newScanFixture(t, image.DriverGeneric)

	report, err := f.orch.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, report.Gathered)
}

func TestScan_LogsResults(t *testing.T) {
	f := newScanFixture(t, image.DriverGeneric)

	_, err := f.orch.Scan(context.Background(), []image.Ref{distroRef, otherRef})
	require.NoError(t, err)

	summary := log.GetLogSummary(f.cfg)
	assert.Equal(t, 1, summary["scanned"])
	assert.Equal(t, 1, summary["skipped"])
	assert.Equal(t, 0, summary["failed"])

	data, err := os.ReadFile(log.ImageLogPath(f.cfg, distroRef.Short()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mock: /mnt/launcher.sh")
	assert.Contains(t, string(data), "Result: success")
}
