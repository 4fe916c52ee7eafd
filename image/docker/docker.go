// Package docker implements image.Backend on top of the Docker engine API.
//
// An image is materialized by creating (never starting) a container from it
// and mounting the container's graph driver layers at the requested path.
package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"imgscan/image"
	"imgscan/log"
	"imgscan/mount"
)

// LabelMount marks containers created by the scanner
const LabelMount = "imgscan.mount"

var (
	_ image.Backend      = (*Backend)(nil)
	_ image.StaleRemover = (*Backend)(nil)
)

// apiClient is the part of client.APIClient the backend uses
type apiClient interface {
	ImageList(ctx context.Context, options dimage.ListOptions) ([]dimage.Summary, error)
	Info(ctx context.Context) (system.Info, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// Backend talks to a Docker daemon
type Backend struct {
	cli     apiClient
	mounter mount.Mounter
	logger  log.LibraryLogger
}

// New connects to the daemon at host, or the environment's DOCKER_HOST
// when host is empty. Layer mounts and thin devices go through m.
func New(host string, m mount.Mounter, logger log.LibraryLogger) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newWithClient(cli, m, logger), nil
}

func newWithClient(cli apiClient, m mount.Mounter, logger log.LibraryLogger) *Backend {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &Backend{cli: cli, mounter: m, logger: logger}
}

// Close releases the client connection
func (b *Backend) Close() error {
	return b.cli.Close()
}

func (b *Backend) ListImages(ctx context.Context) ([]image.Ref, error) {
	summaries, err := b.cli.ImageList(ctx, dimage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	refs := make([]image.Ref, 0, len(summaries))
	for _, s := range summaries {
		ref := image.Ref{ID: s.ID}
		for _, tag := range s.RepoTags {
			if tag != "<none>:<none>" {
				ref.Name = tag
				break
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (b *Backend) StorageDriver(ctx context.Context) (image.Driver, error) {
	info, err := b.cli.Info(ctx)
	if err != nil {
		return image.DriverGeneric, fmt.Errorf("failed to query docker info: %w", err)
	}
	b.logger.Debug("docker storage driver: %s", info.Driver)
	return image.ParseDriver(info.Driver), nil
}

func (b *Backend) Materialize(ctx context.Context, ref image.Ref, path string) (string, error) {
	resp, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image:  ref.ID,
		Cmd:    []string{"/bin/true"},
		Labels: map[string]string{LabelMount: "true"},
	}, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container for %s: %w", ref.Short(), err)
	}
	id := resp.ID

	info, err := b.cli.ContainerInspect(ctx, id)
	if err != nil {
		return id, fmt.Errorf("failed to inspect container %s: %w", shortID(id), err)
	}
	if info.ContainerJSONBase == nil {
		return id, fmt.Errorf("container %s has no graph driver data", shortID(id))
	}
	gd := info.GraphDriver

	switch gd.Name {
	case "overlay", "overlay2":
		opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
			gd.Data["LowerDir"], gd.Data["UpperDir"], gd.Data["WorkDir"])
		if err := b.mounter.Mount("overlay", path, "overlay", opts); err != nil {
			return id, err
		}

	case "devicemapper":
		if err := b.activateThin(ctx, gd.Data); err != nil {
			return id, err
		}
		fstype := "xfs"
		if fs := b.backingFS(ctx); fs != "" {
			fstype = fs
		}
		dev := "/dev/mapper/" + gd.Data["DeviceName"]
		if err := b.mounter.Mount(dev, path, fstype, "nouuid"); err != nil {
			return id, err
		}

	default:
		if rmErr := b.Release(ctx, id); rmErr != nil {
			b.logger.Warn("failed to remove container %s: %v", shortID(id), rmErr)
		}
		return "", fmt.Errorf("unsupported storage driver %q", gd.Name)
	}

	b.logger.Debug("image %s materialized at %s via %s", ref.Short(), path, gd.Name)
	return id, nil
}

// activateThin creates the thin device of a devicemapper container
func (b *Backend) activateThin(ctx context.Context, data map[string]string) error {
	name := data["DeviceName"]
	size, err := strconv.ParseUint(data["DeviceSize"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid DeviceSize %q: %w", data["DeviceSize"], err)
	}
	pool, err := b.driverStatus(ctx, "Pool Name")
	if err != nil {
		return err
	}
	if pool == "" {
		return fmt.Errorf("docker info reports no devicemapper pool")
	}
	table := fmt.Sprintf("0 %d thin /dev/mapper/%s %s", size/512, pool, data["DeviceId"])
	return b.mounter.ActivateDevice(name, table)
}

func (b *Backend) backingFS(ctx context.Context) string {
	fs, err := b.driverStatus(ctx, "Backing Filesystem")
	if err != nil {
		return ""
	}
	return fs
}

func (b *Backend) driverStatus(ctx context.Context, key string) (string, error) {
	info, err := b.cli.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query docker info: %w", err)
	}
	for _, kv := range info.DriverStatus {
		if kv[0] == key {
			return kv[1], nil
		}
	}
	return "", nil
}

// Release removes the container. One that is already gone counts as released.
func (b *Backend) Release(ctx context.Context, id string) error {
	err := b.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", shortID(id), err)
	}
	return nil
}

func (b *Backend) InspectDeviceName(ctx context.Context, id string) (string, error) {
	info, err := b.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", shortID(id), err)
	}
	if info.ContainerJSONBase == nil {
		return "", fmt.Errorf("container %s has no graph driver data", shortID(id))
	}
	name := info.GraphDriver.Data["DeviceName"]
	if name == "" {
		return "", fmt.Errorf("container %s has no thin device", shortID(id))
	}
	return name, nil
}

// RemoveStale removes containers left behind by an interrupted run and
// returns how many were removed.
func (b *Backend) RemoveStale(ctx context.Context) (int, error) {
	list, err := b.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelMount)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	var errs []string
	for _, c := range list {
		if err := b.Release(ctx, c.ID); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("stale containers: %s", strings.Join(errs, "; "))
	}
	return removed, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
