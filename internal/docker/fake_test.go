package docker

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// fakeAPI implements APIClient with overridable function fields. Methods
// without an override return zero values.
type fakeAPI struct {
	imagePullFn            func(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	containerCreateFn      func(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	containerStartFn       func(ctx context.Context, containerID string, options container.StartOptions) error
	containerStopFn        func(ctx context.Context, containerID string, options container.StopOptions) error
	containerRestartFn     func(ctx context.Context, containerID string, options container.StopOptions) error
	containerRemoveFn      func(ctx context.Context, containerID string, options container.RemoveOptions) error
	containerInspectFn     func(ctx context.Context, containerID string) (container.InspectResponse, error)
	containerExecCreateFn  func(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	containerExecAttachFn  func(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error)
	containerExecInspectFn func(ctx context.Context, execID string) (container.ExecInspect, error)
	containerLogsFn        func(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	containerStatsFn       func(ctx context.Context, containerID string) (container.StatsResponseReader, error)
	copyFromContainerFn    func(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	networkCreateFn        func(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	networkConnectFn       func(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	networkDisconnectFn    func(ctx context.Context, networkID, containerID string, force bool) error
	networkInspectFn       func(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	networkRemoveFn        func(ctx context.Context, networkID string) error
}

var _ APIClient = (*fakeAPI)(nil)

func (f *fakeAPI) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	if f.imagePullFn != nil {
		return f.imagePullFn(ctx, refStr, options)
	}
	return nil, errdefs.ErrNotFound
}

func (f *fakeAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.containerCreateFn != nil {
		return f.containerCreateFn(ctx, config, hostConfig, networkingConfig, platform, containerName)
	}
	return container.CreateResponse{}, nil
}

func (f *fakeAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.containerStartFn != nil {
		return f.containerStartFn(ctx, containerID, options)
	}
	return nil
}

func (f *fakeAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	if f.containerStopFn != nil {
		return f.containerStopFn(ctx, containerID, options)
	}
	return nil
}

func (f *fakeAPI) ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error {
	if f.containerRestartFn != nil {
		return f.containerRestartFn(ctx, containerID, options)
	}
	return nil
}

func (f *fakeAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	if f.containerRemoveFn != nil {
		return f.containerRemoveFn(ctx, containerID, options)
	}
	return nil
}

func (f *fakeAPI) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	if f.containerInspectFn != nil {
		return f.containerInspectFn(ctx, containerID)
	}
	return container.InspectResponse{}, nil
}

func (f *fakeAPI) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	if f.containerExecCreateFn != nil {
		return f.containerExecCreateFn(ctx, containerID, options)
	}
	return container.ExecCreateResponse{ID: "exec-1"}, nil
}

func (f *fakeAPI) ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error) {
	if f.containerExecAttachFn != nil {
		return f.containerExecAttachFn(ctx, execID, options)
	}
	return types.HijackedResponse{}, nil
}

func (f *fakeAPI) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	if f.containerExecInspectFn != nil {
		return f.containerExecInspectFn(ctx, execID)
	}
	return container.ExecInspect{Running: false, ExitCode: 0}, nil
}

func (f *fakeAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	if f.containerLogsFn != nil {
		return f.containerLogsFn(ctx, containerID, options)
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeAPI) ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error) {
	if f.containerStatsFn != nil {
		return f.containerStatsFn(ctx, containerID)
	}
	return container.StatsResponseReader{}, nil
}

func (f *fakeAPI) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	if f.copyFromContainerFn != nil {
		return f.copyFromContainerFn(ctx, containerID, srcPath)
	}
	return io.NopCloser(bytes.NewReader(nil)), container.PathStat{}, nil
}

func (f *fakeAPI) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	if f.networkCreateFn != nil {
		return f.networkCreateFn(ctx, name, options)
	}
	return network.CreateResponse{ID: "net-1"}, nil
}

func (f *fakeAPI) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	if f.networkConnectFn != nil {
		return f.networkConnectFn(ctx, networkID, containerID, config)
	}
	return nil
}

func (f *fakeAPI) NetworkDisconnect(ctx context.Context, networkID, containerID string, force bool) error {
	if f.networkDisconnectFn != nil {
		return f.networkDisconnectFn(ctx, networkID, containerID, force)
	}
	return nil
}

func (f *fakeAPI) NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error) {
	if f.networkInspectFn != nil {
		return f.networkInspectFn(ctx, networkID, options)
	}
	return network.Inspect{}, nil
}

func (f *fakeAPI) NetworkRemove(ctx context.Context, networkID string) error {
	if f.networkRemoveFn != nil {
		return f.networkRemoveFn(ctx, networkID)
	}
	return nil
}

func (f *fakeAPI) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, nil
}

func (f *fakeAPI) Close() error { return nil }

func newTestClient(t *testing.T, api APIClient) *Client {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return NewClientWithAPI(api, config.DockerConfig{DefaultImage: "agentdeck/worker:latest"}, log)
}
