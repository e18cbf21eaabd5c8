package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// VolumeMount binds a host path into a container.
type VolumeMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// PortMapping publishes a container TCP port on a host port.
type PortMapping struct {
	HostPort      int
	ContainerPort int
}

// CreateContainerOptions holds configuration for creating a container.
type CreateContainerOptions struct {
	Name      string
	Image     string            // empty selects the configured default image
	Env       map[string]string // serialized as KEY=VALUE with escaping
	Volumes   []VolumeMount
	Ports     []PortMapping
	NetworkID string // optional network to attach at creation
	Labels    map[string]string
}

// stopTimeoutSecs bounds how long a container is given to shut down.
const stopTimeoutSecs = 10

// CreateContainer creates and starts a container, returning its id. The
// image is pulled best-effort first; a pull failure is logged and ignored
// since the image may already exist locally.
func (c *Client) CreateContainer(ctx context.Context, opts CreateContainerOptions) (string, error) {
	imageName := opts.Image
	if imageName == "" {
		imageName = c.config.DefaultImage
	}

	c.logger.Info("Creating container",
		zap.String("name", opts.Name),
		zap.String("image", imageName),
	)

	if err := c.pullImage(ctx, imageName); err != nil {
		c.logger.Warn("Image pull failed, using local image if present",
			zap.String("image", imageName),
			zap.Error(err))
	}

	containerCfg := &container.Config{
		Image:        imageName,
		Env:          FormatEnv(opts.Env),
		Labels:       opts.Labels,
		ExposedPorts: exposedPorts(opts.Ports),
	}

	hostCfg := &container.HostConfig{
		Mounts:       buildMounts(opts.Volumes),
		PortBindings: portBindings(opts.Ports),
	}

	var networkingCfg *network.NetworkingConfig
	if opts.NetworkID != "" {
		networkingCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				opts.NetworkID: {NetworkID: opts.NetworkID},
			},
		}
	}

	resp, err := c.api.ContainerCreate(ctx, containerCfg, hostCfg, networkingCfg, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}

	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", resp.ID, err)
	}

	c.logger.Info("Container created and started",
		zap.String("container_id", resp.ID),
		zap.String("name", opts.Name))
	return resp.ID, nil
}

// UpdateContainerEnv replaces a container to apply environment changes. The
// daemon has no live env update primitive, so the container is inspected,
// the new env merged over the existing one, and the container recreated with
// the same image, mounts, ports, labels, and network attachments. The new
// container id is returned; callers must update stored references.
func (c *Client) UpdateContainerEnv(ctx context.Context, containerID string, env map[string]string) (string, error) {
	c.logger.Info("Updating container environment", zap.String("container_id", containerID))

	inspect, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", apperrors.NotFound("container", containerID)
		}
		return "", fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	merged := parseEnv(inspect.Config.Env)
	for k, v := range env {
		merged[k] = v
	}

	var networks []string
	if inspect.NetworkSettings != nil {
		for name := range inspect.NetworkSettings.Networks {
			networks = append(networks, name)
		}
		sort.Strings(networks)
	}

	name := strings.TrimPrefix(inspect.Name, "/")

	// Release the old container (and its name) before recreating.
	if err := c.api.ContainerStop(ctx, containerID, stopOptions()); err != nil && !errdefs.IsNotFound(err) && !isAlreadyStopped(err) {
		return "", fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	if err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}

	containerCfg := &container.Config{
		Image:        inspect.Config.Image,
		Env:          FormatEnv(merged),
		Labels:       inspect.Config.Labels,
		WorkingDir:   inspect.Config.WorkingDir,
		ExposedPorts: inspect.Config.ExposedPorts,
	}

	hostCfg := &container.HostConfig{}
	if inspect.HostConfig != nil {
		hostCfg.Binds = inspect.HostConfig.Binds
		hostCfg.Mounts = inspect.HostConfig.Mounts
		hostCfg.PortBindings = inspect.HostConfig.PortBindings
	}

	resp, err := c.api.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to recreate container %s: %w", name, err)
	}

	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start recreated container %s: %w", resp.ID, err)
	}

	// Reattach every network the old container was a member of. Attach
	// failures are logged, not fatal, matching network creation semantics.
	for _, nw := range networks {
		if err := c.api.NetworkConnect(ctx, nw, resp.ID, nil); err != nil {
			c.logger.Warn("Failed to reconnect recreated container to network",
				zap.String("container_id", resp.ID),
				zap.String("network", nw),
				zap.Error(err))
		}
	}

	c.logger.Info("Container recreated with updated environment",
		zap.String("old_container_id", containerID),
		zap.String("new_container_id", resp.ID))
	return resp.ID, nil
}

// DeleteContainer stops and removes a container. A nonexistent container
// yields a not-found error; an already-stopped container is tolerated. When
// removal conflicts because the container is still running, removal is
// retried with force.
func (c *Client) DeleteContainer(ctx context.Context, containerID string) error {
	c.logger.Info("Deleting container", zap.String("container_id", containerID))

	if _, err := c.api.ContainerInspect(ctx, containerID); err != nil {
		if errdefs.IsNotFound(err) {
			return apperrors.NotFound("container", containerID)
		}
		return fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	if err := c.api.ContainerStop(ctx, containerID, stopOptions()); err != nil {
		if !errdefs.IsNotFound(err) && !isAlreadyStopped(err) {
			return fmt.Errorf("failed to stop container %s: %w", containerID, err)
		}
	}

	if err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{RemoveVolumes: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		if errdefs.IsConflict(err) {
			if err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !errdefs.IsNotFound(err) {
				return fmt.Errorf("failed to force remove container %s: %w", containerID, err)
			}
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}

	c.logger.Info("Container deleted", zap.String("container_id", containerID))
	return nil
}

// RestartContainer restarts a container, falling back to a plain start when
// the daemon reports that the container is not running.
func (c *Client) RestartContainer(ctx context.Context, containerID string) error {
	c.logger.Info("Restarting container", zap.String("container_id", containerID))

	err := c.api.ContainerRestart(ctx, containerID, stopOptions())
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return apperrors.NotFound("container", containerID)
	}
	if errdefs.IsConflict(err) || strings.Contains(strings.ToLower(err.Error()), "is not running") {
		if startErr := c.api.ContainerStart(ctx, containerID, container.StartOptions{}); startErr != nil {
			return fmt.Errorf("failed to start container %s: %w", containerID, startErr)
		}
		return nil
	}
	return fmt.Errorf("failed to restart container %s: %w", containerID, err)
}

func stopOptions() container.StopOptions {
	timeout := stopTimeoutSecs
	return container.StopOptions{Timeout: &timeout}
}

func isAlreadyStopped(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "is not running") || strings.Contains(msg, "already stopped")
}

func buildMounts(volumes []VolumeMount) []mount.Mount {
	mounts := make([]mount.Mount, 0, len(volumes))
	for _, v := range volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.HostPath,
			Target:   v.ContainerPath,
			ReadOnly: v.ReadOnly,
		})
	}
	return mounts
}

func exposedPorts(ports []PortMapping) nat.PortSet {
	if len(ports) == 0 {
		return nil
	}
	set := make(nat.PortSet, len(ports))
	for _, p := range ports {
		set[nat.Port(fmt.Sprintf("%d/tcp", p.ContainerPort))] = struct{}{}
	}
	return set
}

func portBindings(ports []PortMapping) nat.PortMap {
	if len(ports) == 0 {
		return nil
	}
	bindings := make(nat.PortMap, len(ports))
	for _, p := range ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p.ContainerPort))
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: fmt.Sprintf("%d", p.HostPort),
		})
	}
	return bindings
}

// FormatEnv serializes environment variables as KEY=VALUE entries in sorted
// key order. Values containing whitespace or quotes are double-quoted with
// backslash, newline, carriage-return, and tab escaped so arbitrary secrets
// and URLs survive the environment boundary losslessly.
func FormatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, quoteEnvValue(env[k])))
	}
	return out
}

func quoteEnvValue(v string) string {
	if !strings.ContainsAny(v, " \t\n\r\"'") {
		return v
	}
	r := strings.NewReplacer(
		`\`, `\\`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
		`"`, `\"`,
	)
	return `"` + r.Replace(v) + `"`
}

// unquoteEnvValue reverses quoteEnvValue so values survive repeated
// recreate cycles without accumulating quote layers.
func unquoteEnvValue(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	r := strings.NewReplacer(
		`\\`, `\`,
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
		`\"`, `"`,
	)
	return r.Replace(v[1 : len(v)-1])
}

// parseEnv converts KEY=VALUE entries back into a map, unquoting values
// quoteEnvValue produced. Entries without '=' are kept with an empty value.
func parseEnv(entries []string) map[string]string {
	env := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, found := strings.Cut(e, "=")
		if !found {
			env[e] = ""
			continue
		}
		env[k] = unquoteEnvValue(v)
	}
	return env
}
