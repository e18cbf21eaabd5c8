package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/network"
	"go.uber.org/zap"
)

// CreateNetwork creates a bridge network and attaches the given containers.
// Attach failures are logged but not fatal: a container that cannot join the
// network is still reachable through its published ports.
func (c *Client) CreateNetwork(ctx context.Context, name, driver string, containerIDs []string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("agentdeck-net-%d", len(containerIDs))
	}
	if driver == "" {
		driver = "bridge"
	}

	c.logger.Info("Creating network",
		zap.String("name", name),
		zap.String("driver", driver),
		zap.Int("containers", len(containerIDs)),
	)

	resp, err := c.api.NetworkCreate(ctx, name, network.CreateOptions{Driver: driver})
	if err != nil {
		return "", fmt.Errorf("failed to create network %s: %w", name, err)
	}

	for _, containerID := range containerIDs {
		if err := c.api.NetworkConnect(ctx, resp.ID, containerID, nil); err != nil {
			c.logger.Warn("Failed to connect container to network",
				zap.String("network_id", resp.ID),
				zap.String("container_id", containerID),
				zap.Error(err))
		}
	}

	c.logger.Info("Network created", zap.String("network_id", resp.ID), zap.String("name", name))
	return resp.ID, nil
}

// DeleteNetwork disconnects every attached container and removes the
// network. A network that no longer exists is not an error.
func (c *Client) DeleteNetwork(ctx context.Context, networkID string) error {
	c.logger.Info("Deleting network", zap.String("network_id", networkID))

	inspect, err := c.api.NetworkInspect(ctx, networkID, network.InspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect network %s: %w", networkID, err)
	}

	for containerID := range inspect.Containers {
		if err := c.api.NetworkDisconnect(ctx, networkID, containerID, true); err != nil {
			if errdefs.IsNotFound(err) || strings.Contains(strings.ToLower(err.Error()), "is not connected") {
				continue
			}
			c.logger.Warn("Failed to disconnect container from network",
				zap.String("network_id", networkID),
				zap.String("container_id", containerID),
				zap.Error(err))
		}
	}

	if err := c.api.NetworkRemove(ctx, networkID); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove network %s: %w", networkID, err)
	}

	c.logger.Info("Network deleted", zap.String("network_id", networkID))
	return nil
}
