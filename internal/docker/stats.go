package docker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// StatsSnapshot is a point-in-time resource usage reading for a container.
type StatsSnapshot struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsage   uint64  `json:"memoryUsage"`
	MemoryLimit   uint64  `json:"memoryLimit"`
	MemoryPercent float64 `json:"memoryPercent"`
	BlockRead     uint64  `json:"blockRead"`
	BlockWrite    uint64  `json:"blockWrite"`
	NetworkRx     uint64  `json:"networkRx"`
	NetworkTx     uint64  `json:"networkTx"`
	PIDs          uint64  `json:"pids"`
}

// GetContainerStats takes a one-shot stats reading from the daemon and
// reduces it to a snapshot of the metrics the gateway publishes.
func (c *Client) GetContainerStats(ctx context.Context, containerID string) (*StatsSnapshot, error) {
	resp, err := c.api.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, apperrors.NotFound("container", containerID)
		}
		return nil, fmt.Errorf("failed to get container stats for %s: %w", containerID, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode container stats for %s: %w", containerID, err)
	}

	snapshot := &StatsSnapshot{
		MemoryUsage: stats.MemoryStats.Usage,
		MemoryLimit: stats.MemoryStats.Limit,
		PIDs:        stats.PidsStats.Current,
	}
	snapshot.CPUPercent = cpuPercent(&stats)
	if snapshot.MemoryLimit > 0 {
		snapshot.MemoryPercent = float64(snapshot.MemoryUsage) / float64(snapshot.MemoryLimit) * 100.0
	}
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch entry.Op {
		case "read", "Read":
			snapshot.BlockRead += entry.Value
		case "write", "Write":
			snapshot.BlockWrite += entry.Value
		}
	}
	for _, nw := range stats.Networks {
		snapshot.NetworkRx += nw.RxBytes
		snapshot.NetworkTx += nw.TxBytes
	}
	return snapshot, nil
}

// cpuPercent computes CPU usage relative to the previous reading embedded in
// the stats response, matching how the docker CLI reports it.
func cpuPercent(stats *container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	online := float64(stats.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		online = 1
	}
	return cpuDelta / systemDelta * online * 100.0
}
