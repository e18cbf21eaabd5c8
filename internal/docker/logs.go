package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// historyTail bounds how many historical lines are drained before switching
// to live follow mode.
const historyTail = "100"

// LogLine is one element of a container log stream. Err is set on the final
// element when the stream ended abnormally.
type LogLine struct {
	Text string
	Err  error
}

// StreamContainerLogs returns an unbounded, non-restartable stream of log
// lines: first up to 100 historical lines, then live lines as they arrive.
// The channel closes when the container's log stream ends, the context is
// cancelled, or the transport breaks; broken-pipe/connection-reset errors
// end the stream silently while other errors are delivered on the final
// element.
func (c *Client) StreamContainerLogs(ctx context.Context, containerID string) (<-chan LogLine, error) {
	if _, err := c.api.ContainerInspect(ctx, containerID); err != nil {
		if errdefs.IsNotFound(err) {
			return nil, apperrors.NotFound("container", containerID)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	history, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       historyTail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs for %s: %w", containerID, err)
	}

	since := time.Now().Format(time.RFC3339Nano)

	out := make(chan LogLine)
	go func() {
		defer close(out)

		// Drain the historical read fully before following.
		if !c.pumpLogLines(ctx, history, out) {
			return
		}

		follow, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
			Since:      since,
		})
		if err != nil {
			c.logger.Warn("Failed to open follow log stream",
				zap.String("container_id", containerID),
				zap.Error(err))
			out <- LogLine{Err: err}
			return
		}
		c.pumpLogLines(ctx, follow, out)
	}()

	return out, nil
}

// pumpLogLines decodes a multiplexed log stream into lines, buffering
// partial lines across chunk boundaries, and sends them until the stream
// ends. It returns false when the consumer or context is gone.
func (c *Client) pumpLogLines(ctx context.Context, rc io.ReadCloser, out chan<- LogLine) bool {
	defer rc.Close()

	var carry []byte   // incomplete frame bytes
	var partial []byte // incomplete line text
	buf := make([]byte, 8192)

	flushLines := func(text []byte) bool {
		partial = append(partial, text...)
		for {
			idx := bytes.IndexByte(partial, '\n')
			if idx < 0 {
				return true
			}
			line := string(bytes.TrimSuffix(partial[:idx], []byte{'\r'}))
			partial = partial[idx+1:]
			select {
			case out <- LogLine{Text: line}:
			case <-ctx.Done():
				return false
			}
		}
	}

	for {
		n, err := rc.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			frames, consumed := DecodeFrames(carry)
			for _, f := range frames {
				if !flushLines(f.Payload) {
					return false
				}
			}
			carry = carry[consumed:]
		}
		if err != nil {
			// Whatever is left is either a truncated frame or raw text;
			// surface it rather than dropping it.
			if len(carry) > 0 {
				flushLines(carry)
			}
			if len(partial) > 0 {
				select {
				case out <- LogLine{Text: string(partial)}:
				case <-ctx.Done():
					return false
				}
			}
			if err != io.EOF && !isStreamClosed(err) && ctx.Err() == nil {
				select {
				case out <- LogLine{Err: err}:
				case <-ctx.Done():
				}
			}
			return err == io.EOF
		}
	}
}
