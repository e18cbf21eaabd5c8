package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// execCeiling is the last-resort timeout for a wedged exec.
const execCeiling = 24 * time.Hour

// ExecOptions controls Execute behavior.
type ExecOptions struct {
	// Stdin lines are written to the command's stdin, each with a trailing
	// newline, after which stdin is closed. Literal `\n` sequences inside a
	// line are expanded into real newlines first.
	Stdin []string

	// CheckExitCode makes Execute wait for the command to finish and fail
	// with the collected output when the exit code is nonzero.
	CheckExitCode bool
}

// ExitCodeError reports a nonzero exec exit code along with the output the
// command produced before failing.
type ExitCodeError struct {
	ExitCode int
	Output   string
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, strings.TrimSpace(e.Output))
}

// Execute runs a command inside a running container and returns its combined
// stdout and stderr. The command string is tokenized with ParseCommand (no
// shell is involved) and the daemon's multiplexed output stream is decoded
// with DemuxToString.
func (c *Client) Execute(ctx context.Context, containerID, command string, opts ExecOptions) (string, error) {
	argv, err := ParseCommand(command)
	if err != nil {
		return "", apperrors.ValidationError("command", err.Error())
	}
	if len(argv) == 0 {
		return "", apperrors.ValidationError("command", "command is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, execCeiling)
	defer cancel()

	c.logger.Debug("Executing command in container",
		zap.String("container_id", containerID),
		zap.String("command", argv[0]),
		zap.Int("argc", len(argv)),
	)

	execCfg := container.ExecOptions{
		Cmd:          argv,
		AttachStdin:  len(opts.Stdin) > 0,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := c.api.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", apperrors.NotFound("container", containerID)
		}
		return "", fmt.Errorf("failed to create exec in container %s: %w", containerID, err)
	}

	attach, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach exec %s: %w", created.ID, err)
	}
	defer attach.Close()

	if len(opts.Stdin) > 0 {
		for _, line := range expandStdinLines(opts.Stdin) {
			if _, err := attach.Conn.Write([]byte(line + "\n")); err != nil {
				// The process closing stdin early is expected.
				if isStreamClosed(err) {
					break
				}
				return "", fmt.Errorf("failed to write exec stdin: %w", err)
			}
		}
		if err := attach.CloseWrite(); err != nil && !isStreamClosed(err) {
			c.logger.Debug("Failed to close exec stdin", zap.Error(err))
		}
	}

	raw, err := io.ReadAll(attach.Reader)
	if err != nil && !isStreamClosed(err) {
		return "", fmt.Errorf("failed to read exec output: %w", err)
	}
	output := DemuxToString(raw)

	if opts.CheckExitCode {
		exitCode, err := c.waitExecDone(ctx, created.ID)
		if err != nil {
			return output, err
		}
		if exitCode != 0 {
			return output, &ExitCodeError{ExitCode: exitCode, Output: output}
		}
	}

	return output, nil
}

// waitExecDone polls the exec until the process has exited and returns its
// exit code. The output stream closing usually means the process is done,
// but the daemon can report Running for a short window afterwards.
func (c *Client) waitExecDone(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := c.api.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("failed to inspect exec %s: %w", execID, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// expandStdinLines normalizes stdin input: literal `\n` sequences become
// real newlines and each resulting chunk is its own line.
func expandStdinLines(input []string) []string {
	var lines []string
	for _, chunk := range input {
		chunk = strings.ReplaceAll(chunk, `\n`, "\n")
		lines = append(lines, strings.Split(chunk, "\n")...)
	}
	return lines
}

// isStreamClosed reports whether a stream error is an expected consequence
// of the peer closing the connection (EPIPE, connection reset, closed conn).
func isStreamClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "use of closed network connection")
}
