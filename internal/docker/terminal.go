package docker

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"go.uber.org/zap"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// TerminalSession is one live TTY exec stream inside a container. The TTY
// merges stdout and stderr, so no demultiplexing is needed.
type TerminalSession struct {
	ID          string
	ContainerID string

	attach    types.HijackedResponse
	logger    *logger.Logger
	closeOnce sync.Once
	onEvict   func()
}

// CreateTerminalSession opens a TTY exec running the given shell and
// registers it under sessionID. A prior session under the same id is closed
// and replaced. The returned session delivers output through Attach; the
// registry entry is evicted when the stream ends so a dead session can never
// be written to.
func (c *Client) CreateTerminalSession(ctx context.Context, containerID, sessionID, shell string) (*TerminalSession, error) {
	if shell == "" {
		shell = "/bin/bash"
	}

	c.logger.Info("Creating terminal session",
		zap.String("container_id", containerID),
		zap.String("session_id", sessionID),
		zap.String("shell", shell),
	)

	execCfg := container.ExecOptions{
		Cmd:          []string{shell},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	}

	created, err := c.api.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, apperrors.NotFound("container", containerID)
		}
		return nil, fmt.Errorf("failed to create terminal exec in container %s: %w", containerID, err)
	}

	attach, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("failed to attach terminal exec %s: %w", created.ID, err)
	}

	session := &TerminalSession{
		ID:          sessionID,
		ContainerID: containerID,
		attach:      attach,
		logger:      c.logger,
	}
	session.onEvict = func() { c.evictTerminal(sessionID, session) }

	c.termMu.Lock()
	prev := c.terminals[sessionID]
	c.terminals[sessionID] = session
	c.termMu.Unlock()

	if prev != nil {
		c.logger.Debug("Replacing existing terminal session", zap.String("session_id", sessionID))
		prev.close()
	}

	return session, nil
}

// Attach starts the session's read loop, delivering TTY output to onOutput
// and calling onClose exactly once when the stream ends. Stream errors that
// are just the peer closing the connection are reported as a clean close.
func (s *TerminalSession) Attach(onOutput func([]byte), onClose func(error)) {
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := s.attach.Reader.Read(buf)
			if n > 0 && onOutput != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				onOutput(data)
			}
			if err != nil {
				s.closeOnce.Do(func() {
					s.attach.Close()
					if s.onEvict != nil {
						s.onEvict()
					}
				})
				if onClose != nil {
					if isStreamClosed(err) {
						onClose(nil)
					} else {
						onClose(err)
					}
				}
				return
			}
		}
	}()
}

// Write sends input to the TTY.
func (s *TerminalSession) Write(data []byte) error {
	if _, err := s.attach.Conn.Write(data); err != nil {
		return fmt.Errorf("failed to write to terminal session %s: %w", s.ID, err)
	}
	return nil
}

func (s *TerminalSession) close() {
	s.closeOnce.Do(func() {
		s.attach.Close()
		if s.onEvict != nil {
			s.onEvict()
		}
	})
}

// SendTerminalInput writes data to a registered terminal session.
func (c *Client) SendTerminalInput(sessionID string, data []byte) error {
	c.termMu.Lock()
	session, ok := c.terminals[sessionID]
	c.termMu.Unlock()
	if !ok {
		return apperrors.NotFound("terminal session", sessionID)
	}
	return session.Write(data)
}

// CloseTerminalSession closes and unregisters a terminal session.
func (c *Client) CloseTerminalSession(sessionID string) error {
	c.termMu.Lock()
	session, ok := c.terminals[sessionID]
	c.termMu.Unlock()
	if !ok {
		return apperrors.NotFound("terminal session", sessionID)
	}
	session.close()
	c.logger.Info("Terminal session closed", zap.String("session_id", sessionID))
	return nil
}

// evictTerminal removes a session from the registry if it is still the
// registered session for that id (a replacement may already be live).
func (c *Client) evictTerminal(sessionID string, session *TerminalSession) {
	c.termMu.Lock()
	if c.terminals[sessionID] == session {
		delete(c.terminals, sessionID)
	}
	c.termMu.Unlock()
}

// closeAllTerminals force-closes every live terminal session.
func (c *Client) closeAllTerminals() {
	c.termMu.Lock()
	sessions := make([]*TerminalSession, 0, len(c.terminals))
	for _, s := range c.terminals {
		sessions = append(sessions, s)
	}
	c.termMu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
