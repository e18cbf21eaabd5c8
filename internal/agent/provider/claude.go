package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/docker"
)

// Executor runs a command inside a container and returns its combined output.
type Executor interface {
	Execute(ctx context.Context, containerID, command string, opts docker.ExecOptions) (string, error)
}

const (
	defaultTurnTimeout = 10 * time.Minute

	initPreamble = "You are running inside a managed workspace container. " +
		"The repository is checked out at /workspace. " +
		"Respond to every prompt with a single JSON object of the form " +
		`{"message": "...", "files": ["..."]} where files lists paths you modified.`
)

// ClaudeProvider drives a Claude Code CLI installed in the worker image.
type ClaudeProvider struct {
	executor Executor
	logger   *logger.Logger

	workerImage  string
	sshImage     string
	desktopImage string
}

var _ Provider = (*ClaudeProvider)(nil)

// NewClaudeProvider creates the provider for the claude agent type
func NewClaudeProvider(executor Executor, log *logger.Logger, workerImage, sshImage, desktopImage string) *ClaudeProvider {
	return &ClaudeProvider{
		executor:     executor,
		logger:       log,
		workerImage:  workerImage,
		sshImage:     sshImage,
		desktopImage: desktopImage,
	}
}

// Type returns the registry key for this provider
func (p *ClaudeProvider) Type() string { return "claude" }

// WorkerImage returns the container image the agent runs in
func (p *ClaudeProvider) WorkerImage() string { return p.workerImage }

// Sidecars returns the auxiliary images
func (p *ClaudeProvider) Sidecars() SidecarImages {
	return SidecarImages{SSH: p.sshImage, Desktop: p.desktopImage}
}

// SendMessage forwards one user message to the CLI and returns the raw reply
func (p *ClaudeProvider) SendMessage(ctx context.Context, agentID, containerID, message string, opts SendOptions) (string, error) {
	timeout := defaultTurnTimeout
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := fmt.Sprintf("claude --print --output-format json %s", docker.QuoteArg(message))

	p.logger.Debug("Sending message to agent",
		zap.String("agent_id", agentID),
		zap.String("container_id", containerID))

	reply, err := p.executor.Execute(ctx, containerID, command, docker.ExecOptions{CheckExitCode: true})
	if err != nil {
		return "", fmt.Errorf("agent turn failed: %w", err)
	}
	return reply, nil
}

// SendInitialization performs the one-time setup turn before the first
// real message
func (p *ClaudeProvider) SendInitialization(ctx context.Context, agentID, containerID string) error {
	command := fmt.Sprintf("claude --print %s", docker.QuoteArg(initPreamble))
	if _, err := p.executor.Execute(ctx, containerID, command, docker.ExecOptions{}); err != nil {
		return fmt.Errorf("agent initialization failed: %w", err)
	}
	p.logger.Info("Initialized agent session", zap.String("agent_id", agentID))
	return nil
}
