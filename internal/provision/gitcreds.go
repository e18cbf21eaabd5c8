package provision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/ssh"

	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/docker"
)

// GitCredentials carries the material used to authenticate the clone.
type GitCredentials struct {
	Username      string
	Token         string
	SSHPrivateKey string
}

// IsSSHURL reports whether the repository URL uses SSH transport.
func IsSSHURL(repoURL string) bool {
	return strings.HasPrefix(repoURL, "git@") || strings.HasPrefix(repoURL, "ssh://")
}

// RepoHost extracts the host component used for known_hosts and .netrc
// entries.
func RepoHost(repoURL string) (string, error) {
	if strings.HasPrefix(repoURL, "git@") {
		rest := strings.TrimPrefix(repoURL, "git@")
		if idx := strings.IndexAny(rest, ":/"); idx > 0 {
			return rest[:idx], nil
		}
		return "", fmt.Errorf("malformed ssh repository url: %s", repoURL)
	}

	parsed, err := url.Parse(repoURL)
	if err != nil || parsed.Hostname() == "" {
		return "", fmt.Errorf("malformed repository url: %s", repoURL)
	}
	return parsed.Hostname(), nil
}

// configureRepoAccess prepares git authentication inside the container. SSH
// URLs get a validated private key plus a known_hosts entry produced by
// ssh-keyscan run inside the container; HTTPS URLs get a .netrc binding the
// host to username/token. File content crosses the exec boundary as base64
// over stdin so arbitrary key material survives intact.
func (p *Provisioner) configureRepoAccess(ctx context.Context, containerID, repoURL string, creds GitCredentials) error {
	host, err := RepoHost(repoURL)
	if err != nil {
		return apperrors.BadRequest(err.Error())
	}

	if IsSSHURL(repoURL) {
		return p.configureSSHAccess(ctx, containerID, host, creds)
	}
	return p.configureNetrcAccess(ctx, containerID, host, creds)
}

func (p *Provisioner) configureSSHAccess(ctx context.Context, containerID, host string, creds GitCredentials) error {
	if creds.SSHPrivateKey == "" {
		return apperrors.BadRequest("ssh repository url requires an ssh private key")
	}
	if _, err := ssh.ParsePrivateKey([]byte(creds.SSHPrivateKey)); err != nil {
		return apperrors.BadRequest("invalid ssh private key: " + err.Error())
	}

	if _, err := p.executor.Execute(ctx, containerID, "mkdir -p /root/.ssh", docker.ExecOptions{CheckExitCode: true}); err != nil {
		return fmt.Errorf("failed to prepare ssh directory: %w", err)
	}

	if err := p.writeFileViaStdin(ctx, containerID, "/root/.ssh/id_rsa", creds.SSHPrivateKey); err != nil {
		return fmt.Errorf("failed to install ssh key: %w", err)
	}
	if _, err := p.executor.Execute(ctx, containerID, "chmod 600 /root/.ssh/id_rsa", docker.ExecOptions{CheckExitCode: true}); err != nil {
		return fmt.Errorf("failed to set ssh key permissions: %w", err)
	}

	// ssh-keyscan runs inside the container so the entry matches the
	// network the clone will use.
	keyscan := fmt.Sprintf("sh -c %s", docker.QuoteArg(fmt.Sprintf("ssh-keyscan %s >> /root/.ssh/known_hosts", host)))
	if _, err := p.executor.Execute(ctx, containerID, keyscan, docker.ExecOptions{CheckExitCode: true}); err != nil {
		return fmt.Errorf("failed to record host key for %s: %w", host, err)
	}
	return nil
}

func (p *Provisioner) configureNetrcAccess(ctx context.Context, containerID, host string, creds GitCredentials) error {
	if creds.Username == "" || creds.Token == "" {
		return apperrors.BadRequest("https repository url requires git username and token")
	}

	netrc := fmt.Sprintf("machine %s\nlogin %s\npassword %s\n", host, creds.Username, creds.Token)
	if err := p.writeFileViaStdin(ctx, containerID, "/root/.netrc", netrc); err != nil {
		return fmt.Errorf("failed to install .netrc: %w", err)
	}
	if _, err := p.executor.Execute(ctx, containerID, "chmod 600 /root/.netrc", docker.ExecOptions{CheckExitCode: true}); err != nil {
		return fmt.Errorf("failed to set .netrc permissions: %w", err)
	}
	return nil
}

// writeFileViaStdin streams base64-encoded content through exec stdin and
// decodes it into place, sidestepping shell quoting entirely.
func (p *Provisioner) writeFileViaStdin(ctx context.Context, containerID, path, content string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	command := fmt.Sprintf("sh -c %s", docker.QuoteArg(fmt.Sprintf("base64 -d > %s", path)))

	_, err := p.executor.Execute(ctx, containerID, command, docker.ExecOptions{
		Stdin:         []string{encoded},
		CheckExitCode: true,
	})
	return err
}
