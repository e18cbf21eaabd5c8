// Package provision implements the agent creation workflow and its
// teardown counterpart.
package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/models"
	"github.com/agentdeck/agentdeck/internal/agent/provider"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/config"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/docker"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/pipeline"
)

// Orchestrator is the container runtime surface the workflow drives.
type Orchestrator interface {
	CreateContainer(ctx context.Context, opts docker.CreateContainerOptions) (string, error)
	DeleteContainer(ctx context.Context, containerID string) error
	RestartContainer(ctx context.Context, containerID string) error
	UpdateContainerEnv(ctx context.Context, containerID string, env map[string]string) (string, error)
	CreateNetwork(ctx context.Context, name, driver string, containerIDs []string) (string, error)
	DeleteNetwork(ctx context.Context, networkID string) error
	Execute(ctx context.Context, containerID, command string, opts docker.ExecOptions) (string, error)
}

// CreateAgentRequest carries everything needed to provision one agent.
type CreateAgentRequest struct {
	Name           string
	Description    string
	AgentType      string
	ContainerClass string
	RepoURL        string
	GitCredentials GitCredentials
	Env            map[string]string
	WithSSH        bool
	WithDesktop    bool
	PipelineType   string
}

// Result is what provisioning hands back. Secret is the plaintext access
// secret, shown exactly once.
type Result struct {
	Agent  *models.Agent
	Secret string
}

// Provisioner runs the agent creation workflow.
type Provisioner struct {
	executor  Orchestrator
	repo      repository.Repository
	providers *provider.Registry
	pipelines *pipeline.Registry
	bus       bus.EventBus
	cfg       *config.Config
	logger    *logger.Logger
}

// NewProvisioner wires the workflow's collaborators together
func NewProvisioner(orch Orchestrator, repo repository.Repository, providers *provider.Registry, pipelines *pipeline.Registry, eventBus bus.EventBus, cfg *config.Config, log *logger.Logger) *Provisioner {
	return &Provisioner{
		executor:  orch,
		repo:      repo,
		providers: providers,
		pipelines: pipelines,
		bus:       eventBus,
		cfg:       cfg,
		logger:    log,
	}
}

// Provision creates an agent end to end: worker container, repository
// access, clone, optional sidecars and private network, then the persisted
// record. Any failure after the worker container exists tears the created
// resources down and re-raises the original error.
func (p *Provisioner) Provision(ctx context.Context, req CreateAgentRequest) (*Result, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.ValidationError("name", "must not be empty")
	}
	if _, err := p.repo.GetAgentByName(ctx, req.Name); err == nil {
		return nil, apperrors.Conflict("agent name already in use: " + req.Name)
	} else if !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to check agent name: %w", err)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	secretHash, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}

	repoURL := req.RepoURL
	if repoURL == "" {
		repoURL = p.cfg.Git.DefaultRepoURL
	}
	if repoURL == "" {
		return nil, apperrors.BadRequest("no repository url supplied and no default configured")
	}

	prov, err := p.providers.Get(req.AgentType)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	sidecars := prov.Sidecars()

	volumePath := filepath.Join(p.cfg.Docker.VolumeBasePath, req.Name)
	env := map[string]string{
		"AGENT_NAME": req.Name,
		"REPO_URL":   repoURL,
	}
	creds := p.resolveCredentials(req.GitCredentials)
	if creds.Username != "" {
		env["GIT_USERNAME"] = creds.Username
	}
	if creds.Token != "" {
		env["GIT_TOKEN"] = creds.Token
	}
	for k, v := range req.Env {
		env[k] = v
	}

	containerID, err := p.executor.CreateContainer(ctx, docker.CreateContainerOptions{
		Name:    "agentdeck-" + req.Name,
		Image:   prov.WorkerImage(),
		Env:     env,
		Volumes: []docker.VolumeMount{{HostPath: volumePath, ContainerPath: "/workspace"}},
		Labels:  map[string]string{"agentdeck.agent": req.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker container: %w", err)
	}

	agent := &models.Agent{
		Name:           req.Name,
		Description:    req.Description,
		AgentType:      req.AgentType,
		ContainerClass: req.ContainerClass,
		ContainerID:    containerID,
		VolumePath:     volumePath,
		RepoURL:        repoURL,
		SecretHash:     secretHash,
	}

	// Everything past this point unwinds the created containers on failure.
	if err := p.finishProvision(ctx, agent, creds, req, sidecars, volumePath); err != nil {
		p.rollback(ctx, agent)
		return nil, err
	}

	p.publishEvent(ctx, bus.SubjectAgentCreated, agent.ID, map[string]any{
		"name":      agent.Name,
		"agentType": agent.AgentType,
	})
	p.triggerPipeline(ctx, req.PipelineType, agent)

	p.logger.Info("Provisioned agent",
		zap.String("agent_id", agent.ID),
		zap.String("agent_name", agent.Name),
		zap.String("container_id", agent.ContainerID))

	return &Result{Agent: agent, Secret: secret}, nil
}

// finishProvision runs the post-container steps: repo access, clone,
// sidecars, network, persistence.
func (p *Provisioner) finishProvision(ctx context.Context, agent *models.Agent, creds GitCredentials, req CreateAgentRequest, sidecars provider.SidecarImages, volumePath string) error {
	if err := p.configureRepoAccess(ctx, agent.ContainerID, agent.RepoURL, creds); err != nil {
		return err
	}

	cloneCmd := fmt.Sprintf("git clone %s /workspace/repo", docker.QuoteArg(agent.RepoURL))
	if _, err := p.executor.Execute(ctx, agent.ContainerID, cloneCmd, docker.ExecOptions{CheckExitCode: true}); err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	if req.WithSSH && sidecars.SSH != "" {
		sidecar, err := p.createSidecar(ctx, agent.Name+"-ssh", sidecars.SSH, 22, volumePath)
		if err != nil {
			return err
		}
		agent.SSH = sidecar
	}
	if req.WithDesktop && sidecars.Desktop != "" {
		sidecar, err := p.createSidecar(ctx, agent.Name+"-desktop", sidecars.Desktop, 5900, volumePath)
		if err != nil {
			return err
		}
		agent.Desktop = sidecar
	}

	if agent.SSH != nil || agent.Desktop != nil {
		members := []string{agent.ContainerID}
		if agent.SSH != nil {
			members = append(members, agent.SSH.ContainerID)
		}
		if agent.Desktop != nil {
			members = append(members, agent.Desktop.ContainerID)
		}
		networkID, err := p.executor.CreateNetwork(ctx, "agentdeck-"+agent.Name, "bridge", members)
		if err != nil {
			return fmt.Errorf("failed to create agent network: %w", err)
		}
		if agent.Desktop != nil {
			agent.Desktop.NetworkID = networkID
		} else {
			agent.SSH.NetworkID = networkID
		}
	}

	if err := p.repo.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to persist agent: %w", err)
	}

	p.depositCredential(ctx, agent.ID, "ssh", agent.SSH)
	p.depositCredential(ctx, agent.ID, "desktop", agent.Desktop)
	return nil
}

// depositCredential stores a sidecar's access secret so session forwarding
// can re-authenticate against the sidecar later. Best-effort: a storage
// failure is logged, never raised.
func (p *Provisioner) depositCredential(ctx context.Context, agentID, externalID string, sidecar *models.Sidecar) {
	if sidecar == nil {
		return
	}
	err := p.repo.UpsertCredential(ctx, &models.StoredCredential{
		AgentID:    agentID,
		ExternalID: externalID,
		Password:   sidecar.Secret,
	})
	if err != nil {
		p.logger.Warn("Failed to store sidecar credential",
			zap.String("agent_id", agentID),
			zap.String("external_id", externalID),
			zap.Error(err))
	}
}

// createSidecar builds one auxiliary container with a fresh random port and
// access secret.
func (p *Provisioner) createSidecar(ctx context.Context, name, image string, containerPort int, volumePath string) (*models.Sidecar, error) {
	port, err := pickPort(ctx, p.repo, p.cfg.Sidecars.PortMin, p.cfg.Sidecars.PortMax)
	if err != nil {
		return nil, err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	containerID, err := p.executor.CreateContainer(ctx, docker.CreateContainerOptions{
		Name:    "agentdeck-" + name,
		Image:   image,
		Env:     map[string]string{"ACCESS_SECRET": secret},
		Volumes: []docker.VolumeMount{{HostPath: volumePath, ContainerPath: "/workspace"}},
		Ports:   []docker.PortMapping{{HostPort: port, ContainerPort: containerPort}},
		Labels:  map[string]string{"agentdeck.sidecar": name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sidecar %s: %w", name, err)
	}

	return &models.Sidecar{ContainerID: containerID, Port: port, Secret: secret}, nil
}

// rollback removes every container the attempt created. Cleanup failures
// are logged and never replace the original error.
func (p *Provisioner) rollback(ctx context.Context, agent *models.Agent) {
	networkID := ""
	if agent.Desktop != nil && agent.Desktop.NetworkID != "" {
		networkID = agent.Desktop.NetworkID
	} else if agent.SSH != nil && agent.SSH.NetworkID != "" {
		networkID = agent.SSH.NetworkID
	}
	if networkID != "" {
		if err := p.executor.DeleteNetwork(ctx, networkID); err != nil {
			p.logger.Warn("Rollback: failed to delete network",
				zap.String("network_id", networkID), zap.Error(err))
		}
	}
	for _, sidecar := range []*models.Sidecar{agent.SSH, agent.Desktop} {
		if sidecar == nil {
			continue
		}
		if err := p.executor.DeleteContainer(ctx, sidecar.ContainerID); err != nil {
			p.logger.Warn("Rollback: failed to delete sidecar",
				zap.String("container_id", sidecar.ContainerID), zap.Error(err))
		}
	}
	if err := p.executor.DeleteContainer(ctx, agent.ContainerID); err != nil {
		p.logger.Warn("Rollback: failed to delete worker container",
			zap.String("container_id", agent.ContainerID), zap.Error(err))
	}
}

// resolveCredentials fills request credentials from configured defaults
func (p *Provisioner) resolveCredentials(creds GitCredentials) GitCredentials {
	if creds.Username == "" {
		creds.Username = p.cfg.Git.Username
	}
	if creds.Token == "" {
		creds.Token = p.cfg.Git.Token
	}
	return creds
}

// triggerPipeline best-effort creates downstream deployment configuration;
// its failure never unwinds the agent.
func (p *Provisioner) triggerPipeline(ctx context.Context, pipelineType string, agent *models.Agent) {
	if pipelineType == "" || p.pipelines == nil {
		return
	}
	prov, err := p.pipelines.Get(pipelineType)
	if err != nil {
		p.logger.Warn("Unknown pipeline type", zap.String("pipeline_type", pipelineType))
		return
	}
	if _, err := prov.TriggerRun(ctx, agent.RepoURL, "main"); err != nil {
		p.logger.Warn("Failed to trigger pipeline",
			zap.String("agent_id", agent.ID),
			zap.String("pipeline_type", pipelineType),
			zap.Error(err))
	}
}

func (p *Provisioner) publishEvent(ctx context.Context, subject, agentID string, data map[string]any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, subject, bus.NewEvent(subject, agentID, data)); err != nil {
		p.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Teardown deletes an agent and every container resource it owns. Resource
// cleanup failures are logged; the record is removed regardless so a
// half-deleted agent cannot wedge the API.
func (p *Provisioner) Teardown(ctx context.Context, agentID string) error {
	agent, err := p.repo.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	networkID := ""
	if agent.Desktop != nil && agent.Desktop.NetworkID != "" {
		networkID = agent.Desktop.NetworkID
	} else if agent.SSH != nil && agent.SSH.NetworkID != "" {
		networkID = agent.SSH.NetworkID
	}
	if networkID != "" {
		if err := p.executor.DeleteNetwork(ctx, networkID); err != nil {
			p.logger.Warn("Failed to delete agent network",
				zap.String("agent_id", agentID),
				zap.String("network_id", networkID),
				zap.Error(err))
		}
	}

	for _, sidecar := range []*models.Sidecar{agent.SSH, agent.Desktop} {
		if sidecar == nil {
			continue
		}
		if err := p.executor.DeleteContainer(ctx, sidecar.ContainerID); err != nil && !apperrors.IsNotFound(err) {
			p.logger.Warn("Failed to delete sidecar container",
				zap.String("agent_id", agentID),
				zap.String("container_id", sidecar.ContainerID),
				zap.Error(err))
		}
	}

	if err := p.executor.DeleteContainer(ctx, agent.ContainerID); err != nil && !apperrors.IsNotFound(err) {
		p.logger.Warn("Failed to delete worker container",
			zap.String("agent_id", agentID),
			zap.String("container_id", agent.ContainerID),
			zap.Error(err))
	}

	if err := p.repo.DeleteAgent(ctx, agentID); err != nil {
		return fmt.Errorf("failed to delete agent record: %w", err)
	}

	p.publishEvent(ctx, bus.SubjectAgentDeleted, agentID, map[string]any{"name": agent.Name})
	p.logger.Info("Deleted agent",
		zap.String("agent_id", agentID),
		zap.String("agent_name", agent.Name))
	return nil
}

// Restart restarts the agent's worker container.
func (p *Provisioner) Restart(ctx context.Context, agentID string) error {
	agent, err := p.repo.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	return p.executor.RestartContainer(ctx, agent.ContainerID)
}

// UpdateEnv merges new environment variables into the worker container by
// recreating it, then stores the container id the recreate produced.
func (p *Provisioner) UpdateEnv(ctx context.Context, agentID string, env map[string]string) (*models.Agent, error) {
	agent, err := p.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	newContainerID, err := p.executor.UpdateContainerEnv(ctx, agent.ContainerID, env)
	if err != nil {
		return nil, fmt.Errorf("failed to update container env: %w", err)
	}

	agent.ContainerID = newContainerID
	if err := p.repo.UpdateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to store new container id: %w", err)
	}
	return agent, nil
}
