package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/models"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/docker"
	"github.com/agentdeck/agentdeck/internal/provision"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

const logSnapshotWindow = 2 * time.Second

// LogStreamer provides container log access for the logs endpoint.
type LogStreamer interface {
	StreamContainerLogs(ctx context.Context, containerID string) (<-chan docker.LogLine, error)
}

// Handler contains HTTP handlers for the agent API
type Handler struct {
	provisioner *provision.Provisioner
	repo        repository.Repository
	logs        LogStreamer
	logger      *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(provisioner *provision.Provisioner, repo repository.Repository, logs LogStreamer, log *logger.Logger) *Handler {
	return &Handler{
		provisioner: provisioner,
		repo:        repo,
		logs:        logs,
		logger:      log,
	}
}

// respondError maps an error to its HTTP representation
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	wrapped := apperrors.InternalError("internal error", err)
	c.JSON(wrapped.HTTPStatus, wrapped)
}

// CreateAgent provisions a new agent
// POST /api/v1/agents
func (h *Handler) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	result, err := h.provisioner.Provision(c.Request.Context(), provision.CreateAgentRequest{
		Name:           req.Name,
		Description:    req.Description,
		AgentType:      req.AgentType,
		ContainerClass: req.ContainerClass,
		RepoURL:        req.RepoURL,
		GitCredentials: provision.GitCredentials{
			Username:      req.GitUsername,
			Token:         req.GitToken,
			SSHPrivateKey: req.SSHPrivateKey,
		},
		Env:          req.Env,
		WithSSH:      req.WithSSH,
		WithDesktop:  req.WithDesktop,
		PipelineType: req.PipelineType,
	})
	if err != nil {
		h.logger.Error("failed to provision agent",
			zap.String("agent_name", req.Name),
			zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, v1.CreateAgentResponse{
		Agent:  agentToResponse(result.Agent),
		Secret: result.Secret,
	})
}

// ListAgents returns a page of agents
// GET /api/v1/agents?offset=0&limit=20
func (h *Handler) ListAgents(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	agents, total, err := h.repo.ListAgents(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		h.respondError(c, err)
		return
	}

	list := &v1.AgentList{
		Agents: make([]*v1.Agent, 0, len(agents)),
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}
	for _, agent := range agents {
		list.Agents = append(list.Agents, agentToResponse(agent))
	}
	c.JSON(http.StatusOK, list)
}

// GetAgent retrieves an agent by ID
// GET /api/v1/agents/:agentId
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.repo.GetAgent(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToResponse(agent))
}

// DeleteAgent tears an agent down completely
// DELETE /api/v1/agents/:agentId
func (h *Handler) DeleteAgent(c *gin.Context) {
	agentID := c.Param("agentId")
	if err := h.provisioner.Teardown(c.Request.Context(), agentID); err != nil {
		h.logger.Error("failed to delete agent", zap.String("agent_id", agentID), zap.Error(err))
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RestartAgent restarts the agent's worker container
// POST /api/v1/agents/:agentId/restart
func (h *Handler) RestartAgent(c *gin.Context) {
	agentID := c.Param("agentId")
	if err := h.provisioner.Restart(c.Request.Context(), agentID); err != nil {
		h.logger.Error("failed to restart agent", zap.String("agent_id", agentID), zap.Error(err))
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restarted"})
}

// UpdateAgentEnv merges environment variables into the worker container
// PUT /api/v1/agents/:agentId/env
func (h *Handler) UpdateAgentEnv(c *gin.Context) {
	agentID := c.Param("agentId")

	var req UpdateEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	agent, err := h.provisioner.UpdateEnv(c.Request.Context(), agentID, req.Env)
	if err != nil {
		h.logger.Error("failed to update agent env", zap.String("agent_id", agentID), zap.Error(err))
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToResponse(agent))
}

// GetAgentLogs returns a short snapshot of the container's recent log
// output
// GET /api/v1/agents/:agentId/logs
func (h *Handler) GetAgentLogs(c *gin.Context) {
	agent, err := h.repo.GetAgent(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), logSnapshotWindow)
	defer cancel()

	stream, err := h.logs.StreamContainerLogs(ctx, agent.ContainerID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	lines := make([]string, 0, 100)
	for line := range stream {
		if line.Err != nil {
			break
		}
		lines = append(lines, line.Text)
	}
	c.JSON(http.StatusOK, v1.LogLines{Lines: lines})
}

// agentToResponse converts the storage model to the public DTO
func agentToResponse(agent *models.Agent) *v1.Agent {
	resp := &v1.Agent{
		ID:             agent.ID,
		Name:           agent.Name,
		Description:    agent.Description,
		AgentType:      agent.AgentType,
		ContainerClass: agent.ContainerClass,
		ContainerID:    agent.ContainerID,
		RepoURL:        agent.RepoURL,
		CreatedAt:      agent.CreatedAt,
		UpdatedAt:      agent.UpdatedAt,
	}
	if agent.SSH != nil {
		resp.SSH = &v1.SidecarInfo{ContainerID: agent.SSH.ContainerID, Port: agent.SSH.Port}
	}
	if agent.Desktop != nil {
		resp.Desktop = &v1.SidecarInfo{ContainerID: agent.Desktop.ContainerID, Port: agent.Desktop.Port}
	}
	return resp
}
