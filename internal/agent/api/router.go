package api

import (
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/provision"
)

// SetupRoutes configures the agent API routes
func SetupRoutes(router *gin.RouterGroup, provisioner *provision.Provisioner, repo repository.Repository, logs LogStreamer, log *logger.Logger) {
	handler := NewHandler(provisioner, repo, logs, log)

	agents := router.Group("/agents")
	{
		agents.POST("", handler.CreateAgent)
		agents.GET("", handler.ListAgents)
		agents.GET("/:agentId", handler.GetAgent)
		agents.DELETE("/:agentId", handler.DeleteAgent)
		agents.POST("/:agentId/restart", handler.RestartAgent)
		agents.PUT("/:agentId/env", handler.UpdateAgentEnv)
		agents.GET("/:agentId/logs", handler.GetAgentLogs)
	}
}
