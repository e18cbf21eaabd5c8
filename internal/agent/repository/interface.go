package repository

import (
	"context"

	"github.com/agentdeck/agentdeck/internal/agent/models"
)

// Repository defines the interface for agent storage operations
type Repository interface {
	// Agent operations
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context, offset, limit int) ([]*models.Agent, int, error)
	IsPortInUse(ctx context.Context, port int) (bool, error)

	// Credential operations
	UpsertCredential(ctx context.Context, cred *models.StoredCredential) error
	GetCredential(ctx context.Context, agentID, externalID string) (*models.StoredCredential, error)

	// Chat history operations
	CreateMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, agentID string, limit int) ([]*models.ChatMessage, error)
	HasMessages(ctx context.Context, agentID string) (bool, error)

	// Close closes the repository (for database connections)
	Close() error
}
