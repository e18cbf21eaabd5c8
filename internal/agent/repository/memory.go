package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/agent/models"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// MemoryRepository provides in-memory agent storage operations
type MemoryRepository struct {
	agents      map[string]*models.Agent
	credentials map[string]*models.StoredCredential // agentID + "\x00" + externalID
	messages    map[string][]*models.ChatMessage    // agentID -> ordered by CreatedAt
	mu          sync.RWMutex
}

// Ensure MemoryRepository implements Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory agent repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agents:      make(map[string]*models.Agent),
		credentials: make(map[string]*models.StoredCredential),
		messages:    make(map[string][]*models.ChatMessage),
	}
}

// Close is a no-op for in-memory repository
func (r *MemoryRepository) Close() error {
	return nil
}

// Agent operations

// CreateAgent creates a new agent record. Names are unique.
func (r *MemoryRepository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.agents {
		if existing.Name == agent.Name {
			return apperrors.Conflict("agent name already in use: " + agent.Name)
		}
	}

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	r.agents[agent.ID] = agent
	return nil
}

// GetAgent retrieves an agent by ID
func (r *MemoryRepository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, apperrors.NotFound("agent", id)
	}
	return agent, nil
}

// GetAgentByName retrieves an agent by its unique name
func (r *MemoryRepository) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.agents {
		if agent.Name == name {
			return agent, nil
		}
	}
	return nil, apperrors.NotFound("agent", name)
}

// UpdateAgent updates an existing agent record
func (r *MemoryRepository) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agent.ID]; !ok {
		return apperrors.NotFound("agent", agent.ID)
	}
	agent.UpdatedAt = time.Now().UTC()
	r.agents[agent.ID] = agent
	return nil
}

// DeleteAgent deletes an agent and its credentials and chat history
func (r *MemoryRepository) DeleteAgent(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return apperrors.NotFound("agent", id)
	}
	delete(r.agents, id)
	delete(r.messages, id)
	for key, cred := range r.credentials {
		if cred.AgentID == id {
			delete(r.credentials, key)
		}
	}
	return nil
}

// ListAgents returns a page of agents ordered by creation time, newest
// first, plus the total count.
func (r *MemoryRepository) ListAgents(ctx context.Context, offset, limit int) ([]*models.Agent, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		all = append(all, agent)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// IsPortInUse reports whether any agent's sidecar already holds the port
func (r *MemoryRepository) IsPortInUse(ctx context.Context, port int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.agents {
		if agent.SSH != nil && agent.SSH.Port == port {
			return true, nil
		}
		if agent.Desktop != nil && agent.Desktop.Port == port {
			return true, nil
		}
	}
	return false, nil
}

// Credential operations

func credentialKey(agentID, externalID string) string {
	return agentID + "\x00" + externalID
}

// UpsertCredential stores or replaces a credential for (agent, external id)
func (r *MemoryRepository) UpsertCredential(ctx context.Context, cred *models.StoredCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	key := credentialKey(cred.AgentID, cred.ExternalID)
	if existing, ok := r.credentials[key]; ok {
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
	} else {
		if cred.ID == "" {
			cred.ID = uuid.New().String()
		}
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	r.credentials[key] = cred
	return nil
}

// GetCredential retrieves a stored credential
func (r *MemoryRepository) GetCredential(ctx context.Context, agentID, externalID string) (*models.StoredCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.credentials[credentialKey(agentID, externalID)]
	if !ok {
		return nil, apperrors.NotFound("credential", externalID)
	}
	return cred, nil
}

// Chat history operations

// CreateMessage appends a chat message to the agent's history
func (r *MemoryRepository) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	r.messages[msg.AgentID] = append(r.messages[msg.AgentID], msg)
	return nil
}

// ListMessages returns the most recent limit messages in chronological
// order. A limit of zero or less returns the full history.
func (r *MemoryRepository) ListMessages(ctx context.Context, agentID string, limit int) ([]*models.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.messages[agentID]
	start := 0
	if limit > 0 && len(history) > limit {
		start = len(history) - limit
	}
	out := make([]*models.ChatMessage, len(history)-start)
	copy(out, history[start:])
	return out, nil
}

// HasMessages reports whether the agent has any chat history
func (r *MemoryRepository) HasMessages(ctx context.Context, agentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.messages[agentID]) > 0, nil
}
