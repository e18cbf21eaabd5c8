package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentdeck/agentdeck/internal/agent/models"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// PostgresRepository provides PostgreSQL-based agent storage operations
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// Ensure PostgresRepository implements Repository interface
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}

	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist
func (r *PostgresRepository) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT DEFAULT '',
		agent_type TEXT DEFAULT '',
		container_class TEXT DEFAULT '',
		container_id TEXT DEFAULT '',
		volume_path TEXT DEFAULT '',
		repo_url TEXT DEFAULT '',
		secret_hash TEXT DEFAULT '',
		ssh_container_id TEXT DEFAULT '',
		ssh_port INTEGER DEFAULT 0,
		ssh_network_id TEXT DEFAULT '',
		ssh_secret TEXT DEFAULT '',
		desktop_container_id TEXT DEFAULT '',
		desktop_port INTEGER DEFAULT 0,
		desktop_network_id TEXT DEFAULT '',
		desktop_secret TEXT DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		password TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (agent_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		actor TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credentials_agent_id ON credentials(agent_id);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_agent_id ON chat_messages(agent_id, created_at);
	`

	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Agent operations

// CreateAgent creates a new agent record
func (r *PostgresRepository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	ssh := agent.SSH
	if ssh == nil {
		ssh = &models.Sidecar{}
	}
	desktop := agent.Desktop
	if desktop == nil {
		desktop = &models.Sidecar{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, agent.ID, agent.Name, agent.Description, agent.AgentType, agent.ContainerClass, agent.ContainerID,
		agent.VolumePath, agent.RepoURL, agent.SecretHash,
		ssh.ContainerID, ssh.Port, ssh.NetworkID, ssh.Secret,
		desktop.ContainerID, desktop.Port, desktop.NetworkID, desktop.Secret,
		agent.CreatedAt, agent.UpdatedAt)
	if isPgUniqueViolation(err) {
		return apperrors.Conflict("agent name already in use: " + agent.Name)
	}
	return err
}

// GetAgent retrieves an agent by ID
func (r *PostgresRepository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("agent", id)
	}
	return agent, err
}

// GetAgentByName retrieves an agent by its unique name
func (r *PostgresRepository) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = $1`, name)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("agent", name)
	}
	return agent, err
}

// UpdateAgent updates an existing agent record
func (r *PostgresRepository) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()

	ssh := agent.SSH
	if ssh == nil {
		ssh = &models.Sidecar{}
	}
	desktop := agent.Desktop
	if desktop == nil {
		desktop = &models.Sidecar{}
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE agents SET name = $1, description = $2, agent_type = $3, container_class = $4, container_id = $5,
			volume_path = $6, repo_url = $7, secret_hash = $8,
			ssh_container_id = $9, ssh_port = $10, ssh_network_id = $11, ssh_secret = $12,
			desktop_container_id = $13, desktop_port = $14, desktop_network_id = $15, desktop_secret = $16,
			updated_at = $17
		WHERE id = $18
	`, agent.Name, agent.Description, agent.AgentType, agent.ContainerClass, agent.ContainerID,
		agent.VolumePath, agent.RepoURL, agent.SecretHash,
		ssh.ContainerID, ssh.Port, ssh.NetworkID, ssh.Secret,
		desktop.ContainerID, desktop.Port, desktop.NetworkID, desktop.Secret,
		agent.UpdatedAt, agent.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("agent", agent.ID)
	}
	return nil
}

// DeleteAgent deletes an agent by ID; credentials and chat history cascade
func (r *PostgresRepository) DeleteAgent(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("agent", id)
	}
	return nil
}

// ListAgents returns a page of agents, newest first, plus the total count
func (r *PostgresRepository) ListAgents(ctx context.Context, offset, limit int) ([]*models.Agent, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = total
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, agent)
	}
	return result, total, rows.Err()
}

// IsPortInUse reports whether any agent's sidecar already holds the port
func (r *PostgresRepository) IsPortInUse(ctx context.Context, port int) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM agents WHERE ssh_port = $1 OR desktop_port = $1
	`, port).Scan(&count)
	return count > 0, err
}

// Credential operations

// UpsertCredential stores or replaces a credential for (agent, external id)
func (r *PostgresRepository) UpsertCredential(ctx context.Context, cred *models.StoredCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (id, agent_id, external_id, password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id, external_id) DO UPDATE SET password = EXCLUDED.password, updated_at = EXCLUDED.updated_at
	`, cred.ID, cred.AgentID, cred.ExternalID, cred.Password, cred.CreatedAt, cred.UpdatedAt)
	return err
}

// GetCredential retrieves a stored credential
func (r *PostgresRepository) GetCredential(ctx context.Context, agentID, externalID string) (*models.StoredCredential, error) {
	cred := &models.StoredCredential{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, agent_id, external_id, password, created_at, updated_at
		FROM credentials WHERE agent_id = $1 AND external_id = $2
	`, agentID, externalID).Scan(&cred.ID, &cred.AgentID, &cred.ExternalID, &cred.Password, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("credential", externalID)
	}
	return cred, err
}

// Chat history operations

// CreateMessage appends a chat message to the agent's history
func (r *PostgresRepository) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, agent_id, actor, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.AgentID, msg.Actor, msg.Body, msg.CreatedAt)
	return err
}

// ListMessages returns the most recent limit messages in chronological order
func (r *PostgresRepository) ListMessages(ctx context.Context, agentID string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, agent_id, actor, body, created_at FROM (
			SELECT id, agent_id, actor, body, created_at
			FROM chat_messages WHERE agent_id = $1 ORDER BY created_at DESC, id DESC LIMIT NULLIF($2, -1)
		) recent ORDER BY created_at ASC, id ASC
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.AgentID, &msg.Actor, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

// HasMessages reports whether the agent has any chat history
func (r *PostgresRepository) HasMessages(ctx context.Context, agentID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_messages WHERE agent_id = $1)
	`, agentID).Scan(&exists)
	return exists, err
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
