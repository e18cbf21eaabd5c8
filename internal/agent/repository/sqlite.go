package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentdeck/agentdeck/internal/agent/models"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
)

// SQLiteRepository provides SQLite-based agent storage operations
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository interface
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist
func (r *SQLiteRepository) initSchema() error {
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
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		password TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (agent_id, external_id),
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_credentials_agent_id ON credentials(agent_id);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_agent_id ON chat_messages(agent_id, created_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const agentColumns = `id, name, description, agent_type, container_class, container_id, volume_path, repo_url, secret_hash,
	ssh_container_id, ssh_port, ssh_network_id, ssh_secret, desktop_container_id, desktop_port, desktop_network_id, desktop_secret,
	created_at, updated_at`

// Agent operations

// CreateAgent creates a new agent record
func (r *SQLiteRepository) CreateAgent(ctx context.Context, agent *models.Agent) error {
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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, agent.Description, agent.AgentType, agent.ContainerClass, agent.ContainerID,
		agent.VolumePath, agent.RepoURL, agent.SecretHash,
		ssh.ContainerID, ssh.Port, ssh.NetworkID, ssh.Secret,
		desktop.ContainerID, desktop.Port, desktop.NetworkID, desktop.Secret,
		agent.CreatedAt, agent.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return apperrors.Conflict("agent name already in use: " + agent.Name)
	}
	return err
}

// GetAgent retrieves an agent by ID
func (r *SQLiteRepository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("agent", id)
	}
	return agent, err
}

// GetAgentByName retrieves an agent by its unique name
func (r *SQLiteRepository) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("agent", name)
	}
	return agent, err
}

// UpdateAgent updates an existing agent record
func (r *SQLiteRepository) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()

	ssh := agent.SSH
	if ssh == nil {
		ssh = &models.Sidecar{}
	}
	desktop := agent.Desktop
	if desktop == nil {
		desktop = &models.Sidecar{}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, description = ?, agent_type = ?, container_class = ?, container_id = ?,
			volume_path = ?, repo_url = ?, secret_hash = ?,
			ssh_container_id = ?, ssh_port = ?, ssh_network_id = ?, ssh_secret = ?,
			desktop_container_id = ?, desktop_port = ?, desktop_network_id = ?, desktop_secret = ?,
			updated_at = ?
		WHERE id = ?
	`, agent.Name, agent.Description, agent.AgentType, agent.ContainerClass, agent.ContainerID,
		agent.VolumePath, agent.RepoURL, agent.SecretHash,
		ssh.ContainerID, ssh.Port, ssh.NetworkID, ssh.Secret,
		desktop.ContainerID, desktop.Port, desktop.NetworkID, desktop.Secret,
		agent.UpdatedAt, agent.ID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("agent", agent.ID)
	}
	return nil
}

// DeleteAgent deletes an agent by ID; credentials and chat history cascade
func (r *SQLiteRepository) DeleteAgent(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("agent", id)
	}
	return nil
}

// ListAgents returns a page of agents, newest first, plus the total count
func (r *SQLiteRepository) ListAgents(ctx context.Context, offset, limit int) ([]*models.Agent, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = total
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC LIMIT ? OFFSET ?
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
func (r *SQLiteRepository) IsPortInUse(ctx context.Context, port int) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agents WHERE ssh_port = ? OR desktop_port = ?
	`, port, port).Scan(&count)
	return count > 0, err
}

// Credential operations

// UpsertCredential stores or replaces a credential for (agent, external id)
func (r *SQLiteRepository) UpsertCredential(ctx context.Context, cred *models.StoredCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, agent_id, external_id, password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, external_id) DO UPDATE SET password = excluded.password, updated_at = excluded.updated_at
	`, cred.ID, cred.AgentID, cred.ExternalID, cred.Password, cred.CreatedAt, cred.UpdatedAt)
	return err
}

// GetCredential retrieves a stored credential
func (r *SQLiteRepository) GetCredential(ctx context.Context, agentID, externalID string) (*models.StoredCredential, error) {
	cred := &models.StoredCredential{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, agent_id, external_id, password, created_at, updated_at
		FROM credentials WHERE agent_id = ? AND external_id = ?
	`, agentID, externalID).Scan(&cred.ID, &cred.AgentID, &cred.ExternalID, &cred.Password, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("credential", externalID)
	}
	return cred, err
}

// Chat history operations

// CreateMessage appends a chat message to the agent's history
func (r *SQLiteRepository) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, agent_id, actor, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.AgentID, msg.Actor, msg.Body, msg.CreatedAt)
	return err
}

// ListMessages returns the most recent limit messages in chronological order
func (r *SQLiteRepository) ListMessages(ctx context.Context, agentID string, limit int) ([]*models.ChatMessage, error) {
	query := `
		SELECT id, agent_id, actor, body, created_at FROM (
			SELECT id, agent_id, actor, body, created_at
			FROM chat_messages WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, query, agentID, limit)
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
func (r *SQLiteRepository) HasMessages(ctx context.Context, agentID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (SELECT 1 FROM chat_messages WHERE agent_id = ? LIMIT 1)
	`, agentID).Scan(&count)
	return count > 0, err
}

// scanAgent reads a full agent row from either *sql.Row or *sql.Rows
func scanAgent(row interface{ Scan(dest ...any) error }) (*models.Agent, error) {
	agent := &models.Agent{}
	ssh := &models.Sidecar{}
	desktop := &models.Sidecar{}

	err := row.Scan(&agent.ID, &agent.Name, &agent.Description, &agent.AgentType, &agent.ContainerClass,
		&agent.ContainerID, &agent.VolumePath, &agent.RepoURL, &agent.SecretHash,
		&ssh.ContainerID, &ssh.Port, &ssh.NetworkID, &ssh.Secret,
		&desktop.ContainerID, &desktop.Port, &desktop.NetworkID, &desktop.Secret,
		&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if ssh.ContainerID != "" || ssh.Port != 0 {
		agent.SSH = ssh
	}
	if desktop.ContainerID != "" || desktop.Port != 0 {
		agent.Desktop = desktop
	}
	return agent, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
