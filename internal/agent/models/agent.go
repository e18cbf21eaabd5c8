package models

import "time"

// Actor identifies who produced a chat message.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// Sidecar describes an auxiliary container attached to an agent, such as
// the SSH or desktop access container.
type Sidecar struct {
	ContainerID string `json:"containerId"`
	Port        int    `json:"port"`
	NetworkID   string `json:"networkId,omitempty"`
	Secret      string `json:"-"`
}

// Agent is the persistent record of a provisioned coding agent and its
// container resources. SecretHash is a bcrypt hash and is never serialized.
type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	AgentType      string    `json:"agentType"`
	ContainerClass string    `json:"containerClass,omitempty"`
	ContainerID    string    `json:"containerId"`
	VolumePath     string    `json:"volumePath"`
	RepoURL        string    `json:"repoUrl,omitempty"`
	SecretHash     string    `json:"-"`
	SSH            *Sidecar  `json:"ssh,omitempty"`
	Desktop        *Sidecar  `json:"desktop,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StoredCredential is a recoverable secret an agent deposited for an
// external system, keyed by (AgentID, ExternalID).
type StoredCredential struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	ExternalID string    `json:"externalId"`
	Password   string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ChatMessage is one entry of an agent's conversation history, ordered by
// CreatedAt ascending.
type ChatMessage struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Actor     Actor     `json:"actor"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
