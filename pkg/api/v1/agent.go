// Package v1 defines the public API types for the agentdeck service.
package v1

import "time"

// SidecarInfo describes an auxiliary access container.
type SidecarInfo struct {
	ContainerID string `json:"containerId"`
	Port        int    `json:"port"`
}

// Agent is the public representation of a provisioned agent. Access
// secrets never appear here.
type Agent struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	AgentType      string       `json:"agentType"`
	ContainerClass string       `json:"containerClass,omitempty"`
	ContainerID    string       `json:"containerId"`
	RepoURL        string       `json:"repoUrl,omitempty"`
	SSH            *SidecarInfo `json:"ssh,omitempty"`
	Desktop        *SidecarInfo `json:"desktop,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// CreateAgentResponse returns the new agent plus its plaintext access
// secret, shown exactly once.
type CreateAgentResponse struct {
	Agent  *Agent `json:"agent"`
	Secret string `json:"secret"`
}

// AgentList is a page of agents.
type AgentList struct {
	Agents []*Agent `json:"agents"`
	Total  int      `json:"total"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
}

// LogLines is a bounded snapshot of container log output.
type LogLines struct {
	Lines []string `json:"lines"`
}
