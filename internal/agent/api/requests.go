package api

// CreateAgentRequest is the payload for POST /agents.
type CreateAgentRequest struct {
	Name           string            `json:"name" binding:"required"`
	Description    string            `json:"description"`
	AgentType      string            `json:"agentType" binding:"required"`
	ContainerClass string            `json:"containerClass"`
	RepoURL        string            `json:"repoUrl"`
	GitUsername    string            `json:"gitUsername"`
	GitToken       string            `json:"gitToken"`
	SSHPrivateKey  string            `json:"sshPrivateKey"`
	Env            map[string]string `json:"env"`
	WithSSH        bool              `json:"withSsh"`
	WithDesktop    bool              `json:"withDesktop"`
	PipelineType   string            `json:"pipelineType"`
}

// UpdateEnvRequest is the payload for PUT /agents/:agentId/env.
type UpdateEnvRequest struct {
	Env map[string]string `json:"env" binding:"required"`
}
