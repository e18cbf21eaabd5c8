// Package provider abstracts the coding agent implementation running inside
// a worker container.
package provider

import (
	"context"
	"fmt"
	"sync"
)

// SidecarImages names the optional auxiliary container images a provider
// wants alongside its worker.
type SidecarImages struct {
	SSH     string
	Desktop string
}

// SendOptions tunes a single message turn.
type SendOptions struct {
	// TimeoutSeconds bounds the turn; zero means the caller's default.
	TimeoutSeconds int
}

// Provider supplies the images and the message transport for one agent
// implementation type.
type Provider interface {
	// Type returns the registry key for this provider
	Type() string

	// WorkerImage returns the container image the agent runs in
	WorkerImage() string

	// Sidecars returns the auxiliary images, empty fields meaning none
	Sidecars() SidecarImages

	// SendMessage forwards one user message to the agent process inside
	// the container and returns the raw reply text
	SendMessage(ctx context.Context, agentID, containerID, message string, opts SendOptions) (string, error)

	// SendInitialization performs the provider's one-time setup turn
	// before the first real message
	SendInitialization(ctx context.Context, agentID, containerID string) error
}

// Registry is a type-tag to provider lookup table.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its type tag, replacing any previous one
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Get resolves a provider by type tag
func (r *Registry) Get(agentType string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[agentType]
	if !ok {
		return nil, fmt.Errorf("unknown agent type: %s", agentType)
	}
	return p, nil
}

// Types returns the registered type tags
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	return types
}
