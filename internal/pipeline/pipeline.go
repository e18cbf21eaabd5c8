// Package pipeline abstracts CI/CD systems the service can drive on behalf
// of an agent's repository.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RunState is the lifecycle state of a pipeline run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCanceled  RunState = "canceled"
)

// Run describes one pipeline execution.
type Run struct {
	ID        string    `json:"id"`
	RepoURL   string    `json:"repoUrl"`
	Ref       string    `json:"ref"`
	State     RunState  `json:"state"`
	WebURL    string    `json:"webUrl,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Provider drives one CI/CD system.
type Provider interface {
	// Type returns the registry key for this provider
	Type() string

	// TriggerRun starts a pipeline for the repository at the given ref
	TriggerRun(ctx context.Context, repoURL, ref string) (*Run, error)

	// ListRuns returns recent runs for the repository, newest first
	ListRuns(ctx context.Context, repoURL string, limit int) ([]*Run, error)

	// CancelRun cancels a run by ID
	CancelRun(ctx context.Context, runID string) error
}

// Registry is a type-tag to provider lookup table.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty pipeline registry
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
func (r *Registry) Get(pipelineType string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[pipelineType]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline type: %s", pipelineType)
	}
	return p, nil
}
