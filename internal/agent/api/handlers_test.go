package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/agent/models"
	"github.com/agentdeck/agentdeck/internal/agent/provider"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/docker"
	"github.com/agentdeck/agentdeck/internal/provision"
	v1 "github.com/agentdeck/agentdeck/pkg/api/v1"
)

// stubOrchestrator satisfies the provisioning workflow without a daemon.
type stubOrchestrator struct {
	containers int
}

func (s *stubOrchestrator) CreateContainer(ctx context.Context, opts docker.CreateContainerOptions) (string, error) {
	s.containers++
	return fmt.Sprintf("ctr-%d", s.containers), nil
}

func (s *stubOrchestrator) DeleteContainer(ctx context.Context, containerID string) error {
	return nil
}

func (s *stubOrchestrator) RestartContainer(ctx context.Context, containerID string) error {
	return nil
}

func (s *stubOrchestrator) UpdateContainerEnv(ctx context.Context, containerID string, env map[string]string) (string, error) {
	return containerID + "-recreated", nil
}

func (s *stubOrchestrator) CreateNetwork(ctx context.Context, name, driver string, containerIDs []string) (string, error) {
	return "net-1", nil
}

func (s *stubOrchestrator) DeleteNetwork(ctx context.Context, networkID string) error {
	return nil
}

func (s *stubOrchestrator) Execute(ctx context.Context, containerID, command string, opts docker.ExecOptions) (string, error) {
	return "", nil
}

type stubProvider struct{}

func (stubProvider) Type() string                     { return "claude" }
func (stubProvider) WorkerImage() string              { return "agentdeck/worker:latest" }
func (stubProvider) Sidecars() provider.SidecarImages { return provider.SidecarImages{} }
func (stubProvider) SendMessage(ctx context.Context, agentID, containerID, message string, opts provider.SendOptions) (string, error) {
	return "ok", nil
}
func (stubProvider) SendInitialization(ctx context.Context, agentID, containerID string) error {
	return nil
}

// stubLogStreamer replays canned lines for the logs endpoint.
type stubLogStreamer struct {
	lines []string
}

func (s *stubLogStreamer) StreamContainerLogs(ctx context.Context, containerID string) (<-chan docker.LogLine, error) {
	out := make(chan docker.LogLine, len(s.lines))
	for _, line := range s.lines {
		out <- docker.LogLine{Text: line}
	}
	close(out)
	return out, nil
}

func setupTestRouter(t *testing.T) (*gin.Engine, repository.Repository, *stubLogStreamer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "json",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	repo := repository.NewMemoryRepository()
	providers := provider.NewRegistry()
	providers.Register(stubProvider{})

	cfg := &config.Config{
		Docker: config.DockerConfig{
			DefaultImage:   "agentdeck/worker:latest",
			VolumeBasePath: "/var/lib/agentdeck/volumes",
		},
		Sidecars: config.SidecarConfig{
			SSHImage:     "agentdeck/ssh-sidecar:latest",
			DesktopImage: "agentdeck/desktop-sidecar:latest",
			PortMin:      20000,
			PortMax:      20100,
		},
	}
	provisioner := provision.NewProvisioner(&stubOrchestrator{}, repo, providers, nil, nil, cfg, log)
	logs := &stubLogStreamer{lines: []string{"booting", "ready"}}

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), provisioner, repo, logs, log)
	return router, repo, logs
}

func performRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestAgent(t *testing.T, router *gin.Engine, name string) v1.CreateAgentResponse {
	t.Helper()
	w := performRequest(router, http.MethodPost, "/api/v1/agents", CreateAgentRequest{
		Name:        name,
		AgentType:   "claude",
		RepoURL:     "https://gitea.local/org/repo.git",
		GitUsername: "bot",
		GitToken:    "tok",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", w.Code, w.Body.String())
	}
	var resp v1.CreateAgentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestCreateAgent(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	resp := createTestAgent(t, router, "demo")
	if resp.Agent == nil || resp.Agent.Name != "demo" {
		t.Fatalf("agent = %+v", resp.Agent)
	}
	if resp.Secret == "" {
		t.Error("expected a plaintext secret in the create response")
	}
	if resp.Agent.ContainerID == "" {
		t.Error("expected a container id")
	}
}

func TestCreateAgentValidation(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := performRequest(router, http.MethodPost, "/api/v1/agents", map[string]string{
		"agentType": "claude",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name returned %d, want 400", w.Code)
	}

	w = performRequest(router, http.MethodPost, "/api/v1/agents", map[string]string{
		"name": "demo",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing agentType returned %d, want 400", w.Code)
	}
}

func TestCreateAgentDuplicateName(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	createTestAgent(t, router, "demo")

	w := performRequest(router, http.MethodPost, "/api/v1/agents", CreateAgentRequest{
		Name:        "demo",
		AgentType:   "claude",
		RepoURL:     "https://gitea.local/org/repo.git",
		GitUsername: "bot",
		GitToken:    "tok",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate name returned %d, want 409", w.Code)
	}
}

func TestGetAgent(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	created := createTestAgent(t, router, "demo")

	w := performRequest(router, http.MethodGet, "/api/v1/agents/"+created.Agent.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get returned %d", w.Code)
	}
	var agent v1.Agent
	if err := json.Unmarshal(w.Body.Bytes(), &agent); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if agent.ID != created.Agent.ID || agent.Name != "demo" {
		t.Errorf("agent = %+v", agent)
	}

	w = performRequest(router, http.MethodGet, "/api/v1/agents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing agent returned %d, want 404", w.Code)
	}
}

func TestGetAgentResponseHidesSecretHash(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	created := createTestAgent(t, router, "demo")

	w := performRequest(router, http.MethodGet, "/api/v1/agents/"+created.Agent.ID, nil)
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	for _, key := range []string{"secretHash", "secret_hash", "secret"} {
		if _, ok := raw[key]; ok {
			t.Errorf("response leaks %q", key)
		}
	}
}

func TestListAgents(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	for _, name := range []string{"one", "two", "three"} {
		createTestAgent(t, router, name)
	}

	w := performRequest(router, http.MethodGet, "/api/v1/agents?offset=0&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list returned %d", w.Code)
	}
	var list v1.AgentList
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}
	if len(list.Agents) != 2 {
		t.Errorf("page size = %d, want 2", len(list.Agents))
	}
	if list.Limit != 2 || list.Offset != 0 {
		t.Errorf("page meta = offset %d limit %d", list.Offset, list.Limit)
	}
}

func TestDeleteAgent(t *testing.T) {
	router, repo, _ := setupTestRouter(t)
	created := createTestAgent(t, router, "demo")

	w := performRequest(router, http.MethodDelete, "/api/v1/agents/"+created.Agent.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", w.Code)
	}

	if _, err := repo.GetAgent(context.Background(), created.Agent.ID); err == nil {
		t.Error("agent record survived deletion")
	}

	w = performRequest(router, http.MethodDelete, "/api/v1/agents/"+created.Agent.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete returned %d, want 404", w.Code)
	}
}

func TestRestartAgent(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	created := createTestAgent(t, router, "demo")

	w := performRequest(router, http.MethodPost, "/api/v1/agents/"+created.Agent.ID+"/restart", nil)
	if w.Code != http.StatusOK {
		t.Errorf("restart returned %d", w.Code)
	}

	w = performRequest(router, http.MethodPost, "/api/v1/agents/missing/restart", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("restart of missing agent returned %d, want 404", w.Code)
	}
}

func TestUpdateAgentEnv(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	created := createTestAgent(t, router, "demo")

	w := performRequest(router, http.MethodPut, "/api/v1/agents/"+created.Agent.ID+"/env", UpdateEnvRequest{
		Env: map[string]string{"NEW": "1"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update env returned %d: %s", w.Code, w.Body.String())
	}
	var agent v1.Agent
	if err := json.Unmarshal(w.Body.Bytes(), &agent); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if agent.ContainerID != created.Agent.ContainerID+"-recreated" {
		t.Errorf("container id = %q, want the recreated id", agent.ContainerID)
	}

	w = performRequest(router, http.MethodPut, "/api/v1/agents/"+created.Agent.ID+"/env", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing env returned %d, want 400", w.Code)
	}
}

func TestGetAgentLogs(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	created := createTestAgent(t, router, "demo")

	w := performRequest(router, http.MethodGet, "/api/v1/agents/"+created.Agent.ID+"/logs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logs returned %d", w.Code)
	}
	var logs v1.LogLines
	if err := json.Unmarshal(w.Body.Bytes(), &logs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(logs.Lines) != 2 || logs.Lines[0] != "booting" || logs.Lines[1] != "ready" {
		t.Errorf("lines = %v", logs.Lines)
	}

	w = performRequest(router, http.MethodGet, "/api/v1/agents/missing/logs", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("logs of missing agent returned %d, want 404", w.Code)
	}
}

func TestAgentToResponseOmitsSidecarSecrets(t *testing.T) {
	agent := &models.Agent{
		ID:   "a1",
		Name: "demo",
		SSH:  &models.Sidecar{ContainerID: "s1", Port: 20001, Secret: "hidden"},
	}
	resp := agentToResponse(agent)
	if resp.SSH == nil || resp.SSH.Port != 20001 {
		t.Fatalf("ssh info = %+v", resp.SSH)
	}
	data, _ := json.Marshal(resp)
	if bytes.Contains(data, []byte("hidden")) {
		t.Error("sidecar secret leaked into the response")
	}
}
