// Package gateway exposes agent activity to realtime websocket clients.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/provider"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/docker"
	"github.com/agentdeck/agentdeck/internal/events/bus"
)

// Terminal is one live TTY session bound to a connection.
type Terminal interface {
	Attach(onOutput func([]byte), onClose func(error))
	Write(data []byte) error
}

// Orchestrator is the container runtime surface the gateway needs.
type Orchestrator interface {
	GetContainerStats(ctx context.Context, containerID string) (*docker.StatsSnapshot, error)
	CreateTerminal(ctx context.Context, containerID, sessionID, shell string) (Terminal, error)
	WriteTerminal(sessionID string, data []byte) error
	CloseTerminal(sessionID string) error
}

// dockerOrchestrator adapts *docker.Client to the Orchestrator interface.
type dockerOrchestrator struct {
	client *docker.Client
}

// NewDockerOrchestrator wraps the docker client for gateway use
func NewDockerOrchestrator(client *docker.Client) Orchestrator {
	return &dockerOrchestrator{client: client}
}

func (d *dockerOrchestrator) GetContainerStats(ctx context.Context, containerID string) (*docker.StatsSnapshot, error) {
	return d.client.GetContainerStats(ctx, containerID)
}

func (d *dockerOrchestrator) CreateTerminal(ctx context.Context, containerID, sessionID, shell string) (Terminal, error) {
	return d.client.CreateTerminalSession(ctx, containerID, sessionID, shell)
}

func (d *dockerOrchestrator) WriteTerminal(sessionID string, data []byte) error {
	return d.client.SendTerminalInput(sessionID, data)
}

func (d *dockerOrchestrator) CloseTerminal(sessionID string) error {
	return d.client.CloseTerminalSession(sessionID)
}

// statsTimer is one per-agent periodic stats broadcast task.
type statsTimer struct {
	stop chan struct{}
}

// Gateway manages websocket connections, their authentication state, and
// per-agent broadcast fan-out.
type Gateway struct {
	orchestrator Orchestrator
	repo         repository.Repository
	providers    *provider.Registry
	bus          bus.EventBus
	cfg          config.GatewayConfig
	logger       *logger.Logger

	// All maps guarded by mu. Mutations happen before handing work to
	// goroutines so no handler observes a half-updated view.
	mu          sync.Mutex
	conns       map[string]*Conn           // connection id -> socket
	auth        map[string]string          // connection id -> agent id
	terminals   map[string]map[string]bool // connection id -> owned session ids
	statsTimers map[string]*statsTimer     // agent id -> broadcast task

	upgrader websocket.Upgrader
}

// New creates a gateway
func New(orch Orchestrator, repo repository.Repository, providers *provider.Registry, eventBus bus.EventBus, cfg config.GatewayConfig, log *logger.Logger) *Gateway {
	return &Gateway{
		orchestrator: orch,
		repo:         repo,
		providers:    providers,
		bus:          eventBus,
		cfg:          cfg,
		logger:       log.WithFields(zap.String("component", "gateway")),
		conns:        make(map[string]*Conn),
		auth:         make(map[string]string),
		terminals:    make(map[string]map[string]bool),
		statsTimers:  make(map[string]*statsTimer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades an HTTP request and runs the connection's pumps
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	sock, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.New().String(), sock, g, g.logger)

	// The request context is canceled when this handler returns, long
	// before the connection ends. Handlers get a context tied to the
	// connection's own lifetime instead.
	ctx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel

	g.mu.Lock()
	g.conns[conn.ID] = conn
	g.mu.Unlock()

	g.logger.Debug("Connection opened", zap.String("connection_id", conn.ID))

	go conn.writePump()
	go conn.readPump(ctx)
}

// disconnect clears a connection's state: authentication, owned terminal
// sessions, and the agent's stats timer when it was the last authenticated
// connection.
func (g *Gateway) disconnect(conn *Conn) {
	g.mu.Lock()
	agentID := g.auth[conn.ID]
	owned := g.terminals[conn.ID]
	delete(g.conns, conn.ID)
	delete(g.auth, conn.ID)
	delete(g.terminals, conn.ID)
	g.mu.Unlock()

	for sessionID := range owned {
		if err := g.orchestrator.CloseTerminal(sessionID); err != nil {
			g.logger.Warn("Failed to close terminal on disconnect",
				zap.String("connection_id", conn.ID),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	if agentID != "" {
		g.releaseStatsTimer(agentID)
	}
	g.logger.Debug("Connection closed", zap.String("connection_id", conn.ID))
}

// broadcast sends a frame to every connection authenticated to the agent.
// Stale entries found along the way are evicted rather than reported.
func (g *Gateway) broadcast(agentID string, frame []byte) {
	g.mu.Lock()
	var targets []*Conn
	for connID, authedAgent := range g.auth {
		if authedAgent != agentID {
			continue
		}
		conn, ok := g.conns[connID]
		if !ok {
			delete(g.auth, connID)
			delete(g.terminals, connID)
			continue
		}
		targets = append(targets, conn)
	}
	g.mu.Unlock()

	for _, conn := range targets {
		conn.enqueue(frame)
	}
}

// authedAgent returns the agent a connection is logged in to, if any
func (g *Gateway) authedAgent(connID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	agentID, ok := g.auth[connID]
	return agentID, ok
}

// countAuthed counts connections currently authenticated to an agent
func (g *Gateway) countAuthed(agentID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, authedAgent := range g.auth {
		if authedAgent == agentID {
			n++
		}
	}
	return n
}

// ensureStatsTimer starts the agent's periodic stats broadcast if it is not
// already running, emitting an immediate first snapshot.
func (g *Gateway) ensureStatsTimer(agentID, containerID string) {
	g.mu.Lock()
	if _, ok := g.statsTimers[agentID]; ok {
		g.mu.Unlock()
		return
	}
	timer := &statsTimer{stop: make(chan struct{})}
	g.statsTimers[agentID] = timer
	g.mu.Unlock()

	interval := time.Duration(g.cfg.StatsInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		g.broadcastStats(agentID, containerID)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-timer.stop:
				return
			case <-ticker.C:
				// Self-cancel if every client is gone, in case an
				// explicit release was missed.
				if g.countAuthed(agentID) == 0 {
					g.mu.Lock()
					if g.statsTimers[agentID] == timer {
						delete(g.statsTimers, agentID)
					}
					g.mu.Unlock()
					return
				}
				g.broadcastStats(agentID, containerID)
			}
		}
	}()
}

// releaseStatsTimer stops the agent's broadcast task when no authenticated
// connection remains.
func (g *Gateway) releaseStatsTimer(agentID string) {
	if g.countAuthed(agentID) > 0 {
		return
	}
	g.mu.Lock()
	timer, ok := g.statsTimers[agentID]
	if ok {
		delete(g.statsTimers, agentID)
	}
	g.mu.Unlock()
	if ok {
		close(timer.stop)
	}
}

func (g *Gateway) broadcastStats(agentID, containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snapshot, err := g.orchestrator.GetContainerStats(ctx, containerID)
	if err != nil {
		g.logger.Warn("Failed to collect container stats",
			zap.String("agent_id", agentID),
			zap.String("container_id", containerID),
			zap.Error(err))
		return
	}

	g.broadcast(agentID, newEnvelope(EventContainerStats, StatsPayload{
		Stats:     snapshot,
		Timestamp: time.Now().UTC(),
	}))
}

// Close shuts every connection down
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, conn := range g.conns {
		conns = append(conns, conn)
	}
	timers := g.statsTimers
	g.statsTimers = make(map[string]*statsTimer)
	g.mu.Unlock()

	for _, timer := range timers {
		close(timer.stop)
	}
	for _, conn := range conns {
		conn.close()
	}
}
