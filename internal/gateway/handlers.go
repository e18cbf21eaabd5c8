package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/models"
	"github.com/agentdeck/agentdeck/internal/agent/provider"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/provision"
)

// handleEvent dispatches one inbound frame. Login and logout are the only
// events an unauthenticated connection may send.
func (g *Gateway) handleEvent(ctx context.Context, conn *Conn, envelope *Envelope) {
	switch envelope.Event {
	case EventLogin:
		g.handleLogin(ctx, conn, envelope.Data)
	case EventLogout:
		g.handleLogout(conn)
	case EventChat:
		g.handleChat(ctx, conn, envelope.Data)
	case EventFileUpdate:
		g.handleFileUpdate(conn, envelope.Data)
	case EventCreateTerminal:
		g.handleCreateTerminal(ctx, conn, envelope.Data)
	case EventTerminalInput:
		g.handleTerminalInput(conn, envelope.Data)
	case EventCloseTerminal:
		g.handleCloseTerminal(conn, envelope.Data)
	default:
		conn.sendError("unknown event: "+envelope.Event, "BAD_REQUEST")
	}
}

// requireAuth resolves the connection's agent or emits an authorization
// error event.
func (g *Gateway) requireAuth(conn *Conn) (string, bool) {
	agentID, ok := g.authedAgent(conn.ID)
	if !ok {
		conn.sendError("not authenticated", "UNAUTHORIZED")
	}
	return agentID, ok
}

func (g *Gateway) handleLogin(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		conn.sendEvent(EventLoginError, ErrorPayload{Message: "invalid login payload", Timestamp: time.Now().UTC()})
		return
	}

	// The identifier may be an agent id or a display name.
	agent, err := g.repo.GetAgent(ctx, req.AgentID)
	if err != nil && apperrors.IsNotFound(err) {
		agent, err = g.repo.GetAgentByName(ctx, req.AgentID)
	}
	if err != nil || !provision.CheckSecret(agent.SecretHash, req.Password) {
		conn.sendEvent(EventLoginError, ErrorPayload{Message: "invalid credentials", Timestamp: time.Now().UTC()})
		return
	}

	g.mu.Lock()
	g.auth[conn.ID] = agent.ID
	g.mu.Unlock()

	conn.sendEvent(EventLoginSuccess, StatusPayload{
		AgentID:   agent.ID,
		Timestamp: time.Now().UTC(),
	})

	g.replayHistory(ctx, conn, agent.ID)
	g.ensureStatsTimer(agent.ID, agent.ContainerID)

	g.logger.Info("Connection authenticated",
		zap.String("connection_id", conn.ID),
		zap.String("agent_id", agent.ID))
}

// replayHistory sends the most recent chat messages to a fresh login,
// re-parsing stored agent replies the same way live ones are parsed so
// partially malformed responses render consistently.
func (g *Gateway) replayHistory(ctx context.Context, conn *Conn, agentID string) {
	limit := g.cfg.HistoryLimit
	if limit <= 0 {
		limit = 50
	}
	history, err := g.repo.ListMessages(ctx, agentID, limit)
	if err != nil {
		g.logger.Warn("Failed to load chat history",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return
	}

	for _, msg := range history {
		conn.enqueue(newEnvelope(EventChatMessage, chatPayload(msg.Actor, msg.Body, msg.CreatedAt)))
	}
}

// chatPayload renders a message for the wire: user text passes through,
// agent replies go through the JSON extraction heuristic.
func chatPayload(actor models.Actor, body string, ts time.Time) ChatMessagePayload {
	payload := ChatMessagePayload{From: string(actor), Timestamp: ts}
	if actor == models.ActorAgent {
		switch parsed := parseReply(body).(type) {
		case string:
			payload.Text = parsed
		default:
			payload.Response = parsed
		}
	} else {
		payload.Text = body
	}
	return payload
}

func (g *Gateway) handleLogout(conn *Conn) {
	g.mu.Lock()
	agentID := g.auth[conn.ID]
	delete(g.auth, conn.ID)
	g.mu.Unlock()

	// Logout always succeeds, even when already logged out.
	conn.sendEvent(EventLogoutSuccess, StatusPayload{Timestamp: time.Now().UTC()})

	if agentID != "" {
		g.releaseStatsTimer(agentID)
	}
}

func (g *Gateway) handleChat(ctx context.Context, conn *Conn, data json.RawMessage) {
	agentID, ok := g.requireAuth(conn)
	if !ok {
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		conn.sendError("invalid chat payload", "BAD_REQUEST")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		conn.sendError("message must not be empty", "VALIDATION_ERROR")
		return
	}

	agent, err := g.repo.GetAgent(ctx, agentID)
	if err != nil {
		conn.sendError("agent no longer exists", "NOT_FOUND")
		return
	}
	prov, err := g.providers.Get(agent.AgentType)
	if err != nil {
		conn.sendError(err.Error(), "INTERNAL_ERROR")
		return
	}

	// Timestamp before any broadcast so concurrent turns stay orderable.
	ts := time.Now().UTC()
	g.broadcast(agentID, newEnvelope(EventChatMessage, ChatMessagePayload{
		From:      string(models.ActorUser),
		Text:      message,
		Timestamp: ts,
	}))

	// First-turn detection happens before the user message is stored.
	first := g.isFirstTurn(ctx, agentID)

	g.persistMessage(ctx, &models.ChatMessage{
		AgentID:   agentID,
		Actor:     models.ActorUser,
		Body:      message,
		CreatedAt: ts,
	})

	// The agent turn can run for minutes, so it leaves the read loop.
	// Keeping it inline would starve pings and terminal traffic on this
	// connection until the reply arrived.
	go g.runAgentTurn(conn, agent, prov, message, first)
}

// runAgentTurn drives one provider turn to completion and broadcasts the
// outcome. It runs detached from the issuing connection so a mid-turn
// disconnect does not cut the reply off from the agent's other viewers.
func (g *Gateway) runAgentTurn(conn *Conn, agent *models.Agent, prov provider.Provider, message string, first bool) {
	ctx := context.Background()

	// One-time preamble before the agent's first ever message. Failure
	// never blocks the user's turn.
	if first {
		if err := prov.SendInitialization(ctx, agent.ID, agent.ContainerID); err != nil {
			g.logger.Warn("Agent initialization failed",
				zap.String("agent_id", agent.ID),
				zap.Error(err))
		}
	}

	reply, err := prov.SendMessage(ctx, agent.ID, agent.ContainerID, message, provider.SendOptions{})
	if err != nil {
		g.logger.Error("Agent turn failed",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
		conn.sendError("agent failed to respond: "+err.Error(), "INTERNAL_ERROR")
		return
	}

	cleaned := cleanReply(reply)
	g.persistMessage(ctx, &models.ChatMessage{
		AgentID: agent.ID,
		Actor:   models.ActorAgent,
		Body:    cleaned,
	})
	g.broadcast(agent.ID, newEnvelope(EventChatMessage, chatPayload(models.ActorAgent, cleaned, time.Now().UTC())))

	g.publishChatEvent(ctx, agent.ID, message)
}

// isFirstTurn reports whether the agent has no chat history yet. Lookup
// failures count as not-first so a flaky read cannot replay the preamble.
func (g *Gateway) isFirstTurn(ctx context.Context, agentID string) bool {
	has, err := g.repo.HasMessages(ctx, agentID)
	if err != nil {
		g.logger.Warn("Failed to check chat history",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return false
	}
	return !has
}

// persistMessage stores a chat message; failures are logged, never raised.
func (g *Gateway) persistMessage(ctx context.Context, msg *models.ChatMessage) {
	if err := g.repo.CreateMessage(ctx, msg); err != nil {
		g.logger.Warn("Failed to persist chat message",
			zap.String("agent_id", msg.AgentID),
			zap.Error(err))
	}
}

func (g *Gateway) publishChatEvent(ctx context.Context, agentID, message string) {
	if g.bus == nil {
		return
	}
	event := bus.NewEvent(bus.SubjectChatMessage, agentID, map[string]any{"message": message})
	if err := g.bus.Publish(ctx, bus.SubjectChatMessage, event); err != nil {
		g.logger.Warn("Failed to publish chat event", zap.Error(err))
	}
}

func (g *Gateway) handleFileUpdate(conn *Conn, data json.RawMessage) {
	agentID, ok := g.requireAuth(conn)
	if !ok {
		return
	}

	var req FileUpdateRequest
	if err := json.Unmarshal(data, &req); err != nil || req.FilePath == "" {
		conn.sendError("invalid fileUpdate payload", "BAD_REQUEST")
		return
	}

	g.broadcast(agentID, newEnvelope(EventFileNotification, FileNotificationPayload{
		SocketID:  conn.ID,
		FilePath:  req.FilePath,
		Timestamp: time.Now().UTC(),
	}))
}

func (g *Gateway) handleCreateTerminal(ctx context.Context, conn *Conn, data json.RawMessage) {
	agentID, ok := g.requireAuth(conn)
	if !ok {
		return
	}

	var req CreateTerminalRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			conn.sendError("invalid createTerminal payload", "BAD_REQUEST")
			return
		}
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	agent, err := g.repo.GetAgent(ctx, agentID)
	if err != nil {
		conn.sendError("agent no longer exists", "NOT_FOUND")
		return
	}

	session, err := g.orchestrator.CreateTerminal(ctx, agent.ContainerID, sessionID, req.Shell)
	if err != nil {
		conn.sendError("failed to create terminal: "+err.Error(), "INTERNAL_ERROR")
		return
	}

	g.mu.Lock()
	if g.terminals[conn.ID] == nil {
		g.terminals[conn.ID] = make(map[string]bool)
	}
	g.terminals[conn.ID][sessionID] = true
	g.mu.Unlock()

	session.Attach(
		func(output []byte) {
			conn.sendEvent(EventTerminalOutput, TerminalEventPayload{
				SessionID: sessionID,
				Data:      string(output),
				Timestamp: time.Now().UTC(),
			})
		},
		func(err error) {
			if err != nil {
				g.logger.Warn("Terminal session ended with error",
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
			g.mu.Lock()
			if owned := g.terminals[conn.ID]; owned != nil {
				delete(owned, sessionID)
			}
			g.mu.Unlock()
			conn.sendEvent(EventTerminalClosed, TerminalEventPayload{
				SessionID: sessionID,
				Timestamp: time.Now().UTC(),
			})
		},
	)

	conn.sendEvent(EventTerminalCreated, TerminalEventPayload{
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	})
}

// ownsTerminal verifies the session belongs to the connection
func (g *Gateway) ownsTerminal(connID, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminals[connID][sessionID]
}

func (g *Gateway) handleTerminalInput(conn *Conn, data json.RawMessage) {
	if _, ok := g.requireAuth(conn); !ok {
		return
	}

	var req TerminalInputRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		conn.sendError("invalid terminalInput payload", "BAD_REQUEST")
		return
	}
	if !g.ownsTerminal(conn.ID, req.SessionID) {
		conn.sendError("terminal session not owned by this connection", "FORBIDDEN")
		return
	}

	if err := g.orchestrator.WriteTerminal(req.SessionID, []byte(req.Data)); err != nil {
		conn.sendError("failed to write to terminal: "+err.Error(), "INTERNAL_ERROR")
	}
}

func (g *Gateway) handleCloseTerminal(conn *Conn, data json.RawMessage) {
	if _, ok := g.requireAuth(conn); !ok {
		return
	}

	var req CloseTerminalRequest
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" {
		conn.sendError("invalid closeTerminal payload", "BAD_REQUEST")
		return
	}
	if !g.ownsTerminal(conn.ID, req.SessionID) {
		conn.sendError("terminal session not owned by this connection", "FORBIDDEN")
		return
	}

	g.mu.Lock()
	delete(g.terminals[conn.ID], req.SessionID)
	g.mu.Unlock()

	if err := g.orchestrator.CloseTerminal(req.SessionID); err != nil {
		g.logger.Warn("Failed to close terminal",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
	}
}
