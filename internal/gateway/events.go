package gateway

import (
	"encoding/json"
	"time"
)

// Client to server event names.
const (
	EventLogin          = "login"
	EventChat           = "chat"
	EventFileUpdate     = "fileUpdate"
	EventLogout         = "logout"
	EventCreateTerminal = "createTerminal"
	EventTerminalInput  = "terminalInput"
	EventCloseTerminal  = "closeTerminal"
)

// Server to client event names.
const (
	EventLoginSuccess     = "loginSuccess"
	EventLoginError       = "loginError"
	EventChatMessage      = "chatMessage"
	EventFileNotification = "fileUpdateNotification"
	EventContainerStats   = "containerStats"
	EventTerminalCreated  = "terminalCreated"
	EventTerminalOutput   = "terminalOutput"
	EventTerminalClosed   = "terminalClosed"
	EventLogoutSuccess    = "logoutSuccess"
	EventError            = "error"
)

// Envelope is the wire frame for every gateway message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LoginRequest authenticates a connection against an agent.
type LoginRequest struct {
	AgentID  string `json:"agentId"`
	Password string `json:"password"`
}

// ChatRequest carries one user chat turn.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// FileUpdateRequest signals a file change to peer connections.
type FileUpdateRequest struct {
	FilePath string `json:"filePath"`
}

// CreateTerminalRequest opens a TTY session in the agent's container.
type CreateTerminalRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Shell     string `json:"shell,omitempty"`
}

// TerminalInputRequest writes keystrokes to an owned session.
type TerminalInputRequest struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// CloseTerminalRequest closes an owned session.
type CloseTerminalRequest struct {
	SessionID string `json:"sessionId"`
}

// ChatMessagePayload is a broadcast chat turn. Text carries plain strings,
// Response carries parsed JSON replies; exactly one is set.
type ChatMessagePayload struct {
	From      string    `json:"from"`
	Text      string    `json:"text,omitempty"`
	Response  any       `json:"response,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FileNotificationPayload tells receivers which connection changed a file.
type FileNotificationPayload struct {
	SocketID  string    `json:"socketId"`
	FilePath  string    `json:"filePath"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsPayload is one resource-usage broadcast.
type StatsPayload struct {
	Stats     any       `json:"stats"`
	Timestamp time.Time `json:"timestamp"`
}

// TerminalEventPayload covers created/output/closed terminal events.
type TerminalEventPayload struct {
	SessionID string    `json:"sessionId"`
	Data      string    `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusPayload is the generic success acknowledgement.
type StatusPayload struct {
	Message   string    `json:"message,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is the generic failure event.
type ErrorPayload struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// newEnvelope marshals a payload into a wire frame. Marshal failures are
// impossible for the payload types above, so the error is dropped.
func newEnvelope(event string, payload any) []byte {
	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(Envelope{Event: event, Data: data})
	return frame
}
