package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Full round trip through the HTTP upgrade path. The upgrade handler
// returns as soon as the pumps start and net/http cancels the request
// context with it, so this exercises that handler contexts stay live for
// the whole connection.
func TestWebSocketSessionOutlivesUpgradeRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g, repo, rt, _ := newTestGateway(t)
	agent := seedAgent(t, repo, "demo", "pw")

	router := gin.New()
	router.GET("/ws", g.HandleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	sock, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer sock.Close()

	writeEvent := func(event string, payload any) {
		t.Helper()
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal %s payload: %v", event, err)
		}
		if err := sock.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
			t.Fatalf("failed to write %s: %v", event, err)
		}
	}
	readUntil := func(event string) Envelope {
		t.Helper()
		sock.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var env Envelope
			if err := sock.ReadJSON(&env); err != nil {
				t.Fatalf("reading until %s: %v", event, err)
			}
			if env.Event == EventError || env.Event == EventLoginError {
				t.Fatalf("unexpected error frame while waiting for %s: %s", event, env.Data)
			}
			if env.Event == event {
				return env
			}
		}
	}

	writeEvent(EventLogin, LoginRequest{AgentID: agent.ID, Password: "pw"})
	env := readUntil(EventLoginSuccess)
	var status StatusPayload
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("malformed status payload: %v", err)
	}
	if status.AgentID != agent.ID {
		t.Errorf("loginSuccess agent = %q, want %q", status.AgentID, agent.ID)
	}

	writeEvent(EventCreateTerminal, CreateTerminalRequest{SessionID: "sess-1"})
	readUntil(EventTerminalCreated)

	errs := rt.terminalCtxErrs()
	if len(errs) != 1 {
		t.Fatalf("terminal creations = %d, want 1", len(errs))
	}
	if errs[0] != nil {
		t.Errorf("handler context was %v at terminal creation, want live", errs[0])
	}
}
