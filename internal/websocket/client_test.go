// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/backupbots/internal/notify"
)

// setupServer serves the websocket handler for hub.
func setupServer(t *testing.T, hub *Hub, origins []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(Handler(hub, origins))
	t.Cleanup(server.Close)
	return server
}

// dialWebSocket establishes a WebSocket connection to the test server
func dialWebSocket(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireMessage struct {
	Type  string          `json:"type"`
	Group string          `json:"group"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestNewClient(t *testing.T) {
	hub := NewHub()
	a := NewClient(hub, nil)
	b := NewClient(hub, nil)

	if a.hub != hub {
		t.Error("client hub not set")
	}
	if cap(a.send) != 256 {
		t.Errorf("send buffer = %d, want 256", cap(a.send))
	}
	if b.ID() <= a.ID() {
		t.Errorf("client ids should increase: %d then %d", a.ID(), b.ID())
	}
}

func TestClient_Constants(t *testing.T) {
	if pingPeriod >= pongWait {
		t.Errorf("pingPeriod %v must be shorter than pongWait %v", pingPeriod, pongWait)
	}
	if writeWait != 10*time.Second {
		t.Errorf("writeWait = %v", writeWait)
	}
}

func TestClient_SubscribeAndReceive(t *testing.T) {
	hub := setupHub(t)
	server := setupServer(t, hub, nil)
	conn := dialWebSocket(t, server, nil)

	send(t, conn, map[string]interface{}{
		"type": MessageTypeSubscribe,
		"data": map[string]string{"group": "job:b1"},
	})
	if msg := read(t, conn); msg.Type != MessageTypeSubscribed || msg.Group != "job:b1" {
		t.Fatalf("expected subscribed, got %+v", msg)
	}

	if err := hub.Publish("job:b1", statusMessage("b1")); err != nil {
		t.Fatal(err)
	}
	msg := read(t, conn)
	if msg.Type != notify.MessageTypeStatus || msg.Group != "job:b1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	var ev struct {
		EntityID string `json:"entity_id"`
		Kind     string `json:"kind"`
	}
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.EntityID != "b1" || ev.Kind != "backup" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestClient_ControlMessages(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType string
	}{
		{"ping", `{"type":"ping"}`, MessageTypePong},
		{"malformed", `{"type":`, MessageTypeError},
		{"unknown type", `{"type":"shout"}`, MessageTypeError},
		{"invalid group", `{"type":"subscribe","data":{"group":"users:1"}}`, MessageTypeError},
		{"missing group", `{"type":"subscribe","data":{}}`, MessageTypeError},
		{"unsubscribe", `{"type":"unsubscribe","data":{"group":"dashboard:g"}}`, MessageTypeUnsubscribed},
	}

	hub := setupHub(t)
	server := setupServer(t, hub, nil)
	conn := dialWebSocket(t, server, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatal(err)
			}
			if msg := read(t, conn); msg.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestClient_DisconnectUnregisters(t *testing.T) {
	hub := setupHub(t)
	server := setupServer(t, hub, nil)
	conn := dialWebSocket(t, server, nil)

	waitFor(t, func() bool { return hub.GetClientCount() == 1 })
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitFor(t, func() bool { return hub.GetClientCount() == 0 })
}

func TestHandler_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"same host", nil, "http://backups.example.com", true},
		{"foreign host", nil, "http://evil.example.com", false},
		{"allow-listed", []string{"https://ui.example.com"}, "https://ui.example.com", true},
		{"wildcard", []string{"*"}, "http://anything.test", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://backups.example.com/api/v1/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("CheckOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := setupHub(t)
	server := setupServer(t, hub, nil)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}
}

func TestHandler_HubStopped(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = hub.RunWithContext(ctx)
	server := setupServer(t, hub, nil)

	conn := dialWebSocket(t, server, nil)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after hub stop = %v, want going-away close", err)
	}
}
