package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/serialhome/serialhome-core/internal/infrastructure/config"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"sensor.reading": {}},
	}
	hub.Register(client)

	hub.Broadcast("sensor.reading", map[string]any{"sensor_id": 1, "value": 20.5})

	select {
	case raw := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != "sensor.reading" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"actor.actuated": {}},
	}
	hub.Register(client)

	hub.Broadcast("sensor.reading", map[string]any{"sensor_id": 1})

	select {
	case <-client.send:
		t.Error("unsubscribed client received a message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesOnce(t *testing.T) {
	hub := testHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"sensor.reading": {}},
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	// A broadcast racing a disconnect must not panic.
	client.trySend([]byte("late"))
}

func TestHub_FullBufferDropsEvent(t *testing.T) {
	hub := testHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{"actor.actuated": {}},
	}
	hub.Register(client)

	hub.Broadcast("actor.actuated", 1)
	hub.Broadcast("actor.actuated", 2)

	if got := len(client.send); got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
}

// dialWS connects to /api/v1/ws on a live test server.
func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v (resp %v)", url, err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := dialWS(t, env, "")
	waitForClients(t, env.srv.hub, 1)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"actor.actuated"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	env.srv.hub.Broadcast("actor.actuated", map[string]any{"actor_id": 3, "value": 10})
	event := readMessage(t, ws)
	if event.Type != WSTypeEvent || event.EventType != "actor.actuated" {
		t.Errorf("event = %+v", event)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok || payload["actor_id"] != float64(3) {
		t.Errorf("payload = %#v", event.Payload)
	}
}

func TestWebSocket_ChannelsQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := dialWS(t, env, "?channels=sensor.reading,%20actor.actuated")
	waitForClients(t, env.srv.hub, 1)

	env.srv.hub.Broadcast("sensor.reading", map[string]any{"sensor_id": 1})
	if got := readMessage(t, ws); got.EventType != "sensor.reading" {
		t.Errorf("event = %+v", got)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := dialWS(t, env, "")
	waitForClients(t, env.srv.hub, 1)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if got := readMessage(t, ws); got.Type != WSTypePong || got.ID != "p1" {
		t.Errorf("ping reply = %+v", got)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if got := readMessage(t, ws); got.Type != WSTypeError {
		t.Errorf("invalid JSON reply = %+v", got)
	}

	if err := ws.WriteJSON(WSMessage{Type: "teleport", ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if got := readMessage(t, ws); got.Type != WSTypeError || got.ID != "x" {
		t.Errorf("unknown type reply = %+v", got)
	}
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := dialWS(t, env, "")
	waitForClients(t, env.srv.hub, 1)

	ws.Close()
	waitForClients(t, env.srv.hub, 0)
}
