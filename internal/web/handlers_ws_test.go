package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trellico/trellico/internal/events"
)

func wsURL(baseURL, path string) string {
	if strings.HasPrefix(baseURL, "https://") {
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + path
	}
	return "ws://" + strings.TrimPrefix(baseURL, "http://") + path
}

type wsFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Code    string          `json:"code"`
	Name    string          `json:"-"`
	Payload json.RawMessage `json:"payload"`
}

// readFrame decodes the next frame; bus events carry "event" as the name
// field, status frames carry "type".
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m map[string]any
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return m
}

func TestEventsWSUnauthorized(t *testing.T) {
	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Token:      "secret-token",
		Bus:        events.NewBus(),
	})
	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/ws/events"), nil)
	if err == nil {
		t.Fatal("expected websocket dial error for unauthorized request")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 upgrade response, got %+v", resp)
	}
}

func TestEventsWSWithoutBus(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})
	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/ws/events"), nil)
	if err == nil {
		t.Fatal("expected dial error when no bus is configured")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 upgrade response, got %+v", resp)
	}
}

func TestEventsWSStreamsBusEvents(t *testing.T) {
	bus := events.NewBus()
	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Bus:        bus,
	})
	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/ws/events"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// First frame is the connected status
	hello := readFrame(t, conn)
	if hello["type"] != "status" || hello["event"] != "connected" {
		t.Fatalf("hello frame: %v", hello)
	}

	// Wait until the handler's subscription is registered before publishing
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish("claude_code-output", events.Output{ProcessID: "p1", Data: "hello"})

	frame := readFrame(t, conn)
	if frame["event"] != "claude_code-output" {
		t.Fatalf("event frame: %v", frame)
	}
	payload, ok := frame["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload: %v", frame["payload"])
	}
	if payload["process_id"] != "p1" {
		t.Fatalf("payload process_id: %v", payload)
	}
	if data, ok := payload["data"].(string); !ok || data != "hello" {
		t.Fatalf("payload data: %v", payload)
	}
}

func TestEventsWSPing(t *testing.T) {
	bus := events.NewBus()
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Bus: bus})
	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/ws/events"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readFrame(t, conn) // connected

	if err := conn.WriteJSON(wsClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	pong := readFrame(t, conn)
	if pong["event"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}

	if err := conn.WriteJSON(wsClientMessage{Type: "bogus"}); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	errFrame := readFrame(t, conn)
	if errFrame["code"] != "UNSUPPORTED_MESSAGE" {
		t.Fatalf("expected UNSUPPORTED_MESSAGE, got %v", errFrame)
	}
}

func TestEventsWSSubscriptionCleanedUp(t *testing.T) {
	bus := events.NewBus()
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Bus: bus})
	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(testServer.URL, "/ws/events"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, conn) // connected
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not cleaned up after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
