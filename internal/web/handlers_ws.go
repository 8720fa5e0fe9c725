package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/trellico/trellico/internal/logging"
)

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsServerMessage struct {
	Type    string    `json:"type"` // status, error
	Event   string    `json:"event,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes to one connection. The event loop and the
// read loop's pong replies both write, and gorilla allows one writer at a time.
type wsConnWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

// handleEventsWS streams bus events to a client as JSON frames. A client
// that reads too slowly first eats into its subscription buffer, then
// loses events; it never stalls publishers.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.Bus == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NO_EVENT_BUS", "event bus is not configured")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)
	webLog := logging.ForComponent(logging.CompWeb)

	_ = writer.WriteJSON(wsServerMessage{
		Type:  "status",
		Event: "connected",
		Time:  time.Now().UTC(),
	})

	sub, cancel := s.cfg.Bus.Subscribe(256)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.EventsPerSecond), s.cfg.EventsPerSecond)

	// Read loop: detects close and answers pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(
					err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived,
				) {
					webLog.Warn("websocket_closed_unexpectedly",
						slog.String("error", err.Error()))
				}
				return
			}

			var msg wsClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "INVALID_MESSAGE",
					Message: "invalid json payload",
					Time:    time.Now().UTC(),
				})
				continue
			}

			switch msg.Type {
			case "ping":
				_ = writer.WriteJSON(wsServerMessage{
					Type:  "status",
					Event: "pong",
					Time:  time.Now().UTC(),
				})
			default:
				_ = writer.WriteJSON(wsServerMessage{
					Type:    "error",
					Code:    "UNSUPPORTED_MESSAGE",
					Message: "supported message types: ping",
					Time:    time.Now().UTC(),
				})
			}
		}
	}()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-done:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := limiter.Wait(s.baseCtx); err != nil {
				return
			}
			if err := writer.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
