package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscribePayload struct {
	JobID string `json:"job_id"`
}

// Hub owns the websocket side of the devserver: it tracks connected
// dashboards, their per-job subscriptions, and pushes progress events to
// the subscribers of the job in question.
type Hub struct {
	mu       sync.Mutex
	subs     map[*websocket.Conn]map[string]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs: make(map[*websocket.Conn]map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "devserver_hub"),
	}
}

// Serve upgrades the request and runs the connection's read loop, handling
// subscribe_job / unsubscribe_job registrations until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.subs[conn] = make(map[string]bool)
	h.mu.Unlock()
	h.logger.Info("dashboard connected", "remote", conn.RemoteAddr().String())

	defer func() {
		h.mu.Lock()
		delete(h.subs, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("dashboard disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		var sub subscribePayload
		if err := json.Unmarshal(env.Data, &sub); err != nil || sub.JobID == "" {
			h.logger.Warn("malformed subscription payload", "type", env.Type)
			continue
		}

		h.mu.Lock()
		switch env.Type {
		case "subscribe_job":
			h.subs[conn][sub.JobID] = true
		case "unsubscribe_job":
			delete(h.subs[conn], sub.JobID)
		default:
			h.logger.Debug("ignoring unknown client event", "type", env.Type)
		}
		h.mu.Unlock()
	}
}

// Publish sends one typed message to every connection subscribed to jobID.
// A connection that fails to write is dropped.
func (h *Hub) Publish(jobID, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode push payload", "error", err)
		return
	}
	msg := envelope{Type: msgType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, jobs := range h.subs {
		if !jobs[jobID] {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Warn("push write failed, dropping connection", "error", err)
			conn.Close()
			delete(h.subs, conn)
		}
	}
}
