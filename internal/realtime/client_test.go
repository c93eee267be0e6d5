package realtime_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leadscout/leadscout/internal/realtime"
)

// pushServer is a minimal websocket endpoint that records inbound client
// envelopes and lets tests push messages and drop connections.
type pushServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	inbound chan realtime.Envelope
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{inbound: make(chan realtime.Envelope, 16)}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.mu.Unlock()
		for {
			var env realtime.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ps.inbound <- env
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) connCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.conns)
}

func (ps *pushServer) lastConn() *websocket.Conn {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.conns) == 0 {
		return nil
	}
	return ps.conns[len(ps.conns)-1]
}

func (ps *pushServer) push(t *testing.T, msgType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	conn := ps.lastConn()
	if conn == nil {
		t.Fatal("no connection to push on")
	}
	if err := conn.WriteJSON(realtime.Envelope{Type: msgType, Data: data}); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestClient(ps *pushServer) *realtime.Client {
	return realtime.NewClient(ps.url(), slog.Default(),
		realtime.WithBackoff(5*time.Millisecond, 3),
		realtime.WithHandshakeTimeout(time.Second),
	)
}

func TestConnectAndDispatch(t *testing.T) {
	ps := newPushServer(t)
	c := newTestClient(ps)

	received := make(chan realtime.ProgressUpdate, 1)
	c.On(realtime.EventJobProgress, func(data json.RawMessage) {
		var upd realtime.ProgressUpdate
		json.Unmarshal(data, &upd)
		received <- upd
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if c.State() != realtime.StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}

	waitFor(t, "server connection", func() bool { return ps.connCount() == 1 })
	ps.push(t, "job_progress", map[string]any{"job_id": "j1", "progress": 45, "status": "running"})

	select {
	case upd := <-received:
		if upd.JobID != "j1" || upd.Progress != 45 {
			t.Fatalf("unexpected payload: %+v", upd)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestUnknownMessageTypeDropped(t *testing.T) {
	ps := newPushServer(t)
	c := newTestClient(ps)

	received := make(chan struct{}, 1)
	c.On(realtime.EventJobCompleted, func(json.RawMessage) { received <- struct{}{} })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	waitFor(t, "server connection", func() bool { return ps.connCount() == 1 })

	// Unknown type first; the channel must survive and deliver the next one.
	ps.push(t, "telemetry_snapshot", map[string]any{"cpu": 99})
	ps.push(t, "job_completed", map[string]any{"job_id": "j1", "progress": 100, "status": "completed"})

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("known message after unknown one was not delivered")
	}
}

func TestSubscriptionEnvelopes(t *testing.T) {
	ps := newPushServer(t)
	c := newTestClient(ps)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	waitFor(t, "server connection", func() bool { return ps.connCount() == 1 })

	if err := c.SubscribeToJob("j1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case env := <-ps.inbound:
		if env.Type != "subscribe_job" {
			t.Fatalf("envelope type = %s", env.Type)
		}
		var payload struct {
			JobID string `json:"job_id"`
		}
		json.Unmarshal(env.Data, &payload)
		if payload.JobID != "j1" {
			t.Fatalf("job_id = %q", payload.JobID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscribe envelope never arrived")
	}

	// Unsubscribing a job that was never subscribed sends nothing.
	if err := c.UnsubscribeFromJob("never-subscribed"); err != nil {
		t.Fatalf("unsubscribe no-op returned error: %v", err)
	}
	select {
	case env := <-ps.inbound:
		t.Fatalf("unexpected envelope %s for no-op unsubscribe", env.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	ps := newPushServer(t)
	c := newTestClient(ps)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	waitFor(t, "server connection", func() bool { return ps.connCount() == 1 })

	if err := c.SubscribeToJob("j1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ps.inbound // initial subscribe envelope

	// Drop the connection server-side; the client must come back and
	// replay its registration.
	ps.lastConn().Close()

	waitFor(t, "reconnect", func() bool { return ps.connCount() == 2 })
	waitFor(t, "connected state", func() bool { return c.State() == realtime.StateConnected })

	select {
	case env := <-ps.inbound:
		if env.Type != "subscribe_job" {
			t.Fatalf("expected replayed subscribe_job, got %s", env.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription was not replayed after reconnect")
	}
}

func TestExplicitDisconnectSuppressesReconnect(t *testing.T) {
	ps := newPushServer(t)
	c := newTestClient(ps)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "server connection", func() bool { return ps.connCount() == 1 })

	c.Disconnect()

	if c.State() != realtime.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}
	time.Sleep(100 * time.Millisecond)
	if ps.connCount() != 1 {
		t.Fatalf("client reconnected after explicit disconnect: %d conns", ps.connCount())
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	ps := newPushServer(t)
	c := newTestClient(ps)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()
	waitFor(t, "server connection", func() bool { return ps.connCount() == 1 })

	// Kill the endpoint entirely so every reconnect attempt fails.
	conn := ps.lastConn()
	ps.srv.Close()
	conn.Close()

	waitFor(t, "give-up", func() bool { return c.State() == realtime.StateDisconnected })
}

func TestInitialConnectFailure(t *testing.T) {
	c := realtime.NewClient("ws://127.0.0.1:1/ws", slog.Default(),
		realtime.WithHandshakeTimeout(500*time.Millisecond),
	)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if c.State() != realtime.StateDisconnected {
		t.Fatalf("state = %s, want disconnected after failed dial", c.State())
	}
}
