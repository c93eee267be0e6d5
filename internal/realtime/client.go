package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/metrics"
)

// ConnState is the connection lifecycle state of the push channel.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Envelope is the wire frame in both directions: server pushes carry a
// message type and payload, client registrations carry subscribe events.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ProgressUpdate is the payload of job_progress (and, with a terminal
// status, job_completed / job_failed) messages.
type ProgressUpdate struct {
	JobID        string           `json:"job_id"`
	Progress     int              `json:"progress"`
	Status       domain.JobStatus `json:"status"`
	Message      string           `json:"message,omitempty"`
	ResultsCount *int             `json:"results_count,omitempty"`
	Version      int64            `json:"version,omitempty"`
}

type subscribePayload struct {
	JobID string `json:"job_id"`
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultBaseDelay        = time.Second
	defaultMaxAttempts      = 5
)

// Client maintains a single long-lived websocket to the backend and fans
// job-progress events out to subscribers. On unexpected disconnects it
// reconnects with exponential backoff; after exhausting its attempts it
// settles into StateDisconnected and callers fall back to REST polling.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	emitter *Emitter
	logger  *slog.Logger

	baseDelay   time.Duration
	maxAttempts int

	mu             sync.Mutex
	conn           *websocket.Conn
	state          ConnState
	subs           map[string]struct{}
	done           chan struct{} // closed by Disconnect, cancels backoff sleeps
	stateListeners []func(ConnState)
}

type Option func(*Client)

// WithBackoff overrides the reconnect policy: delay grows as
// base * 2^(attempt-1) for at most maxAttempts attempts.
func WithBackoff(base time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxAttempts = maxAttempts
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialer.HandshakeTimeout = d
	}
}

func NewClient(url string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:         url,
		dialer:      &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		emitter:     NewEmitter(logger),
		logger:      logger.With("component", "realtime_client"),
		baseDelay:   defaultBaseDelay,
		maxAttempts: defaultMaxAttempts,
		state:       StateDisconnected,
		subs:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the channel and starts the read loop. It returns once the
// transport confirms the connection, or with the dial error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("realtime: already %s", c.state)
	}
	c.setStateLocked(StateConnecting)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return fmt.Errorf("realtime: dial %s: %w", c.url, err)
	}

	c.adopt(conn, done)
	return nil
}

// adopt installs a fresh connection, replays active subscriptions and
// starts the read loop.
func (c *Client) adopt(conn *websocket.Conn, done chan struct{}) {
	c.mu.Lock()
	c.conn = conn
	c.setStateLocked(StateConnected)
	subs := make([]string, 0, len(c.subs))
	for id := range c.subs {
		subs = append(subs, id)
	}
	c.mu.Unlock()

	metrics.RealtimeConnected.Set(1)

	for _, id := range subs {
		if err := c.send("subscribe_job", subscribePayload{JobID: id}); err != nil {
			c.logger.Warn("replay subscription", "job_id", id, "error", err)
		}
	}

	go c.readLoop(conn, done)
}

// SubscribeToJob registers interest in progress events for jobID. The
// registration survives reconnects; if the channel is down right now it is
// recorded and replayed once a connection exists.
func (c *Client) SubscribeToJob(jobID string) error {
	c.mu.Lock()
	c.subs[jobID] = struct{}{}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.send("subscribe_job", subscribePayload{JobID: jobID})
}

// UnsubscribeFromJob is a no-op for a job that was never subscribed.
func (c *Client) UnsubscribeFromJob(jobID string) error {
	c.mu.Lock()
	_, had := c.subs[jobID]
	delete(c.subs, jobID)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !had || !connected {
		return nil
	}
	return c.send("unsubscribe_job", subscribePayload{JobID: jobID})
}

// On registers a listener for one of the internal events and returns its
// disposer.
func (c *Client) On(event Event, fn Listener) func() {
	return c.emitter.On(event, fn)
}

// OnStateChange registers a callback invoked on every connection state
// transition and returns a disposer.
func (c *Client) OnStateChange(fn func(ConnState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, fn)
	idx := len(c.stateListeners) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.stateListeners) {
			c.stateListeners[idx] = nil
		}
	}
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disconnect tears the channel down immediately and suppresses any further
// reconnection attempts, including one currently sleeping in backoff.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	metrics.RealtimeConnected.Set(0)
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) send(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", eventType, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	if err := conn.WriteJSON(Envelope{Type: eventType, Data: data}); err != nil {
		return fmt.Errorf("realtime: send %s: %w", eventType, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-done:
				// Explicit disconnect, not a drop.
				return
			default:
			}
			c.logger.Warn("connection dropped", "error", err)
			c.reconnect(done)
			return
		}
		c.handleMessage(env)
	}
}

// handleMessage maps each wire type to exactly one internal event. Unknown
// types are logged and dropped, never raised: newer servers may speak
// message types this client predates.
func (c *Client) handleMessage(env Envelope) {
	switch env.Type {
	case "job_progress":
		metrics.RealtimeEventsTotal.WithLabelValues(env.Type).Inc()
		c.emitter.Emit(EventJobProgress, env.Data)
	case "job_completed":
		metrics.RealtimeEventsTotal.WithLabelValues(env.Type).Inc()
		c.emitter.Emit(EventJobCompleted, env.Data)
	case "job_failed":
		metrics.RealtimeEventsTotal.WithLabelValues(env.Type).Inc()
		c.emitter.Emit(EventJobFailed, env.Data)
	case "result_update":
		metrics.RealtimeEventsTotal.WithLabelValues(env.Type).Inc()
		c.emitter.Emit(EventResultUpdate, env.Data)
	default:
		metrics.RealtimeDroppedTotal.Inc()
		c.logger.Debug("dropping unknown message type", "type", env.Type)
	}
}

// reconnect drives the RECONNECTING state: sleep, dial, repeat with the
// delay doubling each attempt, until a connection is established, the
// attempt budget is spent, or Disconnect cancels the wait.
func (c *Client) reconnect(done chan struct{}) {
	metrics.RealtimeConnected.Set(0)

	c.mu.Lock()
	c.conn = nil
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // the attempt counter is the budget

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		delay := bo.NextBackOff()
		c.logger.Info("reconnecting", "attempt", attempt, "max_attempts", c.maxAttempts, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}

		metrics.RealtimeReconnectsTotal.Inc()

		ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		cancel()
		if err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		select {
		case <-done:
			conn.Close()
			return
		default:
		}

		c.logger.Info("reconnected", "attempt", attempt)
		c.adopt(conn, done)
		return
	}

	c.logger.Error("giving up on reconnection", "attempts", c.maxAttempts)
	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
}

// setStateLocked transitions the connection state and notifies listeners.
// Callers hold c.mu; notification is deferred off the lock.
func (c *Client) setStateLocked(next ConnState) {
	if c.state == next {
		return
	}
	c.state = next
	listeners := make([]func(ConnState), 0, len(c.stateListeners))
	for _, fn := range c.stateListeners {
		if fn != nil {
			listeners = append(listeners, fn)
		}
	}
	go func() {
		for _, fn := range listeners {
			fn(next)
		}
	}()
}
