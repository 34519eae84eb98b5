/*
 * SignalingTransport - the persistent control channel to the relay.
 *
 * Owns exactly one websocket at a time. Reconnects on non-manual close
 * with bounded exponential backoff; a manual disconnect (close code
 * 1000) always wins over a scheduled retry. Inbound envelopes fan out
 * to every subscriber in arrival order.
 */
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamroom/rtc_core/pkg/signaling"
	"github.com/streamroom/rtc_core/pkg/utils"
)

// ConnectionState is the transport's connection lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// manualCloseCode is sent on explicit disconnects; the relay and the
// reconnect logic both treat it as "do not come back".
const manualCloseCode = websocket.CloseNormalClosure

var (
	// ErrTransportClosed indicates the transport has been closed for good
	ErrTransportClosed = errors.New("transport is closed")
)

// TokenProvider supplies the bearer credential for the relay handshake.
// Token issuance itself lives in the hosting application.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to a TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Conn is the subset of *websocket.Conn the transport uses. Tests
// substitute an in-memory implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	SetReadLimit(limit int64)
	Close() error
}

// DialFunc opens a websocket to the relay.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func defaultDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config holds transport configuration
type Config struct {
	// URL of the signaling relay (ws:// or wss://)
	URL string

	// Reconnect policy
	MaxReconnectAttempts int
	BaseRetryDelay       time.Duration
	MaxRetryDelay        time.Duration

	// Socket keepalive
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingPeriod   time.Duration
	ReadLimit    int64
}

// DefaultConfig returns default transport configuration
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: 5,
		BaseRetryDelay:       time.Second,
		MaxRetryDelay:        5 * time.Second,
		WriteTimeout:         10 * time.Second,
		PongTimeout:          60 * time.Second,
		PingPeriod:           54 * time.Second,
		ReadLimit:            64 * 1024,
	}
}

// Transport multiplexes one websocket to the signaling relay.
type Transport struct {
	mu     sync.Mutex
	config Config
	dial   DialFunc
	tokens TokenProvider
	logger *utils.Logger

	state ConnectionState
	conn  Conn
	// gen identifies the current socket; goroutines spawned for an
	// older socket compare their gen and bail instead of touching state.
	gen      uint64
	connDone chan struct{}

	// reconnect bookkeeping
	attempts   int
	retryTimer *time.Timer
	manual     bool

	// dialing guards the window between starting an attempt and the
	// Connecting transition, which waits on the token provider. State
	// stays Disconnected during that window, so Connect needs this flag
	// to stay idempotent.
	dialing bool

	// writes to the socket are serialized; WriteControl is safe
	// concurrently per gorilla's contract, so pings bypass this lock.
	writeMu sync.Mutex

	subscribers map[int]func(signaling.Envelope)
	stateSubs   map[int]func(ConnectionState)
	nextSubID   int

	closed bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialFunc sets a custom dialer (used by tests).
func WithDialFunc(dial DialFunc) Option {
	return func(t *Transport) { t.dial = dial }
}

// WithTokenProvider sets the bearer credential source.
func WithTokenProvider(p TokenProvider) Option {
	return func(t *Transport) { t.tokens = p }
}

// WithLogger sets a custom logger.
func WithLogger(l *utils.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a transport. It does not connect.
func New(config Config, opts ...Option) *Transport {
	t := &Transport{
		config:      config,
		dial:        defaultDial,
		logger:      utils.GetLogger(),
		state:       StateDisconnected,
		subscribers: make(map[int]func(signaling.Envelope)),
		stateSubs:   make(map[int]func(ConnectionState)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect opens the socket. It is idempotent: a transport that is
// already connecting or connected is left alone. A missing bearer
// credential leaves the transport disconnected with a logged reason;
// it never surfaces as an error, and Connecting is never published
// before a credential is in hand.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	if t.closed || t.dialing {
		t.mu.Unlock()
		return
	}
	if t.state == StateConnecting || t.state == StateConnected {
		t.mu.Unlock()
		return
	}
	t.manual = false
	t.dialing = true
	gen := t.nextGenLocked()
	t.mu.Unlock()

	go t.attempt(ctx, gen)
}

// Reconnect resets the retry budget and retries immediately. Used
// after the automatic reconnect budget is exhausted.
func (t *Transport) Reconnect(ctx context.Context) {
	t.mu.Lock()
	if t.closed || t.dialing || t.state == StateConnecting || t.state == StateConnected {
		t.mu.Unlock()
		return
	}
	t.cancelRetryLocked()
	t.attempts = 0
	t.manual = false
	t.dialing = true
	gen := t.nextGenLocked()
	t.mu.Unlock()

	go t.attempt(ctx, gen)
}

// Disconnect closes the socket with close code 1000 and cancels any
// pending reconnect. State is Disconnected before this returns.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.manual = true
	t.cancelRetryLocked()
	conn := t.conn
	t.teardownConnLocked()
	emit := t.setStateLocked(StateDisconnected)
	t.mu.Unlock()
	emit()

	if conn != nil {
		deadline := time.Now().Add(t.config.WriteTimeout)
		msg := websocket.FormatCloseMessage(manualCloseCode, "manual disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
	}
}

// Close disconnects and drops all subscribers. The transport cannot be
// reused afterwards.
func (t *Transport) Close() {
	t.Disconnect()
	t.mu.Lock()
	t.closed = true
	t.subscribers = make(map[int]func(signaling.Envelope))
	t.stateSubs = make(map[int]func(ConnectionState))
	t.mu.Unlock()
}

// Send constructs an envelope and writes it to the socket. Messages
// sent while not connected are dropped with a warning: retry
// responsibility stays with the caller. A closed transport returns
// ErrTransportClosed.
func (t *Transport) Send(msgType signaling.MessageType, payload interface{}) error {
	env, err := signaling.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.state != StateConnected || t.conn == nil {
		state := t.state
		t.mu.Unlock()
		t.logger.Warn("[transport] dropping %s: not connected (state=%s)", msgType, state)
		return nil
	}
	conn := t.conn
	t.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Warn("[transport] write %s failed: %v", msgType, err)
		return err
	}
	return nil
}

// Subscribe registers fn for every inbound envelope, in arrival order.
// The returned function removes the subscription.
func (t *Transport) Subscribe(fn func(signaling.Envelope)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}

// SubscribeState registers fn for connection state transitions.
func (t *Transport) SubscribeState(fn func(ConnectionState)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.stateSubs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.stateSubs, id)
	}
}

// attempt dials the relay once. Called on a fresh goroutine for every
// connect, reconnect, and scheduled retry. The Connecting transition
// waits for the credential: a failed token fetch must not be visible
// as a Connecting blip.
func (t *Transport) attempt(ctx context.Context, gen uint64) {
	token := ""
	if t.tokens != nil {
		var err error
		token, err = t.tokens.Token(ctx)
		if err != nil {
			t.logger.Warn("[transport] bearer credential unavailable: %v", err)
			token = ""
		}
	}
	if token == "" {
		// No credential, no socket: stay down and say why.
		t.logger.Warn("[transport] not connecting: missing bearer credential")
		t.mu.Lock()
		emit := func() {}
		if gen == t.gen {
			t.dialing = false
			emit = t.setStateLocked(StateDisconnected)
		}
		t.mu.Unlock()
		emit()
		return
	}

	t.mu.Lock()
	if gen != t.gen || t.manual || t.closed {
		if gen == t.gen {
			t.dialing = false
		}
		t.mu.Unlock()
		return
	}
	t.dialing = false
	emit := t.setStateLocked(StateConnecting)
	t.mu.Unlock()
	emit()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, err := t.dial(ctx, t.config.URL, header)

	t.mu.Lock()
	if gen != t.gen || t.manual || t.closed {
		// A manual disconnect (or a newer attempt) won the race.
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		t.logger.Warn("[transport] dial failed: %v", err)
		emitErr := t.setStateLocked(StateError)
		emitRetry := t.scheduleRetryLocked()
		t.mu.Unlock()
		emitErr()
		emitRetry()
		return
	}

	t.conn = conn
	t.connDone = make(chan struct{})
	t.attempts = 0
	emit = t.setStateLocked(StateConnected)
	done := t.connDone
	t.mu.Unlock()
	emit()

	t.logger.Info("[transport] connected to %s", t.config.URL)

	conn.SetReadLimit(t.config.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.config.PongTimeout))
	})

	go t.pingLoop(conn, done)
	t.readLoop(conn, gen)
}

// readLoop is the single reader for one socket. Its exit is the
// socket's close event; any socket-level error therefore always
// precedes the close handling on the same goroutine.
func (t *Transport) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(gen, err)
			return
		}

		var env signaling.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("[transport] dropping malformed envelope: %v", err)
			continue
		}
		if env.Type == "" {
			t.logger.Warn("[transport] dropping envelope without type")
			continue
		}

		t.mu.Lock()
		subs := make([]func(signaling.Envelope), 0, len(t.subscribers))
		for _, fn := range t.subscribers {
			subs = append(subs, fn)
		}
		t.mu.Unlock()

		for _, fn := range subs {
			fn(env)
		}
	}
}

// pingLoop keeps the socket alive; WriteControl may run concurrently
// with data writes.
func (t *Transport) pingLoop(conn Conn, done chan struct{}) {
	ticker := time.NewTicker(t.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// handleClose runs reconnect policy after the socket dies.
func (t *Transport) handleClose(gen uint64, err error) {
	t.mu.Lock()

	if gen != t.gen {
		// A newer socket already replaced this one.
		t.mu.Unlock()
		return
	}

	t.teardownConnLocked()

	if t.manual || t.closed {
		// Disconnect() already set the state.
		t.mu.Unlock()
		return
	}

	emits := make([]func(), 0, 2)
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr) && closeErr.Code == manualCloseCode:
		t.logger.Info("[transport] closed by relay (code 1000)")
		emits = append(emits, t.setStateLocked(StateDisconnected))
	case errors.As(err, &closeErr):
		t.logger.Warn("[transport] socket closed: code=%d", closeErr.Code)
		emits = append(emits, t.scheduleRetryLocked())
	default:
		// Socket-level failure. Surface Error first; the close handling
		// follows it on the same goroutine, so the two never race.
		t.logger.Warn("[transport] socket error: %v", err)
		emits = append(emits, t.setStateLocked(StateError))
		emits = append(emits, t.scheduleRetryLocked())
	}
	t.mu.Unlock()

	for _, emit := range emits {
		emit()
	}
}

// scheduleRetryLocked arms the reconnect timer. The attempt counter is
// incremented here and only here: scheduled retries count, the initial
// connect does not.
func (t *Transport) scheduleRetryLocked() func() {
	if t.attempts >= t.config.MaxReconnectAttempts {
		t.logger.Warn("[transport] reconnect budget exhausted after %d attempts; waiting for explicit Reconnect", t.attempts)
		return t.setStateLocked(StateDisconnected)
	}

	delay := t.retryDelay(t.attempts)
	t.attempts++
	t.logger.Info("[transport] reconnecting in %v (attempt %d/%d)", delay, t.attempts, t.config.MaxReconnectAttempts)

	t.cancelRetryLocked()
	t.retryTimer = time.AfterFunc(delay, t.retryFire)
	return func() {}
}

// retryFire runs when the reconnect timer elapses.
func (t *Transport) retryFire() {
	t.mu.Lock()
	if t.closed || t.manual {
		t.mu.Unlock()
		return
	}
	t.retryTimer = nil
	t.dialing = true
	gen := t.nextGenLocked()
	t.mu.Unlock()

	t.attempt(context.Background(), gen)
}

// retryDelay computes the backoff for the given attempt number:
// min(MaxRetryDelay, BaseRetryDelay * 2^attempt).
func (t *Transport) retryDelay(attempt int) time.Duration {
	delay := t.config.BaseRetryDelay << uint(attempt)
	if delay > t.config.MaxRetryDelay || delay <= 0 {
		delay = t.config.MaxRetryDelay
	}
	return delay
}

func (t *Transport) cancelRetryLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

func (t *Transport) teardownConnLocked() {
	if t.connDone != nil {
		close(t.connDone)
		t.connDone = nil
	}
	t.conn = nil
}

func (t *Transport) nextGenLocked() uint64 {
	t.gen++
	return t.gen
}

// setStateLocked updates state and returns the notification to run
// once the lock is released. Subscribers may call back into the
// transport, so they must never be invoked under mu.
func (t *Transport) setStateLocked(state ConnectionState) func() {
	if t.state == state {
		return func() {}
	}
	t.state = state

	subs := make([]func(ConnectionState), 0, len(t.stateSubs))
	for _, fn := range t.stateSubs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(state)
		}
	}
}
