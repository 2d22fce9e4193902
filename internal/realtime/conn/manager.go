// Package conn owns the single duplex channel between a client and the game
// server: dialing, heartbeat, status reporting, and reconnect with
// exponential backoff.
package conn

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/platform/timeouts"
	"github.com/louisbranch/tableroom/internal/realtime/dispatch"
	"github.com/louisbranch/tableroom/internal/realtime/protocol"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

const (
	defaultMaxAttempts = 5
)

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Channel Channel
	// Token is sent as a bearer Authorization header on every dial.
	Token             string
	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxAttempts       int
	HandshakeTimeout  time.Duration
	Dialer            Dialer
	Schedule          Scheduler
	Now               func() time.Time
	Logf              func(string, ...any)
}

// Manager maintains one logical channel per target. Methods are safe for
// concurrent use.
type Manager struct {
	channel           Channel
	dispatcher        *dispatch.Dispatcher
	token             string
	heartbeatInterval time.Duration
	maxAttempts       int
	handshakeTimeout  time.Duration
	dialer            Dialer
	schedule          Scheduler
	now               func() time.Time
	logf              func(string, ...any)

	writeMu sync.Mutex

	mu              sync.Mutex
	target          Target
	socket          Socket
	status          Status
	generation      uint64
	dialSeq         uint64
	closed          bool
	attempts        int
	backoff         *backoff.ExponentialBackOff
	stopHeartbeat   chan struct{}
	cancelReconnect func() bool
	lifetime        context.Context
	cancelLifetime  context.CancelFunc
}

// New builds a disconnected manager that emits into dispatcher.
func New(dispatcher *dispatch.Dispatcher, opts Options) *Manager {
	if dispatcher == nil {
		dispatcher = dispatch.New(opts.Logf)
	}
	m := &Manager{
		channel:           opts.Channel,
		dispatcher:        dispatcher,
		token:             strings.TrimSpace(opts.Token),
		heartbeatInterval: opts.HeartbeatInterval,
		maxAttempts:       opts.MaxAttempts,
		handshakeTimeout:  opts.HandshakeTimeout,
		dialer:            opts.Dialer,
		schedule:          opts.Schedule,
		now:               opts.Now,
		logf:              opts.Logf,
		status:            StatusDisconnected,
		closed:            true,
	}
	if m.heartbeatInterval <= 0 {
		m.heartbeatInterval = timeouts.Heartbeat
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = defaultMaxAttempts
	}
	if m.handshakeTimeout <= 0 {
		m.handshakeTimeout = timeouts.Handshake
	}
	if m.dialer == nil {
		m.dialer = NewWebsocketDialer()
	}
	if m.schedule == nil {
		m.schedule = AfterFunc
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logf == nil {
		m.logf = log.Printf
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = timeouts.ReconnectBase
	}
	m.backoff = newBackoff(baseDelay, m.maxAttempts)
	return m
}

// newBackoff yields base, 2*base, 4*base, ... without jitter, uncapped for
// the first maxAttempts delays.
func newBackoff(base time.Duration, maxAttempts int) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = base << maxAttempts
	b.Reset()
	return b
}

// Dispatcher returns the dispatcher inbound envelopes are emitted on.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Target returns the target of the most recent Connect.
func (m *Manager) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Connect opens the channel for target, replacing any existing connection.
// It returns once the join envelope has been sent. A failed dial is reported
// to the caller and is not retried.
func (m *Manager) Connect(ctx context.Context, target Target) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.channel.Validate != nil {
		if err := m.channel.Validate(target); err != nil {
			return err
		}
	}
	if m.channel.URL == nil {
		return apperrors.New(apperrors.CodeConnectionFailed, "channel url builder is required")
	}
	dialURL, err := m.channel.URL(target)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConnectionFailed, "build channel url", err)
	}

	m.mu.Lock()
	old := m.detachLocked()
	m.closed = false
	m.dialSeq++
	seq := m.dialSeq
	m.target = target
	m.attempts = 0
	m.backoff.Reset()
	if m.cancelLifetime != nil {
		m.cancelLifetime()
	}
	m.lifetime, m.cancelLifetime = context.WithCancel(context.Background())
	m.status = StatusConnecting
	m.mu.Unlock()

	if old != nil {
		m.closeSocket(old)
	}
	m.emitStatus(StatusConnecting, 0, nil)

	socket, err := m.dial(ctx, dialURL)
	if err != nil {
		m.mu.Lock()
		current := seq == m.dialSeq
		if current {
			m.status = StatusDisconnected
		}
		m.mu.Unlock()
		if current {
			m.emitStatus(StatusDisconnected, 0, err)
		}
		return apperrors.Wrap(apperrors.CodeConnectionFailed, "connect "+m.channel.Table.Name()+" channel", err)
	}
	if !m.install(seq, socket) {
		_ = socket.Close()
		return apperrors.New(apperrors.CodeConnectionClosed, "connection closed while dialing")
	}
	return nil
}

// Send writes one envelope when the channel is open. It reports whether the
// message was written; nothing is queued for later delivery.
func (m *Manager) Send(kind protocol.Kind, data any) bool {
	if !m.channel.Table.AllowsOutbound(kind) {
		m.logf("realtime: %s channel does not send %s", m.channel.Table.Name(), kind)
		return false
	}
	m.mu.Lock()
	socket := m.socket
	userID := m.target.UserID
	open := m.status == StatusConnected
	m.mu.Unlock()
	if socket == nil || !open {
		return false
	}
	raw, err := protocol.Encode(kind, data, userID, m.now())
	if err != nil {
		m.logf("realtime: encode %s: %v", kind, err)
		return false
	}
	if err := m.write(socket, websocket.TextMessage, raw); err != nil {
		m.logf("realtime: send %s: %v", kind, err)
		return false
	}
	return true
}

// Disconnect closes the channel with a normal closure and stops every timer.
// All dispatcher subscriptions are removed. Calling it again is a no-op apart
// from clearing the dispatcher.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasOpen := m.status != StatusDisconnected
	m.closed = true
	m.dialSeq++
	socket := m.detachLocked()
	if m.cancelLifetime != nil {
		m.cancelLifetime()
		m.cancelLifetime = nil
	}
	m.attempts = 0
	m.status = StatusDisconnected
	m.mu.Unlock()

	if socket != nil {
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		if err := m.write(socket, websocket.CloseMessage, closeFrame); err != nil {
			m.logf("realtime: write close frame: %v", err)
		}
		m.closeSocket(socket)
	}
	if wasOpen {
		m.emitStatus(StatusDisconnected, 0, nil)
	}
	m.dispatcher.Clear()
}

// detachLocked cancels timers, invalidates the current generation, and
// returns the socket it held.
func (m *Manager) detachLocked() Socket {
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
	socket := m.socket
	m.socket = nil
	m.generation++
	return socket
}

func (m *Manager) dial(ctx context.Context, dialURL string) (Socket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	return m.dialer.DialContext(dialCtx, dialURL, header)
}

// install makes socket the live connection if seq is still current.
func (m *Manager) install(seq uint64, socket Socket) bool {
	m.mu.Lock()
	if m.closed || seq != m.dialSeq {
		m.mu.Unlock()
		return false
	}
	m.generation++
	generation := m.generation
	m.socket = socket
	m.status = StatusConnected
	m.attempts = 0
	m.backoff.Reset()
	stop := make(chan struct{})
	m.stopHeartbeat = stop
	target := m.target
	m.mu.Unlock()

	go m.read(generation, socket)
	go m.heartbeat(stop)
	m.emitStatus(StatusConnected, 0, nil)
	if m.channel.Join != nil {
		kind, payload := m.channel.Join(target, m.now())
		if !m.Send(kind, payload) {
			m.logf("realtime: send %s failed after open", kind)
		}
	}
	return true
}

func (m *Manager) read(generation uint64, socket Socket) {
	table := m.channel.Table
	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			m.handleClose(generation, err)
			return
		}
		env, err := table.Decode(data)
		if err != nil {
			m.logf("realtime: %s: drop message: %v", table.Name(), err)
			continue
		}
		if env.Kind == protocol.KindUnknown {
			m.logf("realtime: %s: unrecognized message type %q", table.Name(), env.RawType)
		}
		m.dispatcher.Emit(env.Kind, env)
	}
}

func (m *Manager) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Send(protocol.KindPing, nil)
		}
	}
}

// handleClose reacts to the reader of generation exiting. Exits from stale
// sockets and from sockets closed by Disconnect are ignored.
func (m *Manager) handleClose(generation uint64, cause error) {
	m.mu.Lock()
	if generation != m.generation || m.closed {
		m.mu.Unlock()
		return
	}
	socket := m.detachLocked()
	if IsNormalClosure(cause) {
		m.status = StatusDisconnected
		m.mu.Unlock()
		if socket != nil {
			_ = socket.Close()
		}
		m.emitStatus(StatusDisconnected, 0, nil)
		return
	}
	m.mu.Unlock()
	if socket != nil {
		_ = socket.Close()
	}
	m.logf("realtime: %s channel closed abnormally: %v", m.channel.Table.Name(), cause)
	m.scheduleReconnect(cause)
}

func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.maxAttempts {
		attempts := m.attempts
		m.status = StatusDisconnected
		m.mu.Unlock()
		m.logf("realtime: %s channel: giving up after %d reconnect attempts", m.channel.Table.Name(), attempts)
		m.emitStatus(StatusDisconnected, attempts, cause)
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.backoff.NextBackOff()
	seq := m.dialSeq
	m.status = StatusReconnecting
	m.cancelReconnect = m.schedule(delay, func() { m.reconnect(seq) })
	m.mu.Unlock()

	m.logf("realtime: %s channel: reconnect attempt %d in %s", m.channel.Table.Name(), attempt, delay)
	m.emitStatus(StatusReconnecting, attempt, cause)
}

func (m *Manager) reconnect(seq uint64) {
	m.mu.Lock()
	if m.closed || seq != m.dialSeq {
		m.mu.Unlock()
		return
	}
	m.cancelReconnect = nil
	target := m.target
	ctx := m.lifetime
	m.mu.Unlock()

	dialURL, err := m.channel.URL(target)
	if err == nil {
		var socket Socket
		socket, err = m.dial(ctx, dialURL)
		if err == nil {
			if !m.install(seq, socket) {
				_ = socket.Close()
			}
			return
		}
	}
	m.logf("realtime: %s channel: reconnect failed: %v", m.channel.Table.Name(), err)
	m.scheduleReconnect(err)
}

func (m *Manager) write(socket Socket, messageType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := socket.SetWriteDeadline(time.Now().Add(timeouts.Write)); err != nil {
		return err
	}
	return socket.WriteMessage(messageType, data)
}

func (m *Manager) closeSocket(socket Socket) {
	if err := socket.Close(); err != nil {
		m.logf("realtime: close socket: %v", err)
	}
}

func (m *Manager) emitStatus(status Status, attempt int, cause error) {
	payload := protocol.ConnectionStatusPayload{Status: string(status), Attempt: attempt}
	if cause != nil {
		payload.Error = cause.Error()
	}
	m.dispatcher.Emit(protocol.KindConnectionStatus, protocol.Local(protocol.KindConnectionStatus, payload, m.now()))
}
