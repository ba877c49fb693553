// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport maintains the persistent connection to the display
// process and guarantees no update is silently lost.
//
// One Client owns one connection, a three-state machine
// (Disconnected, Connecting, Connected), exponential reconnect backoff
// with a ceiling and an attempt cap, a ping/pong heartbeat that detects
// silently-broken peers, and a bounded FIFO queue that buffers outgoing
// messages while the socket is down.
//
// Ordering: every write goes through the client mutex, so messages are
// delivered in Send order, and the post-reconnect queue flush completes
// before any concurrently sent message is written.
//
// # Thread Safety
//
// Client is safe for concurrent use.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
)

// Dialer opens the socket to the display process. Injectable for tests.
type Dialer func(ctx context.Context, socketPath string) (net.Conn, error)

func unixDialer(ctx context.Context, socketPath string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", socketPath)
}

// Config configures the transport client.
type Config struct {
	// SocketPath is the display process's unix socket.
	// Default: /tmp/nvim_context.sock
	SocketPath string

	// ConnectTimeout bounds one dial attempt. Default: 5s
	ConnectTimeout time.Duration

	// ReconnectBase is the first reconnect delay. Default: 2s
	ReconnectBase time.Duration

	// ReconnectMax is the delay ceiling. Default: 30s
	ReconnectMax time.Duration

	// MaxReconnectAttempts caps automatic reconnects before the client
	// gives up with ErrReconnectExhausted. 0 means unlimited.
	// Default: 6
	MaxReconnectAttempts int

	// HeartbeatInterval is how often a ping is sent while connected.
	// Default: 10s
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the maximum pong silence (after at least one
	// pong has ever arrived) before the connection is treated as dead.
	// Default: 30s
	HeartbeatTimeout time.Duration

	// QueueSize bounds the outgoing FIFO while not connected; the
	// oldest message is dropped with a warning when full. Default: 100
	QueueSize int

	// Dialer overrides the socket dialer. Default: unix dial.
	Dialer Dialer

	// OnStateChange, when set, is invoked (on its own goroutine) after
	// every state transition.
	OnStateChange func(State)

	// OnTerminal, when set, is invoked once when reconnect attempts are
	// exhausted.
	OnTerminal func(error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath:           "/tmp/nvim_context.sock",
		ConnectTimeout:       5 * time.Second,
		ReconnectBase:        2 * time.Second,
		ReconnectMax:         30 * time.Second,
		MaxReconnectAttempts: 6,
		HeartbeatInterval:    10 * time.Second,
		HeartbeatTimeout:     30 * time.Second,
		QueueSize:            100,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.SocketPath == "" {
		c.SocketPath = def.SocketPath
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = def.ReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = def.ReconnectMax
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.Dialer == nil {
		c.Dialer = unixDialer
	}
}

// Stats is a point-in-time view of the client for status reporting.
type Stats struct {
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	QueueLen    int       `json:"queue_len"`
	Sent        int64     `json:"sent"`
	Dropped     int64     `json:"dropped"`
	LastPongAt  time.Time `json:"last_pong_at"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Client is the resilient display connection.
type Client struct {
	config  Config
	metrics *Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	conn  net.Conn
	queue []*protocol.Message

	// gen invalidates reader/heartbeat goroutines of torn-down
	// connections.
	gen uint64

	attempts       int
	terminal       bool
	closed         bool
	reconnectTimer *time.Timer

	pongSeen    bool
	lastPongAt  time.Time
	connectedAt time.Time

	sent    int64
	dropped int64
}

// NewClient creates a client. It stays Disconnected until Connect is
// called or the first Send triggers a connect attempt.
//
// metrics may be nil to disable instrumentation.
func NewClient(config Config, metrics *Metrics, logger *slog.Logger) *Client {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:  config,
		metrics: metrics,
		logger:  logger,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Terminal reports whether automatic reconnects are exhausted.
func (c *Client) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// QueueLen returns the number of queued outgoing messages.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// GetStats returns a snapshot for status reporting.
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:       c.state.String(),
		Attempts:    c.attempts,
		QueueLen:    len(c.queue),
		Sent:        c.sent,
		Dropped:     c.dropped,
		LastPongAt:  c.lastPongAt,
		ConnectedAt: c.connectedAt,
	}
}

// Send delivers a message, or queues it while the socket is down.
//
// While Connected the message is written immediately; a write failure
// loses that message (ErrMessageLost) and drops the connection. While
// not Connected the message joins the bounded FIFO (the oldest entry is
// dropped with a warning when full) and a connect attempt is triggered
// if none is pending.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	if c.state == StateConnected {
		if err := c.writeLocked(msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMessageLost, err)
		}
		return nil
	}

	c.enqueueLocked(msg)

	if c.state == StateDisconnected && !c.terminal && c.reconnectTimer == nil {
		go c.connect()
	}
	return nil
}

// Connect requests an explicit (re)connect. Clears the terminal flag
// and the attempt counter, cancels any pending reconnect timer, and
// dials immediately.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.terminal = false
	c.attempts = 0
	c.stopReconnectTimerLocked()
	c.mu.Unlock()

	go c.connect()
}

// Disconnect tears the connection down on purpose: cancels all timers,
// sends a best-effort disconnect notice if currently connected, and
// clears the attempt counter. No automatic reconnect follows.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked(reason)
}

// Close disconnects and permanently shuts the client down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.disconnectLocked("shutting down")
	c.closed = true
	c.queue = nil
	return nil
}

// =============================================================================
// Connect / reconnect
// =============================================================================

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed || c.terminal || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.stopReconnectTimerLocked()
	c.setStateLocked(StateConnecting)
	c.gen++
	myGen := c.gen
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	conn, err := c.config.Dialer(ctx, c.config.SocketPath)
	cancel()

	c.mu.Lock()
	if c.closed || c.gen != myGen || c.state != StateConnecting {
		// Torn down while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		c.logger.Debug("connect failed",
			slog.String("socket", c.config.SocketPath),
			slog.Int("attempt", c.attempts),
			slog.String("error", err.Error()),
		)
		if c.metrics != nil {
			c.metrics.ConnectFailures.Inc()
		}
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.attempts = 0
	c.pongSeen = false
	c.connectedAt = time.Now()
	c.setStateLocked(StateConnected)
	if c.metrics != nil {
		c.metrics.Connects.Inc()
	}
	c.logger.Info("connected to display", slog.String("socket", c.config.SocketPath))

	// Flush the queue in original order before any new Send can write;
	// Send blocks on the mutex until the flush finishes.
	c.flushQueueLocked()
	stillConnected := c.state == StateConnected
	c.mu.Unlock()

	if stillConnected {
		go c.readLoop(myGen, conn)
		go c.heartbeatLoop(myGen)
	}
}

func (c *Client) scheduleReconnectLocked() {
	if c.closed || c.terminal {
		return
	}
	if c.config.MaxReconnectAttempts > 0 && c.attempts >= c.config.MaxReconnectAttempts {
		c.terminal = true
		c.logger.Error("giving up on display connection",
			slog.Int("attempts", c.attempts),
			slog.String("socket", c.config.SocketPath),
		)
		if c.config.OnTerminal != nil {
			go c.config.OnTerminal(ErrReconnectExhausted)
		}
		return
	}
	delay := backoffDelay(c.config.ReconnectBase, c.config.ReconnectMax, c.attempts)
	c.attempts++
	c.logger.Debug("reconnect scheduled",
		slog.Duration("delay", delay),
		slog.Int("attempt", c.attempts),
	)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.connect()
	})
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// connLost handles an involuntary loss (read error, write error already
// handled inline, heartbeat timeout) for the connection generation gen.
func (c *Client) connLost(gen uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateConnected {
		return
	}
	c.dropConnLocked(reason)
	c.scheduleReconnectLocked()
}

// dropConnLocked closes the socket and transitions to Disconnected
// without scheduling anything.
func (c *Client) dropConnLocked(reason string) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++
	c.setStateLocked(StateDisconnected)
	if c.metrics != nil {
		c.metrics.Disconnects.WithLabelValues(reason).Inc()
	}
	c.logger.Warn("display connection lost", slog.String("reason", reason))
}

func (c *Client) disconnectLocked(reason string) {
	c.stopReconnectTimerLocked()
	if c.state == StateConnected {
		if notice, err := protocol.NewDisconnect(reason); err == nil {
			// Best effort; the socket may already be dead.
			_ = c.writeRawLocked(notice)
		}
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.gen++
	c.attempts = 0
	c.terminal = false
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.metrics != nil {
		c.metrics.State.Set(float64(s))
	}
	if c.config.OnStateChange != nil {
		go c.config.OnStateChange(s)
	}
}

// =============================================================================
// Writing
// =============================================================================

// writeLocked writes one message and handles failure: the message is
// lost, the connection drops, and a reconnect is scheduled.
func (c *Client) writeLocked(msg *protocol.Message) error {
	if err := c.writeRawLocked(msg); err != nil {
		c.logger.Warn("write failed, message lost",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()),
		)
		c.dropConnLocked("write_error")
		c.scheduleReconnectLocked()
		return err
	}
	c.sent++
	if c.metrics != nil {
		c.metrics.Sent.WithLabelValues(string(msg.Type)).Inc()
	}
	return nil
}

func (c *Client) writeRawLocked(msg *protocol.Message) error {
	if c.conn == nil {
		return net.ErrClosed
	}
	line, err := msg.Encode()
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.ConnectTimeout))
	_, err = c.conn.Write(line)
	return err
}

func (c *Client) enqueueLocked(msg *protocol.Message) {
	if len(c.queue) >= c.config.QueueSize {
		dropped := c.queue[0]
		c.queue = c.queue[1:]
		c.dropped++
		if c.metrics != nil {
			c.metrics.QueueDropped.Inc()
		}
		c.logger.Warn("outgoing queue full, dropping oldest message",
			slog.String("dropped_type", string(dropped.Type)),
			slog.Int("capacity", c.config.QueueSize),
		)
	}
	c.queue = append(c.queue, msg)
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(len(c.queue)))
	}
}

// flushQueueLocked drains the queue in FIFO order. A write failure
// mid-flush loses the failing message, keeps the remainder queued, and
// stops (the state is no longer Connected).
func (c *Client) flushQueueLocked() {
	flushed := 0
	for len(c.queue) > 0 && c.state == StateConnected {
		msg := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.writeLocked(msg); err != nil {
			break
		}
		flushed++
	}
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(len(c.queue)))
	}
	if flushed > 0 {
		c.logger.Debug("flushed queued messages", slog.Int("count", flushed))
	}
}

// =============================================================================
// Reading
// =============================================================================

func (c *Client) readLoop(gen uint64, conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		// ReadBytes buffers a partial tail internally; a line is only
		// surfaced once its newline arrives.
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.connLost(gen, "read_error")
			return
		}
		msg, err := protocol.ParseLine(line)
		if err != nil {
			c.logger.Warn("dropping malformed line from display",
				slog.String("error", err.Error()),
			)
			continue
		}
		c.handleIncoming(gen, msg)
	}
}

func (c *Client) handleIncoming(gen uint64, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePong:
		c.mu.Lock()
		if c.gen == gen {
			c.pongSeen = true
			c.lastPongAt = time.Now()
		}
		c.mu.Unlock()

	case protocol.TypePing:
		// The display probes us too; answer with its timestamp echoed.
		var clientTS int64
		if data, err := msg.DecodePing(); err == nil {
			clientTS = data.Timestamp
		}
		pong, err := protocol.NewPong(clientTS)
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.gen == gen && c.state == StateConnected {
			_ = c.writeLocked(pong)
		}
		c.mu.Unlock()

	case protocol.TypeDisconnect:
		reason := "peer_disconnect"
		if data, err := msg.DecodeDisconnect(); err == nil && data.Reason != "" {
			reason = data.Reason
		}
		c.logger.Info("display requested disconnect", slog.String("reason", reason))
		c.connLost(gen, "peer_disconnect")

	case protocol.TypeError:
		if data, err := msg.DecodeError(); err == nil {
			c.logger.Warn("error from display", slog.String("error", data.Error))
		}

	default:
		// context_update/status from the peer carry no meaning here.
		c.logger.Debug("ignoring message from display", slog.String("type", string(msg.Type)))
	}
}

// =============================================================================
// Heartbeat
// =============================================================================

func (c *Client) heartbeatLoop(gen uint64) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if c.closed || c.gen != gen || c.state != StateConnected {
			c.mu.Unlock()
			return
		}
		// Only a connection that has answered at least once can be
		// declared dead by silence; before the first pong we cannot
		// tell a slow display from a broken one.
		if c.pongSeen && time.Since(c.lastPongAt) > c.config.HeartbeatTimeout {
			if c.metrics != nil {
				c.metrics.HeartbeatTimeouts.Inc()
			}
			c.dropConnLocked("heartbeat_timeout")
			c.scheduleReconnectLocked()
			c.mu.Unlock()
			return
		}
		if ping, err := protocol.NewPing(); err == nil {
			_ = c.writeLocked(ping)
		}
		stillUp := c.state == StateConnected
		c.mu.Unlock()
		if !stillUp {
			return
		}
	}
}
