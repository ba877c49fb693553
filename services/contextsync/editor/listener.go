// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Handler consumes decoded editor events. Calls arrive in the order
// the editor sent them, one connection at a time.
type Handler interface {
	HandleEvent(ctx context.Context, ev *Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev *Event)

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev *Event) { f(ctx, ev) }

// ListenerConfig configures the event listener.
type ListenerConfig struct {
	// SocketPath is the unix socket the editor plugin connects to.
	// Default: /tmp/nvim_context_events.sock
	SocketPath string

	// MaxLineBytes bounds a single event line. Default: 64KiB
	MaxLineBytes int
}

// DefaultListenerConfig returns sensible defaults.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		SocketPath:   "/tmp/nvim_context_events.sock",
		MaxLineBytes: 64 * 1024,
	}
}

// Listener accepts editor connections and dispatches their events.
//
// Description:
//
//	One editor session connects at a time; a new connection replaces
//	the previous one. Malformed lines are logged and skipped so one
//	bad event cannot stall the stream.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Listener struct {
	config  ListenerConfig
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	ln       net.Listener
	active   net.Conn
	closed   bool
	received uint64
	dropped  uint64
}

// NewListener creates a listener. Run must be called to start
// accepting.
func NewListener(config ListenerConfig, handler Handler, logger *slog.Logger) *Listener {
	if config.SocketPath == "" {
		config.SocketPath = "/tmp/nvim_context_events.sock"
	}
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = 64 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		config:  config,
		handler: handler,
		logger:  logger,
	}
}

// Run binds the socket and serves until the context is canceled.
//
// A stale socket file from a previous run is removed before binding.
func (l *Listener) Run(ctx context.Context) error {
	if err := os.Remove(l.config.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", l.config.SocketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.config.SocketPath, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	l.logger.Info("Editor event listener started",
		slog.String("socket", l.config.SocketPath),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		l.mu.Lock()
		if l.active != nil {
			// New editor session replaces the old one.
			_ = l.active.Close()
		}
		l.active = conn
		l.mu.Unlock()

		go l.serve(ctx, conn)
	}
}

// Close stops the listener and drops the active connection.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.ln != nil {
		_ = l.ln.Close()
	}
	if l.active != nil {
		_ = l.active.Close()
	}
	_ = os.Remove(l.config.SocketPath)
}

// Counts returns events received and malformed lines dropped.
func (l *Listener) Counts() (received, dropped uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.received, l.dropped
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer func() {
		l.mu.Lock()
		if l.active == conn {
			l.active = nil
		}
		l.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), l.config.MaxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		ev, err := ParseEvent(scanner.Bytes())
		if err != nil {
			l.mu.Lock()
			l.dropped++
			l.mu.Unlock()
			l.logger.Warn("Dropped malformed editor event",
				slog.String("error", err.Error()),
			)
			continue
		}

		l.mu.Lock()
		l.received++
		l.mu.Unlock()

		l.handler.HandleEvent(ctx, ev)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		l.logger.Debug("Editor connection closed",
			slog.String("error", err.Error()),
		)
	}
}
