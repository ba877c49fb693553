// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contextsync wires the context synchronization pipeline:
// editor events in, context updates out.
//
// The pipeline keeps an external display in sync with the cursor. The
// editor plugin streams cursor, viewport, and buffer events over a
// unix socket; the daemon resolves each settled position to hover,
// definition, reference, and type facts via language servers; results
// flow to the display over a second unix socket, cached and prefetched
// so the common case never waits on a server round trip.
package contextsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/buffer"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/cache"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/config"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/editor"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/gateway"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/lsp"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/prefetch"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/tracker"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/transport"
)

// Service owns every pipeline component and their lifecycles.
//
// Thread Safety:
//
//	Safe for concurrent use once constructed. Run may be called once.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	sessionID string
	startedAt time.Time

	promRegistry *prometheus.Registry

	registry  *buffer.Registry
	watcher   *buffer.Watcher
	store     *cache.ContextCache
	inflight  *cache.InflightSet
	manager   *lsp.Manager
	lspClient *lsp.Client
	gatherer  *gateway.Gatherer
	tracker   *tracker.Tracker
	scheduler *prefetch.Scheduler // nil when prefetch is disabled
	display   *transport.Client
	listener  *editor.Listener

	mu       sync.Mutex
	terminal error
	cancel   context.CancelFunc
}

// NewService builds the pipeline from configuration. Nothing starts
// until Run.
func NewService(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:          cfg,
		logger:       logger,
		sessionID:    uuid.NewString(),
		startedAt:    time.Now(),
		promRegistry: prometheus.NewRegistry(),
		registry:     buffer.NewRegistry(),
		inflight:     cache.NewInflightSet(),
	}

	s.store = cache.New(s.registry, cache.Config{
		TTL:           cfg.Cache.TTL(),
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: cfg.Cache.SweepInterval(),
	}, cache.NewMetrics(s.promRegistry), logger)

	rootPath := cfg.LSP.RootPath
	if rootPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve workspace root: %w", err)
		}
		rootPath = wd
	}
	s.manager = lsp.NewManager(rootPath, lsp.ManagerConfig{
		IdleTimeout:    cfg.LSP.IdleTimeout(),
		StartupTimeout: cfg.LSP.StartupTimeout(),
		RequestTimeout: cfg.LSP.RequestTimeout(),
	})
	s.lspClient = lsp.NewClient(lsp.NewOperations(s.manager))

	s.gatherer = gateway.NewGatherer(s.lspClient, gateway.GathererConfig{
		MaxReferences:  cfg.Gather.MaxReferences,
		RequestTimeout: cfg.Gather.RequestTimeout(),
	}, logger)

	s.display = transport.NewClient(transport.Config{
		SocketPath:           cfg.Display.SocketPath,
		ConnectTimeout:       cfg.Display.ConnectTimeout(),
		ReconnectBase:        cfg.Display.ReconnectBase(),
		ReconnectMax:         cfg.Display.ReconnectMax(),
		MaxReconnectAttempts: cfg.Display.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Display.HeartbeatInterval(),
		HeartbeatTimeout:     cfg.Display.HeartbeatTimeout(),
		QueueSize:            cfg.Display.QueueSize,
		OnStateChange: func(state transport.State) {
			logger.Info("Display connection state changed",
				slog.String("state", state.String()),
			)
		},
		OnTerminal: s.onDisplayTerminal,
	}, transport.NewMetrics(s.promRegistry), logger)

	s.tracker = tracker.New(s.gatherer, s.store, s.inflight, s.display, tracker.Config{
		Debounce:         cfg.Tracker.Debounce(),
		FailureThreshold: cfg.Tracker.FailureThreshold,
	}, logger)

	if cfg.Prefetch.Enabled {
		s.scheduler = prefetch.NewScheduler(s.gatherer, s.store, s.registry, s.inflight,
			prefetch.Config{
				Radius:        cfg.Prefetch.Radius,
				MaxConcurrent: cfg.Prefetch.MaxConcurrent,
			}, prefetch.NewMetrics(s.promRegistry), logger)
	}

	watcher, err := buffer.NewWatcher(s.registry, s.onExternalChange, logger)
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	s.watcher = watcher

	s.listener = editor.NewListener(editor.ListenerConfig{
		SocketPath: cfg.Events.SocketPath,
	}, s, logger)

	return s, nil
}

// SessionID returns the unique identifier for this daemon run.
func (s *Service) SessionID() string { return s.sessionID }

// Run starts every component and blocks until the context is canceled
// or a component fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Context sync pipeline starting",
		slog.String("session_id", s.sessionID),
		slog.String("display_socket", s.cfg.Display.SocketPath),
		slog.String("events_socket", s.cfg.Events.SocketPath),
	)

	s.manager.StartIdleMonitor()
	s.display.Connect()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.listener.Run(ctx)
	})
	g.Go(func() error {
		return s.watcher.Run(ctx)
	})
	g.Go(func() error {
		s.store.RunSweeper(ctx)
		return nil
	})
	g.Go(func() error {
		s.statusLoop(ctx)
		return nil
	})

	if s.cfg.HTTP.Enabled {
		g.Go(func() error {
			return s.serveHTTP(ctx)
		})
	}

	err := g.Wait()

	s.tracker.Stop()
	if msg, merr := protocol.NewDisconnect("daemon shutting down"); merr == nil {
		_ = s.display.Send(msg)
	}
	_ = s.display.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = s.manager.ShutdownAll(shutdownCtx)

	s.logger.Info("Context sync pipeline stopped",
		slog.String("session_id", s.sessionID),
	)
	return err
}

// Stop cancels a running pipeline.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// EVENT DISPATCH
// =============================================================================

// HandleEvent routes one editor event to the components that care.
func (s *Service) HandleEvent(ctx context.Context, ev *editor.Event) {
	switch ev.Type {
	case editor.EventCursorMoved:
		file := buffer.NormalizePath(ev.File)
		s.registry.SetCursorLine(file, ev.Line)
		ts := time.Now()
		if ev.Timestamp > 0 {
			ts = time.UnixMilli(ev.Timestamp)
		}
		s.tracker.OnCursorMoved(ctx, gateway.Position{
			File:      file,
			Line:      ev.Line,
			Col:       ev.Col,
			Word:      ev.Word,
			Timestamp: ts,
		})

	case editor.EventViewportChanged:
		file := buffer.NormalizePath(ev.File)
		s.registry.SetViewport(file, ev.Top, ev.Bottom)
		if s.scheduler != nil {
			go s.scheduler.OnViewportChange(ctx, file)
		}

	case editor.EventBufferOpened:
		file := buffer.NormalizePath(ev.File)
		s.registry.Open(file, ev.Version)
		if err := s.watcher.Add(file); err != nil {
			s.logger.Debug("Could not watch buffer file",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
		}
		if s.scheduler != nil {
			go s.scheduler.ScheduleBuffer(ctx, file)
		}

	case editor.EventBufferModified:
		file := buffer.NormalizePath(ev.File)
		if ev.Version > 0 {
			s.registry.SetVersion(file, ev.Version)
		} else {
			s.registry.Bump(file)
		}
		go func() {
			if err := s.lspClient.ReopenFile(ctx, file); err != nil {
				s.logger.Debug("Document resync failed",
					slog.String("file", file),
					slog.String("error", err.Error()),
				)
			}
		}()
		if s.scheduler != nil {
			go s.scheduler.OnBufferModified(ctx, file)
		} else {
			s.store.ClearBuffer(file)
			s.inflight.ClearBuffer(file)
		}

	case editor.EventBufferClosed:
		file := buffer.NormalizePath(ev.File)
		s.registry.Close(file)
		_ = s.watcher.Remove(file)
		s.gatherer.ForgetBuffer(file)
		s.lspClient.ForgetFile(ctx, file)
		if s.scheduler != nil {
			s.scheduler.OnBufferClosed(file)
		} else {
			s.store.ClearBuffer(file)
			s.inflight.ClearBuffer(file)
		}

	case editor.EventShutdown:
		s.logger.Info("Editor requested shutdown")
		s.Stop()
	}
}

// onExternalChange reacts to a tracked file changing on disk outside
// the editor. The registry has already bumped the version; cached
// positions and server-side document state are stale.
func (s *Service) onExternalChange(file string) {
	ctx := context.Background()
	if err := s.lspClient.ReopenFile(ctx, file); err != nil {
		s.logger.Debug("Document resync failed after external change",
			slog.String("file", file),
			slog.String("error", err.Error()),
		)
	}
	if s.scheduler != nil {
		s.scheduler.OnBufferModified(ctx, file)
	} else {
		s.store.ClearBuffer(file)
		s.inflight.ClearBuffer(file)
	}
}

// =============================================================================
// STATUS
// =============================================================================

// onDisplayTerminal fires when reconnect attempts are exhausted. The
// pipeline keeps running; the editor can trigger a fresh connect cycle
// by restarting the display.
func (s *Service) onDisplayTerminal(err error) {
	s.mu.Lock()
	s.terminal = err
	s.mu.Unlock()
	s.logger.Error("Display connection abandoned",
		slog.String("error", err.Error()),
	)
}

// statusLoop pushes a status message to the display every 30 seconds
// so the display can render daemon health.
func (s *Service) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg, err := protocol.NewStatus("ok", "pipeline running", s.statusData())
			if err != nil {
				continue
			}
			_ = s.display.Send(msg)
		}
	}
}

func (s *Service) statusData() map[string]any {
	stats := s.store.Stats()
	data := map[string]any{
		"session_id":     s.sessionID,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"buffers":        s.registry.Len(),
		"cache_entries":  stats.Entries,
		"cache_hits":     stats.Hits,
		"cache_misses":   stats.Misses,
		"lsp_servers":    s.manager.RunningServers(),
	}
	if s.scheduler != nil {
		data["prefetch_queue"] = s.scheduler.QueueLen()
		data["prefetch_running"] = s.scheduler.Running()
	}
	return data
}

// serveHTTP runs the operational HTTP surface until the context ends.
func (s *Service) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
