// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState is the lifecycle state of a language server process.
type ServerState int32

const (
	ServerStateUninitialized ServerState = iota
	ServerStateStarting
	ServerStateReady
	ServerStateStopping
	ServerStateStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerStateUninitialized:
		return "uninitialized"
	case ServerStateStarting:
		return "starting"
	case ServerStateReady:
		return "ready"
	case ServerStateStopping:
		return "stopping"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// =============================================================================
// JSON-RPC FRAMING
// =============================================================================

type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *LSPError       `json:"error,omitempty"`
}

// =============================================================================
// SERVER
// =============================================================================

// Server is one language server process speaking JSON-RPC 2.0 over
// stdio with Content-Length framing.
//
// Description:
//
//	Owns the process lifecycle: spawn, initialize handshake, request
//	dispatch, and shutdown. Responses are matched to requests by ID;
//	server-initiated requests and notifications are ignored except for
//	log forwarding.
//
// Thread Safety:
//
//	Safe for concurrent use. Writes are serialized; reads happen on a
//	single dispatch goroutine.
type Server struct {
	config   LanguageConfig
	rootPath string

	state atomic.Int32

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *jsonrpcResponse
	nextID    atomic.Int64

	caps ServerCapabilities

	lastUsedMu sync.Mutex
	lastUsed   time.Time

	done chan struct{}
}

// NewServer creates a server for the given language configuration and
// workspace root. The process is not started until Start.
func NewServer(config LanguageConfig, rootPath string) *Server {
	s := &Server{
		config:   config,
		rootPath: rootPath,
		pending:  make(map[int64]chan *jsonrpcResponse),
		lastUsed: time.Now(),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(ServerStateUninitialized))
	return s
}

// Language returns the language identifier.
func (s *Server) Language() string { return s.config.Language }

// RootPath returns the workspace root.
func (s *Server) RootPath() string { return s.rootPath }

// State returns the current lifecycle state.
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// Capabilities returns what the server reported during initialize.
// Only meaningful once the server is ready.
func (s *Server) Capabilities() ServerCapabilities {
	return s.caps
}

// LastUsed returns the time of the most recent request.
func (s *Server) LastUsed() time.Time {
	s.lastUsedMu.Lock()
	defer s.lastUsedMu.Unlock()
	return s.lastUsed
}

func (s *Server) touch() {
	s.lastUsedMu.Lock()
	s.lastUsed = time.Now()
	s.lastUsedMu.Unlock()
}

// Start spawns the process and runs the initialize handshake.
//
// Description:
//
//	Verifies the binary exists, starts the process, sends initialize,
//	records the reported capabilities, and sends the initialized
//	notification. On any failure the server moves to Stopped and the
//	process (if started) is killed.
//
// Inputs:
//
//	ctx - Context bounding the handshake
//
// Outputs:
//
//	error - ErrServerNotInstalled, ErrServerAlreadyStarted,
//	        ErrInitializeFailed, or a process start error
//
// Thread Safety:
//
//	Safe for concurrent use; only the first call proceeds.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if !s.state.CompareAndSwap(int32(ServerStateUninitialized), int32(ServerStateStarting)) {
		if s.State() == ServerStateStopped {
			return fmt.Errorf("%w: server already stopped", ErrServerAlreadyStarted)
		}
		return ErrServerAlreadyStarted
	}

	if _, err := exec.LookPath(s.config.Command); err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	cmd := exec.Command(s.config.Command, s.config.Args...)
	cmd.Dir = s.rootPath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		s.state.Store(int32(ServerStateStopped))
		return fmt.Errorf("start %s: %w", s.config.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)

	go s.dispatchLoop()

	initParams := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   pathToURI(s.rootPath),
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Hover:          &HoverCapabilities{ContentFormat: []string{"markdown", "plaintext"}},
				Definition:     &DefinitionCapabilities{LinkSupport: true},
				TypeDefinition: &DefinitionCapabilities{LinkSupport: true},
			},
		},
		InitializationOptions: s.config.InitializationOptions,
	}

	raw, err := s.rawRequest(ctx, "initialize", initParams)
	if err != nil {
		s.kill()
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.kill()
		return fmt.Errorf("%w: decode capabilities: %v", ErrInitializeFailed, err)
	}
	s.caps = result.Capabilities

	if err := s.notify("initialized", struct{}{}); err != nil {
		s.kill()
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.state.Store(int32(ServerStateReady))
	slog.Debug("Language server ready",
		slog.String("language", s.config.Language),
		slog.String("command", s.config.Command),
	)
	return nil
}

// Request sends a request and waits for the matching response.
//
// Inputs:
//
//	ctx - Context for cancellation and deadline
//	method - LSP method name (e.g., "textDocument/hover")
//	params - Request payload, marshaled as-is
//
// Outputs:
//
//	json.RawMessage - The raw result (may be "null")
//	error - ErrServerNotRunning, ErrServerCrashed, *LSPError, or a
//	        context error
func (s *Server) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	s.touch()
	return s.rawRequest(ctx, method, params)
}

// Notify sends a notification (no response expected).
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	s.touch()
	return s.notify(method, params)
}

// Shutdown stops the server gracefully.
//
// Description:
//
//	Sends the shutdown request and exit notification, then waits for
//	the process to leave. Kills the process if it does not exit within
//	the context deadline (or 5 seconds by default). Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	prev := s.State()
	if prev == ServerStateStopped || prev == ServerStateStopping {
		return nil
	}
	s.state.Store(int32(ServerStateStopping))

	if prev == ServerStateReady {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, _ = s.rawRequest(shutdownCtx, "shutdown", nil)
		cancel()
		_ = s.notify("exit", nil)
	}

	if s.cmd == nil || s.cmd.Process == nil {
		s.state.Store(int32(ServerStateStopped))
		return nil
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- s.cmd.Wait() }()

	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout {
			timeout = until
		}
	}

	select {
	case <-waitDone:
	case <-time.After(timeout):
		_ = s.cmd.Process.Kill()
		<-waitDone
	}

	s.state.Store(int32(ServerStateStopped))
	return nil
}

// kill force-stops the process after a failed start.
func (s *Server) kill() {
	s.state.Store(int32(ServerStateStopped))
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
}

// =============================================================================
// WIRE I/O
// =============================================================================

func (s *Server) rawRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	respCh := make(chan *jsonrpcResponse, 1)

	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	req := jsonrpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := s.writeMessage(req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, method)
		}
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrServerCrashed
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (s *Server) notify(method string, params interface{}) error {
	return s.writeMessage(jsonrpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (s *Server) writeMessage(msg jsonrpcRequest) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Method, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := s.stdin.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := s.stdin.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// dispatchLoop reads framed messages and routes responses to waiting
// requests. Server-initiated traffic is dropped. Exits on read error
// and fails all pending requests.
func (s *Server) dispatchLoop() {
	defer close(s.done)

	for {
		body, err := s.readMessage()
		if err != nil {
			if s.State() != ServerStateStopping && s.State() != ServerStateStopped {
				slog.Warn("Language server connection lost",
					slog.String("language", s.config.Language),
					slog.String("error", err.Error()),
				)
				s.state.Store(int32(ServerStateStopped))
			}
			return
		}

		var resp jsonrpcResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			slog.Debug("Malformed server message dropped",
				slog.String("language", s.config.Language),
			)
			continue
		}

		// No ID or a method present means notification or server-side
		// request; nothing in this pipeline consumes those.
		if resp.ID == nil || resp.Method != "" {
			continue
		}

		s.pendingMu.Lock()
		ch, ok := s.pending[*resp.ID]
		s.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (s *Server) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := s.stdout.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			contentLength, err = strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("bad Content-Length %q: %w", v, err)
			}
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.stdout, body); err != nil {
		return nil, err
	}
	return body, nil
}
