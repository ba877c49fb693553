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
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// startListener runs a listener on a throwaway socket and returns a
// channel of the events it dispatched.
func startListener(t *testing.T) (*Listener, string, <-chan *Event) {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "events.sock")
	events := make(chan *Event, 32)

	l := NewListener(
		ListenerConfig{SocketPath: socket},
		HandlerFunc(func(ctx context.Context, ev *Event) { events <- ev }),
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = l.Run(ctx)
	}()
	t.Cleanup(l.Close)

	return l, socket, events
}

// dialEditor connects to the listener, retrying until the socket is
// bound.
func dialEditor(t *testing.T, socket string) net.Conn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("could not connect to %s", socket)
	return nil
}

func recvEvent(t *testing.T, events <-chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func TestListener_DispatchesEvents(t *testing.T) {
	_, socket, events := startListener(t)
	conn := dialEditor(t, socket)
	defer conn.Close()

	_, err := conn.Write([]byte(`{"type":"cursor_moved","file":"/src/main.go","line":3,"col":1,"word":"Foo"}` + "\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := recvEvent(t, events)
	if ev.Type != EventCursorMoved || ev.Line != 3 {
		t.Errorf("event = %+v", ev)
	}
}

func TestListener_MalformedLineDoesNotStallStream(t *testing.T) {
	l, socket, events := startListener(t)
	conn := dialEditor(t, socket)
	defer conn.Close()

	payload := `{"type":"cursor_moved","file":"/a.go","line":1}` + "\n" +
		`this is not json` + "\n" +
		`{"type":"cursor_moved","file":"/a.go","line":2}` + "\n"
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}

	first := recvEvent(t, events)
	second := recvEvent(t, events)
	if first.Line != 1 || second.Line != 2 {
		t.Errorf("events = %d, %d; want 1, 2", first.Line, second.Line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, dropped := l.Counts(); dropped == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	received, dropped := l.Counts()
	if received != 2 || dropped != 1 {
		t.Errorf("counts = %d received, %d dropped; want 2, 1", received, dropped)
	}
}

func TestListener_NewConnectionReplacesOld(t *testing.T) {
	_, socket, events := startListener(t)

	first := dialEditor(t, socket)
	defer first.Close()
	if _, err := first.Write([]byte(`{"type":"cursor_moved","file":"/a.go","line":1}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	recvEvent(t, events)

	second := dialEditor(t, socket)
	defer second.Close()
	if _, err := second.Write([]byte(`{"type":"cursor_moved","file":"/a.go","line":2}` + "\n")); err != nil {
		t.Fatalf("write on new connection: %v", err)
	}

	ev := recvEvent(t, events)
	if ev.Line != 2 {
		t.Errorf("event line = %d, want 2", ev.Line)
	}
}

func TestListener_RemovesStaleSocketFile(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "events.sock")

	// A dead daemon left its socket file behind: close the fd but keep
	// the filesystem entry.
	stale, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("pre-bind: %v", err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	events := make(chan *Event, 1)
	l := NewListener(
		ListenerConfig{SocketPath: socket},
		HandlerFunc(func(ctx context.Context, ev *Event) { events <- ev }),
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()
	defer l.Close()

	conn := dialEditor(t, socket)
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"type":"shutdown"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	recvEvent(t, events)
}
