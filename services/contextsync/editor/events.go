// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editor receives editor events over a local unix socket.
//
// The editor plugin writes newline-delimited JSON events describing
// cursor movement, viewport scrolling, and buffer lifecycle. The
// listener decodes them and hands each to the session's handler.
package editor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType identifies an editor event.
type EventType string

const (
	EventCursorMoved     EventType = "cursor_moved"
	EventViewportChanged EventType = "viewport_changed"
	EventBufferOpened    EventType = "buffer_opened"
	EventBufferModified  EventType = "buffer_modified"
	EventBufferClosed    EventType = "buffer_closed"
	EventShutdown        EventType = "shutdown"
)

// Valid reports whether the event type is known.
func (t EventType) Valid() bool {
	switch t {
	case EventCursorMoved, EventViewportChanged, EventBufferOpened,
		EventBufferModified, EventBufferClosed, EventShutdown:
		return true
	}
	return false
}

// Event is one decoded editor event. Only the fields relevant to the
// event's type are populated.
type Event struct {
	Type EventType `json:"type"`

	// File is the buffer path. Set for every type except shutdown.
	File string `json:"file,omitempty"`

	// Line, Col, and Word describe the cursor for cursor_moved.
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
	Word string `json:"word,omitempty"`

	// Top and Bottom describe the window for viewport_changed.
	Top    int `json:"top,omitempty"`
	Bottom int `json:"bottom,omitempty"`

	// Version is the editor-side change tick for buffer_opened and
	// buffer_modified. Zero means not reported; the registry then
	// bumps its own counter instead.
	Version int64 `json:"version,omitempty"`

	// Timestamp is when the editor emitted the event, unix
	// milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ParseEvent decodes one NDJSON line into an event.
func ParseEvent(line []byte) (*Event, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, fmt.Errorf("empty event line")
	}

	var ev Event
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("unknown event type: %q", ev.Type)
	}
	if ev.Type != EventShutdown && ev.File == "" {
		return nil, fmt.Errorf("%s event missing file", ev.Type)
	}
	return &ev, nil
}
