// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol defines the newline-delimited JSON wire contract between
// the sync daemon and the display process.
//
// Every message is one complete JSON object per line:
//
//	{"type": "context_update", "timestamp": 1712345678901, "data": {...}}
//
// The message kinds form a closed set (see MessageType). Payloads are
// decoded exhaustively at the parse boundary; an unknown type or a
// malformed line is a per-line error, never a connection error.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies one of the message kinds on the wire.
type MessageType string

const (
	// TypeContextUpdate carries a ContextData snapshot for display.
	TypeContextUpdate MessageType = "context_update"

	// TypePing is a liveness probe from the daemon to the display.
	TypePing MessageType = "ping"

	// TypePong is the display's answer to a ping.
	TypePong MessageType = "pong"

	// TypeError surfaces a daemon-side failure worth showing.
	TypeError MessageType = "error"

	// TypeStatus carries periodic daemon state (connection, cache stats).
	TypeStatus MessageType = "status"

	// TypeDisconnect is a best-effort notice before closing the socket.
	TypeDisconnect MessageType = "disconnect"
)

// Valid reports whether t is one of the known message kinds.
func (t MessageType) Valid() bool {
	switch t {
	case TypeContextUpdate, TypePing, TypePong, TypeError, TypeStatus, TypeDisconnect:
		return true
	default:
		return false
	}
}

// Message is the envelope for every line on the wire.
//
// Data holds the raw payload bytes; use Decode to get the typed payload
// for the message kind. Outgoing messages are built with the New*
// constructors, which marshal the payload eagerly so a Send never fails
// on serialization mid-flush.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ContextData is the code-intelligence snapshot for one cursor position.
//
// A snapshot is atomic: it contains everything one gather produced, with
// failed facts simply omitted. Field names are frozen by the display
// process and must not change.
type ContextData struct {
	File            string         `json:"file"`
	Line            int            `json:"line"`
	Col             int            `json:"col"`
	Timestamp       int64          `json:"timestamp"`
	Hover           []string       `json:"hover,omitempty"`
	Definition      *LocationInfo  `json:"definition,omitempty"`
	ReferencesCount int            `json:"references_count,omitempty"`
	References      []LocationInfo `json:"references,omitempty"`
	ReferencesMore  int            `json:"references_more,omitempty"`
	TypeDefinition  *LocationInfo  `json:"type_definition,omitempty"`
}

// IsEmpty reports whether the snapshot carries no useful information.
func (c *ContextData) IsEmpty() bool {
	if c == nil {
		return true
	}
	return len(c.Hover) == 0 &&
		c.Definition == nil &&
		len(c.References) == 0 &&
		c.TypeDefinition == nil
}

// LocationInfo is a file position in display coordinates (1-based).
type LocationInfo struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// PingData is the ping payload.
type PingData struct {
	Timestamp int64 `json:"timestamp"`
}

// PongData is the pong payload. ClientTimestamp echoes the ping's
// timestamp so round-trip time can be computed.
type PongData struct {
	Timestamp       int64 `json:"timestamp"`
	ClientTimestamp int64 `json:"client_timestamp,omitempty"`
}

// ErrorData is the error payload.
type ErrorData struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// StatusData is the status payload.
type StatusData struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// DisconnectData is the disconnect payload.
type DisconnectData struct {
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// =============================================================================
// Constructors
// =============================================================================

func newMessage(t MessageType, payload any) (*Message, error) {
	msg := &Message{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// NewContextUpdate builds a context_update message for a snapshot.
func NewContextUpdate(data *ContextData) (*Message, error) {
	return newMessage(TypeContextUpdate, data)
}

// NewPing builds a ping message stamped with the current time.
func NewPing() (*Message, error) {
	return newMessage(TypePing, PingData{Timestamp: time.Now().UnixMilli()})
}

// NewPong builds a pong answering the ping sent at clientTimestamp.
func NewPong(clientTimestamp int64) (*Message, error) {
	return newMessage(TypePong, PongData{
		Timestamp:       time.Now().UnixMilli(),
		ClientTimestamp: clientTimestamp,
	})
}

// NewError builds an error message.
func NewError(errMsg, details string) (*Message, error) {
	return newMessage(TypeError, ErrorData{Error: errMsg, Details: details})
}

// NewStatus builds a status message.
func NewStatus(status, message string, data map[string]any) (*Message, error) {
	return newMessage(TypeStatus, StatusData{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}

// NewDisconnect builds a disconnect notice.
func NewDisconnect(reason string) (*Message, error) {
	return newMessage(TypeDisconnect, DisconnectData{
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	})
}

// =============================================================================
// Framing
// =============================================================================

// Encode renders the message as one wire line, including the trailing
// newline.
func (m *Message) Encode() ([]byte, error) {
	line, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return append(line, '\n'), nil
}

// ParseLine parses one complete line into a Message.
//
// The line must be a single JSON object; the trailing newline may be
// present or already stripped. An unknown message type is an error so
// the caller can drop the line with a warning.
func ParseLine(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// =============================================================================
// Payload decoding
// =============================================================================

// DecodeContext decodes the context_update payload.
func (m *Message) DecodeContext() (*ContextData, error) {
	if m.Type != TypeContextUpdate {
		return nil, fmt.Errorf("message is %s, not %s", m.Type, TypeContextUpdate)
	}
	var data ContextData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("decode context payload: %w", err)
	}
	return &data, nil
}

// DecodePing decodes the ping payload.
func (m *Message) DecodePing() (*PingData, error) {
	if m.Type != TypePing {
		return nil, fmt.Errorf("message is %s, not %s", m.Type, TypePing)
	}
	var data PingData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("decode ping payload: %w", err)
	}
	return &data, nil
}

// DecodePong decodes the pong payload.
func (m *Message) DecodePong() (*PongData, error) {
	if m.Type != TypePong {
		return nil, fmt.Errorf("message is %s, not %s", m.Type, TypePong)
	}
	var data PongData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("decode pong payload: %w", err)
	}
	return &data, nil
}

// DecodeError decodes the error payload.
func (m *Message) DecodeError() (*ErrorData, error) {
	if m.Type != TypeError {
		return nil, fmt.Errorf("message is %s, not %s", m.Type, TypeError)
	}
	var data ErrorData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("decode error payload: %w", err)
	}
	return &data, nil
}

// DecodeStatus decodes the status payload.
func (m *Message) DecodeStatus() (*StatusData, error) {
	if m.Type != TypeStatus {
		return nil, fmt.Errorf("message is %s, not %s", m.Type, TypeStatus)
	}
	var data StatusData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("decode status payload: %w", err)
	}
	return &data, nil
}

// DecodeDisconnect decodes the disconnect payload.
func (m *Message) DecodeDisconnect() (*DisconnectData, error) {
	if m.Type != TypeDisconnect {
		return nil, fmt.Errorf("message is %s, not %s", m.Type, TypeDisconnect)
	}
	var data DisconnectData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("decode disconnect payload: %w", err)
	}
	return &data, nil
}
