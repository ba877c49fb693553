// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import "errors"

// Sentinel errors for transport operations.
var (
	// ErrClientClosed is returned when the client has been closed and
	// can no longer accept messages.
	ErrClientClosed = errors.New("transport client closed")

	// ErrReconnectExhausted is the terminal error after the maximum
	// number of failed reconnect attempts. No further automatic retries
	// happen until an explicit Connect.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrMessageLost is returned when a write failed mid-send; the
	// message is not re-queued, avoiding duplicate delivery after
	// reconnect.
	ErrMessageLost = errors.New("message lost on write failure")
)
