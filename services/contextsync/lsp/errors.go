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
	"errors"
	"fmt"
)

// Sentinel errors for language server management and requests.
var (
	// ErrUnsupportedLanguage means no configuration exists for the language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrServerNotInstalled means the server binary was not found on PATH.
	ErrServerNotInstalled = errors.New("language server not installed")

	// ErrInitializeFailed means the initialize handshake did not complete.
	ErrInitializeFailed = errors.New("language server initialization failed")

	// ErrServerAlreadyStarted means Start was called more than once.
	ErrServerAlreadyStarted = errors.New("language server already started")

	// ErrServerNotRunning means a request was made against a server that
	// is not in the ready state.
	ErrServerNotRunning = errors.New("language server not running")

	// ErrServerCrashed means the server process exited unexpectedly.
	ErrServerCrashed = errors.New("language server crashed")

	// ErrRequestTimeout means a request exceeded its deadline.
	ErrRequestTimeout = errors.New("language server request timed out")
)

// LSPError is an error returned by the language server itself.
type LSPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *LSPError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// isRetryableError reports whether a failed request is worth retrying
// against a freshly spawned server.
//
// Server-side errors in the implementation-defined range (-32000 and
// below -32099 is the JSON-RPC server error band) usually indicate
// transient state; protocol errors like method-not-found never recover
// on retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServerCrashed) || errors.Is(err, ErrServerNotRunning) {
		return true
	}

	var lspErr *LSPError
	if errors.As(err, &lspErr) {
		return lspErr.Code >= -32099 && lspErr.Code <= -32000
	}
	return false
}
