// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/cache"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/gateway"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAnalyzer records gathered positions and returns a scripted result.
type fakeAnalyzer struct {
	mu       sync.Mutex
	gathered []gateway.Position
	err      error
}

func (f *fakeAnalyzer) Gather(ctx context.Context, pos gateway.Position) (*protocol.ContextData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gathered = append(f.gathered, pos)
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ContextData{
		File:  pos.File,
		Line:  pos.Line,
		Col:   pos.Col,
		Hover: []string{"doc for " + pos.Word},
	}, nil
}

func (f *fakeAnalyzer) calls() []gateway.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Position(nil), f.gathered...)
}

// fakeSender captures every forwarded message.
type fakeSender struct {
	mu   sync.Mutex
	sent []*protocol.Message
	err  error
}

func (f *fakeSender) Send(msg *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message(nil), f.sent...)
}

// staticVersions pins every buffer at version 1 so cache entries stay
// valid for the duration of a test.
type staticVersions struct{}

func (staticVersions) Version(path string) int64 { return 1 }

func newTestTracker(analyzer *fakeAnalyzer, sender *fakeSender, config Config) (*Tracker, *cache.ContextCache) {
	store := cache.New(staticVersions{}, cache.DefaultConfig(), nil, nil)
	inflight := cache.NewInflightSet()
	return New(analyzer, store, inflight, sender, config, nil), store
}

func pos(line int, word string) gateway.Position {
	return gateway.Position{
		File:      "/src/main.go",
		Line:      line,
		Col:       1,
		Word:      word,
		Timestamp: time.Now(),
	}
}

func waitForMessages(t *testing.T, sender *fakeSender, n int) []*protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := sender.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sender never received %d messages, got %d", n, len(sender.messages()))
	return nil
}

func TestTracker_SettleGathersAndForwards(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	sender := &fakeSender{}
	tr, store := newTestTracker(analyzer, sender, DefaultConfig())
	defer tr.Stop()

	ctx := context.Background()
	tr.OnCursorMoved(ctx, pos(10, "Foo"))
	tr.Flush(ctx)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeContextUpdate, msgs[0].Type)

	data, err := msgs[0].DecodeContext()
	require.NoError(t, err)
	assert.Equal(t, []string{"doc for Foo"}, data.Hover)

	// The miss result was stored; the next visit is a cache hit.
	_, ok := store.Get("/src/main.go", 10, "Foo")
	assert.True(t, ok)
}

func TestTracker_DebounceCoalescesRapidMovement(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	sender := &fakeSender{}
	tr, _ := newTestTracker(analyzer, sender, Config{Debounce: 30 * time.Millisecond})
	defer tr.Stop()

	ctx := context.Background()
	for line := 1; line <= 5; line++ {
		tr.OnCursorMoved(ctx, pos(line, "Sym"))
		time.Sleep(2 * time.Millisecond)
	}

	waitForMessages(t, sender, 1)
	time.Sleep(60 * time.Millisecond)

	calls := analyzer.calls()
	require.Len(t, calls, 1, "rapid movement must settle exactly once")
	assert.Equal(t, 5, calls[0].Line, "only the newest position settles")
}

func TestTracker_DuplicatePositionSkipped(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	sender := &fakeSender{}
	tr, _ := newTestTracker(analyzer, sender, DefaultConfig())
	defer tr.Stop()

	ctx := context.Background()
	p := pos(10, "Foo")

	tr.OnCursorMoved(ctx, p)
	tr.Flush(ctx)
	tr.OnCursorMoved(ctx, p)
	tr.Flush(ctx)

	assert.Len(t, sender.messages(), 1, "an update identical to the last forwarded one is skipped")
	assert.Len(t, analyzer.calls(), 1)
}

func TestTracker_CacheHitSkipsGather(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	sender := &fakeSender{}
	tr, store := newTestTracker(analyzer, sender, DefaultConfig())
	defer tr.Stop()

	store.Store("/src/main.go", 10, "Foo", &protocol.ContextData{
		File:  "/src/main.go",
		Line:  10,
		Hover: []string{"cached doc"},
	})

	ctx := context.Background()
	tr.OnCursorMoved(ctx, pos(10, "Foo"))
	tr.Flush(ctx)

	assert.Empty(t, analyzer.calls(), "a cache hit must not reach the analyzer")

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	data, err := msgs[0].DecodeContext()
	require.NoError(t, err)
	assert.Equal(t, []string{"cached doc"}, data.Hover)
}

func TestTracker_ReturnToPositionAfterMovingAway(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	sender := &fakeSender{}
	tr, _ := newTestTracker(analyzer, sender, DefaultConfig())
	defer tr.Stop()

	ctx := context.Background()
	tr.OnCursorMoved(ctx, pos(10, "Foo"))
	tr.Flush(ctx)
	tr.OnCursorMoved(ctx, pos(20, "Bar"))
	tr.Flush(ctx)
	tr.OnCursorMoved(ctx, pos(10, "Foo"))
	tr.Flush(ctx)

	assert.Len(t, sender.messages(), 3, "returning to an earlier position forwards again")
	assert.Len(t, analyzer.calls(), 2, "the return visit is served from cache")
}

func TestTracker_FailureThresholdRaisesError(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("server crashed")}
	sender := &fakeSender{}
	tr, _ := newTestTracker(analyzer, sender, Config{FailureThreshold: 3})
	defer tr.Stop()

	ctx := context.Background()
	for line := 1; line <= 3; line++ {
		tr.OnCursorMoved(ctx, pos(line, "Sym"))
		tr.Flush(ctx)
	}

	msgs := sender.messages()
	require.Len(t, msgs, 1, "exactly one error message at the threshold")
	assert.Equal(t, protocol.TypeError, msgs[0].Type)

	data, err := msgs[0].DecodeError()
	require.NoError(t, err)
	assert.Contains(t, data.Details, "server crashed")
}

func TestTracker_SuccessResetsFailureCount(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("flaky")}
	sender := &fakeSender{}
	tr, _ := newTestTracker(analyzer, sender, Config{FailureThreshold: 3})
	defer tr.Stop()

	ctx := context.Background()
	tr.OnCursorMoved(ctx, pos(1, "Sym"))
	tr.Flush(ctx)
	tr.OnCursorMoved(ctx, pos(2, "Sym"))
	tr.Flush(ctx)

	// Recovery before the threshold.
	analyzer.mu.Lock()
	analyzer.err = nil
	analyzer.mu.Unlock()

	tr.OnCursorMoved(ctx, pos(3, "Sym"))
	tr.Flush(ctx)
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeContextUpdate, msgs[0].Type, "no error message after recovery")

	// Two more failures stay under the reset threshold.
	analyzer.mu.Lock()
	analyzer.err = errors.New("flaky")
	analyzer.mu.Unlock()

	tr.OnCursorMoved(ctx, pos(4, "Sym"))
	tr.Flush(ctx)
	tr.OnCursorMoved(ctx, pos(5, "Sym"))
	tr.Flush(ctx)

	for _, msg := range sender.messages() {
		assert.NotEqual(t, protocol.TypeError, msg.Type)
	}
}

func TestTracker_StopCancelsPendingSettle(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	sender := &fakeSender{}
	tr, _ := newTestTracker(analyzer, sender, Config{Debounce: 20 * time.Millisecond})

	tr.OnCursorMoved(context.Background(), pos(10, "Foo"))
	tr.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, sender.messages(), "a stopped tracker settles nothing")
	assert.Empty(t, analyzer.calls())
}
