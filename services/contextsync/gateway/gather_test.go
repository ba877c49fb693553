// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/star-lance/nvim-hoverfloat/services/contextsync/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable analysis backend.
type fakeClient struct {
	mu sync.Mutex

	caps     CapabilitySet
	capsErr  error
	capCalls int

	hover    []string
	hoverErr error

	definition    *protocol.LocationInfo
	definitionErr error

	references    []protocol.LocationInfo
	referencesN   int
	referencesErr error
	refCalls      int

	typeDefinition    *protocol.LocationInfo
	typeDefinitionErr error

	symbols    []Symbol
	symbolsErr error
}

func (f *fakeClient) Capabilities(ctx context.Context, file string) (CapabilitySet, error) {
	f.mu.Lock()
	f.capCalls++
	f.mu.Unlock()
	return f.caps, f.capsErr
}

func (f *fakeClient) Hover(ctx context.Context, file string, line, col int) ([]string, error) {
	return f.hover, f.hoverErr
}

func (f *fakeClient) Definition(ctx context.Context, file string, line, col int) (*protocol.LocationInfo, error) {
	return f.definition, f.definitionErr
}

func (f *fakeClient) References(ctx context.Context, file string, line, col, maxCount int) ([]protocol.LocationInfo, int, error) {
	f.mu.Lock()
	f.refCalls++
	f.mu.Unlock()
	if f.referencesErr != nil {
		return nil, 0, f.referencesErr
	}
	refs := f.references
	if len(refs) > maxCount {
		refs = refs[:maxCount]
	}
	return refs, f.referencesN, nil
}

func (f *fakeClient) TypeDefinition(ctx context.Context, file string, line, col int) (*protocol.LocationInfo, error) {
	return f.typeDefinition, f.typeDefinitionErr
}

func (f *fakeClient) DocumentSymbols(ctx context.Context, file string) ([]Symbol, error) {
	return f.symbols, f.symbolsErr
}

func allCaps() CapabilitySet {
	return CapabilitySet{
		Hover:           true,
		Definition:      true,
		References:      true,
		TypeDefinition:  true,
		DocumentSymbols: true,
	}
}

func testPos() Position {
	return Position{File: "/src/main.go", Line: 10, Col: 5, Word: "Foo"}
}

func TestGatherer_FullSnapshot(t *testing.T) {
	client := &fakeClient{
		caps:           allCaps(),
		hover:          []string{"func Foo()"},
		definition:     &protocol.LocationInfo{File: "/src/main.go", Line: 40, Col: 6},
		references:     []protocol.LocationInfo{{File: "/src/main.go", Line: 10, Col: 5}},
		referencesN:    1,
		typeDefinition: &protocol.LocationInfo{File: "/src/types.go", Line: 3, Col: 6},
	}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	data, err := g.Gather(context.Background(), testPos())
	require.NoError(t, err)
	require.NotNil(t, data)

	assert.Equal(t, "/src/main.go", data.File)
	assert.Equal(t, 10, data.Line)
	assert.Equal(t, []string{"func Foo()"}, data.Hover)
	require.NotNil(t, data.Definition)
	assert.Equal(t, 40, data.Definition.Line)
	assert.Equal(t, 1, data.ReferencesCount)
	require.NotNil(t, data.TypeDefinition)
}

func TestGatherer_PartialFailureOmitsFact(t *testing.T) {
	client := &fakeClient{
		caps:          allCaps(),
		hover:         []string{"func Foo()"},
		referencesErr: errors.New("references timed out"),
	}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	data, err := g.Gather(context.Background(), testPos())
	require.NoError(t, err, "a per-fact failure must not fail the gather")
	require.NotNil(t, data)

	assert.Equal(t, []string{"func Foo()"}, data.Hover)
	assert.Empty(t, data.References, "the failed fact is simply absent")
	assert.Equal(t, 0, data.ReferencesCount)
}

func TestGatherer_AllFactsFailing(t *testing.T) {
	boom := errors.New("server crashed")
	client := &fakeClient{
		caps:              allCaps(),
		hoverErr:          boom,
		definitionErr:     boom,
		referencesErr:     boom,
		typeDefinitionErr: boom,
	}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	_, err := g.Gather(context.Background(), testPos())
	assert.Error(t, err, "an empty snapshot with real errors behind it is a failed gather")
}

func TestGatherer_NoCapabilitiesYieldsEmptySnapshot(t *testing.T) {
	client := &fakeClient{caps: CapabilitySet{}}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	data, err := g.Gather(context.Background(), testPos())
	require.NoError(t, err, "nothing to fetch is not an error")
	require.NotNil(t, data)
	assert.True(t, data.IsEmpty())
}

func TestGatherer_UnsupportedCapabilityNeverCalled(t *testing.T) {
	client := &fakeClient{
		caps:  CapabilitySet{Hover: true},
		hover: []string{"func Foo()"},
	}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	data, err := g.Gather(context.Background(), testPos())
	require.NoError(t, err)
	assert.Equal(t, 0, client.refCalls, "an unsupported fact must not be requested")
	assert.NotNil(t, data.Hover)
}

func TestGatherer_ReferencesTrimmedWithOverflowCount(t *testing.T) {
	refs := make([]protocol.LocationInfo, 12)
	for i := range refs {
		refs[i] = protocol.LocationInfo{File: "/src/main.go", Line: i + 1, Col: 1}
	}
	client := &fakeClient{
		caps:        CapabilitySet{References: true},
		references:  refs,
		referencesN: 12,
	}
	g := NewGatherer(client, GathererConfig{MaxReferences: 8}, nil)

	data, err := g.Gather(context.Background(), testPos())
	require.NoError(t, err)

	assert.Len(t, data.References, 8)
	assert.Equal(t, 12, data.ReferencesCount)
	assert.Equal(t, 4, data.ReferencesMore, "overflow is reported as a count, not carried inline")
}

func TestGatherer_CapabilitiesQueriedOncePerBuffer(t *testing.T) {
	client := &fakeClient{caps: allCaps(), hover: []string{"x"}}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	ctx := context.Background()
	_, err := g.Gather(ctx, testPos())
	require.NoError(t, err)
	_, err = g.Gather(ctx, testPos())
	require.NoError(t, err)

	assert.Equal(t, 1, client.capCalls, "the capability set is cached per buffer")
}

func TestGatherer_ForgetBufferDropsCapabilityCache(t *testing.T) {
	client := &fakeClient{caps: allCaps(), hover: []string{"x"}}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	ctx := context.Background()
	_, err := g.Gather(ctx, testPos())
	require.NoError(t, err)

	g.ForgetBuffer("/src/main.go")

	_, err = g.Gather(ctx, testPos())
	require.NoError(t, err)
	assert.Equal(t, 2, client.capCalls, "a closed buffer re-queries on next use")
}

func TestGatherer_SymbolsRequiresCapability(t *testing.T) {
	client := &fakeClient{
		caps:    CapabilitySet{Hover: true},
		symbols: []Symbol{{Name: "Foo", StartLine: 1, EndLine: 3}},
	}
	g := NewGatherer(client, DefaultGathererConfig(), nil)

	_, err := g.Symbols(context.Background(), "/src/main.go")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSymbol_Overlaps(t *testing.T) {
	sym := Symbol{Name: "Foo", StartLine: 10, EndLine: 20}

	assert.True(t, sym.Overlaps(1, 100))
	assert.True(t, sym.Overlaps(15, 16), "a window inside the symbol overlaps")
	assert.True(t, sym.Overlaps(20, 30), "touching the last line overlaps")
	assert.False(t, sym.Overlaps(21, 30))
	assert.False(t, sym.Overlaps(1, 9))
}

func TestPosition_Identifier(t *testing.T) {
	a := Position{File: "/src/main.go", Line: 1, Col: 2, Word: "Foo"}
	b := Position{File: "/src/main.go", Line: 1, Col: 2, Word: "Foo"}
	c := Position{File: "/src/main.go", Line: 1, Col: 3, Word: "Foo"}

	assert.Equal(t, a.Identifier(), b.Identifier())
	assert.NotEqual(t, a.Identifier(), c.Identifier())
}

func TestCapabilitySet_String(t *testing.T) {
	assert.Equal(t, "none", CapabilitySet{}.String())
	assert.Equal(t, "hover,references", CapabilitySet{Hover: true, References: true}.String())
}
