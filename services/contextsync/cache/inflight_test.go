// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInflightSet_TryBegin(t *testing.T) {
	s := NewInflightSet()
	key := Key{File: "/src/a.go", Line: 10, Symbol: "Foo"}

	assert.True(t, s.TryBegin(key), "first begin wins")
	assert.False(t, s.TryBegin(key), "second begin for the same key loses")
	assert.True(t, s.Contains(key))

	s.End(key)
	assert.False(t, s.Contains(key))
	assert.True(t, s.TryBegin(key), "the key is reusable after End")
}

func TestInflightSet_EndUnknownKeyIsNoop(t *testing.T) {
	s := NewInflightSet()
	s.End(Key{File: "/src/a.go", Line: 1, Symbol: "Foo"})
	assert.Equal(t, 0, s.Len())
}

func TestInflightSet_ClearBuffer(t *testing.T) {
	s := NewInflightSet()
	s.TryBegin(Key{File: "/src/a.go", Line: 1, Symbol: "Foo"})
	s.TryBegin(Key{File: "/src/a.go", Line: 2, Symbol: "Bar"})
	s.TryBegin(Key{File: "/src/b.go", Line: 1, Symbol: "Baz"})

	dropped := s.ClearBuffer("/src/a.go")
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains(Key{File: "/src/b.go", Line: 1, Symbol: "Baz"}))
}
