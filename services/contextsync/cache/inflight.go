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

import "sync"

// InflightSet tracks gathers currently in flight, keyed exactly like
// the cache, so the prefetch path and the live request path never fetch
// the same symbol twice concurrently.
//
// Thread Safety: Safe for concurrent use.
type InflightSet struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

// NewInflightSet creates an empty set.
func NewInflightSet() *InflightSet {
	return &InflightSet{keys: make(map[Key]struct{})}
}

// TryBegin marks the key in flight. Returns false if it already was;
// the caller must then skip the fetch.
func (s *InflightSet) TryBegin(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key]; exists {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// End clears the key after the fetch completed, successfully or not.
func (s *InflightSet) End(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// Contains reports whether the key is in flight.
func (s *InflightSet) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.keys[key]
	return exists
}

// ClearBuffer drops every in-flight marker for one buffer and returns
// the number dropped. The gathers themselves run to completion; their
// results just become irrelevant.
func (s *InflightSet) ClearBuffer(file string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key := range s.keys {
		if key.File == file {
			delete(s.keys, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the current in-flight count.
func (s *InflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
