// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides mutex-guarded key/value and list containers for
// shared per-user bot state.
//
// # Description
//
// Every piece of mutable state shared between concurrently handled updates
// (conversation histories, model selections, pending images, cached user
// ids) lives in one of these containers. A single mutex per container
// serializes all operations on it.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Each method is one
// critical section; composite sequences across two calls (for example
// "Snapshot then Append if absent") are NOT atomic. Callers that need
// check-then-act semantics must tolerate the race.
//
// # Limitations
//
//   - The lock covers the whole container, not individual keys. Operations
//     must stay short and must never perform I/O while holding it.
package store

import "sync"

// =============================================================================
// KeyStore
// =============================================================================

// KeyStore is a mutex-guarded map from K to V.
type KeyStore[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]V
}

// NewKeyStore creates an empty KeyStore.
func NewKeyStore[K comparable, V any]() *KeyStore[K, V] {
	return &KeyStore[K, V]{data: make(map[K]V)}
}

// Get returns the value for key and whether it was present.
func (s *KeyStore[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// GetOr returns the value for key, or def when the key is absent.
// It never fails for a missing key.
func (s *KeyStore[K, V]) GetOr(key K, def V) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v
	}
	return def
}

// Set replaces the value for key. Last writer wins under concurrent calls;
// there is no merge.
func (s *KeyStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key. It is a no-op when the key is absent.
func (s *KeyStore[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Len returns the number of stored keys.
func (s *KeyStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Snapshot returns a disconnected copy of the map. Mutating the returned
// map never affects the store.
func (s *KeyStore[K, V]) Snapshot() map[K]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[K]V, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// =============================================================================
// ListStore
// =============================================================================

// ListStore is a mutex-guarded ordered list of comparable values.
type ListStore[T comparable] struct {
	mu    sync.Mutex
	items []T
}

// NewListStore creates a ListStore seeded with the given items.
// The slice is copied; the caller keeps ownership of its argument.
func NewListStore[T comparable](items []T) *ListStore[T] {
	s := &ListStore[T]{}
	s.items = append(s.items, items...)
	return s
}

// Append adds value to the end of the list.
func (s *ListStore[T]) Append(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, value)
}

// Remove deletes the first element equal to value. It is a no-op when no
// element matches.
func (s *ListStore[T]) Remove(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.items {
		if v == value {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Contains reports whether value is currently in the list.
func (s *ListStore[T]) Contains(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.items {
		if v == value {
			return true
		}
	}
	return false
}

// Snapshot returns a disconnected copy of the list in insertion order.
func (s *ListStore[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
