// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package store defines the durable key-value storage used to persist
// pending call records, and provides memory-backed and Badger-backed
// implementations.
//
// The one operation with real concurrency teeth is Take: an atomic
// delete-and-return. The call coordinator races result receipt,
// cancellation, and timeout firing against each other for the same key,
// and exactly one of them must observe the record. Implementations must
// make Take linearizable per key.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is reported by Get and Take for a missing key.
var ErrNotFound = errors.New("key not found")

// A Store is a durable key-value store with prefix listing and an atomic
// take. All methods must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores val under key, replacing any existing value.
	Put(ctx context.Context, key string, val []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys having the given prefix, in lexicographic
	// order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Take atomically removes key and returns the value it held, or
	// ErrNotFound if the key was absent. At most one concurrent caller
	// observes the value.
	Take(ctx context.Context, key string) ([]byte, error)

	// Close releases the resources of the store.
	Close() error
}

// Mem is an in-memory Store suitable for tests and single-process use.
// It does not survive a restart.
type Mem struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMem constructs an empty in-memory store.
func NewMem() *Mem { return &Mem{m: make(map[string][]byte)} }

// Get implements a method of the [Store] interface.
func (s *Mem) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Put implements a method of the [Store] interface.
func (s *Mem) Put(_ context.Context, key string, val []byte) error {
	cp := make([]byte, len(val))
	copy(cp, val)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = cp
	return nil
}

// Delete implements a method of the [Store] interface.
func (s *Mem) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// List implements a method of the [Store] interface.
func (s *Mem) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Take implements a method of the [Store] interface.
func (s *Mem) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.m, key)
	return val, nil
}

// Close implements a method of the [Store] interface.
func (s *Mem) Close() error { return nil }
