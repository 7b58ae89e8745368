// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package store

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by a BadgerDB instance. Take runs as a single
// read-modify transaction, so its atomicity is Badger's transaction
// atomicity.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens or creates a Badger store rooted at path. An empty
// path opens an in-memory instance, which is useful for tests but does
// not survive a restart.
func OpenBadger(path string) (*Badger, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Get implements a method of the [Store] interface.
func (s *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// Put implements a method of the [Store] interface.
func (s *Badger) Put(_ context.Context, key string, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// Delete implements a method of the [Store] interface.
func (s *Badger) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// List implements a method of the [Store] interface.
func (s *Badger) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// Take implements a method of the [Store] interface. Concurrent takes of
// the same key conflict at commit; the loser retries and then observes
// the key as already gone.
func (s *Badger) Take(_ context.Context, key string) ([]byte, error) {
	for {
		var out []byte
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return err
			}
			out, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
			return txn.Delete([]byte(key))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Close implements a method of the [Store] interface.
func (s *Badger) Close() error { return s.db.Close() }
