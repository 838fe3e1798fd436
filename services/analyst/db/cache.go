// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/fsnotify/fsnotify"
)

// SchemaCache caches introspected schemas in a local BadgerDB so repeated
// requests against the same event log skip the introspection queries.
//
// Description:
//
//	Entries are keyed by database path. A filesystem watcher invalidates
//	the entry when the underlying file changes, so a re-imported match
//	log is re-introspected on the next request rather than served stale.
//
// Thread Safety: Safe for concurrent use.
type SchemaCache struct {
	kv      *badger.DB
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	watched map[string]bool
}

// NewSchemaCache opens a schema cache backed by the given directory. An
// empty dir uses an in-memory store, which is what tests want.
func NewSchemaCache(dir string, logger *slog.Logger) (*SchemaCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	kv, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening schema cache: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("creating schema watcher: %w", err)
	}

	c := &SchemaCache{
		kv:      kv,
		watcher: watcher,
		logger:  logger,
		watched: make(map[string]bool),
	}
	go c.watchLoop()
	return c, nil
}

func cacheKey(dbPath string) []byte {
	return []byte("schema:" + dbPath)
}

// Get returns the cached schema for a database path, or ok=false on a
// miss.
func (c *SchemaCache) Get(dbPath string) (*Schema, bool) {
	var schema Schema
	err := c.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(dbPath))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &schema)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("schema cache read failed",
				slog.String("path", dbPath),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return &schema, true
}

// Put stores a schema and starts watching its database file for changes.
func (c *SchemaCache) Put(schema *Schema) error {
	payload, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	err = c.kv.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(schema.DatabasePath), payload)
	})
	if err != nil {
		return fmt.Errorf("writing schema cache: %w", err)
	}
	c.watch(schema.DatabasePath)
	return nil
}

// Invalidate drops the cached schema for a database path.
func (c *SchemaCache) Invalidate(dbPath string) {
	err := c.kv.Update(func(txn *badger.Txn) error {
		return txn.Delete(cacheKey(dbPath))
	})
	if err != nil {
		c.logger.Warn("schema cache invalidation failed",
			slog.String("path", dbPath),
			slog.String("error", err.Error()),
		)
	}
}

// SchemaFor returns the schema for the store's database, introspecting on
// a cache miss.
func (c *SchemaCache) SchemaFor(ctx context.Context, store *Store) (*Schema, error) {
	if schema, ok := c.Get(store.Path()); ok {
		return schema, nil
	}
	schema, err := store.Introspect(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Put(schema); err != nil {
		// A failed cache write degrades to uncached, not to failure.
		c.logger.Warn("schema cache write failed",
			slog.String("path", store.Path()),
			slog.String("error", err.Error()),
		)
	}
	return schema, nil
}

func (c *SchemaCache) watch(dbPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched[dbPath] {
		return
	}
	if err := c.watcher.Add(dbPath); err != nil {
		c.logger.Warn("cannot watch database file, cache may serve stale schemas",
			slog.String("path", dbPath),
			slog.String("error", err.Error()),
		)
		return
	}
	c.watched[dbPath] = true
}

func (c *SchemaCache) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.logger.Debug("database file changed, invalidating cached schema",
					slog.String("path", event.Name),
					slog.String("op", event.Op.String()),
				)
				c.Invalidate(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("schema watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the watcher and closes the cache store.
func (c *SchemaCache) Close() error {
	werr := c.watcher.Close()
	kerr := c.kv.Close()
	if werr != nil {
		return werr
	}
	return kerr
}
