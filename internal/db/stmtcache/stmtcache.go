// Copyright 2025 Litebeam Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stmtcache provides a per-connection LRU cache of compiled statements.
//
// Compiled statements are bound to the connection that prepared them
// and are not transferable across connections,
// so exactly one cache instance exists per connection.
package stmtcache

import (
	"context"
	"database/sql"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/util/lazyerrors"
	"github.com/litebeam/litebeam/internal/util/must"
	"github.com/litebeam/litebeam/internal/util/resource"
)

// DefaultSize is the default maximum number of cached statements per connection.
const DefaultSize = 64

// Preparer compiles SQL text into a statement. Implemented by [*sql.Conn].
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Cache is an LRU cache of compiled statements, keyed by exact SQL text.
//
// Evicted statements are finalized before removal, so no native handle is leaked.
//
//nolint:vet // for readability
type Cache struct {
	p Preparer
	l *zap.Logger

	rw  sync.Mutex
	lru *simplelru.LRU[string, *sql.Stmt]

	hits   int64
	misses int64

	token *resource.Token
}

// New creates a new statement cache of the given maximum size backed by the given preparer.
//
// If size is not positive, DefaultSize is used.
func New(p Preparer, size int, l *zap.Logger) *Cache {
	if size <= 0 {
		size = DefaultSize
	}

	c := &Cache{
		p:     p,
		l:     l,
		token: resource.NewToken(),
	}

	// the callback runs under c.rw; it must only finalize the handle
	c.lru = must.NotFail(simplelru.NewLRU[string, *sql.Stmt](size, c.onEvict))

	resource.Track(c, c.token)

	return c
}

// onEvict finalizes the discarded compiled statement.
func (c *Cache) onEvict(query string, stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		c.l.Warn("Failed to finalize evicted statement.", zap.String("sql", query), zap.Error(err))
	}
}

// Get returns a compiled statement for the given SQL text,
// compiling and caching it on miss.
//
// A hit moves the entry to the most-recently-used position.
// A miss that grows the cache beyond its maximum size
// evicts the single least-recently-used entry.
func (c *Cache) Get(ctx context.Context, query string) (*sql.Stmt, error) {
	c.rw.Lock()
	defer c.rw.Unlock()

	if stmt, ok := c.lru.Get(query); ok {
		c.hits++
		return stmt, nil
	}

	stmt, err := c.p.PrepareContext(ctx, query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	c.misses++
	c.lru.Add(query, stmt)

	return stmt, nil
}

// Remove finalizes and removes the statement for the given SQL text, if cached.
func (c *Cache) Remove(query string) {
	c.rw.Lock()
	defer c.rw.Unlock()

	c.lru.Remove(query)
}

// Clear finalizes and removes all cached statements. The cache remains usable.
func (c *Cache) Clear() {
	c.rw.Lock()
	defer c.rw.Unlock()

	c.lru.Purge()
}

// Close clears the cache and frees all resources.
func (c *Cache) Close() {
	c.Clear()

	resource.Untrack(c, c.token)
}

// Len returns the current number of cached statements.
func (c *Cache) Len() int {
	c.rw.Lock()
	defer c.rw.Unlock()

	return c.lru.Len()
}

// Hits returns the number of cache hits.
func (c *Cache) Hits() int64 {
	c.rw.Lock()
	defer c.rw.Unlock()

	return c.hits
}

// Misses returns the number of cache misses.
func (c *Cache) Misses() int64 {
	c.rw.Lock()
	defer c.rw.Unlock()

	return c.misses
}

// HitRatio returns hits/(hits+misses), or 0 when there were no accesses yet.
func (c *Cache) HitRatio() float64 {
	c.rw.Lock()
	defer c.rw.Unlock()

	total := c.hits + c.misses
	if total == 0 {
		return 0
	}

	return float64(c.hits) / float64(total)
}
