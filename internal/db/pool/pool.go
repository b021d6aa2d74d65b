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

// Package pool provides access to a single SQLite database file
// through one exclusive write connection and a bounded set of read connections.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register database/sql driver

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
	"github.com/litebeam/litebeam/internal/util/resource"
)

// DefaultMaxReadConnections is the default size of the read connection set.
const DefaultMaxReadConnections = 4

// busyTimeoutMS is applied to every connection so concurrent openers
// do not fail immediately on a locked database.
const busyTimeoutMS = 5000

// Config represents pool configuration.
//
// Engine-level performance settings are applied verbatim as pragmas at open time.
//
//nolint:vet // for readability
type Config struct {
	// Path is the database file path, or ":memory:" for a transient in-memory instance.
	Path string

	// JournalMode is one of "wal", "delete", "truncate", "persist", "memory", "off".
	// Empty means "wal".
	JournalMode string

	MaxReadConnections int
	StatementCacheSize int

	// Engine pragmas; zero values mean engine defaults.
	PageSize  int
	CacheSize int
	MmapSize  int

	// TempStore is one of "default", "file", "memory". Empty means "default".
	TempStore string
}

// memory returns true if the config describes a transient in-memory instance.
func (c *Config) memory() bool {
	return c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")
}

// Pool owns one write connection and a fixed set of read connections
// to a single SQLite database.
//
// The write connection is an exclusive FIFO-fair resource.
// Read acquisition never blocks: under saturation,
// callers share a busy read connection instead of waiting.
//
//nolint:vet // for readability
type Pool struct {
	l  *zap.Logger
	db *sql.DB

	rw     sync.Mutex
	write  *Conn
	reads  []*Conn
	closed bool

	// FIFO queue of suspended writers; each channel has capacity 1,
	// and receives nil on grant or a closed error on pool shutdown
	waiters []chan error

	token *resource.Token
}

// journalModes are the recognized journal/concurrency modes.
var journalModes = map[string]struct{}{
	"wal": {}, "delete": {}, "truncate": {}, "persist": {}, "memory": {}, "off": {},
}

// tempStores maps recognized temp-store locations to pragma values.
var tempStores = map[string]int{
	"default": 0,
	"file":    1,
	"memory":  2,
}

// Open opens the database file and initializes all connections.
//
// The write connection is configured with the engine-level performance settings
// from the config. Read-only connections are not opened for in-memory instances:
// each in-memory connection would be an isolated, unreachable copy,
// so reads are routed through the write connection instead.
func Open(ctx context.Context, cfg *Config, l *zap.Logger) (*Pool, error) {
	if cfg.Path == "" {
		return nil, lazyerrors.New("path must not be empty")
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	if _, ok := journalModes[strings.ToLower(journalMode)]; !ok {
		return nil, lazyerrors.Errorf("unknown journal mode %q", cfg.JournalMode)
	}

	tempStore := cfg.TempStore
	if tempStore == "" {
		tempStore = "default"
	}

	if _, ok := tempStores[strings.ToLower(tempStore)]; !ok {
		return nil, lazyerrors.Errorf("unknown temp store %q", cfg.TempStore)
	}

	maxReads := cfg.MaxReadConnections
	if maxReads <= 0 {
		maxReads = DefaultMaxReadConnections
	}

	if cfg.memory() {
		maxReads = 0
	}

	db, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(1 + maxReads)
	db.SetMaxOpenConns(1 + maxReads)

	p := &Pool{
		l:     l,
		db:    db,
		token: resource.NewToken(),
	}

	resource.Track(p, p.token)

	writeConn, err := db.Conn(ctx)
	if err != nil {
		p.Close()
		return nil, lazyerrors.Error(err)
	}

	p.write = newConn(writeConn, "write", cfg.StatementCacheSize, l)

	if err = p.configureWrite(ctx, cfg, strings.ToLower(journalMode), tempStores[strings.ToLower(tempStore)]); err != nil {
		p.Close()
		return nil, lazyerrors.Error(err)
	}

	for i := 0; i < maxReads; i++ {
		readConn, err := db.Conn(ctx)
		if err != nil {
			p.Close()
			return nil, lazyerrors.Error(err)
		}

		rc := newConn(readConn, fmt.Sprintf("read-%d", i), cfg.StatementCacheSize, l)
		p.reads = append(p.reads, rc)

		if err = p.configureRead(ctx, rc, cfg); err != nil {
			p.Close()
			return nil, lazyerrors.Error(err)
		}
	}

	p.l.Debug("Pool opened.",
		zap.String("path", cfg.Path),
		zap.Int("reads", maxReads),
		zap.Bool("memory", cfg.memory()),
	)

	return p, nil
}

// dsn returns the driver DSN for the given path.
func dsn(path string) string {
	if path == ":memory:" {
		return "file::memory:"
	}

	if strings.HasPrefix(path, "file:") {
		return path
	}

	return "file:" + path
}

// configureWrite applies engine-level settings to the write connection.
//
// page_size must be set before the first write to the file; applying it
// to an already populated file is a no-op reported by the engine.
func (p *Pool) configureWrite(ctx context.Context, cfg *Config, journalMode string, tempStore int) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
	}

	if cfg.PageSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA page_size = %d", cfg.PageSize))
	}

	pragmas = append(pragmas, "PRAGMA journal_mode = "+journalMode)

	if cfg.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize))
	}

	if cfg.MmapSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size = %d", cfg.MmapSize))
	}

	pragmas = append(pragmas, fmt.Sprintf("PRAGMA temp_store = %d", tempStore))

	for _, pragma := range pragmas {
		// journal_mode and page_size pragmas return a row; Exec discards it
		if _, err := p.write.sqlConn.ExecContext(ctx, pragma); err != nil {
			return lazyerrors.Errorf("%s: %w", pragma, err)
		}
	}

	return nil
}

// configureRead applies per-connection settings to a read connection
// and marks it read-only.
func (p *Pool) configureRead(ctx context.Context, c *Conn, cfg *Config) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
	}

	if cfg.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize))
	}

	if cfg.MmapSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size = %d", cfg.MmapSize))
	}

	pragmas = append(pragmas, "PRAGMA query_only = ON")

	for _, pragma := range pragmas {
		if _, err := c.sqlConn.ExecContext(ctx, pragma); err != nil {
			return lazyerrors.Errorf("%s: %w", pragma, err)
		}
	}

	return nil
}

// AcquireWrite returns the write connection,
// suspending the caller on a FIFO queue if it is currently held.
//
// Waiters are granted the connection in strict arrival order.
func (p *Pool) AcquireWrite(ctx context.Context) (*Conn, error) {
	p.rw.Lock()

	if p.closed {
		p.rw.Unlock()
		return nil, closedErr()
	}

	if !p.write.inUse {
		p.write.inUse = true
		p.rw.Unlock()

		return p.write, nil
	}

	ch := make(chan error, 1)
	p.waiters = append(p.waiters, ch)
	p.rw.Unlock()

	select {
	case err := <-ch:
		if err != nil {
			return nil, err
		}

		return p.write, nil

	case <-ctx.Done():
		p.rw.Lock()

		for i, w := range p.waiters {
			if w == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.rw.Unlock()

				return nil, ctx.Err()
			}
		}

		p.rw.Unlock()

		// no longer queued: a grant or rejection is already in flight
		if err := <-ch; err != nil {
			return nil, err
		}

		// granted after cancellation; hand the connection to the next waiter
		p.ReleaseWrite()

		return nil, ctx.Err()
	}
}

// ReleaseWrite releases the write connection,
// waking the longest-waiting suspended writer, if any.
func (p *Pool) ReleaseWrite() {
	p.rw.Lock()

	if len(p.waiters) > 0 {
		// ownership transfers directly; inUse stays set
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.rw.Unlock()

		ch <- nil

		return
	}

	p.write.inUse = false
	p.rw.Unlock()
}

// AcquireRead returns an idle read connection, marking it busy.
//
// If none is idle, the first read connection is returned anyway without suspension:
// callers share a single native connection when the pool is saturated.
// For in-memory instances, reads are routed through the write connection.
func (p *Pool) AcquireRead(ctx context.Context) (*Conn, error) {
	p.rw.Lock()
	defer p.rw.Unlock()

	if p.closed {
		return nil, closedErr()
	}

	if len(p.reads) == 0 {
		return p.write, nil
	}

	for _, c := range p.reads {
		if !c.inUse {
			c.inUse = true
			return c, nil
		}
	}

	return p.reads[0], nil
}

// ReleaseRead returns a read connection to the pool.
func (p *Pool) ReleaseRead(c *Conn) {
	p.rw.Lock()
	defer p.rw.Unlock()

	if c == p.write {
		// in-memory instance; the write connection is released via ReleaseWrite only
		return
	}

	c.inUse = false
}

// Write returns the write connection without acquisition.
//
// It is used by the migration engine before the pool goes online for normal traffic.
func (p *Pool) Write() *Conn {
	return p.write
}

// Close closes every connection and its cache,
// and rejects all still-queued writers with a closed error.
func (p *Pool) Close() {
	p.rw.Lock()

	if p.closed {
		p.rw.Unlock()
		return
	}

	p.closed = true

	waiters := p.waiters
	p.waiters = nil

	p.rw.Unlock()

	for _, ch := range waiters {
		ch <- closedErr()
	}

	for _, c := range p.reads {
		if err := c.close(); err != nil {
			p.l.Warn("Failed to close read connection.", zap.Error(err))
		}
	}

	if p.write != nil {
		if err := p.write.close(); err != nil {
			p.l.Warn("Failed to close write connection.", zap.Error(err))
		}
	}

	if err := p.db.Close(); err != nil {
		p.l.Warn("Failed to close database.", zap.Error(err))
	}

	resource.Untrack(p, p.token)

	p.l.Debug("Pool closed.")
}

// closedErr returns a new closed error.
func closedErr() error {
	return dberr.New(dberr.ErrorCodeClosed, lazyerrors.New("connection pool is closed"))
}
