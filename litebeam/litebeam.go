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

// Package litebeam provides an embeddable SQLite client engine
// with connection pooling, statement caching, live-updating queries,
// and version-based schema migration.
package litebeam

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/db/engine"
	"github.com/litebeam/litebeam/internal/db/executor"
	"github.com/litebeam/litebeam/internal/db/migrate"
	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/db/stream"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
)

// Re-exported operation types.
type (
	// Op is one SQL text with its parameters, used by Transaction and Batch.
	Op = engine.Op

	// RawRows is a positional query result.
	RawRows = executor.RawRows

	// Subscription is one live query returned by Watch.
	Subscription = stream.Subscription

	// Emission is one live result delivered to a subscription.
	Emission = stream.Emission
)

// Execution strategies.
const (
	StrategyWorker = string(engine.StrategyWorker)
	StrategyDirect = string(engine.StrategyDirect)
)

// Config represents database configuration.
//
//nolint:vet // for readability
type Config struct {
	// Path is the database file path, or ":memory:" for a transient in-memory instance.
	Path string

	// Version is the target schema version. If zero, no migration runs.
	Version int

	// Schema lifecycle callbacks; see [migrate.Hooks] semantics.
	OnCreate    func(ctx context.Context, tx *sql.Tx, version int) error
	OnUpgrade   func(ctx context.Context, tx *sql.Tx, from, to int) error
	OnDowngrade func(ctx context.Context, tx *sql.Tx, from, to int) error
	OnOpen      func(ctx context.Context) error

	// Encrypted requests an encrypted database file.
	// This engine build carries no cipher; opening fails with an encryption error.
	Encrypted     bool
	EncryptionKey string

	// JournalMode is one of "wal", "delete", "truncate", "persist", "memory", "off".
	// Empty means "wal".
	JournalMode string

	MaxReadConnections int
	StatementCacheSize int

	// Engine pragmas, applied verbatim at open time.
	PageSize  int
	CacheSize int
	MmapSize  int

	// TempStore is one of "default", "file", "memory".
	TempStore string

	// Strategy is "worker" (default) or "direct".
	Strategy string

	// QuietWindow overrides the live-query debounce window.
	QuietWindow time.Duration

	// EnableLogging enables query logging with a development logger
	// when no explicit Logger is given.
	EnableLogging bool

	// Logger is used by all components; nil means no logging.
	Logger *zap.Logger
}

// DB is an open database instance.
//
//nolint:vet // for readability
type DB struct {
	l       *zap.Logger
	pool    *pool.Pool
	engine  engine.Engine
	streams *stream.Manager
}

// Open opens the database, runs migrations ahead of normal traffic,
// and brings the execution engine online.
func Open(ctx context.Context, cfg *Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, lazyerrors.New("path must not be empty")
	}

	if cfg.Encrypted || cfg.EncryptionKey != "" {
		return nil, dberr.New(dberr.ErrorCodeEncryption, lazyerrors.New("encryption is not supported by this engine build"))
	}

	l := cfg.Logger

	if l == nil {
		if cfg.EnableLogging {
			var err error

			if l, err = zap.NewDevelopment(); err != nil {
				return nil, lazyerrors.Error(err)
			}
		} else {
			l = zap.NewNop()
		}
	}

	p, err := pool.Open(ctx, &pool.Config{
		Path:               cfg.Path,
		JournalMode:        cfg.JournalMode,
		MaxReadConnections: cfg.MaxReadConnections,
		StatementCacheSize: cfg.StatementCacheSize,
		PageSize:           cfg.PageSize,
		CacheSize:          cfg.CacheSize,
		MmapSize:           cfg.MmapSize,
		TempStore:          cfg.TempStore,
	}, l)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if cfg.Version > 0 {
		hooks := migrate.Hooks{
			OnCreate:    cfg.OnCreate,
			OnUpgrade:   cfg.OnUpgrade,
			OnDowngrade: cfg.OnDowngrade,
			OnOpen:      cfg.OnOpen,
		}

		if err = migrate.Run(ctx, p.Write(), cfg.Path, cfg.Version, hooks, l); err != nil {
			p.Close()
			return nil, err
		}
	}

	strategy := engine.Strategy(cfg.Strategy)
	if strategy == "" {
		strategy = engine.StrategyWorker
	}

	db := &DB{
		l:    l,
		pool: p,
	}

	eng, err := engine.New(p, strategy, l, func(sqls []string) {
		if m := db.streams; m != nil {
			m.NotifyWrites(sqls)
		}
	})
	if err != nil {
		p.Close()
		return nil, lazyerrors.Error(err)
	}

	db.engine = eng
	db.streams = stream.NewManager(eng, cfg.QuietWindow, l)

	return db, nil
}

// Execute runs a statement that produces no result.
func (db *DB) Execute(ctx context.Context, sql string, params ...any) error {
	return db.engine.Execute(ctx, sql, params)
}

// Query runs a query and returns an ordered list of column-name to value rows.
func (db *DB) Query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	return db.engine.Query(ctx, sql, params)
}

// QueryRaw runs a query and returns positional rows.
func (db *DB) QueryRaw(ctx context.Context, sql string, params ...any) (*RawRows, error) {
	return db.engine.QueryRaw(ctx, sql, params)
}

// Insert runs an insert statement and returns the last-assigned row identifier.
func (db *DB) Insert(ctx context.Context, sql string, params ...any) (int64, error) {
	return db.engine.Insert(ctx, sql, params)
}

// Update runs an update or delete statement and returns the affected row count.
func (db *DB) Update(ctx context.Context, sql string, params ...any) (int64, error) {
	return db.engine.Update(ctx, sql, params)
}

// Transaction wraps the ordered operations in one native transaction.
func (db *DB) Transaction(ctx context.Context, ops []Op) error {
	return db.engine.Transaction(ctx, ops)
}

// Batch wraps the ordered operations in one native transaction,
// compiling the statement once when all operations share identical SQL text.
func (db *DB) Batch(ctx context.Context, ops []Op) error {
	return db.engine.Batch(ctx, ops)
}

// Watch returns a live stream of rows for the query.
//
// Tables overrides the dependency set; if nil, dependencies are extracted
// from the SQL text.
func (db *DB) Watch(ctx context.Context, sql string, params []any, tables []string) (*Subscription, error) {
	return db.streams.Watch(ctx, sql, params, tables)
}

// SchemaVersion returns the stored schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	raw, err := db.engine.QueryRaw(ctx, "PRAGMA user_version", nil)
	if err != nil {
		return 0, err
	}

	if len(raw.Values) != 1 || len(raw.Values[0]) != 1 {
		return 0, lazyerrors.New("unexpected user_version result shape")
	}

	v, ok := raw.Values[0][0].(int64)
	if !ok {
		return 0, lazyerrors.Errorf("unexpected user_version type %T", raw.Values[0][0])
	}

	return int(v), nil
}

// Close cancels all subscriptions, terminates the engine, and releases pool resources.
func (db *DB) Close() error {
	db.streams.Close()

	return db.engine.Close()
}

// Describe implements prometheus.Collector.
func (db *DB) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(db, ch)
}

// Collect implements prometheus.Collector.
func (db *DB) Collect(ch chan<- prometheus.Metric) {
	db.pool.Collect(ch)
	db.streams.Collect(ch)

	if c, ok := db.engine.(prometheus.Collector); ok {
		c.Collect(ch)
	}
}

// DeleteDatabase removes the primary database file and all sidecar files:
// write-ahead log, shared memory, and legacy journal.
func DeleteDatabase(path string) error {
	for _, f := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// check interfaces
var (
	_ prometheus.Collector = (*DB)(nil)
)
