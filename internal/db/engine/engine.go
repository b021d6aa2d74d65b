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

// Package engine provides the operation contract over a connection pool
// with two interchangeable execution strategies.
//
// The worker strategy runs all operations on a dedicated goroutine
// that owns the pool, communicating with callers over channels
// with correlation ids. The direct strategy runs operations
// on the caller's goroutine against the same pool and executor primitives.
//
// Both strategies produce identical results and identical error
// classifications for identical inputs; only latency and caller
// occupancy characteristics differ.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/executor"
	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
)

// Op is one SQL text with its parameters, used by Transaction and Batch.
type Op struct {
	SQL    string
	Params []any
}

// WriteObserver is notified with the SQL texts of every completed write.
//
// It is called from the engine's serialized write path;
// implementations must not call back into the engine synchronously.
type WriteObserver func(sqls []string)

// Engine is the single operation contract satisfied by both strategies.
//
// All methods return errors from the dberr taxonomy.
type Engine interface {
	Execute(ctx context.Context, sql string, params []any) error
	Query(ctx context.Context, sql string, params []any) ([]map[string]any, error)
	QueryRaw(ctx context.Context, sql string, params []any) (*executor.RawRows, error)
	Insert(ctx context.Context, sql string, params []any) (int64, error)
	Update(ctx context.Context, sql string, params []any) (int64, error)
	Transaction(ctx context.Context, ops []Op) error
	Batch(ctx context.Context, ops []Op) error
	Close() error
}

// Strategy selects the execution strategy.
type Strategy string

// Recognized strategies.
const (
	StrategyWorker Strategy = "worker"
	StrategyDirect Strategy = "direct"
)

// New creates an engine of the given strategy over the given pool.
//
// The engine takes ownership of the pool; Close releases it.
// The observer may be nil.
func New(p *pool.Pool, strategy Strategy, l *zap.Logger, observer WriteObserver) (Engine, error) {
	switch strategy {
	case StrategyWorker:
		return newWorker(p, l, observer), nil
	case StrategyDirect:
		return newDirect(p, l, observer), nil
	default:
		return nil, lazyerrors.Errorf("unknown strategy %q", strategy)
	}
}
