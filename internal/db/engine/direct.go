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

package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/executor"
	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/util/resource"
)

// direct is the synchronous strategy.
//
// It implements the identical contract on the caller's goroutine
// against the same pool and executor primitives,
// skipping the channel and correlation bookkeeping.
// Per-call latency is strictly lower; the trade-off is that the caller
// is occupied for the full duration of the call.
//
//nolint:vet // for readability
type direct struct {
	l        *zap.Logger
	pool     *pool.Pool
	observer WriteObserver

	rw     sync.RWMutex
	closed bool

	token *resource.Token
}

// newDirect creates a direct engine over the given pool.
func newDirect(p *pool.Pool, l *zap.Logger, observer WriteObserver) *direct {
	d := &direct{
		l:        l.Named("direct"),
		pool:     p,
		observer: observer,
		token:    resource.NewToken(),
	}

	resource.Track(d, d.token)

	return d
}

// read runs f on an acquired read connection.
func (d *direct) read(ctx context.Context, f func(c *pool.Conn) error) error {
	d.rw.RLock()
	defer d.rw.RUnlock()

	if d.closed {
		return closedErr(kindQuery)
	}

	c, err := d.pool.AcquireRead(ctx)
	if err != nil {
		return err
	}

	defer d.pool.ReleaseRead(c)

	return f(c)
}

// write runs f on the acquired write connection and notifies the observer on success.
func (d *direct) write(ctx context.Context, sqls []string, f func(c *pool.Conn) error) error {
	d.rw.RLock()
	defer d.rw.RUnlock()

	if d.closed {
		return closedErr(kindExecute)
	}

	c, err := d.pool.AcquireWrite(ctx)
	if err != nil {
		return err
	}

	defer d.pool.ReleaseWrite()

	if err = f(c); err != nil {
		return err
	}

	if d.observer != nil {
		d.observer(sqls)
	}

	return nil
}

// Execute implements Engine.
func (d *direct) Execute(ctx context.Context, sql string, params []any) error {
	return d.write(ctx, []string{sql}, func(c *pool.Conn) error {
		return executor.Execute(ctx, c, sql, params)
	})
}

// Query implements Engine.
func (d *direct) Query(ctx context.Context, sql string, params []any) ([]map[string]any, error) {
	var res []map[string]any

	err := d.read(ctx, func(c *pool.Conn) error {
		var err error
		res, err = executor.Query(ctx, c, sql, params)

		return err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// QueryRaw implements Engine.
func (d *direct) QueryRaw(ctx context.Context, sql string, params []any) (*executor.RawRows, error) {
	var res *executor.RawRows

	err := d.read(ctx, func(c *pool.Conn) error {
		var err error
		res, err = executor.QueryRaw(ctx, c, sql, params)

		return err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Insert implements Engine.
func (d *direct) Insert(ctx context.Context, sql string, params []any) (int64, error) {
	var id int64

	err := d.write(ctx, []string{sql}, func(c *pool.Conn) error {
		var err error
		id, err = executor.Insert(ctx, c, sql, params)

		return err
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// Update implements Engine.
func (d *direct) Update(ctx context.Context, sql string, params []any) (int64, error) {
	var n int64

	err := d.write(ctx, []string{sql}, func(c *pool.Conn) error {
		var err error
		n, err = executor.Update(ctx, c, sql, params)

		return err
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// Transaction implements Engine.
func (d *direct) Transaction(ctx context.Context, ops []Op) error {
	return d.write(ctx, opSQLs(ops), func(c *pool.Conn) error {
		return runOps(ctx, c, ops)
	})
}

// Batch implements Engine.
func (d *direct) Batch(ctx context.Context, ops []Op) error {
	return d.write(ctx, opSQLs(ops), func(c *pool.Conn) error {
		return runOps(ctx, c, ops)
	})
}

// Close releases pool resources. Operations issued afterwards fail with a closed error.
func (d *direct) Close() error {
	d.rw.Lock()
	defer d.rw.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	d.pool.Close()

	resource.Untrack(d, d.token)

	d.l.Debug("Direct engine closed.")

	return nil
}

// check interfaces
var (
	_ Engine = (*direct)(nil)
)
