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

package pool

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/stmtcache"
	"github.com/litebeam/litebeam/internal/util/observability"
	"github.com/litebeam/litebeam/internal/util/resource"
)

// Conn wraps a single pinned engine connection with its private statement cache,
// query logging, and resource tracking.
//
// It is owned exclusively by the Pool.
//
//nolint:vet // for readability
type Conn struct {
	sqlConn *sql.Conn
	cache   *stmtcache.Cache
	l       *zap.Logger

	// true while the connection is exclusively checked out of the pool;
	// guarded by the pool's mutex
	inUse bool

	token *resource.Token
}

// newConn creates a new Conn for the given pinned connection.
//
// Name is used for log messages.
func newConn(sqlConn *sql.Conn, name string, cacheSize int, l *zap.Logger) *Conn {
	c := &Conn{
		sqlConn: sqlConn,
		l:       l.Named(name),
		token:   resource.NewToken(),
	}

	c.cache = stmtcache.New(sqlConn, cacheSize, c.l)

	resource.Track(c, c.token)

	return c
}

// Cache returns the connection's private statement cache.
func (c *Conn) Cache() *stmtcache.Cache {
	return c.cache
}

// ExecContext calls [*sql.Conn.ExecContext].
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	c.l.Sugar().With(fields...).Debugf(">>> %s", query)

	res, err := c.sqlConn.ExecContext(ctx, query, args...)

	// to differentiate between 0 and nil
	var ra *int64

	if res != nil {
		rav, _ := res.RowsAffected()
		ra = &rav
	}

	fields = append(fields, zap.Int64p("rows", ra), zap.Duration("time", time.Since(start)), zap.Error(err))
	c.l.Sugar().With(fields...).Debugf("<<< %s", query)

	return res, err
}

// QueryContext calls [*sql.Conn.QueryContext].
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	c.l.Sugar().With(fields...).Debugf(">>> %s", query)

	rows, err := c.sqlConn.QueryContext(ctx, query, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	c.l.Sugar().With(fields...).Debugf("<<< %s", query)

	return rows, err
}

// QueryRowContext calls [*sql.Conn.QueryRowContext].
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer observability.FuncCall(ctx)()

	return c.sqlConn.QueryRowContext(ctx, query, args...)
}

// PrepareContext calls [*sql.Conn.PrepareContext].
//
// Most callers should go through Cache instead.
func (c *Conn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	defer observability.FuncCall(ctx)()

	return c.sqlConn.PrepareContext(ctx, query)
}

// BeginTx calls [*sql.Conn.BeginTx].
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	defer observability.FuncCall(ctx)()

	return c.sqlConn.BeginTx(ctx, opts)
}

// close finalizes the statement cache and returns the pinned connection to the driver.
func (c *Conn) close() error {
	c.cache.Close()

	resource.Untrack(c, c.token)

	return c.sqlConn.Close()
}
