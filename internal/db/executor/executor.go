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

// Package executor binds parameters, executes SQL against a pooled connection,
// maps result rows, and classifies native engine errors.
package executor

import (
	"context"
	"database/sql"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
	"github.com/litebeam/litebeam/internal/util/observability"
)

// RawRows is a positional query result.
//
// Column order is preserved from the result schema.
type RawRows struct {
	Columns []string
	Values  [][]any
}

// Execute runs a statement that produces no result.
//
// Statements without parameters take the raw SQL path,
// skipping the statement cache since no binding is needed.
func Execute(ctx context.Context, c *pool.Conn, query string, params []any) error {
	defer observability.FuncCall(ctx)()

	if len(params) == 0 {
		if _, err := c.ExecContext(ctx, query); err != nil {
			return dberr.Classify(query, err)
		}

		return nil
	}

	args, err := ConvertParams(params)
	if err != nil {
		return err
	}

	stmt, err := c.Cache().Get(ctx, query)
	if err != nil {
		return dberr.Classify(query, lazyerrors.UnwrapAll(err))
	}

	if _, err = stmt.ExecContext(ctx, args...); err != nil {
		return dberr.Classify(query, err)
	}

	return nil
}

// Insert runs an insert statement and returns the last-assigned row identifier.
func Insert(ctx context.Context, c *pool.Conn, query string, params []any) (int64, error) {
	defer observability.FuncCall(ctx)()

	res, err := exec(ctx, c, query, params)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, dberr.Classify(query, err)
	}

	return id, nil
}

// Update runs an update or delete statement and returns the affected row count.
func Update(ctx context.Context, c *pool.Conn, query string, params []any) (int64, error) {
	defer observability.FuncCall(ctx)()

	res, err := exec(ctx, c, query, params)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, dberr.Classify(query, err)
	}

	return n, nil
}

// exec runs a statement through the cached path, or the raw path for empty params.
func exec(ctx context.Context, c *pool.Conn, query string, params []any) (sql.Result, error) {
	if len(params) == 0 {
		res, err := c.ExecContext(ctx, query)
		if err != nil {
			return nil, dberr.Classify(query, err)
		}

		return res, nil
	}

	args, err := ConvertParams(params)
	if err != nil {
		return nil, err
	}

	stmt, err := c.Cache().Get(ctx, query)
	if err != nil {
		return nil, dberr.Classify(query, lazyerrors.UnwrapAll(err))
	}

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, dberr.Classify(query, err)
	}

	return res, nil
}

// QueryRaw runs a query and returns positional rows,
// avoiding per-row name-map allocation for bulk scans.
func QueryRaw(ctx context.Context, c *pool.Conn, query string, params []any) (*RawRows, error) {
	defer observability.FuncCall(ctx)()

	var rows *sql.Rows
	var err error

	if len(params) == 0 {
		rows, err = c.QueryContext(ctx, query)
	} else {
		var args []any

		if args, err = ConvertParams(params); err != nil {
			return nil, err
		}

		var stmt *sql.Stmt

		if stmt, err = c.Cache().Get(ctx, query); err != nil {
			return nil, dberr.Classify(query, lazyerrors.UnwrapAll(err))
		}

		rows, err = stmt.QueryContext(ctx, args...)
	}

	if err != nil {
		return nil, dberr.Classify(query, err)
	}

	defer rows.Close() //nolint:errcheck // checked via rows.Err below

	columns, err := rows.Columns()
	if err != nil {
		return nil, dberr.Classify(query, err)
	}

	res := &RawRows{
		Columns: columns,
	}

	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))

		for i := range values {
			dest[i] = &values[i]
		}

		if err = rows.Scan(dest...); err != nil {
			return nil, dberr.Classify(query, err)
		}

		for i, v := range values {
			// the driver may reuse byte buffers between rows
			if b, ok := v.([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
		}

		res.Values = append(res.Values, values)
	}

	if err = rows.Err(); err != nil {
		return nil, dberr.Classify(query, err)
	}

	return res, nil
}

// Query runs a query and returns an ordered list of column-name to value rows.
func Query(ctx context.Context, c *pool.Conn, query string, params []any) ([]map[string]any, error) {
	defer observability.FuncCall(ctx)()

	raw, err := QueryRaw(ctx, c, query, params)
	if err != nil {
		return nil, err
	}

	res := make([]map[string]any, len(raw.Values))

	for i, values := range raw.Values {
		row := make(map[string]any, len(raw.Columns))

		for j, col := range raw.Columns {
			row[col] = values[j]
		}

		res[i] = row
	}

	return res, nil
}
