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
	"database/sql"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/db/executor"
	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
)

// txLike is the subset of [*sql.Tx] used by applyOps.
type txLike interface {
	StmtContext(ctx context.Context, stmt *sql.Stmt) *sql.Stmt
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// runOps wraps an ordered list of operations in one native transaction
// on the given write connection.
//
// Any failure rolls the whole transaction back: no partial effects are observable.
// Statement failures keep their classification (constraint or query);
// begin and commit failures are transaction errors.
func runOps(ctx context.Context, c *pool.Conn, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return dberr.New(dberr.ErrorCodeTransaction, lazyerrors.Error(err))
	}

	if err = applyOps(ctx, c, tx, ops); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err = tx.Commit(); err != nil {
		_ = tx.Rollback()
		return dberr.New(dberr.ErrorCodeTransaction, lazyerrors.Error(err))
	}

	return nil
}

// applyOps executes the operations inside the transaction.
//
// If every operation shares identical SQL text, the statement is compiled once
// and rebound per row; otherwise each operation goes through the normal cached path.
func applyOps(ctx context.Context, c *pool.Conn, tx txLike, ops []Op) error {
	if sameSQL(ops) {
		stmt, err := c.Cache().Get(ctx, ops[0].SQL)
		if err != nil {
			return dberr.Classify(ops[0].SQL, lazyerrors.UnwrapAll(err))
		}

		txStmt := tx.StmtContext(ctx, stmt)
		defer txStmt.Close() //nolint:errcheck // returned to the transaction

		for _, op := range ops {
			args, err := executor.ConvertParams(op.Params)
			if err != nil {
				return err
			}

			if _, err = txStmt.ExecContext(ctx, args...); err != nil {
				return dberr.Classify(op.SQL, err)
			}
		}

		return nil
	}

	for _, op := range ops {
		if len(op.Params) == 0 {
			if _, err := tx.ExecContext(ctx, op.SQL); err != nil {
				return dberr.Classify(op.SQL, err)
			}

			continue
		}

		args, err := executor.ConvertParams(op.Params)
		if err != nil {
			return err
		}

		stmt, err := c.Cache().Get(ctx, op.SQL)
		if err != nil {
			return dberr.Classify(op.SQL, lazyerrors.UnwrapAll(err))
		}

		txStmt := tx.StmtContext(ctx, stmt)

		if _, err = txStmt.ExecContext(ctx, args...); err != nil {
			_ = txStmt.Close()
			return dberr.Classify(op.SQL, err)
		}

		_ = txStmt.Close()
	}

	return nil
}

// sameSQL returns true if all operations share identical SQL text.
func sameSQL(ops []Op) bool {
	if len(ops) < 2 {
		return false
	}

	for _, op := range ops[1:] {
		if op.SQL != ops[0].SQL {
			return false
		}
	}

	return true
}

// opSQLs returns the SQL texts of the operations.
func opSQLs(ops []Op) []string {
	res := make([]string, len(ops))

	for i, op := range ops {
		res[i] = op.SQL
	}

	return res
}
