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

// Package migrate provides the version-based migration and backup engine.
//
// It runs once at open time, ahead of normal traffic,
// using the pool's write connection directly.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
)

// Hooks are the schema lifecycle callbacks.
//
// Schema callbacks run inside a nested transaction;
// OnOpen runs outside any transaction, always last, regardless of the taken path.
//
//nolint:vet // for readability
type Hooks struct {
	OnCreate    func(ctx context.Context, tx *sql.Tx, version int) error
	OnUpgrade   func(ctx context.Context, tx *sql.Tx, from, to int) error
	OnDowngrade func(ctx context.Context, tx *sql.Tx, from, to int) error
	OnOpen      func(ctx context.Context) error
}

// Version reads the stored schema version from the engine file's metadata slot.
//
// The slot is disjoint from user schema.
func Version(ctx context.Context, c *pool.Conn) (int, error) {
	var v int

	if err := c.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, lazyerrors.Error(err)
	}

	return v, nil
}

// Run derives the migration path from (stored version, target version) and executes it.
//
// Paths:
//   - fresh (stored == 0): creation callback, then stamp the target version;
//   - same version: no schema action;
//   - upgrade/downgrade: full file backup first, then the corresponding callback,
//     then stamp; on failure the main file is restored from the backup.
//
// Target must be positive.
func Run(ctx context.Context, c *pool.Conn, path string, target int, hooks Hooks, l *zap.Logger) error {
	if target <= 0 {
		return lazyerrors.Errorf("target version must be positive, got %d", target)
	}

	stored, err := Version(ctx, c)
	if err != nil {
		return lazyerrors.Error(err)
	}

	l = l.Named("migrate")

	switch {
	case stored == target:
		l.Debug("Schema version is current.", zap.Int("version", stored))

	case stored == 0:
		l.Debug("Creating fresh schema.", zap.Int("version", target))

		if err = inTx(ctx, c, target, func(tx *sql.Tx) error {
			if hooks.OnCreate == nil {
				return nil
			}

			return hooks.OnCreate(ctx, tx, target)
		}); err != nil {
			return dberr.NewMigration(stored, target, err)
		}

	default:
		if err = change(ctx, c, path, stored, target, hooks, l); err != nil {
			return err
		}
	}

	if hooks.OnOpen != nil {
		if err = hooks.OnOpen(ctx); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// change performs an upgrade or downgrade with a file-level backup.
func change(ctx context.Context, c *pool.Conn, path string, stored, target int, hooks Hooks, l *zap.Logger) error {
	up := stored < target

	callback := hooks.OnDowngrade
	if up {
		callback = hooks.OnUpgrade
	}

	if callback == nil {
		return dberr.NewMigration(stored, target, lazyerrors.New("no callback for schema version change"))
	}

	l.Debug("Changing schema version.",
		zap.Int("from", stored), zap.Int("to", target), zap.Bool("upgrade", up))

	backup, err := createBackup(ctx, c, path)
	if err != nil {
		return dberr.NewMigration(stored, target, lazyerrors.Error(err))
	}

	err = inTx(ctx, c, target, func(tx *sql.Tx) error {
		return callback(ctx, tx, stored, target)
	})

	if err == nil {
		removeBackup(backup, l)
		return nil
	}

	if backup != "" {
		if restoreErr := restoreBackup(ctx, c, path, backup); restoreErr != nil {
			// the main file may be left partially migrated; report distinctly
			return dberr.NewRestore(stored, target, err, restoreErr)
		}

		removeBackup(backup, l)
	}

	return dberr.NewMigration(stored, target, err)
}

// inTx runs f and the version stamp inside one nested transaction.
//
// The stamp is transactional: a rollback restores the previous stored version.
func inTx(ctx context.Context, c *pool.Conn, target int, f func(tx *sql.Tx) error) error {
	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return lazyerrors.Error(err)
	}

	if err = f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		_ = tx.Rollback()
		return lazyerrors.Error(err)
	}

	if err = tx.Commit(); err != nil {
		_ = tx.Rollback()
		return lazyerrors.Error(err)
	}

	return nil
}
