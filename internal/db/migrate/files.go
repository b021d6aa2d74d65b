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

package migrate

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
)

// BackupSuffix is appended to the primary file name for migration backups.
const BackupSuffix = ".backup"

// memoryPath returns true for paths that have no backing file.
func memoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// createBackup checkpoints the write-ahead log and copies the main database file
// alongside itself with the backup suffix.
//
// It returns an empty path for in-memory instances, which have nothing to back up.
func createBackup(ctx context.Context, c *pool.Conn, path string) (string, error) {
	if memoryPath(path) {
		return "", nil
	}

	// fold all sidecar state into the main file before copying it
	if _, err := c.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", lazyerrors.Error(err)
	}

	backup := path + BackupSuffix

	if err := copyFile(path, backup); err != nil {
		return "", lazyerrors.Error(err)
	}

	return backup, nil
}

// restoreBackup overwrites the main database file with the backup
// and drops stale sidecar files.
func restoreBackup(ctx context.Context, c *pool.Conn, path, backup string) error {
	// release the engine's claim on the current file contents
	if _, err := c.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return lazyerrors.Error(err)
	}

	if err := copyFile(backup, path); err != nil {
		return lazyerrors.Error(err)
	}

	for _, sidecar := range []string{path + "-wal", path + "-shm"} {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// removeBackup deletes the backup file; a backup never outlives its migration attempt.
func removeBackup(backup string, l *zap.Logger) {
	if backup == "" {
		return
	}

	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		l.Warn("Failed to remove backup file.", zap.String("backup", backup), zap.Error(err))
	}
}

// copyFile copies src over dst, creating or truncating dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return lazyerrors.Error(err)
	}

	defer in.Close() //nolint:errcheck // read-only file

	out, err := os.Create(dst)
	if err != nil {
		return lazyerrors.Error(err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return lazyerrors.Error(err)
	}

	if err = out.Sync(); err != nil {
		_ = out.Close()
		return lazyerrors.Error(err)
	}

	return out.Close()
}
