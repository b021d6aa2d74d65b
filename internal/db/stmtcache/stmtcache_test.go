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

package stmtcache

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/litebeam/litebeam/internal/util/testutil"
)

// testConn returns a pinned connection to a fresh in-memory database.
func testConn(t *testing.T) *sql.Conn {
	t.Helper()

	db, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, err := db.Conn(testutil.Ctx(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestEviction(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	c := New(testConn(t), 3, testutil.Logger(t))
	t.Cleanup(c.Close)

	queries := []string{
		"SELECT 1",
		"SELECT 2",
		"SELECT 3",
		"SELECT 4",
	}

	for _, q := range queries {
		_, err := c.Get(ctx, q)
		require.NoError(t, err)
	}

	// the least-recently-used entry was evicted; size stays at the maximum
	require.Equal(t, 3, c.Len())
	require.EqualValues(t, 4, c.Misses())
	require.EqualValues(t, 0, c.Hits())

	// the evicted text is a fresh miss
	_, err := c.Get(ctx, "SELECT 1")
	require.NoError(t, err)
	require.EqualValues(t, 5, c.Misses())
	require.Equal(t, 3, c.Len())
}

func TestRecency(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	c := New(testConn(t), 2, testutil.Logger(t))
	t.Cleanup(c.Close)

	_, err := c.Get(ctx, "SELECT 1")
	require.NoError(t, err)

	_, err = c.Get(ctx, "SELECT 2")
	require.NoError(t, err)

	// touch "SELECT 1" so "SELECT 2" becomes the eviction candidate
	_, err = c.Get(ctx, "SELECT 1")
	require.NoError(t, err)

	_, err = c.Get(ctx, "SELECT 3")
	require.NoError(t, err)

	_, err = c.Get(ctx, "SELECT 1")
	require.NoError(t, err)
	require.EqualValues(t, 2, c.Hits())

	_, err = c.Get(ctx, "SELECT 2")
	require.NoError(t, err)
	require.EqualValues(t, 2, c.Hits())
	require.EqualValues(t, 4, c.Misses())
}

func TestHitRatio(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	c := New(testConn(t), 8, testutil.Logger(t))
	t.Cleanup(c.Close)

	require.Zero(t, c.HitRatio())

	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, "SELECT 42")
		require.NoError(t, err)
	}

	require.EqualValues(t, 2, c.Hits())
	require.EqualValues(t, 1, c.Misses())
	require.InDelta(t, 0.667, c.HitRatio(), 0.001)
}

func TestRemoveClear(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	c := New(testConn(t), 8, testutil.Logger(t))
	t.Cleanup(c.Close)

	_, err := c.Get(ctx, "SELECT 1")
	require.NoError(t, err)

	_, err = c.Get(ctx, "SELECT 2")
	require.NoError(t, err)

	c.Remove("SELECT 1")
	require.Equal(t, 1, c.Len())

	c.Clear()
	require.Equal(t, 0, c.Len())

	// the cache remains usable after Clear
	_, err = c.Get(ctx, "SELECT 1")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
}

func TestStatementUsable(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	c := New(testConn(t), 2, testutil.Logger(t))
	t.Cleanup(c.Close)

	stmt, err := c.Get(ctx, "SELECT ?")
	require.NoError(t, err)

	var res int64
	require.NoError(t, stmt.QueryRowContext(ctx, int64(7)).Scan(&res))
	require.EqualValues(t, 7, res)

	// a cached handle stays valid on hit
	stmt2, err := c.Get(ctx, "SELECT ?")
	require.NoError(t, err)
	require.Same(t, stmt, stmt2)
}
