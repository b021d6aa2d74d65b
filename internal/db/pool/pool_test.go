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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/util/testutil"
)

func TestOpenClose(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{
		Path:               testutil.DatabasePath(t),
		MaxReadConnections: 2,
	}, testutil.Logger(t))
	require.NoError(t, err)

	require.Len(t, p.reads, 2)

	c, err := p.AcquireWrite(ctx)
	require.NoError(t, err)

	_, err = c.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	p.ReleaseWrite()

	p.Close()

	// Close is idempotent
	p.Close()

	_, err = p.AcquireWrite(ctx)
	require.True(t, dberr.ErrorCodeIs(err, dberr.ErrorCodeClosed))

	_, err = p.AcquireRead(ctx)
	require.True(t, dberr.ErrorCodeIs(err, dberr.ErrorCodeClosed))
}

func TestPragmas(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{
		Path:        testutil.DatabasePath(t),
		JournalMode: "wal",
		TempStore:   "memory",
	}, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	for pragma, expected := range map[string]string{
		"busy_timeout": "5000",
		"journal_mode": "wal",
		"temp_store":   "2",
	} {
		var actual string
		err = p.Write().QueryRowContext(ctx, "PRAGMA "+pragma).Scan(&actual)
		require.NoError(t, err)
		require.Equal(t, expected, actual, pragma)
	}
}

func TestWriteFIFO(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{Path: testutil.DatabasePath(t)}, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	_, err = p.AcquireWrite(ctx)
	require.NoError(t, err)

	const n = 5

	order := make(chan int, n)

	// enqueue waiters one at a time so arrival order is deterministic
	for i := 0; i < n; i++ {
		i := i

		go func() {
			if _, err := p.AcquireWrite(ctx); err != nil {
				order <- -1
				return
			}

			order <- i

			p.ReleaseWrite()
		}()

		require.Eventually(t, func() bool {
			p.rw.Lock()
			defer p.rw.Unlock()

			return len(p.waiters) == i+1
		}, time.Second, time.Millisecond)
	}

	// no waiter is granted the connection before the holder releases it
	select {
	case got := <-order:
		t.Fatalf("waiter %d acquired before release", got)
	case <-time.After(50 * time.Millisecond):
	}

	p.ReleaseWrite()

	for i := 0; i < n; i++ {
		select {
		case got := <-order:
			require.Equal(t, i, got, "grants must preserve arrival order")
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was not granted", i)
		}
	}
}

func TestReadDegradesToSharing(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{
		Path:               testutil.DatabasePath(t),
		MaxReadConnections: 2,
	}, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	c1, err := p.AcquireRead(ctx)
	require.NoError(t, err)

	c2, err := p.AcquireRead(ctx)
	require.NoError(t, err)
	require.NotSame(t, c1, c2)

	// saturation: the first read connection is shared, never a suspension
	c3, err := p.AcquireRead(ctx)
	require.NoError(t, err)
	require.Same(t, c1, c3)

	p.ReleaseRead(c3)
	p.ReleaseRead(c2)

	c4, err := p.AcquireRead(ctx)
	require.NoError(t, err)
	require.Same(t, c1, c4)
}

func TestReadOnlyConnections(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{
		Path:               testutil.DatabasePath(t),
		MaxReadConnections: 1,
	}, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	c, err := p.AcquireRead(ctx)
	require.NoError(t, err)

	defer p.ReleaseRead(c)

	_, err = c.ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.Error(t, err)
}

func TestMemoryRoutesReadsThroughWrite(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{
		Path:               ":memory:",
		MaxReadConnections: 4,
	}, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	require.Empty(t, p.reads)

	c, err := p.AcquireRead(ctx)
	require.NoError(t, err)
	require.Same(t, p.write, c)

	// writes through the write connection are visible to reads
	_, err = p.Write().ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	var n int
	err = c.QueryRowContext(ctx, "SELECT count(*) FROM t").Scan(&n)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCloseRejectsQueuedWriters(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{Path: testutil.DatabasePath(t)}, testutil.Logger(t))
	require.NoError(t, err)

	_, err = p.AcquireWrite(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)

	go func() {
		_, err := p.AcquireWrite(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		p.rw.Lock()
		defer p.rw.Unlock()

		return len(p.waiters) == 1
	}, time.Second, time.Millisecond)

	p.Close()

	select {
	case err := <-errCh:
		require.True(t, dberr.ErrorCodeIs(err, dberr.ErrorCodeClosed))
	case <-time.After(time.Second):
		t.Fatal("queued writer was not rejected")
	}
}

func TestAcquireWriteCancellation(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	p, err := Open(ctx, &Config{Path: testutil.DatabasePath(t)}, testutil.Logger(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	_, err = p.AcquireWrite(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithCancel(ctx)

	errCh := make(chan error, 1)

	go func() {
		_, err := p.AcquireWrite(waitCtx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		p.rw.Lock()
		defer p.rw.Unlock()

		return len(p.waiters) == 1
	}, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("canceled waiter did not return")
	}

	// the queue must be clean after cancellation
	p.rw.Lock()
	require.Empty(t, p.waiters)
	p.rw.Unlock()

	// the holder can still release and re-acquire
	p.ReleaseWrite()

	_, err = p.AcquireWrite(ctx)
	require.NoError(t, err)
	p.ReleaseWrite()
}
