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

package stream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/util/testutil"
)

// countingRunner returns a fixed result and counts query executions.
type countingRunner struct {
	queries atomic.Int64
	rows    []map[string]any
	err     error
}

func (r *countingRunner) Query(ctx context.Context, sql string, params []any) ([]map[string]any, error) {
	r.queries.Add(1)
	return r.rows, r.err
}

// blockingRunner holds every query until released, signalling its start.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	rows    []map[string]any
}

func (r *blockingRunner) Query(ctx context.Context, sql string, params []any) ([]map[string]any, error) {
	r.started <- struct{}{}
	<-r.release

	return r.rows, nil
}

// staleFreshRunner blocks its first query until released and returns a stale
// snapshot from it; every later query returns the fresh rows.
type staleFreshRunner struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func (r *staleFreshRunner) Query(ctx context.Context, sql string, params []any) ([]map[string]any, error) {
	if r.calls.Add(1) == 1 {
		r.started <- struct{}{}
		<-r.release

		return []map[string]any{{"v": "stale"}}, nil
	}

	return []map[string]any{{"v": "fresh"}}, nil
}

func TestWatchFirstEmission(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := &countingRunner{rows: []map[string]any{{"n": int64(1)}}}

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	sub, err := m.Watch(ctx, "SELECT n FROM counters", nil, nil)
	require.NoError(t, err)

	t.Cleanup(sub.Cancel)

	assert.Equal(t, []string{"counters"}, sub.Tables())

	// the first result is emitted before any change-triggered rerun
	select {
	case e := <-sub.C():
		require.NoError(t, e.Err)
		assert.Equal(t, runner.rows, e.Rows)
	case <-time.After(time.Second):
		t.Fatal("no first emission")
	}

	assert.EqualValues(t, 1, runner.queries.Load())
}

func TestTablesOverride(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := new(countingRunner)

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	sub, err := m.Watch(ctx, "SELECT custom_view_column()", nil, []string{"orders", "items"})
	require.NoError(t, err)

	t.Cleanup(sub.Cancel)

	assert.Equal(t, []string{"orders", "items"}, sub.Tables())

	<-sub.C()

	// a write to an overridden table triggers a rerun
	m.NotifyWrites([]string{"INSERT INTO items DEFAULT VALUES"})

	require.Eventually(t, func() bool {
		return runner.queries.Load() == 2
	}, time.Second, time.Millisecond)
}

func TestDebounceCoalesces(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := new(countingRunner)

	m := NewManager(runner, 50*time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	sub, err := m.Watch(ctx, "SELECT * FROM events", nil, nil)
	require.NoError(t, err)

	t.Cleanup(sub.Cancel)

	<-sub.C()
	require.EqualValues(t, 1, runner.queries.Load())

	// a burst of writes within the quiet window coalesces into one rerun
	for i := 0; i < 10; i++ {
		m.NotifyWrites([]string{"INSERT INTO events DEFAULT VALUES"})
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return runner.queries.Load() == 2
	}, time.Second, time.Millisecond)

	// quiet afterwards: no further reruns
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 2, runner.queries.Load())
}

func TestUnrelatedWrites(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := new(countingRunner)

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	sub, err := m.Watch(ctx, "SELECT * FROM users", nil, nil)
	require.NoError(t, err)

	t.Cleanup(sub.Cancel)

	<-sub.C()

	m.NotifyWrites([]string{"INSERT INTO audit_log DEFAULT VALUES"})
	m.NotifyWrites([]string{"SELECT * FROM users"}) // reads are never writes, but even so: no rerun storm

	time.Sleep(50 * time.Millisecond)

	// only the write to a dependent table schedules a rerun;
	// here SELECT mentions users, so one rerun fires
	assert.LessOrEqual(t, runner.queries.Load(), int64(2))
}

func TestIndependentDebounce(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := new(countingRunner)

	m := NewManager(runner, 30*time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	subA, err := m.Watch(ctx, "SELECT * FROM a", nil, nil)
	require.NoError(t, err)
	t.Cleanup(subA.Cancel)

	subB, err := m.Watch(ctx, "SELECT * FROM b", nil, nil)
	require.NoError(t, err)
	t.Cleanup(subB.Cancel)

	<-subA.C()
	<-subB.C()
	require.EqualValues(t, 2, runner.queries.Load())

	// keep resetting a's window while b's window runs out undisturbed
	for i := 0; i < 5; i++ {
		m.NotifyWrites([]string{"INSERT INTO a DEFAULT VALUES"})

		if i == 0 {
			m.NotifyWrites([]string{"INSERT INTO b DEFAULT VALUES"})
		}

		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return runner.queries.Load() == 4
	}, time.Second, time.Millisecond)
}

func TestEmissionReplaced(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := new(countingRunner)

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	sub, err := m.Watch(ctx, "SELECT * FROM t", nil, nil)
	require.NoError(t, err)

	t.Cleanup(sub.Cancel)

	// do not consume the first emission; let two reruns replace it
	m.NotifyWrites([]string{"INSERT INTO t DEFAULT VALUES"})

	require.Eventually(t, func() bool {
		return runner.queries.Load() == 2
	}, time.Second, time.Millisecond)

	m.NotifyWrites([]string{"INSERT INTO t DEFAULT VALUES"})

	require.Eventually(t, func() bool {
		return runner.queries.Load() == 3
	}, time.Second, time.Millisecond)

	// a consumer that fell behind sees the latest emission, then an empty channel
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("no emission")
	}

	select {
	case e, ok := <-sub.C():
		t.Fatalf("unexpected extra emission %v (ok=%v)", e, ok)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := new(countingRunner)

	m := NewManager(runner, 20*time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	sub, err := m.Watch(ctx, "SELECT * FROM t", nil, nil)
	require.NoError(t, err)

	<-sub.C()

	// a pending rerun dies with the subscription
	m.NotifyWrites([]string{"INSERT INTO t DEFAULT VALUES"})
	sub.Cancel()

	// the channel is closed
	_, ok := <-sub.C()
	require.False(t, ok)

	// Cancel is idempotent
	sub.Cancel()

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, runner.queries.Load())

	// the dependency index is clean; further writes schedule nothing
	m.rw.Lock()
	assert.Empty(t, m.subs)
	assert.Empty(t, m.byTable)
	m.rw.Unlock()
}

func TestCloseDuringFirstQuery(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := &blockingRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))

	var sub *Subscription

	done := make(chan struct{})

	go func() {
		defer close(done)

		s, err := m.Watch(ctx, "SELECT * FROM t", nil, nil)
		assert.NoError(t, err)

		sub = s
	}()

	<-runner.started

	// the subscription is registered but its first query is still running;
	// closing now must not make Watch send on the closed channel
	m.Close()

	close(runner.release)
	<-done

	require.NotNil(t, sub)

	_, ok := <-sub.C()
	require.False(t, ok)
}

func TestWriteDuringFirstQuery(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := &staleFreshRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	var sub *Subscription

	done := make(chan struct{})

	go func() {
		defer close(done)

		s, err := m.Watch(ctx, "SELECT v FROM t", nil, nil)
		assert.NoError(t, err)

		sub = s
	}()

	<-runner.started

	// the write lands while the first query still holds the pre-write snapshot
	m.NotifyWrites([]string{"INSERT INTO t (v) VALUES ('x')"})

	close(runner.release)
	<-done

	require.NotNil(t, sub)
	t.Cleanup(sub.Cancel)

	// the rerun runs after the first emission, so the consumer ends up
	// with the fresh rows, never stuck on the stale snapshot
	require.Eventually(t, func() bool {
		select {
		case e := <-sub.C():
			return assert.ObjectsAreEqual([]map[string]any{{"v": "fresh"}}, e.Rows)
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, 2, runner.calls.Load())
}

func TestManagerClose(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := new(countingRunner)

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))

	sub, err := m.Watch(ctx, "SELECT * FROM t", nil, nil)
	require.NoError(t, err)

	<-sub.C()

	m.Close()

	// Close is idempotent
	m.Close()

	_, ok := <-sub.C()
	require.False(t, ok)

	_, err = m.Watch(ctx, "SELECT * FROM t", nil, nil)
	require.True(t, dberr.ErrorCodeIs(err, dberr.ErrorCodeClosed))

	// notifications after close are ignored
	m.NotifyWrites([]string{"INSERT INTO t DEFAULT VALUES"})

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, runner.queries.Load())
}

func TestEmissionError(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	runner := &countingRunner{err: dberr.New(dberr.ErrorCodeQuery, assert.AnError)}

	m := NewManager(runner, time.Millisecond, testutil.Logger(t))
	t.Cleanup(m.Close)

	sub, err := m.Watch(ctx, "SELECT * FROM t", nil, nil)
	require.NoError(t, err)

	t.Cleanup(sub.Cancel)

	// a failing query still registers; the error is delivered through the stream
	e := <-sub.C()
	require.Error(t, e.Err)
	assert.True(t, dberr.ErrorCodeIs(e.Err, dberr.ErrorCodeQuery))

	// the subscription survives and reruns on later writes
	m.NotifyWrites([]string{"INSERT INTO t DEFAULT VALUES"})

	require.Eventually(t, func() bool {
		return runner.queries.Load() == 2
	}, time.Second, time.Millisecond)
}
