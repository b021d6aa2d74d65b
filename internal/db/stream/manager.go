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

// Package stream provides live-updating query results.
//
// A subscription is registered against the tables its query depends on;
// every completed write schedules a debounced rerun of all affected
// subscriptions, coalescing rapid write bursts into a single refresh.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
	"github.com/litebeam/litebeam/internal/util/resource"
)

// DefaultQuietWindow is the default debounce quiet window.
const DefaultQuietWindow = 16 * time.Millisecond

// Runner re-runs subscription queries. Implemented by the concurrency engine.
type Runner interface {
	Query(ctx context.Context, sql string, params []any) ([]map[string]any, error)
}

// Emission is one live result delivered to a subscription.
//
// An emission error is non-fatal: the subscription stays active for future reruns.
type Emission struct {
	Rows []map[string]any
	Err  error
}

// subscription states.
type state int

const (
	stateRegistered state = iota // awaiting first result
	stateActive
	stateCancelled
)

// Subscription is one live query.
//
// The query is a plain value (SQL text, parameters, table set), not a closure,
// so a rerun request can cross the worker boundary.
//
//nolint:vet // for readability
type Subscription struct {
	id     uuid.UUID
	sql    string
	params []any
	tables []string

	ch chan Emission
	m  *Manager

	// guarded by m.rw
	state state
	timer *time.Timer

	// a write landed before the first result was emitted;
	// the rerun is scheduled on activation. Guarded by m.rw
	pendingRerun bool
}

// ID returns the subscription id.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Tables returns the registered table dependency set.
func (s *Subscription) Tables() []string {
	return s.tables
}

// C returns the emission channel. It is closed on cancellation.
//
// The channel holds the latest result only: a consumer that falls behind
// observes the most recent emission, not every intermediate one.
func (s *Subscription) C() <-chan Emission {
	return s.ch
}

// Cancel unregisters all dependencies, cancels any pending rerun,
// and closes the emission channel. It is safe to call at any time, more than once.
func (s *Subscription) Cancel() {
	s.m.cancel(s)
}

// Manager owns all subscriptions and the table dependency index.
//
//nolint:vet // for readability
type Manager struct {
	l      *zap.Logger
	runner Runner
	window time.Duration

	rw      sync.Mutex
	subs    map[uuid.UUID]*Subscription
	byTable map[string]map[uuid.UUID]struct{}
	closed  bool

	rerunsTotal int64

	token *resource.Token
}

// NewManager creates a new stream manager.
//
// If window is not positive, DefaultQuietWindow is used.
func NewManager(runner Runner, window time.Duration, l *zap.Logger) *Manager {
	if window <= 0 {
		window = DefaultQuietWindow
	}

	m := &Manager{
		l:       l.Named("stream"),
		runner:  runner,
		window:  window,
		subs:    make(map[uuid.UUID]*Subscription),
		byTable: make(map[string]map[uuid.UUID]struct{}),
		token:   resource.NewToken(),
	}

	resource.Track(m, m.token)

	return m
}

// Watch registers a new subscription and runs its query once immediately,
// emitting the first result or error before any change-triggered rerun.
//
// Tables overrides the dependency set; if nil, dependencies are extracted
// from the SQL text.
func (m *Manager) Watch(ctx context.Context, sql string, params []any, tables []string) (*Subscription, error) {
	if tables == nil {
		tables = ExtractTables(sql)
	}

	s := &Subscription{
		id:     uuid.New(),
		sql:    sql,
		params: params,
		tables: tables,
		ch:     make(chan Emission, 1),
		state:  stateRegistered,
	}
	s.m = m

	m.rw.Lock()

	if m.closed {
		m.rw.Unlock()
		return nil, dberr.New(dberr.ErrorCodeClosed, lazyerrors.New("stream manager is closed"))
	}

	m.subs[s.id] = s

	for _, t := range s.tables {
		ids := m.byTable[t]
		if ids == nil {
			ids = make(map[uuid.UUID]struct{})
			m.byTable[t] = ids
		}

		ids[s.id] = struct{}{}
	}

	m.rw.Unlock()

	m.l.Debug("Subscription registered.",
		zap.Stringer("id", s.id), zap.Strings("tables", s.tables), zap.String("sql", sql))

	rows, err := m.runner.Query(ctx, s.sql, s.params)

	m.rw.Lock()
	defer m.rw.Unlock()

	// cancelled while the first query was running; the channel is already closed
	if s.state == stateCancelled {
		return s, nil
	}

	s.state = stateActive
	m.emit(s, Emission{Rows: rows, Err: err})

	// a write landed during the first query; its rerun runs after the first emission
	if s.pendingRerun {
		s.pendingRerun = false
		m.debounce(s)
	}

	return s, nil
}

// NotifyWrites schedules debounced reruns for all subscriptions affected
// by the given completed write statements.
//
// A subscription is scheduled at most once per notification cycle,
// even if several of its dependent tables changed in the same write.
func (m *Manager) NotifyWrites(sqls []string) {
	touched := make(map[string]struct{})

	for _, q := range sqls {
		for _, t := range ExtractTables(q) {
			touched[t] = struct{}{}
		}
	}

	if len(touched) == 0 {
		return
	}

	m.rw.Lock()
	defer m.rw.Unlock()

	if m.closed {
		return
	}

	affected := make(map[uuid.UUID]struct{})

	for t := range touched {
		for id := range m.byTable[t] {
			affected[id] = struct{}{}
		}
	}

	for id := range affected {
		m.debounce(m.subs[id])
	}
}

// debounce restarts the subscription's quiet window.
//
// Only the rerun scheduled last within a burst actually executes.
// Called with m.rw held.
func (m *Manager) debounce(s *Subscription) {
	if s == nil || s.state == stateCancelled {
		return
	}

	// the first result is not out yet; starting the timer now could let the rerun's
	// fresh rows be overwritten by the slower first query's snapshot
	if s.state == stateRegistered {
		s.pendingRerun = true
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	s.timer = time.AfterFunc(m.window, func() {
		m.rerun(s)
	})
}

// rerun refreshes one subscription after its quiet window elapsed.
func (m *Manager) rerun(s *Subscription) {
	m.rw.Lock()

	if m.closed || s.state == stateCancelled {
		m.rw.Unlock()
		return
	}

	s.timer = nil
	m.rerunsTotal++
	m.rw.Unlock()

	rows, err := m.runner.Query(context.Background(), s.sql, s.params)

	if err != nil {
		m.l.Debug("Subscription rerun failed.", zap.Stringer("id", s.id), zap.Error(err))
	}

	m.rw.Lock()
	defer m.rw.Unlock()

	// the subscription may have been cancelled while the query was running
	if s.state == stateCancelled {
		return
	}

	m.emit(s, Emission{Rows: rows, Err: err})
}

// emit delivers an emission, replacing an unconsumed previous one.
// Called with m.rw held; never blocks.
func (m *Manager) emit(s *Subscription, e Emission) {
	select {
	case s.ch <- e:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- e:
	default:
	}
}

// cancel removes the subscription from the index and closes its channel.
func (m *Manager) cancel(s *Subscription) {
	m.rw.Lock()

	if s.state == stateCancelled {
		m.rw.Unlock()
		return
	}

	s.state = stateCancelled

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	m.unregister(s)

	m.rw.Unlock()

	close(s.ch)

	m.l.Debug("Subscription cancelled.", zap.Stringer("id", s.id))
}

// unregister removes the subscription from both reverse maps symmetrically.
// Called with m.rw held.
func (m *Manager) unregister(s *Subscription) {
	for _, t := range s.tables {
		if ids := m.byTable[t]; ids != nil {
			delete(ids, s.id)

			if len(ids) == 0 {
				delete(m.byTable, t)
			}
		}
	}

	delete(m.subs, s.id)
}

// Close cancels all subscriptions and rejects future ones.
func (m *Manager) Close() {
	m.rw.Lock()

	if m.closed {
		m.rw.Unlock()
		return
	}

	m.closed = true

	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}

	m.rw.Unlock()

	for _, s := range subs {
		m.cancel(s)
	}

	resource.Untrack(m, m.token)

	m.l.Debug("Stream manager closed.")
}
