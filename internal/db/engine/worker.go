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
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/litebeam/litebeam/internal/db/dberr"
	"github.com/litebeam/litebeam/internal/db/executor"
	"github.com/litebeam/litebeam/internal/db/pool"
	"github.com/litebeam/litebeam/internal/util/lazyerrors"
	"github.com/litebeam/litebeam/internal/util/resource"
)

// requestsBuffer is the capacity of the worker request channel.
const requestsBuffer = 16

// worker is the message-passing strategy.
//
// A dedicated goroutine owns the pool and processes requests
// strictly in arrival order from a single channel.
// Read requests are dispatched onto read connections,
// so a long-running write does not block concurrently issued reads.
//
//nolint:vet // for readability
type worker struct {
	l        *zap.Logger
	pool     *pool.Pool
	observer WriteObserver

	requests  chan *request
	responses chan *response

	nextID atomic.Uint64

	// pending maps correlation ids to the outstanding result slot of each caller
	pendingMu sync.Mutex
	pending   map[uint64]chan *response

	// sendMu serializes shutdown against request submission:
	// once closed is set under the write lock, nothing enters the channel
	// behind the close marker
	sendMu sync.RWMutex
	closed bool

	closeOnce sync.Once
	loopDone  chan struct{}
	dispDone  chan struct{}

	// in-flight read dispatches
	reads sync.WaitGroup

	token *resource.Token
}

// newWorker creates a worker engine over the given pool and starts its goroutines.
func newWorker(p *pool.Pool, l *zap.Logger, observer WriteObserver) *worker {
	w := &worker{
		l:         l.Named("worker"),
		pool:      p,
		observer:  observer,
		requests:  make(chan *request, requestsBuffer),
		responses: make(chan *response, requestsBuffer),
		pending:   make(map[uint64]chan *response),
		loopDone:  make(chan struct{}),
		dispDone:  make(chan struct{}),
		token:     resource.NewToken(),
	}

	resource.Track(w, w.token)

	go w.loop()
	go w.dispatch()

	return w
}

// call submits a request and waits for its correlated response.
//
// There is no mid-flight cancellation: a submitted request completes
// or is rejected when the worker is closed.
func (w *worker) call(req *request) *response {
	w.sendMu.RLock()

	if w.closed {
		w.sendMu.RUnlock()

		return &response{err: closedErr(req.kind)}
	}

	req.id = w.nextID.Add(1)

	ch := make(chan *response, 1)

	w.pendingMu.Lock()
	w.pending[req.id] = ch
	w.pendingMu.Unlock()

	w.requests <- req
	w.sendMu.RUnlock()

	return <-ch
}

// loop is the worker goroutine: it owns the pool and processes requests in arrival order.
func (w *worker) loop() {
	defer close(w.loopDone)

	for req := range w.requests {
		if req.kind == kindClose {
			w.shutdown(req)
			return
		}

		w.handle(req)
	}
}

// handle processes one request.
//
// Execution contexts of submitted requests are detached from their callers:
// correlations complete or are rejected en masse at close, never mid-flight.
func (w *worker) handle(req *request) {
	ctx := context.Background()

	if req.kind.read() {
		c, err := w.pool.AcquireRead(ctx)
		if err != nil {
			w.respond(&response{id: req.id, err: err})
			return
		}

		w.reads.Add(1)

		go func() {
			defer w.reads.Done()
			defer w.pool.ReleaseRead(c)

			var data any

			switch req.kind {
			case kindQuery:
				data, err = executor.Query(ctx, c, req.sql, req.params)
			default: // kindQueryRaw
				data, err = executor.QueryRaw(ctx, c, req.sql, req.params)
			}

			w.respond(&response{id: req.id, data: data, err: err})
		}()

		return
	}

	c, err := w.pool.AcquireWrite(ctx)
	if err != nil {
		w.respond(&response{id: req.id, err: err})
		return
	}

	var data any

	switch req.kind {
	case kindExecute:
		err = executor.Execute(ctx, c, req.sql, req.params)
	case kindInsert:
		data, err = executor.Insert(ctx, c, req.sql, req.params)
	case kindUpdate:
		data, err = executor.Update(ctx, c, req.sql, req.params)
	case kindTransaction, kindBatch:
		err = runOps(ctx, c, req.ops)
	default:
		err = lazyerrors.Errorf("unexpected kind %s", req.kind)
	}

	w.pool.ReleaseWrite()

	if err == nil {
		w.notify(req)
	}

	w.respond(&response{id: req.id, data: data, err: err})
}

// notify reports the tables-touching SQL of a completed write to the observer.
func (w *worker) notify(req *request) {
	if w.observer == nil {
		return
	}

	switch req.kind {
	case kindTransaction, kindBatch:
		w.observer(opSQLs(req.ops))
	default:
		w.observer([]string{req.sql})
	}
}

// respond hands a response to the dispatcher.
func (w *worker) respond(resp *response) {
	w.responses <- resp
}

// dispatch matches responses back to waiting callers by correlation id.
func (w *worker) dispatch() {
	defer close(w.dispDone)

	for resp := range w.responses {
		w.pendingMu.Lock()
		ch := w.pending[resp.id]
		delete(w.pending, resp.id)
		w.pendingMu.Unlock()

		if ch != nil {
			ch <- resp
		}
	}
}

// shutdown rejects everything still queued behind the close marker,
// waits for in-flight reads, and acknowledges the close request.
func (w *worker) shutdown(closeReq *request) {
	for {
		select {
		case req := <-w.requests:
			w.respond(&response{id: req.id, err: closedErr(req.kind)})
			continue
		default:
		}

		break
	}

	w.reads.Wait()

	w.respond(&response{id: closeReq.id})
}

// Execute implements Engine.
func (w *worker) Execute(ctx context.Context, sql string, params []any) error {
	resp := w.call(&request{kind: kindExecute, sql: sql, params: params})
	return resp.err
}

// Query implements Engine.
func (w *worker) Query(ctx context.Context, sql string, params []any) ([]map[string]any, error) {
	resp := w.call(&request{kind: kindQuery, sql: sql, params: params})
	if resp.err != nil {
		return nil, resp.err
	}

	return resp.data.([]map[string]any), nil
}

// QueryRaw implements Engine.
func (w *worker) QueryRaw(ctx context.Context, sql string, params []any) (*executor.RawRows, error) {
	resp := w.call(&request{kind: kindQueryRaw, sql: sql, params: params})
	if resp.err != nil {
		return nil, resp.err
	}

	return resp.data.(*executor.RawRows), nil
}

// Insert implements Engine.
func (w *worker) Insert(ctx context.Context, sql string, params []any) (int64, error) {
	resp := w.call(&request{kind: kindInsert, sql: sql, params: params})
	if resp.err != nil {
		return 0, resp.err
	}

	return resp.data.(int64), nil
}

// Update implements Engine.
func (w *worker) Update(ctx context.Context, sql string, params []any) (int64, error) {
	resp := w.call(&request{kind: kindUpdate, sql: sql, params: params})
	if resp.err != nil {
		return 0, resp.err
	}

	return resp.data.(int64), nil
}

// Transaction implements Engine.
func (w *worker) Transaction(ctx context.Context, ops []Op) error {
	resp := w.call(&request{kind: kindTransaction, ops: ops})
	return resp.err
}

// Batch implements Engine.
func (w *worker) Batch(ctx context.Context, ops []Op) error {
	resp := w.call(&request{kind: kindBatch, ops: ops})
	return resp.err
}

// Close drains all pending requests with a closed error,
// terminates the worker, and releases pool resources.
func (w *worker) Close() error {
	w.closeOnce.Do(func() {
		w.sendMu.Lock()
		w.closed = true
		w.sendMu.Unlock()

		req := &request{id: w.nextID.Add(1), kind: kindClose}

		ch := make(chan *response, 1)

		w.pendingMu.Lock()
		w.pending[req.id] = ch
		w.pendingMu.Unlock()

		w.requests <- req
		<-ch

		<-w.loopDone

		close(w.responses)
		<-w.dispDone

		// reject correlations that never reached the worker
		w.pendingMu.Lock()

		for id, pch := range w.pending {
			delete(w.pending, id)
			pch <- &response{id: id, err: closedErr(kindClose)}
		}

		w.pendingMu.Unlock()

		w.pool.Close()

		resource.Untrack(w, w.token)

		w.l.Debug("Worker closed.")
	})

	return nil
}

// closedErr returns a new closed error for the given operation kind.
func closedErr(k kind) error {
	return dberr.New(dberr.ErrorCodeClosed, lazyerrors.Errorf("engine is closed (%s)", k))
}

// check interfaces
var (
	_ Engine = (*worker)(nil)
)
