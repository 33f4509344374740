// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// Package txnengine implements the transaction table: it correlates
// every asynchronous request/response pair between the daemon, the
// kernel and IPCP worker processes. Promises are built on plain
// channels: each carries a "done" channel that a sync.Once closes on
// resolution -- a task-and-channel pattern rather than a callback
// registry.
package txnengine

import (
	"sync"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/objtonum"
	"github.com/rina-project/ipcmd/types"
)

// Promise is returned by Begin. The originator can Wait or TimedWait on
// it; Complete/Abort (called by the response handler), CancelAllFor and
// ExpireDeadlines resolve it. Promise has no cancel method of its own:
// cancelling goes through the Table (Abort or CancelAllFor).
type Promise struct {
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	result types.Result
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) resolve(r types.Result) {
	p.once.Do(func() {
		p.mu.Lock()
		p.result = r
		p.mu.Unlock()
		close(p.done)
	})
}

// Wait blocks until the transaction reaches a terminal state.
func (p *Promise) Wait() types.Result {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// TimedWait blocks until the transaction reaches a terminal state or
// the timeout elapses. On timeout the transaction itself is left
// untouched (its entry is not removed) -- this is a view of the
// promise, not a cancellation.
func (p *Promise) TimedWait(timeout time.Duration) (types.Result, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result, true
	case <-time.After(timeout):
		return types.Result{Status: types.StatusPending}, false
	}
}

// entry is the table's record for one in-flight transaction.
type entry struct {
	id         uint64
	kind       types.TransactionKind
	originator interface{}
	ipcpID     int
	deadline   time.Time
	promise    *Promise
	reqEcho    interface{}
}

// Table is the transaction table. Safe for concurrent use.
type Table struct {
	log     *base.LogObject
	counter *objtonum.MonotonicCounter

	mu      sync.RWMutex
	entries map[uint64]*entry
}

// New creates an empty Table.
func New(log *base.LogObject) *Table {
	return &Table{
		log:     log,
		counter: objtonum.NewMonotonicCounter(1),
		entries: make(map[uint64]*entry),
	}
}

// Begin allocates a transaction id and returns it plus a Promise the
// caller can wait on. originator and reqEcho are opaque to the table;
// the orchestrator uses them to resume building a response once the
// transaction completes.
func (t *Table) Begin(kind types.TransactionKind, ipcpID int, originator, reqEcho interface{}, deadline time.Time) (uint64, *Promise) {
	id := t.counter.Next()
	e := &entry{
		id:         id,
		kind:       kind,
		originator: originator,
		ipcpID:     ipcpID,
		deadline:   deadline,
		promise:    newPromise(),
		reqEcho:    reqEcho,
	}
	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()
	return id, e.promise
}

// Lookup returns the kind, ipcp id and originator/reqEcho for a live
// transaction id, or ok=false if the id is unknown (already completed,
// aborted, or never allocated).
func (t *Table) Lookup(id uint64) (kind types.TransactionKind, ipcpID int, originator, reqEcho interface{}, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, found := t.entries[id]
	if !found {
		return 0, 0, nil, nil, false
	}
	return e.kind, e.ipcpID, e.originator, e.reqEcho, true
}

// Complete resolves transaction id with a successful or failed result
// and removes it from the table. Calling Complete twice for the same id
// returns AlreadyFinalised on the second call and has no further effect.
func (t *Table) Complete(id uint64, payload interface{}, err error) error {
	t.mu.Lock()
	e, found := t.entries[id]
	if !found {
		t.mu.Unlock()
		t.log.Warnf("txnengine: Complete for unknown transaction %d dropped", id)
		return &types.AlreadyFinalised{TransactionID: id}
	}
	delete(t.entries, id)
	t.mu.Unlock()

	status := types.StatusCompleted
	e.promise.resolve(types.Result{Status: status, Payload: payload, Err: err})
	return nil
}

// Abort resolves transaction id as aborted (timeout or explicit
// cancellation) and removes it from the table.
func (t *Table) Abort(id uint64, err error) error {
	t.mu.Lock()
	e, found := t.entries[id]
	if !found {
		t.mu.Unlock()
		return &types.AlreadyFinalised{TransactionID: id}
	}
	delete(t.entries, id)
	t.mu.Unlock()

	e.promise.resolve(types.Result{Status: types.StatusAborted, Err: err})
	return nil
}

// CancelAllFor aborts every transaction owned by the given IPCP id, used
// when the process-exit cleanup scan destroys an IPCP out from under
// its in-flight operations.
func (t *Table) CancelAllFor(ipcpID int) {
	t.mu.Lock()
	var toCancel []*entry
	for id, e := range t.entries {
		if e.ipcpID == ipcpID {
			toCancel = append(toCancel, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
	for _, e := range toCancel {
		e.promise.resolve(types.Result{Status: types.StatusAborted, Err: &types.Cancelled{TransactionID: e.id}})
	}
}

// ExpireDeadlines aborts every transaction whose deadline has passed as
// of now, returning the number aborted. The daemon's
// reapExpiredTransactions goroutine calls this on each timer tick.
func (t *Table) ExpireDeadlines(now time.Time) int {
	t.mu.Lock()
	var expired []*entry
	for id, e := range t.entries {
		if !e.deadline.IsZero() && now.After(e.deadline) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
	for _, e := range expired {
		e.promise.resolve(types.Result{Status: types.StatusAborted, Err: &types.Timeout{TransactionID: e.id, Deadline: e.deadline}})
	}
	return len(expired)
}

// Len reports the number of in-flight transactions, exposed for tests
// and for the admin console's diagnostics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
