// Package future implements Future (spec.md §4.3): a single-assignment
// result cell that transitions pending -> done|failed|cancelled exactly
// once, with callbacks delivered on the owning Loop's goroutine.
//
// Grounded on gootp's CallResult/recResult pattern (kernel/context.go):
// a result is produced elsewhere and a waiter either blocks directly on
// it or keeps servicing other work until it arrives. Await below mirrors
// Loop.waitOne's polling adaptation of that idiom rather than a bare
// channel receive, for the same single-goroutine-deadlock reason.
package future

import (
	"time"

	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/loop"
)

type state int

const (
	statePending state = iota
	stateDone
	stateFailed
	stateCancelled
)

// Future is safe to read from any goroutine but is resolved only from the
// owning Loop's goroutine (Done/Fail/Cancel), matching every other
// notifier's single-threaded-mutation contract.
type Future struct {
	l *loop.Loop

	st     state
	result interface{}
	err    error

	onDone    []func(interface{})
	onFail    []func(error)
	onCancel  []func()
}

// New returns a pending Future bound to l.
func New(l *loop.Loop) *Future {
	return &Future{l: l}
}

// IsDone, IsFailed, IsCancelled, IsPending report the current state. A
// Future settles exactly once; after that these never change.
func (f *Future) IsDone() bool      { return f.st == stateDone }
func (f *Future) IsFailed() bool    { return f.st == stateFailed }
func (f *Future) IsCancelled() bool { return f.st == stateCancelled }
func (f *Future) IsPending() bool   { return f.st == statePending }

// OnDone, OnFail, OnCancel register callbacks fired exactly once, at
// resolution time if still pending, or immediately (synchronously) if the
// Future has already settled.
func (f *Future) OnDone(cb func(interface{})) {
	if f.st == stateDone {
		cb(f.result)
		return
	}
	if f.st == statePending {
		f.onDone = append(f.onDone, cb)
	}
}

func (f *Future) OnFail(cb func(error)) {
	if f.st == stateFailed {
		cb(f.err)
		return
	}
	if f.st == statePending {
		f.onFail = append(f.onFail, cb)
	}
}

func (f *Future) OnCancel(cb func()) {
	if f.st == stateCancelled {
		cb()
		return
	}
	if f.st == statePending {
		f.onCancel = append(f.onCancel, cb)
	}
}

// Done resolves the Future successfully. A second call on an already
// settled Future is a no-op, matching the "single assignment" invariant.
func (f *Future) Done(result interface{}) {
	if f.st != statePending {
		return
	}
	f.st = stateDone
	f.result = result
	cbs := f.onDone
	f.onDone, f.onFail, f.onCancel = nil, nil, nil
	for _, cb := range cbs {
		cb(result)
	}
}

// Fail resolves the Future with an error.
func (f *Future) Fail(err error) {
	if f.st != statePending {
		return
	}
	f.st = stateFailed
	f.err = err
	cbs := f.onFail
	f.onDone, f.onFail, f.onCancel = nil, nil, nil
	for _, cb := range cbs {
		cb(err)
	}
}

// Cancel resolves the Future as cancelled without a result or error.
func (f *Future) Cancel() {
	if f.st != statePending {
		return
	}
	f.st = stateCancelled
	cbs := f.onCancel
	f.onDone, f.onFail, f.onCancel = nil, nil, nil
	for _, cb := range cbs {
		cb()
	}
}

func (f *Future) cancel() { f.Cancel() }

// DoneLater and FailLater resolve the Future on the next idle pass of
// the Loop rather than synchronously — spec.md's "defer settlement to
// idle" case, grounded on gootp's watch_idle scheduling of deferred
// actor work.
func (f *Future) DoneLater(result interface{}) {
	id := f.l.UUID()
	_ = f.l.WatchIdle(id, func() { f.Done(result) })
}

// FailLater rejects a falsy exception, per spec.md §4.3: a nil err means
// there's nothing to fail with, so it's a no-op rather than settling the
// Future into a failed state with no error attached.
func (f *Future) FailLater(err error) {
	if err == nil {
		return
	}
	id := f.l.UUID()
	_ = f.l.WatchIdle(id, func() { f.Fail(err) })
}

// Await blocks the calling goroutine until the Future settles or timeout
// elapses, pumping the owning Loop's own tick so any pending work that
// would resolve this Future actually gets to run — the same
// recv-a-result-but-keep-servicing pattern as loop.Loop.waitOne.
func (f *Future) Await(timeout time.Duration) (interface{}, error) {
	deadline := time.Now().Add(timeout)
	forever := timeout <= 0
	for f.st == statePending {
		if !forever && time.Now().After(deadline) {
			return nil, ipcerr.New(ipcerr.Unspecified, "future await timed out")
		}
		f.l.Once(10*time.Millisecond, nil)
	}
	switch f.st {
	case stateDone:
		return f.result, nil
	case stateFailed:
		return nil, f.err
	default:
		return nil, ipcerr.New(ipcerr.Unspecified, "future cancelled")
	}
}
