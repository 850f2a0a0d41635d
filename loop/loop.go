// Package loop implements the single-threaded cooperative reactor at the
// centre of the runtime (spec.md §4.1). One Loop is active per OS process;
// nested Start() calls stack their stop-channel the way gootp's actor.go
// stacks initStop frames, and the whole keyed-watcher state is rebuilt from
// scratch after fork (see fork.go), matching spec.md's invariant I4.
package loop

import (
	"container/heap"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pjfl/p5-async-ipc/ipclog"
	"github.com/pjfl/p5-async-ipc/reactor"
)

type handleKey struct {
	write bool
	fd    int
}

// Loop is the reactor. All exported methods except Stop/UUID are intended
// to be called only from the goroutine currently running Start/Once — the
// same single-threaded assumption spec.md §5 states explicitly.
type Loop struct {
	pid int

	timers    map[int64]*timerEntry
	timerHeap timerHeap

	idleSeq   []int64
	idle      map[int64]TimerFunc

	handles    map[handleKey]TimerFunc
	registered map[int]bool
	react      reactor.Reactor

	childWatchers map[int]*childWatch
	reaper        *reaper

	signals *signalTable

	uuidCounter int64

	stopStack []chan []interface{}

	wakeR, wakeW *os.File

	asyncMu sync.Mutex
	asyncQ  []func()

	log *ipclog.Logger
}

// New builds a fresh Loop bound to the current OS process.
func New() (*Loop, error) {
	l := &Loop{log: ipclog.Named("loop")}
	if err := l.initForPid(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loop) initForPid() error {
	react, err := reactor.New()
	if err != nil {
		return err
	}
	r, w, err := os.Pipe()
	if err != nil {
		react.Close()
		return err
	}
	if err := react.Add(int(r.Fd()), reactor.Readable); err != nil {
		react.Close()
		r.Close()
		w.Close()
		return err
	}
	l.pid = os.Getpid()
	l.timers = make(map[int64]*timerEntry)
	l.timerHeap = nil
	l.idle = make(map[int64]TimerFunc)
	l.idleSeq = nil
	l.handles = make(map[handleKey]TimerFunc)
	l.registered = make(map[int]bool)
	l.react = react
	l.childWatchers = make(map[int]*childWatch)
	l.reaper = newReaper(l)
	l.signals = newSignalTable(l)
	l.stopStack = nil
	l.wakeR, l.wakeW = r, w
	l.asyncQ = nil
	return nil
}

// wake breaks a blocked Wait() by writing one byte to the self-pipe; safe
// to call from any goroutine (signal delivery, child reaper).
func (l *Loop) wake() {
	if l.wakeW != nil {
		_, _ = l.wakeW.Write([]byte{0})
	}
}

// postAsync queues fn to run on the loop's own goroutine at the next tick.
// This is the only state mutation allowed off the loop goroutine.
func (l *Loop) postAsync(fn func()) {
	l.asyncMu.Lock()
	l.asyncQ = append(l.asyncQ, fn)
	l.asyncMu.Unlock()
	l.wake()
}

func (l *Loop) drainAsync() {
	l.asyncMu.Lock()
	q := l.asyncQ
	l.asyncQ = nil
	l.asyncMu.Unlock()
	for _, fn := range q {
		l.safeCall(fn)
	}
}

// safeCall runs a user callback and logs+swallows any panic — per spec.md
// §7, "callbacks that throw are logged and swallowed; the loop never
// aborts on a user handler error", grounded on gootp's CatchFun/Catch.
func (l *Loop) safeCall(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error(l.pid, "callback panic: %v", p)
		}
	}()
	fn()
}

// UUID returns a process-wide monotonically increasing positive integer
// (spec.md invariant: strictly increasing in call order).
func (l *Loop) UUID() int64 {
	return atomic.AddInt64(&l.uuidCounter, 1)
}

// Start blocks until a matching Stop() call. Nested calls are allowed;
// each completes at its own matching Stop, newest first — the channel
// stack mirrors gootp's actor.go saving/restoring initStop frames across
// re-entrant loop starts.
func (l *Loop) Start() []interface{} {
	ch := make(chan []interface{}, 1)
	l.stopStack = append(l.stopStack, ch)
	defer func() {
		l.stopStack = l.stopStack[:len(l.stopStack)-1]
	}()
	for {
		select {
		case args := <-ch:
			return args
		default:
		}
		l.runTick(50 * time.Millisecond)
	}
}

// StartNB is the non-blocking variant: it spawns the same wait but invokes
// cb with the stop arguments instead of returning them.
func (l *Loop) StartNB(cb func(args []interface{})) {
	go func() {
		args := l.Start()
		cb(args)
	}()
}

// Stop signals the innermost active Start()/StartNB() call.
func (l *Loop) Stop(args ...interface{}) {
	if len(l.stopStack) == 0 {
		return
	}
	top := l.stopStack[len(l.stopStack)-1]
	select {
	case top <- args:
	default:
	}
	l.wake()
}

// Once polls pending events exactly once: due timers, the idle queue, one
// non-blocking pass over FD readiness, pending signals and child exits.
// With timeout set it additionally arms a one-shot timer that invokes cb
// at expiry and keeps processing events until that timer fires; it does
// not return early once nothing is left pending. With no timeout, cb is
// not called — resolving spec.md §9's Open Question: a call with no
// timeout drains whatever is immediately pending and returns without
// blocking for new work.
func (l *Loop) Once(timeout time.Duration, cb TimerFunc) {
	if timeout <= 0 {
		l.runTick(0)
		return
	}
	done := make(chan struct{}, 1)
	id := l.UUID()
	_ = l.WatchTime(id, func() {
		if cb != nil {
			cb()
		}
		select {
		case done <- struct{}{}:
		default:
		}
	}, Schedule{After: timeout, Mode: ScheduleRel})
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-done:
			return
		default:
		}
		if time.Now().After(deadline) {
			return
		}
		l.runTick(10 * time.Millisecond)
	}
}

// runTick performs one reactor pass: compute the wait budget from the
// nearest timer deadline (capped by maxWait), poll the reactor, dispatch
// ready handles, fire due timers, drain async work (signals, child
// exits), and finally run one batch of idle callbacks.
func (l *Loop) runTick(maxWait time.Duration) {
	wait := l.nextWaitBudget(maxWait)
	events, err := l.react.Wait(nil, int(wait/time.Millisecond))
	if err != nil {
		l.log.Error(l.pid, "reactor wait error: %v", err)
	}
	for _, ev := range events {
		if ev.Fd == int(l.wakeR.Fd()) {
			l.drainWake()
			continue
		}
		if ev.Readable {
			if cb, ok := l.handles[handleKey{write: false, fd: ev.Fd}]; ok {
				l.safeCall(cb)
			}
		}
		if ev.Writable {
			if cb, ok := l.handles[handleKey{write: true, fd: ev.Fd}]; ok {
				l.safeCall(cb)
			}
		}
	}
	l.fireDueTimers()
	l.drainAsync()
	l.runIdleBatch()
}

func (l *Loop) drainWake() {
	buf := make([]byte, 64)
	for {
		n, err := l.wakeR.Read(buf)
		if n == 0 || err != nil {
			return
		}
		if n < len(buf) {
			return
		}
	}
}

func (l *Loop) nextWaitBudget(maxWait time.Duration) time.Duration {
	if len(l.timerHeap) == 0 {
		return maxWait
	}
	until := time.Until(l.timerHeap[0].deadline)
	if until < 0 {
		return 0
	}
	if until < maxWait {
		return until
	}
	return maxWait
}

func (l *Loop) fireDueTimers() {
	now := time.Now()
	var due []*timerEntry
	for len(l.timerHeap) > 0 && !l.timerHeap[0].deadline.After(now) {
		e := heap.Pop(&l.timerHeap).(*timerEntry)
		due = append(due, e)
	}
	for _, e := range due {
		if e.mode == SchedulePeriodic || e.mode == ScheduleOnceThenPeriodic {
			e.mode = SchedulePeriodic
			e.deadline = e.deadline.Add(e.period)
			if e.deadline.Before(now) {
				e.deadline = now.Add(e.period)
			}
			heap.Push(&l.timerHeap, e)
		} else {
			delete(l.timers, e.id)
		}
		l.safeCall(e.cb)
	}
}

func (l *Loop) runIdleBatch() {
	seq := l.idleSeq
	l.idleSeq = nil
	for _, id := range seq {
		cb, ok := l.idle[id]
		if !ok {
			continue
		}
		delete(l.idle, id)
		l.safeCall(cb)
	}
}

// Close releases the reactor and self-pipe. Intended for process shutdown,
// not normal notifier teardown.
func (l *Loop) Close() error {
	l.reaper.stop()
	l.signals.stop()
	err := l.react.Close()
	l.wakeR.Close()
	l.wakeW.Close()
	return err
}
