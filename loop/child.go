package loop

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// childWatch tracks one watch_child(pid>0, cb) registration plus the
// condvar used when a caller synchronously drains via WaitChildren.
type childWatch struct {
	pid  int
	cb   ChildExitFunc
	done chan int // receives WEXITSTATUS once the exit is delivered, whether or not cb is set (the recv-a-condvar path)
}

// reaper owns the background Wait4 goroutines — one per watched pid, the
// simplest correct way to observe "this exact child exited" in Go without
// racing unrelated Wait4 calls elsewhere in the process.
type reaper struct {
	l       *Loop
	mu      sync.Mutex
	active  map[int]*childWatch
	stopped bool
}

func newReaper(l *Loop) *reaper {
	return &reaper{l: l, active: make(map[int]*childWatch)}
}

// WatchChild installs a child-exit watcher for pid (spec.md §4.1's
// watch_child(pid>0, cb) case): on exit, cb is invoked with the
// WEXITSTATUS-decoded status, then the watch is released.
func (l *Loop) WatchChild(pid int, cb ChildExitFunc) {
	w := &childWatch{pid: pid, cb: cb, done: make(chan int, 1)}
	l.reaper.mu.Lock()
	l.reaper.active[pid] = w
	l.reaper.mu.Unlock()
	l.childWatchers[pid] = w
	go l.reaper.wait(w)
}

// UnwatchChild cancels a pending watch without waiting for exit.
func (l *Loop) UnwatchChild(pid int) {
	l.reaper.mu.Lock()
	delete(l.reaper.active, pid)
	l.reaper.mu.Unlock()
	delete(l.childWatchers, pid)
}

func (r *reaper) wait(w *childWatch) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(w.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		break
	}
	status := ws.ExitStatus()
	r.mu.Lock()
	_, stillActive := r.active[w.pid]
	delete(r.active, w.pid)
	r.mu.Unlock()
	if !stillActive {
		return
	}
	r.l.postAsync(func() {
		delete(r.l.childWatchers, w.pid)
		if w.cb != nil {
			r.l.safeCall(func() { w.cb(status) })
		}
		select {
		case w.done <- status:
		default:
		}
	})
}

// WaitChildren implements watch_child(0, nil): synchronously block until
// every currently-watched child has exited, in ascending pid order, then
// unwatch each.
func (l *Loop) WaitChildren() {
	pids := l.watchedPids()
	for _, pid := range pids {
		l.waitOne(pid)
	}
}

// WaitChildrenSelected implements watch_child(0, cb): cb returns the
// ordered list of pids to wait for.
func (l *Loop) WaitChildrenSelected(selector func() []int) {
	for _, pid := range selector() {
		l.waitOne(pid)
	}
}

// stop marks the reaper inactive so any in-flight Wait4 goroutines skip
// their postAsync delivery once they return (the goroutines themselves are
// not interrupted — Wait4 has no cancellation — but they become no-ops).
func (r *reaper) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.active = make(map[int]*childWatch)
}

func (l *Loop) watchedPids() []int {
	pids := make([]int, 0, len(l.childWatchers))
	for pid := range l.childWatchers {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// waitOne blocks the calling (loop) goroutine until pid's exit has been
// reaped, pumping the loop's own tick so the reaper goroutine's postAsync
// delivery (which only runs inside runTick) actually gets a chance to run —
// the Go analogue of gootp's "recv a condvar, but still service messages"
// pattern in Context.recResult.
func (l *Loop) waitOne(pid int) {
	w, ok := l.childWatchers[pid]
	if !ok {
		return
	}
	for {
		select {
		case <-w.done:
			delete(l.childWatchers, pid)
			return
		default:
		}
		l.runTick(20 * time.Millisecond)
	}
}
