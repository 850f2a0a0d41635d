package worker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pjfl/p5-async-ipc/builder"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notifier"
)

// cursors holds the round-robin cursor per pool name, surviving pool
// destruction — spec.md's explicit requirement that restarts not always
// hit the same slot first.
var cursorsMu sync.Mutex
var cursors = make(map[string]int)

// Pool is Function (spec.md §4.11): max_workers Routines dispatched
// round-robin, workers created on demand, auto-evicted on exit.
type Pool struct {
	notifier.Base

	l        *loop.Loop
	b        builder.Builder
	opts     Options
	maxW     int
	workers  map[int]*Routine
	order    []int
	running  bool
}

// NewPool constructs a Pool of at most maxWorkers Routines built from opts.
func NewPool(l *loop.Loop, name string, b builder.Builder, maxWorkers int, opts Options) (*Pool, error) {
	p := &Pool{l: l, b: b, opts: opts, maxW: maxWorkers, workers: make(map[int]*Routine)}
	if err := p.Base.Init("Function", name, "", l, nil); err != nil {
		return nil, err
	}
	cursorsMu.Lock()
	if _, ok := cursors[name]; !ok {
		cursors[name] = 0
	}
	cursorsMu.Unlock()
	p.running = true
	return p, nil
}

// Call selects the next worker round-robin, creating it on demand.
func (p *Pool) Call(args ...interface{}) bool {
	if !p.running {
		return false
	}
	cursorsMu.Lock()
	idx := cursors[p.Name] % p.maxW
	cursors[p.Name] = idx + 1
	cursorsMu.Unlock()

	w, ok := p.workers[idx]
	if !ok {
		var err error
		w, err = p.spawn(idx)
		if err != nil {
			p.InvokeError(err)
			return false
		}
	}
	return w.Call(args...)
}

func (p *Pool) spawn(idx int) (*Routine, error) {
	name := fmt.Sprintf("%s.%d", p.Name, idx)
	opts := p.opts
	opts.Code.Entry = "" // force a fresh per-slot registered entry
	w, err := New(p.l, name, p.b, opts)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	originalExit := w.proc.OnExit
	w.proc.OnExit = func(pid, status int) {
		if originalExit != nil {
			originalExit(pid, status)
		}
		delete(p.workers, idx)
		p.removeFromOrder(idx)
	}
	p.workers[idx] = w
	p.order = append(p.order, idx)
	return w, nil
}

func (p *Pool) removeFromOrder(idx int) {
	out := p.order[:0]
	for _, i := range p.order {
		if i != idx {
			out = append(out, i)
		}
	}
	p.order = out
}

// Stop stops all current workers.
func (p *Pool) Stop() {
	idxs := make([]int, 0, len(p.workers))
	for idx := range p.workers {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		_ = p.workers[idx].Stop()
	}
}

// Close stops all workers and frees the pool's notifier registration.
// The round-robin cursor for this name deliberately survives Close —
// spec.md requires restarts not always hit the same slot first.
func (p *Pool) Close() {
	p.Stop()
	p.running = false
	p.Base.Close()
}
