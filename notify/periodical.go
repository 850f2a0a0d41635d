// Package notify implements the FD- and timer-backed notifiers layered
// directly on loop.Loop: Periodical, FileWatcher, Handle, and Stream
// (spec.md §§4.4-4.7). Grounded on gootp's timer/timer.go wheel (the
// start/stop/restart state machine) and gate/nb_conn.go (the
// readiness-toggle pattern Handle and Stream both generalise).
package notify

import (
	"time"

	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notifier"
)

// Periodical wraps a single Loop timer with the stopped/running state
// machine of spec.md §4.4.
type Periodical struct {
	notifier.Base

	id       int64
	running  bool
	cb       loop.TimerFunc
	interval time.Duration
	sched    loop.Schedule
}

// NewPeriodical constructs a stopped Periodical firing cb every interval.
func NewPeriodical(l *loop.Loop, name string, interval time.Duration, cb loop.TimerFunc) (*Periodical, error) {
	p := &Periodical{id: l.UUID(), interval: interval, cb: cb}
	if err := p.Base.Init("Periodical", name, "", l, nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Start is a no-op if already running; otherwise arms a periodic timer.
func (p *Periodical) Start() error {
	if p.running {
		return nil
	}
	sched := loop.Schedule{After: p.interval, Mode: loop.SchedulePeriodic}
	if err := p.Loop.WatchTime(p.id, p.cb, sched); err != nil {
		return err
	}
	p.sched = sched
	p.running = true
	return nil
}

// Once arms a single one-shot fire at an absolute or relative time,
// clearing Running when it fires.
func (p *Periodical) Once(after time.Duration, abs bool) error {
	if after <= 0 {
		return ipcerr.New(ipcerr.Unspecified, "periodical once requires a time_spec")
	}
	mode := loop.ScheduleRel
	if abs {
		mode = loop.ScheduleAbs
	}
	sched := loop.Schedule{After: after, Mode: mode}
	cb := p.cb
	wrapped := func() {
		p.running = false
		cb()
	}
	if err := p.Loop.WatchTime(p.id, wrapped, sched); err != nil {
		return err
	}
	p.sched = sched
	p.running = true
	return nil
}

// Restart re-arms with the same callback and schedule kind currently in
// effect, per spec.md's "retrieves the current timer's callback, unwatches,
// and re-arms with the same callback" semantics.
func (p *Periodical) Restart() error {
	if p.running {
		p.Loop.UnwatchTime(p.id)
		p.running = false
	}
	if p.sched.Mode == loop.ScheduleAbs || p.sched.Mode == loop.ScheduleRel {
		return p.Once(p.sched.After, p.sched.Mode == loop.ScheduleAbs)
	}
	return p.Start()
}

// Stop unwatches the underlying timer.
func (p *Periodical) Stop() {
	if !p.running {
		return
	}
	p.Loop.UnwatchTime(p.id)
	p.running = false
}

// Running reports the current state-machine state.
func (p *Periodical) Running() bool { return p.running }

// Close implements the "destruction implies stop()" rule.
func (p *Periodical) Close() {
	p.Stop()
	p.Base.Close()
}
