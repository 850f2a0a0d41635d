package loop

import (
	"container/heap"
	"time"

	"github.com/pjfl/p5-async-ipc/ipcerr"
)

// WatchTime implements spec.md §4.1's watch_time. Negative After is
// clamped to 0.
func (l *Loop) WatchTime(id int64, cb TimerFunc, sched Schedule) error {
	if cb == nil {
		return ipcerr.New(ipcerr.Unspecified, "watch_time: cb required")
	}
	if _, exists := l.timers[id]; exists {
		return ipcerr.New(ipcerr.NotifierIdNotUnique, "timer id %d already watched", id)
	}
	after := sched.After
	if after < 0 {
		after = 0
	}
	now := time.Now()
	e := &timerEntry{id: id, cb: cb}
	switch sched.Mode {
	case ScheduleAbs:
		deadline := time.Unix(0, 0).Add(after)
		if deadline.Before(now) {
			deadline = now
		}
		e.deadline = deadline
		e.mode = ScheduleRel
	case ScheduleRel:
		e.deadline = now.Add(after)
		e.mode = ScheduleRel
	case ScheduleOnceThenPeriodic:
		e.deadline = now.Add(after)
		e.mode = ScheduleOnceThenPeriodic
		e.period = sched.Interval
	default: // SchedulePeriodic
		e.deadline = now.Add(after)
		e.mode = SchedulePeriodic
		e.period = after
	}
	l.timers[id] = e
	heap.Push(&l.timerHeap, e)
	return nil
}

// UnwatchTime cancels the timer and returns its original callback, or nil
// if none was watched under id.
func (l *Loop) UnwatchTime(id int64) TimerFunc {
	e, ok := l.timers[id]
	if !ok {
		return nil
	}
	delete(l.timers, id)
	if e.index >= 0 {
		heap.Remove(&l.timerHeap, e.index)
	}
	return e.cb
}

// WatchingTime reports whether a timer is currently armed under id.
func (l *Loop) WatchingTime(id int64) bool {
	_, ok := l.timers[id]
	return ok
}

// WatchIdle schedules cb to run once the current batch of events has
// drained. The entry is removed before cb executes, guaranteeing one-shot
// semantics even if cb re-arms another idle watch under a fresh id.
func (l *Loop) WatchIdle(id int64, cb TimerFunc) error {
	if cb == nil {
		return ipcerr.New(ipcerr.Unspecified, "watch_idle: cb required")
	}
	if _, exists := l.idle[id]; exists {
		return ipcerr.New(ipcerr.NotifierIdNotUnique, "idle id %d already watched", id)
	}
	l.idle[id] = cb
	l.idleSeq = append(l.idleSeq, id)
	return nil
}

// UnwatchIdle removes a still-pending idle watch.
func (l *Loop) UnwatchIdle(id int64) {
	delete(l.idle, id)
}
