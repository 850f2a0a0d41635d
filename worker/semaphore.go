package worker

import (
	"os"

	"github.com/pjfl/p5-async-ipc/builder"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/process"
)

// Semaphore is a thin specialisation of Routine (spec.md §6): it wraps
// the primary on_recv handler so the handler resets an external
// builder.Lock keyed by the notifier's identity and the caller's pid.
type Semaphore struct {
	*Routine
	identity string
	b        builder.Builder
}

// NewSemaphore constructs a Semaphore wrapping handler, whose reply
// value is returned unchanged after the lock is released.
func NewSemaphore(l *loop.Loop, name string, b builder.Builder, code process.Code, args []string, maxCalls int, handler OnRecv) (*Semaphore, error) {
	s := &Semaphore{identity: name, b: b}
	wrapped := func(self *Routine, callID interface{}, cargs []interface{}) (interface{}, error) {
		defer b.Lock().Reset(s.identity, os.Getpid())
		return handler(self, callID, cargs)
	}
	r, err := New(l, name, b, Options{Code: code, Args: args, OnRecv: []OnRecv{wrapped}, MaxCalls: maxCalls})
	if err != nil {
		return nil, err
	}
	s.Routine = r
	return s, nil
}

// Raise attempts lock.Set(identity, async=true); on success it performs
// one Call(identity, pid), otherwise it returns true without calling —
// per spec.md §6.
func (s *Semaphore) Raise() bool {
	if !s.b.Lock().Set(s.identity, true) {
		return true
	}
	return s.Call(s.identity, os.Getpid())
}

// Close attempts lock.Reset defensively before closing the Routine.
func (s *Semaphore) Close() error {
	s.b.Lock().Reset(s.identity, os.Getpid())
	return s.Stop()
}
