// Package worker implements Routine and Function/Pool (spec.md §§4.10-
// 4.11): a Process plus one or more Channels running a recv-compute-
// reply loop, either synchronously in the child or via a nested async
// Loop, and a round-robin pool of such Routines. Grounded on gootp's
// db/db_sync_worker.go recv-loop (the synchronous child entrypoint) and
// httpc/httpc_manager.go's fixed-size worker-pool-with-index pattern
// (the round-robin cursor and on-exit slot eviction).
package worker

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/pjfl/p5-async-ipc/builder"
	"github.com/pjfl/p5-async-ipc/channel"
	"github.com/pjfl/p5-async-ipc/codec"
	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notifier"
	"github.com/pjfl/p5-async-ipc/process"
)

// OnRecv is one call-channel handler: given the routine, the call-id from
// slot 0 and the call's remaining arguments, it returns the reply value
// sent back over the matching return channel. The child entry points
// runChildSync and runChildAsync pass a nil routine.
type OnRecv func(self *Routine, callID interface{}, args []interface{}) (interface{}, error)

// OnReturnHandler is the parent-side return-channel handler (spec.md
// §4.3/§4.10's "optional on_return handler"): callID is whatever slot 0
// held on the matching Call, result is the value the child's OnRecv
// returned. It fires once per reply the child sends back.
type OnReturnHandler func(callID interface{}, result interface{})

// Routine composes one Process with one or more call/return Channel
// pairs, per spec.md §4.10.
type Routine struct {
	notifier.Base

	b        builder.Builder
	proc     *process.Process
	onRecv   []OnRecv
	maxCalls int

	before func(self *Routine)
	after  func(self *Routine)

	wantReturn bool

	callChans   []*channel.Channel
	returnChans []*channel.Channel

	// OnReturn, if set, is invoked on the parent side for every reply
	// delivered on the return channel. Set it directly or via
	// Options.OnReturn before Start.
	OnReturn OnReturnHandler

	running bool
	callSeq int64
}

// Options configures a Routine at construction.
type Options struct {
	Code        process.Code
	Args        []string
	OnRecv      []OnRecv
	MaxCalls    int
	ReturnChans int
	OnReturn    OnReturnHandler
	Before      func(self *Routine)
	After       func(self *Routine)
}

// New constructs a Routine. spec.md requires at least one OnRecv
// handler; construction raises otherwise.
func New(l *loop.Loop, name string, b builder.Builder, opts Options) (*Routine, error) {
	if len(opts.OnRecv) == 0 {
		return nil, ipcerr.New(ipcerr.Unspecified, "routine %q: no on_recv handler provided", name)
	}
	r := &Routine{b: b, onRecv: opts.OnRecv, maxCalls: opts.MaxCalls, before: opts.Before, after: opts.After, OnReturn: opts.OnReturn}
	r.wantReturn = opts.ReturnChans > 0 || opts.Before != nil || opts.After != nil || opts.OnReturn != nil
	if err := r.Base.Init("Routine", name, "", l, nil); err != nil {
		return nil, err
	}
	code := opts.Code
	if code.Entry == "" && len(code.Argv) == 0 && code.Shell == "" {
		code.Entry = name
		r.registerChildEntry(name)
	}
	proc, err := process.New(l, name, b, code, opts.Args, r.onProcessExit)
	if err != nil {
		return nil, err
	}
	r.proc = proc
	return r, nil
}

// registerChildEntry wires this Routine's on_recv handlers as a
// self-re-exec entry point, choosing the sync recv-loop body when
// exactly one handler is configured or the nested-Loop body otherwise
// (spec.md's rule for switching the call side to async). In the async
// case every handler gets its own call channel/fd, per spec.md §4.10's
// "wire each call channel's async receiver to its matching on_recv[i]".
func (r *Routine) registerChildEntry(name string) {
	onRecv := r.onRecv
	maxCalls := r.maxCalls
	before, after := r.before, r.after
	if len(onRecv) > 1 {
		process.RegisterEntry(name, func(args []string) {
			_ = runChildAsync(onRecv, maxCalls, before, after)
		})
		return
	}
	process.RegisterEntry(name, func(args []string) {
		runChildSync(ChildCallFD, ChildReturnFD, onRecv[0], maxCalls)
	})
}

func (r *Routine) onProcessExit(pid, status int) {
	r.running = false
	for _, c := range r.callChans {
		c.Close()
	}
	for _, c := range r.returnChans {
		c.Close()
	}
}

// callChanMode implements spec.md's rule: a call channel's read side is
// async iff more than one on_recv handler is configured.
func (r *Routine) callChanMode() channel.Mode {
	if len(r.onRecv) > 1 {
		return channel.Async
	}
	return channel.Sync
}

// Start starts the Process and opens the parent-side channel ends
// (return-read, call-write), per spec.md. One call channel is opened per
// configured on_recv handler, each over its own socketpair/fd, so a
// multi-handler Routine dispatches call i to on_recv[i] rather than
// funnelling every handler through a single shared channel.
func (r *Routine) Start() error {
	if r.running {
		return nil
	}
	mode := r.callChanMode()
	extraFiles := make([]*os.File, 0, len(r.onRecv)+1)
	callChans := make([]*channel.Channel, len(r.onRecv))
	for i := range r.onRecv {
		parentCallFD, childCallFD, err := channel.Socketpair()
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s.call%d", r.Name, i)
		callCh, err := channel.New(r.Loop, name, parentCallFD, codec.Gob{}, mode, channel.Async)
		if err != nil {
			return err
		}
		callChans[i] = callCh
		extraFiles = append(extraFiles, os.NewFile(uintptr(childCallFD), name))
	}
	r.callChans = callChans

	var returnCh *channel.Channel
	if r.wantReturn {
		parentReturnFD, childReturnFD, err := channel.Socketpair()
		if err != nil {
			return err
		}
		returnCh, err = channel.New(r.Loop, r.Name+".return", parentReturnFD, codec.Gob{}, channel.Async, channel.Sync)
		if err != nil {
			return err
		}
		returnCh.OnRecv = func(record interface{}) {
			frame, ok := record.([]interface{})
			if !ok || len(frame) != 2 || r.OnReturn == nil {
				return
			}
			r.OnReturn(frame[0], frame[1])
		}
		r.returnChans = []*channel.Channel{returnCh}
		extraFiles = append(extraFiles, os.NewFile(uintptr(childReturnFD), r.Name+".return"))
	}

	if err := r.proc.Start(extraFiles); err != nil {
		return err
	}
	r.running = true
	return nil
}

// Stop stops the Process and closes channels.
func (r *Routine) Stop() error {
	if !r.running {
		return nil
	}
	if err := r.proc.Stop(); err != nil {
		return err
	}
	r.running = false
	for _, c := range r.callChans {
		c.Close()
	}
	for _, c := range r.returnChans {
		c.Close()
	}
	return nil
}

// IsRunning reports whether the underlying Process is still alive.
func (r *Routine) IsRunning() bool { return r.running }

// Call implements spec.md's call(args…) -> call_channel(0, args…).
func (r *Routine) Call(args ...interface{}) bool {
	return r.CallChannel(0, args...)
}

// CallChannel stamps args[0] with a fresh call-id when falsy, and
// enqueues the frame on call channel i. Returns false when not running.
func (r *Routine) CallChannel(i int, args ...interface{}) bool {
	if !r.running || i >= len(r.callChans) {
		return false
	}
	if len(args) == 0 || args[0] == nil {
		id := atomic.AddInt64(&r.callSeq, 1)
		args = append([]interface{}{id}, args...)
	}
	_, err := r.callChans[i].Send(args)
	return err == nil
}

// ChildCallFD and ChildReturnFD are the fd numbers a self-re-exec child
// finds its single call/return channel ends at when exactly one on_recv
// handler is configured: exec.Cmd.ExtraFiles always lands at fd 3
// upward in the child, in the order they were listed in Start.
const (
	ChildCallFD   = 3
	ChildReturnFD = 4
)

// childCallFDAt and childReturnFDAfter extend the single-handler layout
// above to the multi-handler case: one call fd per handler starting at 3,
// followed by the return fd.
func childCallFDAt(i int) int                 { return 3 + i }
func childReturnFDAfter(numCallChans int) int { return 3 + numCallChans }

// runChildSync is the sync variant's child entrypoint, per spec.md
// §4.10: blocking recv -> compute -> reply loop on a single call/return
// channel pair, bailing on undef recv or at max_calls.
func runChildSync(callFD, returnFD int, onRecv OnRecv, maxCalls int) {
	callCh, _ := channel.New(nil, "call", callFD, codec.Gob{}, channel.Sync, channel.Sync)
	returnCh, _ := channel.New(nil, "return", returnFD, codec.Gob{}, channel.Sync, channel.Sync)
	calls := 0
	for {
		frame, err := callCh.RecvSync()
		if err != nil || frame == nil {
			return
		}
		args, _ := frame.([]interface{})
		if len(args) == 0 {
			return
		}
		rv, err := onRecv(nil, args[0], args[1:])
		if err != nil {
			continue
		}
		if returnCh != nil {
			_, _ = returnCh.Send([]interface{}{args[0], rv})
		}
		calls++
		if maxCalls > 0 && calls >= maxCalls {
			return
		}
	}
}

// runChildAsync is the async variant's child entrypoint: a fresh nested
// Loop, a return channel whose Sends are blocking writes, and one call channel per
// entry in onRecv — each started read-async and wired to its own
// onRecv[i] (spec.md §4.10: "wire each call channel's async receiver to
// its matching on_recv[i]") — sharing one call budget across all of them
// that stops the loop on exhaustion, a SIGTERM->terminate watcher,
// optional before/after hooks, then a final blocking reap of
// grandchildren.
func runChildAsync(onRecv []OnRecv, maxCalls int, before, after func(self *Routine)) error {
	l, err := loop.New()
	if err != nil {
		return err
	}
	defer l.Close()

	returnCh, _ := channel.New(l, "return", childReturnFDAfter(len(onRecv)), codec.Gob{}, channel.Async, channel.Sync)

	calls := 0
	for i, handler := range onRecv {
		handler := handler
		callCh, err := channel.New(l, fmt.Sprintf("call%d", i), childCallFDAt(i), codec.Gob{}, channel.Async, channel.Async)
		if err != nil {
			return err
		}
		callCh.OnRecv = func(record interface{}) {
			args, _ := record.([]interface{})
			if len(args) == 0 {
				l.Stop()
				return
			}
			rv, err := handler(nil, args[0], args[1:])
			if err == nil && returnCh != nil {
				_, _ = returnCh.Send([]interface{}{args[0], rv})
			}
			calls++
			if maxCalls > 0 && calls >= maxCalls {
				l.Stop()
			}
		}
		callCh.OnEOF = func() { l.Stop() }
	}

	_, _ = l.WatchSignal("TERM", func() { l.Stop() })

	if before != nil {
		before(nil)
	}
	l.Start()
	if after != nil {
		after(nil)
	}
	l.WaitChildren()
	return nil
}
