// Package factory implements the Factory façade of spec.md §6: a
// single entry point that constructs notifiers by type keyword plus a
// keyword bag, injecting the shared builder and loop into each.
// Grounded on gootp's kernel.StartOpt keyword-option pattern
// (kernel/actor.go) — Go's analogue of a Perl constructor's flat kwarg
// list is a small options struct per notifier kind, dispatched from one
// switch, which is what this file does.
package factory

import (
	"time"

	"github.com/pjfl/p5-async-ipc/builder"
	"github.com/pjfl/p5-async-ipc/channel"
	"github.com/pjfl/p5-async-ipc/codec"
	"github.com/pjfl/p5-async-ipc/future"
	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notify"
	"github.com/pjfl/p5-async-ipc/process"
	"github.com/pjfl/p5-async-ipc/worker"
)

// Factory shares one Loop and Builder across every notifier it builds.
type Factory struct {
	L *loop.Loop
	B builder.Builder
}

// New returns a Factory bound to l and b.
func New(l *loop.Loop, b builder.Builder) *Factory {
	return &Factory{L: l, B: b}
}

// FutureOpts, HandleOpts, StreamOpts, PeriodicalOpts, FileWatcherOpts,
// ChannelOpts, ProcessOpts, RoutineOpts, PoolOpts, SemaphoreOpts are the
// keyword bags for each notifier type spec.md §6 names.
type FutureOpts struct{}

type HandleOpts struct {
	Name string
	FD   int
}

type StreamOpts struct {
	Name string
	FD   int
}

type PeriodicalOpts struct {
	Name     string
	Interval int64 // nanoseconds
	Cb       loop.TimerFunc
}

type FileWatcherOpts struct {
	Name     string
	Path     string
	Interval int64 // nanoseconds
	Cbs      notify.FileWatcherCallbacks
}

type ChannelOpts struct {
	Name      string
	FD        int
	Codec     string
	ReadMode  channel.Mode
	WriteMode channel.Mode
}

type ProcessOpts struct {
	Name   string
	Code   process.Code
	Args   []string
	OnExit func(pid, status int)
}

type RoutineOpts struct {
	Name string
	worker.Options
}

type PoolOpts struct {
	Name       string
	MaxWorkers int
	worker.Options
}

type SemaphoreOpts struct {
	Name     string
	Code     process.Code
	Args     []string
	MaxCalls int
	Handler  worker.OnRecv
}

// New<Type> methods are the factory's constructors, one per spec.md §6
// notifier keyword. A leading "+" on a caller-supplied type string
// (handled by NewByType) selects a fully-qualified override — here that
// maps to a caller-registered builder func rather than a class name,
// since Go has no runtime class loading.
func (f *Factory) NewFuture() *future.Future { return future.New(f.L) }

func (f *Factory) NewHandle(o HandleOpts) (*notify.Handle, error) {
	return notify.NewHandle(f.L, o.Name, o.FD)
}

func (f *Factory) NewStream(o StreamOpts) (*notify.Stream, error) {
	h, err := notify.NewHandle(f.L, o.Name, o.FD)
	if err != nil {
		return nil, err
	}
	return notify.NewStream(h), nil
}

func (f *Factory) NewPeriodical(o PeriodicalOpts) (*notify.Periodical, error) {
	return notify.NewPeriodical(f.L, o.Name, durationOf(o.Interval), o.Cb)
}

func (f *Factory) NewFileWatcher(o FileWatcherOpts) (*notify.FileWatcher, error) {
	return notify.NewFileWatcher(f.L, o.Name, o.Path, durationOf(o.Interval), o.Cbs)
}

func (f *Factory) NewChannel(o ChannelOpts) (*channel.Channel, error) {
	return channel.New(f.L, o.Name, o.FD, codec.ByName(o.Codec), o.ReadMode, o.WriteMode)
}

func (f *Factory) NewProcess(o ProcessOpts) (*process.Process, error) {
	return process.New(f.L, o.Name, f.B, o.Code, o.Args, o.OnExit)
}

func (f *Factory) NewRoutine(o RoutineOpts) (*worker.Routine, error) {
	return worker.New(f.L, o.Name, f.B, o.Options)
}

func (f *Factory) NewPool(o PoolOpts) (*worker.Pool, error) {
	return worker.NewPool(f.L, o.Name, f.B, o.MaxWorkers, o.Options)
}

func (f *Factory) NewSemaphore(o SemaphoreOpts) (*worker.Semaphore, error) {
	return worker.NewSemaphore(f.L, o.Name, f.B, o.Code, o.Args, o.MaxCalls, o.Handler)
}

func durationOf(ns int64) time.Duration { return time.Duration(ns) }

// NewByType dispatches on spec.md §6's type keyword
// (channel|file|fileStream|function|future|handle|periodical|process|
// routine|semaphore|stream), with opts the matching Opts struct above.
// Overridden constructs (those registered via RegisterOverride for a
// "+Name" type) bypass the switch entirely.
func (f *Factory) NewByType(kind string, opts interface{}) (interface{}, error) {
	if len(kind) > 0 && kind[0] == '+' {
		return f.newOverride(kind[1:], opts)
	}
	switch kind {
	case "future":
		return f.NewFuture(), nil
	case "handle":
		o, _ := opts.(HandleOpts)
		return f.NewHandle(o)
	case "stream":
		o, _ := opts.(StreamOpts)
		return f.NewStream(o)
	case "periodical":
		o, _ := opts.(PeriodicalOpts)
		return f.NewPeriodical(o)
	case "file", "fileStream":
		o, _ := opts.(FileWatcherOpts)
		return f.NewFileWatcher(o)
	case "channel":
		o, _ := opts.(ChannelOpts)
		return f.NewChannel(o)
	case "process":
		o, _ := opts.(ProcessOpts)
		return f.NewProcess(o)
	case "routine":
		o, _ := opts.(RoutineOpts)
		return f.NewRoutine(o)
	case "function":
		o, _ := opts.(PoolOpts)
		return f.NewPool(o)
	case "semaphore":
		o, _ := opts.(SemaphoreOpts)
		return f.NewSemaphore(o)
	default:
		return nil, ipcerr.New(ipcerr.ClassLoadFailed, "factory: unknown notifier type %q", kind)
	}
}

// overrides lets a caller register a fully-qualified constructor under
// a bare name, used when a "+Name" type is requested.
var overrides = map[string]func(*Factory, interface{}) (interface{}, error){}

// RegisterOverride installs a constructor reachable via "+name".
func RegisterOverride(name string, ctor func(*Factory, interface{}) (interface{}, error)) {
	overrides[name] = ctor
}

func (f *Factory) newOverride(name string, opts interface{}) (interface{}, error) {
	ctor, ok := overrides[name]
	if !ok {
		return nil, ipcerr.New(ipcerr.ClassLoadFailed, "factory: no override registered for %q", name)
	}
	return ctor(f, opts)
}
