// Package notifier implements NotifierBase (spec.md §4.2): the common
// fields and lifecycle every watcher type (Periodical, FileWatcher,
// Handle, Stream, Process, Routine, Function) embeds.
//
// spec.md's Perl ancestor captures "weak self" in every callback closure
// to avoid a notifier/loop retain cycle under refcounted GC. Go's garbage
// collector traces and reclaims cycles directly, so that mechanism has no
// work to do here — documented in DESIGN.md's Open Question resolutions.
// What NotifierBase still needs from the original is the uniqueness
// registry (no two live notifiers may share a (type, name) pair) and the
// adopt/invoke/error plumbing, which this file implements directly with
// strong closures.
package notifier

import (
	"fmt"
	"sync"

	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/ipclog"
	"github.com/pjfl/p5-async-ipc/loop"
)

// ErrorFunc is invoked when a notifier's own operation fails (not a
// callback panic, which Loop.safeCall already swallows and logs).
type ErrorFunc func(err error)

// Base is embedded by every concrete notifier. It is not itself a
// notifier; concrete types set Kind to their own type name so the
// uniqueness registry can key on (Kind, Name).
type Base struct {
	mu sync.Mutex

	Kind        string
	Name        string
	Description string
	Loop        *loop.Loop
	Autostart   bool

	closed     bool
	onError    ErrorFunc
	futures    []adoptedFuture
	log        *ipclog.Logger
}

type adoptedFuture interface {
	Cancel()
}

var registryMu sync.Mutex
var registry = make(map[string]struct{})

func registryKey(kind, name string) string { return kind + "\x00" + name }

// Init fills in Base and, if name is non-empty, claims it in the
// process-wide uniqueness registry — spec.md's invariant that no two
// live notifiers of the same kind may share a name.
func (b *Base) Init(kind, name, description string, l *loop.Loop, onError ErrorFunc) error {
	b.Kind = kind
	b.Name = name
	b.Description = description
	b.Loop = l
	b.onError = onError
	b.log = ipclog.Named(kind)
	if name != "" {
		registryMu.Lock()
		key := registryKey(kind, name)
		if _, taken := registry[key]; taken {
			registryMu.Unlock()
			return ipcerr.New(ipcerr.NotifierIdNotUnique, "notifier %s %q already registered", kind, name)
		}
		registry[key] = struct{}{}
		registryMu.Unlock()
	}
	return nil
}

// InvokeEvent calls cb and, on panic, routes the recovered value through
// InvokeError instead of letting it propagate — the notifier-level
// equivalent of Loop.safeCall, used by notifiers that need to report
// failures distinctly from a plain callback panic.
func (b *Base) InvokeEvent(cb func()) {
	defer func() {
		if p := recover(); p != nil {
			b.InvokeError(fmt.Errorf("panic: %v", p))
		}
	}()
	cb()
}

// MaybeInvokeEvent calls cb only if non-nil, otherwise it is a silent
// no-op — several spec.md notifiers accept an optional callback.
func (b *Base) MaybeInvokeEvent(cb func()) {
	if cb == nil {
		return
	}
	b.InvokeEvent(cb)
}

// InvokeError routes a notifier-level error to onError if one was given,
// otherwise logs it — every notifier must fail loudly somewhere.
func (b *Base) InvokeError(err error) {
	if b.onError != nil {
		b.onError(err)
		return
	}
	b.log.Error(0, "%s %q: %v", b.Kind, b.Name, err)
}

// AdoptFuture ties f's lifetime to this notifier: when the notifier
// closes, any future it adopted and never resolved is cancelled rather
// than left dangling.
func (b *Base) AdoptFuture(f adoptedFuture) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.futures = append(b.futures, f)
}

// Close releases the registry claim and cancels adopted futures. Concrete
// notifiers call this from their own Close after unwatching the Loop.
func (b *Base) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	futures := b.futures
	b.futures = nil
	b.mu.Unlock()
	for _, f := range futures {
		f.Cancel()
	}
	if b.Name != "" {
		registryMu.Lock()
		delete(registry, registryKey(b.Kind, b.Name))
		registryMu.Unlock()
	}
}

// Closed reports whether Close has already run.
func (b *Base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
