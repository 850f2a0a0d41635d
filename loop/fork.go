package loop

import (
	"os"
	"sync"
)

// current is the process-wide Loop singleton, the Go analogue of gootp's
// package-level globals (loggerServerPid, appPid, initServerPid) that
// every kernel subsystem reaches for instead of threading a parameter
// through every call.
var (
	currentMu  sync.Mutex
	current    *Loop
	currentPid int
)

// Current returns the process-wide Loop, creating it on first use. If the
// cached instance belongs to a stale pid — the post-fork invariant I4, "the
// cache is keyed by current pid so the child sees an empty loop even if it
// shared address space briefly" — it is discarded and rebuilt. In this
// runtime children are always separate exec'd processes (see the process
// package), so a fresh Go runtime already guarantees empty watcher state;
// this check is a safety net against any code path that reaches Current()
// after a raw syscall.ForkExec without an intervening exec.
func Current() *Loop {
	currentMu.Lock()
	defer currentMu.Unlock()
	pid := os.Getpid()
	if current == nil || currentPid != pid {
		l, err := New()
		if err != nil {
			panic(err)
		}
		current = l
		currentPid = pid
	}
	return current
}

// ResetCurrent discards the cached singleton; used by tests and by process
// children that want a Loop constructed with non-default options.
func ResetCurrent() {
	currentMu.Lock()
	defer currentMu.Unlock()
	if current != nil {
		_ = current.Close()
	}
	current = nil
	currentPid = 0
}
