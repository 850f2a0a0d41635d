// Package reactor is the FD-readiness multiplexer the Loop's handle watchers
// sit on top of. It is deliberately tiny: one Register/Modify/Remove/Wait
// surface, platform-specific underneath, the same split momentics-hioload-ws
// uses across reactor_linux.go/reactor_windows.go/reactor_stub.go for its
// EventReactor.
package reactor

// Interest is a bitmask of readiness a caller wants notified about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event reports which interests fired for a given fd.
type Event struct {
	Fd        int
	Readable  bool
	Writable  bool
}

// Reactor multiplexes readiness across registered file descriptors.
type Reactor interface {
	// Add starts watching fd for the given interest set.
	Add(fd int, interest Interest) error
	// Modify changes the interest set for an already-registered fd.
	Modify(fd int, interest Interest) error
	// Remove stops watching fd entirely.
	Remove(fd int) error
	// Wait blocks up to timeoutMS (0 = return immediately, -1 = forever)
	// and appends ready events to dst, returning the updated slice.
	Wait(dst []Event, timeoutMS int) ([]Event, error)
	// Close releases the underlying OS resources.
	Close() error
}
