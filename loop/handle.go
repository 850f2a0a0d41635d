package loop

import "github.com/pjfl/p5-async-ipc/reactor"

// WatchReadHandle installs a read-readiness watcher on fd, keyed by
// ("r", fd) per spec.md's data model.
func (l *Loop) WatchReadHandle(fd int, cb TimerFunc) error {
	return l.watchHandle(handleKey{write: false, fd: fd}, cb)
}

// WatchWriteHandle installs a write-readiness watcher on fd, keyed by
// ("w", fd).
func (l *Loop) WatchWriteHandle(fd int, cb TimerFunc) error {
	return l.watchHandle(handleKey{write: true, fd: fd}, cb)
}

func (l *Loop) watchHandle(key handleKey, cb TimerFunc) error {
	l.handles[key] = cb
	return l.syncReactorInterest(key.fd)
}

// UnwatchReadHandle removes a previously installed read watcher.
func (l *Loop) UnwatchReadHandle(fd int) {
	delete(l.handles, handleKey{write: false, fd: fd})
	_ = l.syncReactorInterest(fd)
}

// UnwatchWriteHandle removes a previously installed write watcher.
func (l *Loop) UnwatchWriteHandle(fd int) {
	delete(l.handles, handleKey{write: true, fd: fd})
	_ = l.syncReactorInterest(fd)
}

// syncReactorInterest recomputes the epoll/poll interest mask for fd from
// whichever of the two handle keys are currently present, and pushes it to
// the reactor (Add on first interest, Modify while some interest remains,
// Remove once both are gone).
func (l *Loop) syncReactorInterest(fd int) error {
	_, hasRead := l.handles[handleKey{write: false, fd: fd}]
	_, hasWrite := l.handles[handleKey{write: true, fd: fd}]
	var interest reactor.Interest
	if hasRead {
		interest |= reactor.Readable
	}
	if hasWrite {
		interest |= reactor.Writable
	}
	switch {
	case !hasRead && !hasWrite:
		if !l.registered[fd] {
			return nil
		}
		delete(l.registered, fd)
		return l.react.Remove(fd)
	case l.registered[fd]:
		return l.react.Modify(fd, interest)
	default:
		l.registered[fd] = true
		return l.react.Add(fd, interest)
	}
}
