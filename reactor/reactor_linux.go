//go:build linux

package reactor

import "golang.org/x/sys/unix"

// epollReactor backs Reactor with epoll(7), grounded on
// momentics-hioload-ws's reactor/reactor_linux.go linuxReactor.
type epollReactor struct {
	fd int
}

// New constructs the Linux epoll-backed Reactor.
func New() (Reactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollReactor{fd: fd}, nil
}

func toEpollEvents(interest Interest) uint32 {
	var ev uint32
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *epollReactor) Add(fd int, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(r.fd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (r *epollReactor) Modify(fd int, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(r.fd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (r *epollReactor) Remove(fd int) error {
	return unix.EpollCtl(r.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (r *epollReactor) Wait(dst []Event, timeoutMS int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(r.fd, raw, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		dst = append(dst, Event{
			Fd:       int(raw[i].Fd),
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
		})
	}
	return dst, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.fd)
}
