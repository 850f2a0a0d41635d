//go:build !linux

package reactor

import "golang.org/x/sys/unix"

// pollReactor backs Reactor with poll(2) on non-Linux unixes, the portable
// fallback to epollReactor; both speak the same Reactor surface so Loop
// never branches on OS.
type pollReactor struct {
	interest map[int]Interest
}

// New constructs the poll(2)-backed Reactor used off Linux.
func New() (Reactor, error) {
	return &pollReactor{interest: make(map[int]Interest)}, nil
}

func (r *pollReactor) Add(fd int, interest Interest) error {
	r.interest[fd] = interest
	return nil
}

func (r *pollReactor) Modify(fd int, interest Interest) error {
	r.interest[fd] = interest
	return nil
}

func (r *pollReactor) Remove(fd int) error {
	delete(r.interest, fd)
	return nil
}

func (r *pollReactor) Wait(dst []Event, timeoutMS int) ([]Event, error) {
	fds := make([]unix.PollFd, 0, len(r.interest))
	order := make([]int, 0, len(r.interest))
	for fd, interest := range r.interest {
		var events int16
		if interest&Readable != 0 {
			events |= unix.POLLIN
		}
		if interest&Writable != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}
	_, err := unix.Poll(fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		dst = append(dst, Event{
			Fd:       order[i],
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
		})
	}
	return dst, nil
}

func (r *pollReactor) Close() error {
	return nil
}
