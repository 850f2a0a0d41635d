package notify

import (
	"github.com/pjfl/p5-async-ipc/future"
	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notifier"
)

// Handle owns up to two file descriptors (spec.md §4.6): the same fd
// for duplex use, or distinct read/write fds for half-duplex pipes —
// grounded on gate/nb_conn.go's readiness-toggle fields, generalised
// from one fixed socket fd to Handle's configurable pair.
type Handle struct {
	notifier.Base

	readFD, writeFD int

	wantRead  bool
	wantWrite bool

	OnReadReady  func()
	OnWriteReady func()
	OnClosed     func()

	closed        bool
	closeFutures  []*future.Future
}

// NewHandle wraps fd for duplex use (same fd for read and write).
func NewHandle(l *loop.Loop, name string, fd int) (*Handle, error) {
	return NewHalfDuplexHandle(l, name, fd, fd)
}

// NewHalfDuplexHandle wraps distinct read/write fds.
func NewHalfDuplexHandle(l *loop.Loop, name string, readFD, writeFD int) (*Handle, error) {
	h := &Handle{readFD: readFD, writeFD: writeFD}
	if err := h.Base.Init("Handle", name, "", l, nil); err != nil {
		return nil, err
	}
	return h, nil
}

// ReadFD and WriteFD expose the owned descriptors.
func (h *Handle) ReadFD() int  { return h.readFD }
func (h *Handle) WriteFD() int { return h.writeFD }

// SetWantReadReady installs or removes the read-readiness FD watcher.
// Requires OnReadReady to already be set when enabling, per spec.md.
func (h *Handle) SetWantReadReady(want bool) error {
	if want == h.wantRead {
		return nil
	}
	if want {
		if h.OnReadReady == nil {
			return ipcerr.New(ipcerr.Unspecified, "want_readready set with no on_read_ready handler")
		}
		if err := h.Loop.WatchReadHandle(h.readFD, func() { h.InvokeEvent(h.OnReadReady) }); err != nil {
			return err
		}
	} else {
		h.Loop.UnwatchReadHandle(h.readFD)
	}
	h.wantRead = want
	return nil
}

// SetWantWriteReady installs or removes the write-readiness FD watcher.
func (h *Handle) SetWantWriteReady(want bool) error {
	if want == h.wantWrite {
		return nil
	}
	if want {
		if h.OnWriteReady == nil {
			return ipcerr.New(ipcerr.Unspecified, "want_writeready set with no on_write_ready handler")
		}
		if err := h.Loop.WatchWriteHandle(h.writeFD, func() { h.InvokeEvent(h.OnWriteReady) }); err != nil {
			return err
		}
	} else {
		h.Loop.UnwatchWriteHandle(h.writeFD)
	}
	h.wantWrite = want
	return nil
}

func (h *Handle) WantReadReady() bool  { return h.wantRead }
func (h *Handle) WantWriteReady() bool { return h.wantWrite }

// NewCloseFuture returns a Future resolved when Close runs.
func (h *Handle) NewCloseFuture() *future.Future {
	f := future.New(h.Loop)
	h.closeFutures = append(h.closeFutures, f)
	h.AdoptFuture(f)
	return f
}

// Close is idempotent: stops watchers, closes owned fds, fires OnClosed,
// and resolves every pending close future.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.wantRead {
		h.Loop.UnwatchReadHandle(h.readFD)
	}
	if h.wantWrite {
		h.Loop.UnwatchWriteHandle(h.writeFD)
	}
	err := closeFDs(h.readFD, h.writeFD)
	if h.OnClosed != nil {
		h.InvokeEvent(h.OnClosed)
	}
	for _, f := range h.closeFutures {
		f.Done(nil)
	}
	h.closeFutures = nil
	h.Base.Close()
	return err
}

func (h *Handle) Closed() bool { return h.closed }

// SetHandle stops watchers, swaps in new fds, and restarts each watcher
// that was active before the swap, or both when Autostart is set —
// spec.md's set_handle(s) operation.
func (h *Handle) SetHandle(readFD, writeFD int) error {
	wasRead, wasWrite := h.wantRead, h.wantWrite
	if h.wantRead {
		h.Loop.UnwatchReadHandle(h.readFD)
		h.wantRead = false
	}
	if h.wantWrite {
		h.Loop.UnwatchWriteHandle(h.writeFD)
		h.wantWrite = false
	}
	h.readFD, h.writeFD = readFD, writeFD
	if h.Autostart || wasRead {
		if err := h.SetWantReadReady(true); err != nil {
			return err
		}
	}
	if h.Autostart || wasWrite {
		if err := h.SetWantWriteReady(true); err != nil {
			return err
		}
	}
	return nil
}

func closeFDs(a, b int) error {
	var err error
	if e := closeFD(a); e != nil {
		err = e
	}
	if b != a {
		if e := closeFD(b); e != nil {
			err = e
		}
	}
	return err
}
