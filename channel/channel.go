// Package channel implements the length-prefixed record transport of
// spec.md §4.8: a connected AF_UNIX/SOCK_STREAM socketpair, sync or
// async per direction, serialised via a pluggable codec.Codec.
// Grounded on gootp's CallInfo/CallResult channel-based message passing
// for the request/response shape, and on notify.Stream for the async
// read/write plumbing; the raw socketpair syscalls are new territory
// for this domain but follow the same golang.org/x/sys/unix surface
// already exercised by the reactor package.
package channel

import (
	"encoding/binary"

	"github.com/pjfl/p5-async-ipc/codec"
	"github.com/pjfl/p5-async-ipc/future"
	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notifier"
	"github.com/pjfl/p5-async-ipc/notify"
	"golang.org/x/sys/unix"
)

// Mode is one endpoint direction's sync/async setting.
type Mode int

const (
	Sync Mode = iota
	Async
)

// RecvHandler is the async on_recv callback shape.
type RecvHandler func(record interface{})

// Socketpair creates a connected AF_UNIX/SOCK_STREAM pair, returning the
// two raw fds (parent end, child end) spec.md's fork-based Process uses
// to hand one side to a child via exec.Cmd.ExtraFiles.
func Socketpair() (parentFD, childFD int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// Channel is one endpoint of a socketpair, per spec.md §4.8.
type Channel struct {
	notifier.Base

	fd   int
	c    codec.Codec
	rm   Mode
	wm   Mode
	read *notify.Stream

	resultQueue []func(kind string, record interface{})
	OnRecv      RecvHandler
	OnEOF       func()
}

// New constructs a Channel over fd using c (defaulting to codec.Gob when
// nil) with the given read/write modes.
func New(l *loop.Loop, name string, fd int, c codec.Codec, readMode, writeMode Mode) (*Channel, error) {
	if c == nil {
		c = codec.Gob{}
	}
	ch := &Channel{fd: fd, c: c, rm: readMode, wm: writeMode}
	if err := ch.Base.Init("Channel", name, "", l, nil); err != nil {
		return nil, err
	}
	if readMode == Async || writeMode == Async {
		h, err := notify.NewHandle(l, name+".stream", fd)
		if err != nil {
			return nil, err
		}
		ch.read = notify.NewStream(h)
		ch.read.Decode = ch.frameDecoder()
		if readMode == Async {
			ch.read.OnRead = func(s *notify.Stream, buf []byte, eof bool) (int, notify.ReadResult) {
				return 0, notify.ReadResult{Keep: true}
			}
			ch.read.OnReadEOF = ch.dispatchEOF
			ch.read.StartReading()
		}
	}
	return ch, nil
}

// frameDecoder turns the length-prefixed wire format into the
// notify.Decoder Stream expects, driving dispatchRecord for each
// complete frame consumed.
func (c *Channel) frameDecoder() notify.Decoder {
	return func(buf []byte) (int, interface{}, error) {
		if len(buf) < 4 {
			return 0, nil, nil
		}
		n := binary.LittleEndian.Uint32(buf[:4])
		if len(buf) < 4+int(n) {
			return 0, nil, nil
		}
		payload := buf[4 : 4+n]
		var record interface{}
		if err := c.c.Decode(payload, &record); err != nil {
			return 0, nil, ipcerr.Wrap(ipcerr.EncodingUnknown, err, "channel %q decode", c.Name)
		}
		c.dispatchRecord(record)
		return 4 + int(n), record, nil
	}
}

// dispatchRecord implements spec.md's async-receive dispatch: pop the
// head of result_queue if any, else fire OnRecv.
func (c *Channel) dispatchRecord(record interface{}) {
	if len(c.resultQueue) > 0 {
		h := c.resultQueue[0]
		c.resultQueue = c.resultQueue[1:]
		h("recv", record)
		return
	}
	if c.OnRecv != nil {
		c.InvokeEvent(func() { c.OnRecv(record) })
	}
}

func (c *Channel) dispatchEOF() {
	for len(c.resultQueue) > 0 {
		h := c.resultQueue[0]
		c.resultQueue = c.resultQueue[1:]
		h("eof", nil)
	}
	if c.OnEOF != nil {
		c.InvokeEvent(c.OnEOF)
	}
}

// Recv enqueues a handler (async mode) and returns a Future resolving
// with the next record, or failing with EOF.
func (c *Channel) Recv() *future.Future {
	f := future.New(c.Loop)
	c.resultQueue = append(c.resultQueue, func(kind string, record interface{}) {
		if kind == "eof" {
			f.Fail(ipcerr.New(ipcerr.StreamClosing, "channel eof"))
			return
		}
		f.Done(record)
	})
	c.AdoptFuture(f)
	return f
}

// Send writes record length-prefixed through c's codec. Sync mode blocks
// with a direct syscall write; async mode queues through the Stream.
func (c *Channel) Send(record interface{}) (int, error) {
	payload, err := c.c.Encode(record)
	if err != nil {
		return 0, ipcerr.Wrap(ipcerr.EncodingUnknown, err, "channel %q encode", c.Name)
	}
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if c.wm == Sync || c.read == nil {
		n, err := unix.Write(c.fd, frame)
		if err != nil {
			c.InvokeError(err)
			return 0, err
		}
		return n, nil
	}
	c.read.Write(frame, nil, nil, nil)
	return len(frame), nil
}

// RecvSync reads exactly one frame with blocking syscalls, per spec.md's
// sync receive: 4 length bytes, then exactly that many payload bytes.
// Returns nil, nil on EOF.
func (c *Channel) RecvSync() (interface{}, error) {
	hdr, err := readExactly(c.fd, 4)
	if err != nil {
		return nil, err
	}
	if hdr == nil {
		return nil, nil
	}
	n := binary.LittleEndian.Uint32(hdr)
	payload, err := readExactly(c.fd, int(n))
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	var record interface{}
	if err := c.c.Decode(payload, &record); err != nil {
		return nil, ipcerr.Wrap(ipcerr.EncodingUnknown, err, "channel %q decode", c.Name)
	}
	return record, nil
}

// readExactly is spec.md's read_exactly(fd, buf, n) contract: it returns
// n bytes on success, nil+error on a real read error, and nil+nil at EOF
// before n bytes were gathered.
func readExactly(fd int, n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		chunk := make([]byte, n-len(buf))
		m, err := unix.Read(fd, chunk)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if m == 0 {
			return nil, nil
		}
		buf = append(buf, chunk[:m]...)
	}
	return buf, nil
}

// Close shuts down the underlying fd and releases the Stream, if any.
func (c *Channel) Close() error {
	if c.read != nil {
		return c.read.CloseNow()
	}
	err := unix.Close(c.fd)
	c.Base.Close()
	return err
}
