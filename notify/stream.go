package notify

import (
	"regexp"

	"github.com/pjfl/p5-async-ipc/bpool"
	"github.com/pjfl/p5-async-ipc/future"
	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/ringbuffer"
	"golang.org/x/sys/unix"
)

// Encoder/Decoder let a Stream transcode plain bytes written/read through
// it. Decode follows spec.md's stop-at-partial policy: it must report how
// many of the input bytes it actually consumed.
type Encoder func(plain []byte) ([]byte, error)
type Decoder func(buf []byte) (consumed int, decoded interface{}, err error)

// ReadResult is what flush_one_read/on_read hand back: Keep asks the
// caller to leave the item at the head of the queue (needs more data),
// Replace swaps in a new handler, and neither set means "pop and
// continue".
type ReadResult struct {
	Keep    bool
	Replace func(s *Stream, eof bool) ReadResult
}

// ReadItem is spec.md's queued read handler: OnRead is called with the
// current buffer contents and an EOF flag.
type ReadItem struct {
	OnRead func(s *Stream, buf []byte, eof bool) (consumed int, result ReadResult)
	Future *future.Future

	// cancelled is set once Future.Cancel fires (spec.md §4.7/§5:
	// cancelling a future linked to a read-item disables the handler
	// but still lets the read queue drain past it).
	cancelled bool
}

// WriteItem is spec.md's queued write source: exactly one of Data,
// Producer, or Pending is set.
type WriteItem struct {
	Data     []byte
	Producer func() []byte // returns nil when exhausted
	Pending  *future.Future

	WriteLen int
	OnWrite  func(n int)
	OnFlush  func()
	OnError  func(err error)
	watching bool
}

// Stream layers buffered, framed-or-unframed, watermarked read/write over
// a Handle (spec.md §4.7) — the single hardest component in the runtime.
// Grounded on gate/nb_conn.go's readiness-toggle fields, generalised from
// one hardcoded protocol to the four independent want-flags spec.md
// requires, and on bpool/ringbuffer for the read buffer and the two
// FIFO queues — both already single-threaded, lock-free structures that
// match this package's single-goroutine contract without modification.
type Stream struct {
	*Handle

	ReadLen  int
	WriteAll bool
	ReadAll  bool

	CloseOnReadEOF bool
	Autoflush      bool

	ReadHighWatermark int
	ReadLowWatermark  int

	Encode Encoder
	Decode Decoder

	OnRead              func(s *Stream, buf []byte, eof bool) (consumed int, result ReadResult)
	OnReadEOF           func()
	OnReadHighWatermark func()
	OnReadLowWatermark  func()
	OnWriteable         func(writeable bool)
	OnOutgoingEmpty     func()
	OnWriteEOF          func()
	OnWriteError        func(err error)

	readBuf         *bpool.Buff
	bytesRemaining  []byte
	readQueue       *ringbuffer.SingleRingBuffer
	writeQueue      *ringbuffer.SingleRingBuffer

	isClosing      bool
	readEOF        bool
	writeEOF       bool
	writeable      bool
	atHighWM       bool
	flushingRead   bool

	wantReadForRead   bool
	wantReadForWrite  bool
	wantWriteForRead  bool
	wantWriteForWrite bool

	pendingHead *WriteItem // write item blocked on an unresolved Future; holds queue order
}

// NewStream wraps an already-constructed Handle.
func NewStream(h *Handle) *Stream {
	s := &Stream{
		Handle:    h,
		ReadLen:   8192,
		readBuf:   bpool.New(8192),
		readQueue: ringbuffer.NewSingleRingBuffer(8, 64),
		writeQueue: ringbuffer.NewSingleRingBuffer(8, 64),
		writeable:  true,
	}
	h.OnReadReady = func() { s.doRead() }
	h.OnWriteReady = func() { s.doWrite() }
	return s
}

func (s *Stream) recomputeWant() {
	_ = s.SetWantReadReady(s.wantReadForRead || s.wantReadForWrite)
	_ = s.SetWantWriteReady(s.wantWriteForRead || s.wantWriteForWrite)
}

// --- read path -------------------------------------------------------

func (s *Stream) startReading() { s.wantReadForRead = true; s.recomputeWant() }
func (s *Stream) stopReading()  { s.wantReadForRead = false; s.recomputeWant() }

// StartReading arms continuous reading without queuing a read future —
// the case of a caller that only configures OnRead/Decode and expects the
// Stream to keep reading on its own, e.g. an async Channel endpoint.
func (s *Stream) StartReading() { s.startReading() }

// StopReading halts the continuous reading StartReading armed.
func (s *Stream) StopReading() { s.stopReading() }

// doRead implements spec.md's do_read steps 1-6.
func (s *Stream) doRead() {
	for {
		if s.readBuf.Size() >= s.readBuf.Cap() {
			grown := bpool.New(s.readBuf.Cap() * 2)
			grown.Append(s.readBuf.ToBytes()...)
			s.readBuf.Free()
			s.readBuf = grown
		}
		n, err := unix.Read(s.ReadFD(), s.readBuf.ToBytes()[s.readBuf.Size():s.readBuf.Cap()])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return
			}
			s.InvokeError(err)
			return
		}
		if n == 0 {
			s.decodeAndFlush(true)
			s.onReadEOF()
			return
		}
		s.readBuf.SetSize(s.readBuf.Size() + n)
		s.decodeAndFlush(false)
		s.applyWatermarks()
		if !s.ReadAll {
			return
		}
	}
}

func (s *Stream) decodeAndFlush(eof bool) {
	if s.Decode != nil {
		for {
			raw := s.readBuf.ToBytes()
			if len(raw) == 0 {
				break
			}
			consumed, decoded, err := s.Decode(raw)
			if err != nil || consumed == 0 {
				break
			}
			rest := append([]byte(nil), raw[consumed:]...)
			s.readBuf.Reset()
			s.readBuf.Append(rest...)
			s.dispatchDecoded(decoded, eof)
		}
		return
	}
	for s.flushOneRead(eof) {
	}
}

func (s *Stream) dispatchDecoded(v interface{}, eof bool) {
	buf, ok := v.([]byte)
	if !ok {
		return
	}
	scratch := bpool.NewBuf(buf)
	defer scratch.Free()
	for scratch.Size() > 0 {
		item := s.popLiveReadItem()
		if item == nil {
			if s.OnRead != nil {
				s.OnRead(s, scratch.ToBytes(), eof)
			}
			return
		}
		consumed, _ := item.OnRead(s, scratch.ToBytes(), eof)
		if consumed >= scratch.Size() {
			return
		}
	}
}

// flushOneRead dispatches the head of the read queue (or OnRead when
// empty), re-entry-guarded by flushingRead per spec.md.
func (s *Stream) flushOneRead(eof bool) bool {
	if s.flushingRead {
		return false
	}
	s.flushingRead = true
	defer func() { s.flushingRead = false }()

	before := s.readBuf.Size()
	item := s.peekReadItem()
	if item == nil {
		if s.OnRead == nil {
			return false
		}
		consumed, _ := s.OnRead(s, s.readBuf.ToBytes(), eof)
		s.consumeReadBuf(consumed)
		return consumed > 0 && s.readBuf.Size() > 0
	}
	raw := s.readBuf.ToBytes()
	consumed, result := item.OnRead(s, raw, eof)
	var taken []byte
	if consumed > 0 {
		taken = append([]byte(nil), raw[:consumed]...)
	}
	s.consumeReadBuf(consumed)
	if result.Replace != nil {
		s.replaceHeadReadItem(result.Replace)
		return true
	}
	if !result.Keep {
		s.popReadItem()
		if item.Future != nil {
			item.Future.Done(taken)
		}
		return s.peekReadItem() != nil
	}
	return s.readBuf.Size() > before || eof
}

func (s *Stream) consumeReadBuf(n int) {
	if n <= 0 {
		return
	}
	raw := s.readBuf.ToBytes()
	if n >= len(raw) {
		s.readBuf.Reset()
		return
	}
	rest := append([]byte(nil), raw[n:]...)
	s.readBuf.Reset()
	s.readBuf.Append(rest...)
}

func (s *Stream) onReadEOF() {
	s.readEOF = true
	if s.OnReadEOF != nil {
		s.InvokeEvent(s.OnReadEOF)
	}
	if s.CloseOnReadEOF {
		s.Close()
	}
	for {
		item := s.popReadItem()
		if item == nil {
			break
		}
		if item.Future != nil {
			item.Future.Done(nil)
		}
	}
}

func (s *Stream) applyWatermarks() {
	if s.ReadHighWatermark <= 0 {
		return
	}
	size := s.readBuf.Size()
	if !s.atHighWM && size > s.ReadHighWatermark {
		s.atHighWM = true
		if s.OnReadHighWatermark != nil {
			s.InvokeEvent(s.OnReadHighWatermark)
		} else {
			s.stopReading()
		}
	} else if s.atHighWM && size < s.ReadLowWatermark {
		s.atHighWM = false
		if s.OnReadLowWatermark != nil {
			s.InvokeEvent(s.OnReadLowWatermark)
		} else {
			s.startReading()
		}
	}
}

// --- read-future helpers ----------------------------------------------

func (s *Stream) pushReadItem(item *ReadItem) *future.Future {
	f := future.New(s.Loop)
	item.Future = f
	f.OnCancel(func() { item.cancelled = true })
	s.readQueue.Put(item)
	s.AdoptFuture(f)
	s.startReading()
	s.doRead()
	return f
}

// peekReadItem returns the head of the read queue, permanently
// discarding any cancelled items in front of it so a cancelled future
// never blocks the items queued after it.
func (s *Stream) peekReadItem() *ReadItem {
	for {
		if s.readQueue.Size() == 0 {
			return nil
		}
		v := s.readQueue.Pop()
		item, _ := v.(*ReadItem)
		if item != nil && item.cancelled {
			continue
		}
		// put item back and rotate the rest behind it so it stays the head
		rest := s.readQueue.Size()
		s.readQueue.Put(item)
		for i := 0; i < rest; i++ {
			s.readQueue.Put(s.readQueue.Pop())
		}
		return item
	}
}

func (s *Stream) popReadItem() *ReadItem {
	v := s.readQueue.Pop()
	item, _ := v.(*ReadItem)
	return item
}

// popLiveReadItem pops and discards cancelled items ahead of the next
// live one, same draining rule as peekReadItem.
func (s *Stream) popLiveReadItem() *ReadItem {
	for {
		item := s.popReadItem()
		if item == nil || !item.cancelled {
			return item
		}
	}
}

func (s *Stream) replaceHeadReadItem(fn func(s *Stream, eof bool) ReadResult) {
	s.popReadItem()
	rest := s.readQueue.Size()
	s.readQueue.Put(&ReadItem{OnRead: func(s *Stream, buf []byte, eof bool) (int, ReadResult) {
		return 0, fn(s, eof)
	}})
	for i := 0; i < rest; i++ {
		s.readQueue.Put(s.readQueue.Pop())
	}
}

// ReadAtmost resolves with up to n bytes or EOF.
func (s *Stream) ReadAtmost(n int) *future.Future {
	return s.pushReadItem(&ReadItem{OnRead: func(st *Stream, buf []byte, eof bool) (int, ReadResult) {
		take := len(buf)
		if take > n {
			take = n
		}
		return take, ReadResult{}
	}})
}

// ReadExactly resolves with exactly n bytes or EOF.
func (s *Stream) ReadExactly(n int) *future.Future {
	return s.pushReadItem(&ReadItem{OnRead: func(st *Stream, buf []byte, eof bool) (int, ReadResult) {
		if len(buf) >= n {
			return n, ReadResult{}
		}
		if eof {
			return len(buf), ReadResult{}
		}
		return 0, ReadResult{Keep: true}
	}})
}

// ReadUntil resolves up to and including the first match of pattern.
func (s *Stream) ReadUntil(pattern *regexp.Regexp) *future.Future {
	return s.pushReadItem(&ReadItem{OnRead: func(st *Stream, buf []byte, eof bool) (int, ReadResult) {
		if loc := pattern.FindIndex(buf); loc != nil {
			return loc[1], ReadResult{}
		}
		if eof {
			return len(buf), ReadResult{}
		}
		return 0, ReadResult{Keep: true}
	}})
}

// ReadUntilEOF resolves with everything read once EOF is reached.
func (s *Stream) ReadUntilEOF() *future.Future {
	return s.pushReadItem(&ReadItem{OnRead: func(st *Stream, buf []byte, eof bool) (int, ReadResult) {
		if eof {
			return len(buf), ReadResult{}
		}
		return 0, ReadResult{Keep: true}
	}})
}

// --- write path -------------------------------------------------------

// Write appends a WriteItem, per spec.md's write(data, opts). Plain
// bytes run through Encode, if configured, before queueing.
func (s *Stream) Write(data []byte, onWrite func(int), onFlush func(), onError func(error)) *future.Future {
	if s.Encode != nil {
		var err error
		data, err = s.Encode(data)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return nil
		}
	}
	f := future.New(s.Loop)
	item := &WriteItem{Data: data, OnWrite: onWrite, OnError: onError}
	item.OnFlush = func() {
		if onFlush != nil {
			onFlush()
		}
		f.Done(nil)
	}
	s.writeQueue.Put(item)
	s.AdoptFuture(f)
	if s.Autoflush {
		s.doWrite()
	} else {
		s.wantWriteForWrite = true
		s.recomputeWant()
	}
	return f
}

// WriteFuture queues a Future as the write source: do_write blocks on it
// until it settles, then substitutes the resolved bytes.
func (s *Stream) WriteFuture(pending *future.Future) {
	s.writeQueue.Put(&WriteItem{Pending: pending})
	s.wantWriteForWrite = true
	s.recomputeWant()
}

// WriteProducer queues a closure write source, called repeatedly until
// it returns nil.
func (s *Stream) WriteProducer(fn func() []byte) {
	s.writeQueue.Put(&WriteItem{Producer: fn})
	s.wantWriteForWrite = true
	s.recomputeWant()
}

// doWrite implements spec.md's do_write steps 1-5.
func (s *Stream) doWrite() {
	for {
		var item *WriteItem
		if s.pendingHead != nil {
			item = s.pendingHead
			s.pendingHead = nil
		} else {
			v := s.writeQueue.Pop()
			if v == nil {
				s.onOutgoingEmpty()
				return
			}
			item = v.(*WriteItem)
		}
		if item.Producer != nil {
			next := item.Producer()
			if next == nil {
				s.fireFlush(item)
				continue
			}
			item = &WriteItem{Data: next, OnWrite: item.OnWrite, OnFlush: item.OnFlush, OnError: item.OnError}
		}
		if item.Pending != nil {
			if item.Pending.IsPending() {
				if !item.watching {
					item.watching = true
					item.Pending.OnDone(func(v interface{}) {
						buf, _ := v.([]byte)
						s.pendingHead = &WriteItem{Data: buf, OnWrite: item.OnWrite, OnFlush: item.OnFlush, OnError: item.OnError}
						s.doWrite()
					})
				}
				s.pendingHead = item
				return
			}
			v, _ := item.Pending.Await(0)
			buf, _ := v.([]byte)
			item = &WriteItem{Data: buf, OnWrite: item.OnWrite, OnFlush: item.OnFlush, OnError: item.OnError}
		}

		n, err := unix.Write(s.WriteFD(), item.Data)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				s.pendingHead = item
				if s.writeable {
					s.writeable = false
					if s.OnWriteable != nil {
						s.InvokeEvent(func() { s.OnWriteable(false) })
					}
				}
				return
			}
			if err == unix.EPIPE {
				s.writeEOF = true
				if s.OnWriteEOF != nil {
					s.InvokeEvent(s.OnWriteEOF)
				}
				if s.OnWriteError != nil {
					s.InvokeEvent(func() { s.OnWriteError(err) })
				} else {
					s.Close()
				}
				if item.OnError != nil {
					item.OnError(err)
				}
				return
			}
			s.InvokeError(err)
			if item.OnError != nil {
				item.OnError(err)
			}
			continue
		}
		if !s.writeable {
			s.writeable = true
			if s.OnWriteable != nil {
				s.InvokeEvent(func() { s.OnWriteable(true) })
			}
		}
		if item.OnWrite != nil {
			item.OnWrite(n)
		}
		if n >= len(item.Data) {
			s.fireFlush(item)
			if s.pendingHead == nil && s.writeQueue.Size() == 0 {
				s.onOutgoingEmpty()
				return
			}
		} else {
			item.Data = item.Data[n:]
			s.pendingHead = item
			if !s.WriteAll {
				return
			}
		}
		if !s.WriteAll {
			return
		}
	}
}

func (s *Stream) fireFlush(item *WriteItem) {
	if item.OnFlush != nil {
		item.OnFlush()
	}
}

func (s *Stream) onOutgoingEmpty() {
	s.wantWriteForWrite = false
	s.recomputeWant()
	if s.OnOutgoingEmpty != nil {
		s.InvokeEvent(s.OnOutgoingEmpty)
	}
	if s.isClosing {
		s.CloseNow()
	}
}

// --- close semantics ----------------------------------------------------

// CloseNow aborts in-flight writes and closes immediately.
func (s *Stream) CloseNow() error {
	abort := func(item *WriteItem) {
		if item != nil && item.OnError != nil {
			item.OnError(ipcerr.New(ipcerr.StreamClosing, "stream closing"))
		}
	}
	abort(s.pendingHead)
	s.pendingHead = nil
	for {
		v := s.writeQueue.Pop()
		if v == nil {
			break
		}
		abort(v.(*WriteItem))
	}
	return s.Handle.Close()
}

// CloseWhenEmpty closes immediately if the write queue is empty,
// otherwise defers until doWrite drains it. This is what Close() calls.
func (s *Stream) CloseWhenEmpty() error {
	if s.writeQueue.Size() == 0 && s.pendingHead == nil {
		return s.CloseNow()
	}
	s.isClosing = true
	return nil
}

// Close implements spec.md's close() ≡ close_when_empty().
func (s *Stream) Close() error { return s.CloseWhenEmpty() }
