package notify

import (
	"os"
	"syscall"
	"time"

	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notifier"
)

// StatInfo is the subset of a stat(2) result FileWatcher diffs, per
// spec.md §4.5's closed field set (blksize/blocks excluded deliberately).
type StatInfo struct {
	Device   uint64
	Inode    uint64
	Mode     uint32
	Nlink    uint64
	Uid      uint32
	Gid      uint32
	DeviceID uint64
	Size     int64
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time
}

func statPath(path string) (*StatInfo, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return &StatInfo{Size: fi.Size(), Mode: uint32(fi.Mode()), Mtime: fi.ModTime()}, true
	}
	return &StatInfo{
		Device:   sys.Dev,
		Inode:    sys.Ino,
		Mode:     sys.Mode,
		Nlink:    uint64(sys.Nlink),
		Uid:      sys.Uid,
		Gid:      sys.Gid,
		DeviceID: uint64(sys.Rdev),
		Size:     sys.Size,
		Atime:    time.Unix(sys.Atim.Sec, sys.Atim.Nsec),
		Mtime:    time.Unix(sys.Mtim.Sec, sys.Mtim.Nsec),
		Ctime:    time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec),
	}, true
}

// FileWatcherCallbacks are the per-field handlers spec.md §4.5 names. All
// are optional.
type FileWatcherCallbacks struct {
	OnStatChanged     func(old, new *StatInfo)
	OnDevinoChanged   func(old, new *StatInfo)
	OnDeviceChanged   func(old, new *StatInfo)
	OnInodeChanged    func(old, new *StatInfo)
	OnModeChanged     func(old, new *StatInfo)
	OnNlinkChanged    func(old, new *StatInfo)
	OnUidChanged      func(old, new *StatInfo)
	OnGidChanged      func(old, new *StatInfo)
	OnDeviceIDChanged func(old, new *StatInfo)
	OnSizeChanged     func(old, new *StatInfo)
	OnAtimeChanged    func(old, new *StatInfo)
	OnMtimeChanged    func(old, new *StatInfo)
	OnCtimeChanged    func(old, new *StatInfo)
}

// FileWatcher stats Path every Interval (default 2s) — or, on Linux, is
// driven directly by the native watcher in filewatcher_linux.go — and
// dispatches field-change events, per spec.md §4.5.
type FileWatcher struct {
	notifier.Base

	Path     string
	Interval time.Duration

	cbs  FileWatcherCallbacks
	last *StatInfo
	id   int64

	native nativeWatcher // nil unless a platform driver is installed
}

// nativeWatcher is the hook filewatcher_linux.go fills in; platforms
// without one fall back to pure polling.
type nativeWatcher interface {
	start() error
	stop()
}

// NewFileWatcher constructs a FileWatcher over path. If interval is zero
// it defaults to two seconds per spec.md.
func NewFileWatcher(l *loop.Loop, name, path string, interval time.Duration, cbs FileWatcherCallbacks) (*FileWatcher, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	w := &FileWatcher{Path: path, Interval: interval, cbs: cbs, id: l.UUID()}
	if err := w.Base.Init("FileWatcher", name, "", l, nil); err != nil {
		return nil, err
	}
	w.last, _ = statPath(path)
	return w, nil
}

// Start installs the native watcher if this platform provides one
// (installNative, see filewatcher_linux.go), otherwise falls back to
// the polling timer — the OSNAME gate spec.md §6 describes.
func (w *FileWatcher) Start() error {
	if nw := installNative(w); nw != nil {
		if err := nw.start(); err == nil {
			w.native = nw
			return nil
		}
	}
	return w.Loop.WatchTime(w.id, w.poll, loop.Schedule{After: w.Interval, Mode: loop.SchedulePeriodic})
}

// Stop removes whichever watcher is active.
func (w *FileWatcher) Stop() {
	if w.native != nil {
		w.native.stop()
		w.native = nil
		return
	}
	w.Loop.UnwatchTime(w.id)
}

func (w *FileWatcher) poll() {
	cur, exists := statPath(w.Path)
	w.diff(cur, exists)
}

// diff implements the event-precedence rules of spec.md §4.5.
func (w *FileWatcher) diff(cur *StatInfo, exists bool) {
	old := w.last
	existed := old != nil
	switch {
	case existed && !exists:
		w.last = nil
		w.fire(w.cbs.OnStatChanged, old, nil)
		return
	case !existed && exists:
		w.last = cur
		w.fire(w.cbs.OnStatChanged, nil, cur)
		return
	case !existed && !exists:
		return
	}

	changed := false
	if old.Device != cur.Device || old.Inode != cur.Inode {
		w.fire(w.cbs.OnDevinoChanged, old, cur)
	}
	if old.Device != cur.Device {
		w.fire(w.cbs.OnDeviceChanged, old, cur)
		changed = true
	}
	if old.Inode != cur.Inode {
		w.fire(w.cbs.OnInodeChanged, old, cur)
		changed = true
	}
	if old.Mode != cur.Mode {
		w.fire(w.cbs.OnModeChanged, old, cur)
		changed = true
	}
	if old.Nlink != cur.Nlink {
		w.fire(w.cbs.OnNlinkChanged, old, cur)
		changed = true
	}
	if old.Uid != cur.Uid {
		w.fire(w.cbs.OnUidChanged, old, cur)
		changed = true
	}
	if old.Gid != cur.Gid {
		w.fire(w.cbs.OnGidChanged, old, cur)
		changed = true
	}
	if old.DeviceID != cur.DeviceID {
		w.fire(w.cbs.OnDeviceIDChanged, old, cur)
		changed = true
	}
	if old.Size != cur.Size {
		w.fire(w.cbs.OnSizeChanged, old, cur)
		changed = true
	}
	if !old.Atime.Equal(cur.Atime) {
		w.fire(w.cbs.OnAtimeChanged, old, cur)
		changed = true
	}
	if !old.Mtime.Equal(cur.Mtime) {
		w.fire(w.cbs.OnMtimeChanged, old, cur)
		changed = true
	}
	if !old.Ctime.Equal(cur.Ctime) {
		w.fire(w.cbs.OnCtimeChanged, old, cur)
		changed = true
	}
	w.last = cur
	if changed {
		w.fire(w.cbs.OnStatChanged, old, cur)
	}
}

func (w *FileWatcher) fire(cb func(old, new *StatInfo), old, new *StatInfo) {
	if cb == nil {
		return
	}
	w.InvokeEvent(func() { cb(old, new) })
}
