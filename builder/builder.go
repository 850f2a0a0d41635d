// Package builder implements the Builder contract (spec.md §6): the
// external collaborator every Process/Routine/Semaphore depends on for
// config, an advisory distributed lock, logging, and actually spawning
// commands. Grounded on gootp/kernel/env.go's plain-struct configuration
// and kernel/logger.go's logger-by-name convention; the lock is new
// territory for this domain, implemented as a simple in-process registry
// (a single-host stand-in — a networked implementation is a Builder the
// caller can supply instead, since Builder is an interface here, not a
// concrete type).
package builder

import (
	"os"
	"os/exec"
	"sync"

	"github.com/pjfl/p5-async-ipc/ipclog"
)

// Config mirrors the fields spec.md's Builder contract requires: tempdir
// for debug stderr redirection, and the script/pathname used to build
// argv for closure-backed Process children.
type Config struct {
	TempDir  string
	Pathname string
}

// Lock is the advisory-lock half of the Builder contract, used by
// Semaphore. Set attempts to acquire key k; Reset releases it.
type Lock interface {
	Set(k string, async bool) bool
	Reset(k string, p int)
}

// Log is the logging half of the Builder contract (spec.md's
// debug|info|warn|error|fatal|alert methods).
type Log interface {
	Debug(pid int, format string, args ...interface{})
	Info(pid int, format string, args ...interface{})
	Warn(pid int, format string, args ...interface{})
	Error(pid int, format string, args ...interface{})
	Fatal(pid int, format string, args ...interface{})
	Alert(pid int, format string, args ...interface{})
}

// RunOpts controls run_cmd's behaviour.
type RunOpts struct {
	Async         bool
	IgnoreZombies bool
	Stderr        *os.File
	ExtraFiles    []*os.File
	Env           []string
}

// Handle is what run_cmd returns: enough to find the spawned pid.
type Handle struct {
	Pid int
	cmd *exec.Cmd
}

// Builder is the full external-dependency contract spec.md §6 demands of
// every Process.
type Builder interface {
	Config() Config
	Debug() bool
	Lock() Lock
	Log() Log
	RunCmd(argv []string, opts RunOpts) (*Handle, error)
}

// Default is the in-process Builder implementation used when no external
// one is supplied: a real os/exec-backed run_cmd, a process-local
// in-memory lock table, and the standard ipclog-backed logger.
type Default struct {
	cfg   Config
	debug bool
	lock  *memLock
	log   Log
}

// New returns a Default builder. debug is reported by Debug(); when it is
// set, process.Process.Start redirects child stderr into
// cfg.TempDir/<name>.err by passing that file to RunCmd as opts.Stderr,
// per spec.md §4.9.
func New(cfg Config, debug bool) *Default {
	return &Default{cfg: cfg, debug: debug, lock: newMemLock(), log: ipclog.Named("builder")}
}

func (d *Default) Config() Config { return d.cfg }
func (d *Default) Debug() bool    { return d.debug }
func (d *Default) Lock() Lock     { return d.lock }
func (d *Default) Log() Log       { return d.log }

// RunCmd execs argv[0] with the remaining elements as arguments. The
// caller is responsible for closing/forgetting opts.ExtraFiles once the
// child has inherited them.
func (d *Default) RunCmd(argv []string, opts RunOpts) (*Handle, error) {
	if len(argv) == 0 {
		return nil, os.ErrInvalid
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = opts.Env
	cmd.ExtraFiles = opts.ExtraFiles
	cmd.Stdout = nil
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Handle{Pid: cmd.Process.Pid, cmd: cmd}, nil
}

type memLock struct {
	mu   sync.Mutex
	held map[string]int
}

func newMemLock() *memLock { return &memLock{held: make(map[string]int)} }

func (l *memLock) Set(k string, async bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[k]; ok {
		return false
	}
	l.held[k] = os.Getpid()
	return true
}

func (l *memLock) Reset(k string, p int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, k)
}
