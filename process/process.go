// Package process implements Process (spec.md §4.9): a forked child
// whose code may be a closure, argv, or shell command string, with
// child-exit watching wired through loop.Loop.WatchChild.
//
// Go cannot safely fork() past runtime initialisation (the child would
// inherit a half-started scheduler and any goroutines in flight at the
// fork point), so a closure-backed Process is run by self-re-executing
// os.Args[0] with an environment variable naming which registered
// entry point to run — the idiomatic Go rendering of "fork, then call a
// closure in the child" discussed in SPEC_FULL.md. argv/shell-string
// Process bodies need no such trick; they already name an external
// program.
package process

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/pjfl/p5-async-ipc/builder"
	"github.com/pjfl/p5-async-ipc/ipcerr"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/notifier"
	"golang.org/x/sys/unix"
)

// EntryFunc is a registered closure body for a self-re-exec Process.
type EntryFunc func(args []string)

var entryRegistryMu sync.Mutex
var entryRegistry = make(map[string]EntryFunc)

// RegisterEntry names a closure so a self-re-exec child can find it by
// name in EntrypointEnv. Call this from an init() in any package that
// wants to be usable as Process code.
func RegisterEntry(name string, fn EntryFunc) {
	entryRegistryMu.Lock()
	entryRegistry[name] = fn
	entryRegistryMu.Unlock()
}

// EntrypointEnv is the environment variable a self-re-exec child reads
// to find its registered entry point name.
const EntrypointEnv = "IPC_ENTRYPOINT"

// RunEntrypoint is called from main() before anything else: if
// EntrypointEnv is set, it runs the matching registered closure and
// exits instead of falling through to normal program startup. Every
// self-re-exec binary built on this package must call this first.
func RunEntrypoint() bool {
	name := os.Getenv(EntrypointEnv)
	if name == "" {
		return false
	}
	entryRegistryMu.Lock()
	fn, ok := entryRegistry[name]
	entryRegistryMu.Unlock()
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown entrypoint %q\n", name)
		os.Exit(1)
	}
	fn(os.Args[1:])
	os.Exit(0)
	return true
}

// Code identifies what a Process runs: exactly one of Entry, Argv, or
// Shell is set.
type Code struct {
	Entry string   // name previously passed to RegisterEntry
	Argv  []string
	Shell string
}

// Process is a forked (self-re-exec'd or exec'd) child, per spec.md §4.9.
type Process struct {
	notifier.Base

	code    Code
	args    []string
	b       builder.Builder
	OnExit  func(pid int, status int)

	pid int
}

// New constructs a stopped Process. pid is 0 until Start.
func New(l *loop.Loop, name string, b builder.Builder, code Code, args []string, onExit func(pid, status int)) (*Process, error) {
	p := &Process{code: code, args: args, b: b, OnExit: onExit}
	if err := p.Base.Init("Process", name, "", l, nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Pid returns the OS pid, or 0 before Start.
func (p *Process) Pid() int { return p.pid }

// IsRunning probes the OS with signal 0, per spec.md.
func (p *Process) IsRunning() bool {
	if p.pid == 0 {
		return false
	}
	return unix.Kill(p.pid, 0) == nil
}

// Start is idempotent: building argv, invoking the builder's RunCmd with
// async=true/ignore_zombies=false, redirecting stderr to
// <tempdir>/<name>.err when debug is set, and installing a WatchChild
// wrapper that logs exit status and calls OnExit.
func (p *Process) Start(extraFiles []*os.File) error {
	if p.pid != 0 {
		return nil
	}
	argv, err := p.buildArgv()
	if err != nil {
		return err
	}
	opts := builder.RunOpts{Async: true, IgnoreZombies: false, ExtraFiles: extraFiles}
	if p.code.Entry != "" {
		opts.Env = EntrypointEnvFor(p.code.Entry, os.Environ())
	}
	if p.b.Debug() {
		errPath := p.b.Config().TempDir + "/" + p.Name + ".err"
		f, err := os.Create(errPath)
		if err == nil {
			opts.Stderr = f
		}
	}
	h, err := p.b.RunCmd(argv, opts)
	if err != nil {
		return err
	}
	p.pid = h.Pid
	p.Loop.WatchChild(p.pid, func(status int) {
		// status is already WEXITSTATUS-decoded by the reaper.
		p.b.Log().Info(p.pid, "process %q exited rv=%d", p.Name, status)
		if p.OnExit != nil {
			p.InvokeEvent(func() { p.OnExit(p.pid, status) })
		}
	})
	return nil
}

func (p *Process) buildArgv() ([]string, error) {
	switch {
	case p.code.Entry != "":
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		return append([]string{exe}, p.args...), nil
	case len(p.code.Argv) > 0:
		return append(append([]string{}, p.code.Argv...), p.args...), nil
	case p.code.Shell != "":
		return []string{"/bin/sh", "-c", p.code.Shell}, nil
	default:
		return nil, ipcerr.New(ipcerr.Unspecified, "process %q: no code to run", p.Name)
	}
}

// EntrypointEnvFor builds the environment a self-re-exec child needs to
// select its closure body, appended to whatever base environment the
// caller supplies.
func EntrypointEnvFor(entry string, base []string) []string {
	return append(append([]string{}, base...), EntrypointEnv+"="+entry)
}

// Stop sends SIGTERM to the child and logs, per spec.md.
func (p *Process) Stop() error {
	if p.pid == 0 {
		return nil
	}
	p.b.Log().Info(p.pid, "stopping process %q pid=%s", p.Name, strconv.Itoa(p.pid))
	return unix.Kill(p.pid, unix.SIGTERM)
}
