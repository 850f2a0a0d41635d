package worker

import (
	"os"
	"testing"
	"time"

	"github.com/pjfl/p5-async-ipc/builder"
	"github.com/pjfl/p5-async-ipc/channel"
	"github.com/pjfl/p5-async-ipc/codec"
	"github.com/pjfl/p5-async-ipc/loop"
	"github.com/pjfl/p5-async-ipc/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// e2eSumRecv, e2eBeforeHook and e2eAfterHook are the bodies run inside a
// self-re-exec'd child process. They must be package-level functions,
// not test-local closures: the child is a fresh process image and finds
// them only through the init()-time RegisterEntry calls below, never
// through anything a *testing.T closure captured.
func e2eSumRecv(self *Routine, callID interface{}, args []interface{}) (interface{}, error) {
	sum := 0
	for _, a := range args {
		n, _ := a.(int)
		sum += n
	}
	return sum, nil
}

const e2eMarkerDirEnv = "WORKER_E2E_MARKER_DIR"

func e2eBeforeHook(self *Routine) {
	if dir := os.Getenv(e2eMarkerDirEnv); dir != "" {
		_ = os.WriteFile(dir+"/before", []byte("x"), 0o644)
	}
}

func e2eAfterHook(self *Routine) {
	if dir := os.Getenv(e2eMarkerDirEnv); dir != "" {
		_ = os.WriteFile(dir+"/after", []byte("x"), 0o644)
	}
}

// e2eProductRecv is a second, distinct child-recv body: used alongside
// e2eSumRecv to prove a multi-handler Routine dispatches each call
// channel to its own on_recv[i] rather than funnelling both through the
// same handler.
func e2eProductRecv(self *Routine, callID interface{}, args []interface{}) (interface{}, error) {
	product := 1
	for _, a := range args {
		n, _ := a.(int)
		product *= n
	}
	return product, nil
}

func init() {
	process.RegisterEntry("e2e-sync-sum", func(args []string) {
		runChildSync(ChildCallFD, ChildReturnFD, e2eSumRecv, 0)
	})
	process.RegisterEntry("e2e-async-sum", func(args []string) {
		_ = runChildAsync([]OnRecv{e2eSumRecv}, 0, e2eBeforeHook, e2eAfterHook)
	})
	process.RegisterEntry("e2e-async-multi", func(args []string) {
		_ = runChildAsync([]OnRecv{e2eSumRecv, e2eProductRecv}, 0, nil, nil)
	})
}

// TestMain must intercept a self-re-exec'd child before the normal test
// runner starts: the child process is this same test binary, invoked
// with IPC_ENTRYPOINT set and none of go test's own flags, so it must
// never reach m.Run().
func TestMain(m *testing.M) {
	if process.RunEntrypoint() {
		return
	}
	os.Exit(m.Run())
}

func newWorkerTestLoop(t *testing.T) *loop.Loop {
	l, err := loop.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newWorkerTestBuilder(t *testing.T) builder.Builder {
	return builder.New(builder.Config{TempDir: t.TempDir()}, false)
}

func dummyRecv(self *Routine, callID interface{}, args []interface{}) (interface{}, error) {
	return args, nil
}

func TestNewRoutineRequiresOnRecvHandler(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	_, err := New(l, "needs-handler", b, Options{Code: process.Code{Argv: []string{"true"}}})
	assert.Error(t, err)
}

func TestNewRoutineAcceptsExplicitCodeWithoutSelfEntry(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "explicit-code", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)
	assert.False(t, r.IsRunning())
	assert.Equal(t, 0, r.proc.Pid())
}

func TestCallChannelModeSyncForSingleHandler(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "single-handler", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)
	assert.Equal(t, channel.Sync, r.callChanMode())
}

func TestCallChannelModeAsyncForMultipleHandlers(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "multi-handler", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv, dummyRecv},
	})
	require.NoError(t, err)
	assert.Equal(t, channel.Async, r.callChanMode())
}

func TestCallReturnsFalseWhenNotRunning(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "not-running", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)
	assert.False(t, r.Call("x"))
}

func TestCallChannelStampsFreshCallIDWhenFirstArgNil(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "stamping", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)

	parentFD, childFD, err := channel.Socketpair()
	require.NoError(t, err)
	callCh, err := channel.New(l, "stamping.call", parentFD, codec.Gob{}, channel.Sync, channel.Async)
	require.NoError(t, err)
	t.Cleanup(func() { callCh.Close() })

	childCh, err := channel.New(nil, "stamping.child", childFD, codec.Gob{}, channel.Sync, channel.Sync)
	require.NoError(t, err)
	t.Cleanup(func() { childCh.Close() })

	r.running = true
	r.callChans = []*channel.Channel{callCh}

	assert.True(t, r.Call("hello"))

	frame, err := childCh.RecvSync()
	require.NoError(t, err)
	args, ok := frame.([]interface{})
	require.True(t, ok)
	require.Len(t, args, 2)
	assert.NotNil(t, args[0])
	assert.Equal(t, "hello", args[1])
}

func TestCallChannelKeepsSuppliedCallID(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "keeps-id", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)

	parentFD, childFD, err := channel.Socketpair()
	require.NoError(t, err)
	callCh, err := channel.New(l, "keeps-id.call", parentFD, codec.Gob{}, channel.Sync, channel.Async)
	require.NoError(t, err)
	t.Cleanup(func() { callCh.Close() })

	childCh, err := channel.New(nil, "keeps-id.child", childFD, codec.Gob{}, channel.Sync, channel.Sync)
	require.NoError(t, err)
	t.Cleanup(func() { childCh.Close() })

	r.running = true
	r.callChans = []*channel.Channel{callCh}

	assert.True(t, r.CallChannel(0, int64(42), "payload"))

	frame, err := childCh.RecvSync()
	require.NoError(t, err)
	args, ok := frame.([]interface{})
	require.True(t, ok)
	require.Len(t, args, 2)
	assert.Equal(t, int64(42), args[0])
	assert.Equal(t, "payload", args[1])
}

func TestCallChannelRejectsOutOfRangeIndex(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "oob", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)
	r.running = true
	assert.False(t, r.CallChannel(3, "x"))
}

func TestStopOnUnstartedRoutineIsNoop(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "stop-noop", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)
	assert.NoError(t, r.Stop())
}

func TestStartBuildsReturnChannelWhenReturnChansConfigured(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "wants-return", b, Options{
		Code:        process.Code{Argv: []string{"true"}},
		OnRecv:      []OnRecv{dummyRecv},
		ReturnChans: 1,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })
	assert.Len(t, r.returnChans, 1)
}

func TestStartSkipsReturnChannelByDefault(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	r, err := New(l, "no-return", b, Options{
		Code:   process.Code{Argv: []string{"true"}},
		OnRecv: []OnRecv{dummyRecv},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })
	assert.Len(t, r.returnChans, 0)
}

// TestRoutineSyncWorkerSumCollectsAllReturns is spec.md §8's seed
// scenario 2: ten sync calls against a real self-re-exec'd child, every
// reply collected through OnReturn.
func TestRoutineSyncWorkerSumCollectsAllReturns(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)

	results := make(map[interface{}]interface{})
	r, err := New(l, "sync-sum", b, Options{
		Code:        process.Code{Entry: "e2e-sync-sum"},
		OnRecv:      []OnRecv{e2eSumRecv},
		ReturnChans: 1,
		OnReturn: func(id, res interface{}) {
			results[id] = res
			if len(results) == 10 {
				l.Stop()
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })

	for i := 0; i < 10; i++ {
		require.True(t, r.Call(i, i+1))
	}

	l.Once(5*time.Second, func() { l.Stop() })
	l.Start()

	require.Len(t, results, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, i+1, results[i])
	}
}

// TestRoutineAsyncWorkerSumWithHooksTouchesFiles is spec.md §8's seed
// scenario 3: the async variant, with before/after hooks that run
// inside the forked child and mark their own run by touching files the
// parent can observe.
func TestRoutineAsyncWorkerSumWithHooksTouchesFiles(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)
	dir := t.TempDir()
	t.Setenv(e2eMarkerDirEnv, dir)

	results := make(map[interface{}]interface{})
	r, err := New(l, "async-sum", b, Options{
		Code:        process.Code{Entry: "e2e-async-sum"},
		OnRecv:      []OnRecv{e2eSumRecv},
		ReturnChans: 1,
		OnReturn: func(id, res interface{}) {
			results[id] = res
			if len(results) == 10 {
				l.Stop()
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })

	for i := 0; i < 10; i++ {
		require.True(t, r.Call(i, i+1))
	}

	l.Once(5*time.Second, func() { l.Stop() })
	l.Start()

	require.Len(t, results, 10)

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir + "/before")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, r.Stop())

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir + "/after")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

// TestRoutineAsyncMultiHandlerDispatchesEachCallChannelToItsOwnHandler
// proves spec.md §4.10's "wire each call channel's async receiver to its
// matching on_recv[i]": a two-handler Routine gets two independent call
// channels, and a call on channel 1 reaches e2eProductRecv, never
// e2eSumRecv.
func TestRoutineAsyncMultiHandlerDispatchesEachCallChannelToItsOwnHandler(t *testing.T) {
	l := newWorkerTestLoop(t)
	b := newWorkerTestBuilder(t)

	results := make(map[interface{}]interface{})
	r, err := New(l, "async-multi", b, Options{
		Code:        process.Code{Entry: "e2e-async-multi"},
		OnRecv:      []OnRecv{e2eSumRecv, e2eProductRecv},
		ReturnChans: 1,
		OnReturn: func(id, res interface{}) {
			results[id] = res
			if len(results) == 2 {
				l.Stop()
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })
	require.Len(t, r.callChans, 2)

	require.True(t, r.CallChannel(0, "sum-call", 2, 3))
	require.True(t, r.CallChannel(1, "product-call", 2, 3))

	l.Once(5*time.Second, func() { l.Stop() })
	l.Start()

	require.Len(t, results, 2)
	assert.Equal(t, 5, results["sum-call"])
	assert.Equal(t, 6, results["product-call"])
}
