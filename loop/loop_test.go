package loop

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *Loop {
	l, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestUUIDIsStrictlyIncreasing(t *testing.T) {
	l := newTestLoop(t)
	prev := l.UUID()
	for i := 0; i < 10; i++ {
		next := l.UUID()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestWatchTimeFiresOnce(t *testing.T) {
	l := newTestLoop(t)
	fired := 0
	id := l.UUID()
	require.NoError(t, l.WatchTime(id, func() { fired++; l.Stop() }, Schedule{After: 10 * time.Millisecond, Mode: ScheduleRel}))
	l.Start()
	assert.Equal(t, 1, fired)
	assert.False(t, l.WatchingTime(id))
}

func TestWatchTimeDuplicateIDRejected(t *testing.T) {
	l := newTestLoop(t)
	id := l.UUID()
	require.NoError(t, l.WatchTime(id, func() {}, Schedule{After: time.Second, Mode: ScheduleRel}))
	err := l.WatchTime(id, func() {}, Schedule{After: time.Second, Mode: ScheduleRel})
	assert.Error(t, err)
}

func TestWatchTimePeriodicRearms(t *testing.T) {
	l := newTestLoop(t)
	ticks := 0
	id := l.UUID()
	require.NoError(t, l.WatchTime(id, func() {
		ticks++
		if ticks >= 3 {
			l.Stop()
		}
	}, Schedule{After: 5 * time.Millisecond, Mode: SchedulePeriodic}))
	l.Start()
	assert.GreaterOrEqual(t, ticks, 3)
}

func TestUnwatchTimeCancelsBeforeFiring(t *testing.T) {
	l := newTestLoop(t)
	id := l.UUID()
	fired := false
	require.NoError(t, l.WatchTime(id, func() { fired = true }, Schedule{After: 5 * time.Millisecond, Mode: ScheduleRel}))
	cb := l.UnwatchTime(id)
	assert.NotNil(t, cb)
	l.Once(20*time.Millisecond, nil)
	assert.False(t, fired)
}

func TestWatchIdleRunsAfterCurrentBatch(t *testing.T) {
	l := newTestLoop(t)
	order := []string{}
	id := l.UUID()
	require.NoError(t, l.WatchIdle(id, func() { order = append(order, "idle") }))
	l.Once(0, nil)
	assert.Equal(t, []string{"idle"}, order)
}

func TestWatchReadHandleFiresOnReadiness(t *testing.T) {
	l := newTestLoop(t)
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := make(chan struct{}, 1)
	require.NoError(t, l.WatchReadHandle(fds[0], func() {
		fired <- struct{}{}
		l.UnwatchReadHandle(fds[0])
		l.Stop()
	}))
	_, err := unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	l.Start()
	select {
	case <-fired:
	default:
		t.Fatal("read handle never fired")
	}
}

func TestWatchSignalInvokesAttachment(t *testing.T) {
	l := newTestLoop(t)
	got := make(chan struct{}, 1)
	id, err := l.WatchSignal("USR1", func() {
		got <- struct{}{}
		l.Stop()
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = unix.Kill(unix.Getpid(), unix.SIGUSR1)
	}()
	l.Start()
	select {
	case <-got:
	default:
		t.Fatal("signal callback never ran")
	}
}

func TestWatchSignalUnknownName(t *testing.T) {
	l := newTestLoop(t)
	_, err := l.WatchSignal("BOGUS", func() {})
	assert.Error(t, err)
}

func TestWatchChildReceivesExitStatus(t *testing.T) {
	l := newTestLoop(t)
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())

	statusCh := make(chan int, 1)
	l.WatchChild(cmd.Process.Pid, func(status int) {
		statusCh <- status
		l.Stop()
	})
	l.Start()

	select {
	case status := <-statusCh:
		assert.Equal(t, 0, status)
	default:
		t.Fatal("child exit callback never ran")
	}
}

func TestWaitChildrenBlocksUntilExit(t *testing.T) {
	l := newTestLoop(t)
	cmd := exec.Command("sleep", "0")
	require.NoError(t, cmd.Start())
	l.WatchChild(cmd.Process.Pid, nil)
	l.WaitChildren()
	assert.Empty(t, l.childWatchers)
}

func TestCurrentIsPidScopedSingleton(t *testing.T) {
	ResetCurrent()
	defer ResetCurrent()
	a := Current()
	b := Current()
	assert.Same(t, a, b)
}
