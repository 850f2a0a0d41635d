package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultExposesConfigAndDebug(t *testing.T) {
	cfg := Config{TempDir: "/tmp", Pathname: "/bin/ipc-demo"}
	b := New(cfg, true)
	assert.Equal(t, cfg, b.Config())
	assert.True(t, b.Debug())
}

func TestRunCmdStartsProcessAndReturnsPid(t *testing.T) {
	b := New(Config{}, false)
	h, err := b.RunCmd([]string{"true"}, RunOpts{})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Greater(t, h.Pid, 0)
	_ = h.cmd.Wait()
}

func TestRunCmdRejectsEmptyArgv(t *testing.T) {
	b := New(Config{}, false)
	_, err := b.RunCmd(nil, RunOpts{})
	assert.Error(t, err)
}

func TestMemLockSetThenResetAllowsReacquire(t *testing.T) {
	b := New(Config{}, false)
	lock := b.Lock()

	assert.True(t, lock.Set("worker-1", false))
	assert.False(t, lock.Set("worker-1", false))

	lock.Reset("worker-1", 0)
	assert.True(t, lock.Set("worker-1", false))
}

func TestMemLockKeysAreIndependent(t *testing.T) {
	b := New(Config{}, false)
	lock := b.Lock()

	assert.True(t, lock.Set("a", false))
	assert.True(t, lock.Set("b", false))
}
