package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcherFiresCreatedOnFirstAppearance(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")

	var statChanged bool
	w, err := NewFileWatcher(l, "", path, time.Hour, FileWatcherCallbacks{
		OnStatChanged: func(old, new *StatInfo) {
			statChanged = true
			assert.Nil(t, old)
			assert.NotNil(t, new)
		},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	cur, exists := statPath(path)
	require.True(t, exists)
	w.diff(cur, exists)

	assert.True(t, statChanged)
}

func TestFileWatcherFiresStatChangedOnDisappearance(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	w, err := NewFileWatcher(l, "", path, time.Hour, FileWatcherCallbacks{})
	require.NoError(t, err)
	require.NotNil(t, w.last)

	var gone bool
	w.cbs.OnStatChanged = func(old, new *StatInfo) {
		gone = true
		assert.NotNil(t, old)
		assert.Nil(t, new)
	}
	require.NoError(t, os.Remove(path))
	w.diff(nil, false)

	assert.True(t, gone)
	assert.Nil(t, w.last)
}

func TestFileWatcherFiresSizeChangedAndStatChanged(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	var sizeEvents, statEvents int
	w, err := NewFileWatcher(l, "", path, time.Hour, FileWatcherCallbacks{
		OnSizeChanged: func(old, new *StatInfo) { sizeEvents++ },
		OnStatChanged: func(old, new *StatInfo) { statEvents++ },
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("aaaaaaaaaa"), 0644))
	cur, exists := statPath(path)
	require.True(t, exists)
	w.diff(cur, exists)

	assert.Equal(t, 1, sizeEvents)
	assert.Equal(t, 1, statEvents)
}

func TestFileWatcherFiresDeviceIDChanged(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	var deviceIDEvents, statEvents int
	w, err := NewFileWatcher(l, "", path, time.Hour, FileWatcherCallbacks{
		OnDeviceIDChanged: func(old, new *StatInfo) { deviceIDEvents++ },
		OnStatChanged:     func(old, new *StatInfo) { statEvents++ },
	})
	require.NoError(t, err)
	require.NotNil(t, w.last)

	cur := *w.last
	cur.DeviceID++
	w.diff(&cur, true)

	assert.Equal(t, 1, deviceIDEvents)
	assert.Equal(t, 1, statEvents)
}

func TestFileWatcherNoEventsWhenNothingMissingOrPresent(t *testing.T) {
	l := newTestLoop(t)
	w, err := NewFileWatcher(l, "", "/nonexistent/path", time.Hour, FileWatcherCallbacks{
		OnStatChanged: func(old, new *StatInfo) { t.Fatal("should not fire") },
	})
	require.NoError(t, err)
	w.diff(nil, false)
}

func TestFileWatcherStartInstallsPollingOrNativeWatcher(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	w, err := NewFileWatcher(l, "", path, 5*time.Millisecond, FileWatcherCallbacks{})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	assert.True(t, l.WatchingTime(w.id) || w.native != nil)
}
