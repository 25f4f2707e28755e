package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) add(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, p)
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func startWatcher(t *testing.T, settle time.Duration) (*InboxWatcher, string, *collector) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "inbox")
	w, err := New(settle, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	c := &collector{}
	w.OnReady(c.add)
	require.NoError(t, w.Watch(context.Background(), dir))
	return w, dir, c
}

func TestInboxWatcher_ReportsSettledVideo(t *testing.T) {
	_, dir, c := startWatcher(t, 50*time.Millisecond)

	path := filepath.Join(dir, "match.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 1024), 0o600))

	require.Eventually(t, func() bool { return len(c.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{path}, c.get())

	time.Sleep(150 * time.Millisecond)
	assert.Len(t, c.get(), 1, "reported once")
}

func TestInboxWatcher_WaitsForWritesToStop(t *testing.T) {
	_, dir, c := startWatcher(t, 150*time.Millisecond)

	path := filepath.Join(dir, "growing.mov")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.Write(make([]byte, 256))
		require.NoError(t, err)
		time.Sleep(40 * time.Millisecond)
		assert.Empty(t, c.get(), "still being written")
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(c.get()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestInboxWatcher_IgnoresOtherFiles(t *testing.T) {
	_, dir, c := startWatcher(t, 30*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.mp4"), []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.mp4"), nil, 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, c.get())
}

func TestInboxWatcher_RemovedBeforeSettled(t *testing.T) {
	_, dir, c := startWatcher(t, 200*time.Millisecond)

	path := filepath.Join(dir, "gone.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o600))
	require.NoError(t, os.Remove(path))

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, c.get())
}

func TestInboxWatcher_StopIsIdempotent(t *testing.T) {
	w, _, _ := startWatcher(t, time.Second)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.Watch(context.Background(), t.TempDir()), ErrStopped)
}
