package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/histsync"
)

func TestDebouncerCollapsesBursts(t *testing.T) {
	var mu sync.Mutex
	var emitted []string
	d := NewDebouncer(100*time.Millisecond, func(path string) {
		mu.Lock()
		emitted = append(emitted, path)
		mu.Unlock()
	})
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Feed("a")
		time.Sleep(5 * time.Millisecond)
	}
	d.Feed("b")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"a", "b"}, emitted)
}

func TestDebouncerStopFlushes(t *testing.T) {
	var count atomic.Int32
	d := NewDebouncer(time.Hour, func(string) { count.Add(1) })
	d.Feed("a")
	d.Stop()
	require.Equal(t, int32(1), count.Load())

	d.Feed("a")
	require.Equal(t, int32(1), count.Load(), "feed after stop is a no-op")
}

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingSyncer) Sync(context.Context) (histsync.Result, error) {
	c.calls.Add(1)
	return histsync.Result{}, c.err
}

func startWatcher(t *testing.T, w *Watcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return cancel
}

func TestWatcherSyncsAfterWrites(t *testing.T) {
	dir := t.TempDir()
	hist := filepath.Join(dir, ".bash_history")
	require.NoError(t, os.WriteFile(hist, []byte("ls\n"), 0o600))

	syncer := &countingSyncer{}
	startWatcher(t, &Watcher{Path: hist, Syncer: syncer, Window: 50 * time.Millisecond})

	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond, "initial sync")

	// Let the watch settle before writing.
	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(hist, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	for _, line := range []string{"pwd\n", "cd /tmp\n", "make\n"} {
		_, err := f.WriteString(line)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return syncer.calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	hist := filepath.Join(dir, ".bash_history")
	require.NoError(t, os.WriteFile(hist, nil, 0o600))

	syncer := &countingSyncer{}
	startWatcher(t, &Watcher{Path: hist, Syncer: syncer, Window: 20 * time.Millisecond})
	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zsh_history"), []byte("ls\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(1), syncer.calls.Load())
}

func TestWatcherIntervalRetriesFailures(t *testing.T) {
	dir := t.TempDir()
	hist := filepath.Join(dir, ".bash_history")
	require.NoError(t, os.WriteFile(hist, nil, 0o600))

	var failures atomic.Int32
	syncer := &countingSyncer{err: errs.New(errs.Unavailable, "failed to connect to server, check settings")}
	startWatcher(t, &Watcher{
		Path:     hist,
		Syncer:   syncer,
		Interval: 30 * time.Millisecond,
		OnSync: func(_ histsync.Result, err error) {
			if errs.Is(err, errs.Unavailable) {
				failures.Add(1)
			}
		},
	})

	require.Eventually(t, func() bool { return failures.Load() >= 3 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcherMissingDirectory(t *testing.T) {
	w := &Watcher{Path: filepath.Join(t.TempDir(), "nope", "hist"), Syncer: &countingSyncer{}}
	require.Error(t, w.Run(context.Background()))
}
