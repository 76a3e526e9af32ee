package hotreload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadSkipsUnchangedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	w := New(path, 0, nil)

	var calls int
	h := func(_ context.Context, b []byte) error { calls++; return nil }
	require.NoError(t, w.Reload(context.Background(), h))
	require.NoError(t, w.Reload(context.Background(), h))
	assert.Equal(t, 1, calls)
	v1 := w.Version()

	require.NoError(t, os.WriteFile(path, []byte("b"), 0o644))
	require.NoError(t, w.Reload(context.Background(), h))
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, v1, w.Version())
}

func TestReloadRetriesAfterHandlerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	w := New(path, 0, nil)

	boom := errors.New("boom")
	require.ErrorIs(t, w.Reload(context.Background(), func(context.Context, []byte) error { return boom }), boom)
	assert.Empty(t, w.Version())

	var calls int
	require.NoError(t, w.Reload(context.Background(), func(context.Context, []byte) error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestReloadMissingFile(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "gone.yaml"), 0, nil)
	require.NoError(t, w.Reload(context.Background(), func(context.Context, []byte) error {
		t.Fatal("handler called for missing file")
		return nil
	}))
}

func TestWatchPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(path, 20*time.Millisecond, nil)
	var got atomic.Value
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(_ context.Context, b []byte) error {
			got.Store(string(b))
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("v2"), 0o644)
		v, _ := got.Load().(string)
		return v == "v2"
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchWaitsForRunningReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(path, 20*time.Millisecond, nil)
	var started, finished atomic.Int32
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(context.Context, []byte) error {
			started.Add(1)
			<-release
			finished.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		if started.Load() > 0 {
			return true
		}
		_ = os.WriteFile(path, []byte("v2"), 0o644)
		return false
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case <-done:
		t.Fatal("watch returned while a reload was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after the reload finished")
	}
	assert.Equal(t, started.Load(), finished.Load())
}
