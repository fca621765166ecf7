package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesExtensionDot(t *testing.T) {
	w, err := New(t.TempDir(), "lean", func(ctx context.Context, paths []string) error { return nil }, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ".lean", w.extension)
}

func TestWatcher_DetectsFileWriteAndInvokesIngest(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 1)

	w, err := New(dir, ".lean", func(ctx context.Context, paths []string) error {
		mu.Lock()
		seen = append(seen, paths...)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "Foo.lean")
	require.NoError(t, os.WriteFile(path, []byte("theorem x : True := trivial"), 0644))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for ingest callback")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Contains(t, seen[0], "Foo.lean")
}

func TestWatcher_IgnoresNonMatchingExtension(t *testing.T) {
	dir := t.TempDir()
	called := make(chan struct{}, 1)

	w, err := New(dir, ".lean", func(ctx context.Context, paths []string) error {
		called <- struct{}{}
		return nil
	}, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("irrelevant"), 0644))

	select {
	case <-called:
		t.Fatal("ingest should not run for a non-.lean file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStartStop_IsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), ".lean", func(ctx context.Context, paths []string) error { return nil }, time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx)) // second Start is a no-op
	assert.True(t, w.IsRunning())

	w.Stop()
	w.Stop() // second Stop is a no-op
	assert.False(t, w.IsRunning())
}
