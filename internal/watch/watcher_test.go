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

	"github.com/keshon/mycelium/internal/logging"
)

func TestIsScript(t *testing.T) {
	assert.True(t, isScript("/x/ping.js"))
	assert.False(t, isScript("PING.JS"))
	assert.False(t, isScript("ping.Js"))
	assert.False(t, isScript("notes.txt"))
	assert.False(t, isScript(".ping.js.swp"))
	assert.False(t, isScript(".hidden.js"))
	assert.False(t, isScript("ping.js~"))
}

func TestRunDebouncesChanges(t *testing.T) {
	dir := t.TempDir()

	var (
		mu    sync.Mutex
		calls [][]string
	)
	w, err := New(Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Logger:   logging.Discard(),
		OnChange: func(_ context.Context, changed []string) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, changed)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.js"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.js"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("1"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a.js", "b.js"}, calls[0])
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, w.Run(context.Background()), ErrStarted)
}

func TestNewMissingDirectory(t *testing.T) {
	_, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
