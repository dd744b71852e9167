package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcher_SignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json5")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	w, err := NewFileWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"version":2}`), 0o644))

	select {
	case <-w.Updates():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher signal")
	}
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json5")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	w, err := NewFileWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))

	assert.NotPanics(t, func() {
		w.Stop()
		w.Stop()
	})
}

func TestNewFileWatcher_RejectsEmptyPath(t *testing.T) {
	_, err := NewFileWatcher("")
	assert.Error(t, err)
}
