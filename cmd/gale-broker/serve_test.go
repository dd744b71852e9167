package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolasances/gale-broker/internal/broker/bus/localqueue"
	brokerconfig "github.com/nicolasances/gale-broker/internal/broker/config"
	"github.com/nicolasances/gale-broker/internal/broker/logging"
	"github.com/nicolasances/gale-broker/internal/broker/store/memstore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestBuildStore_DefaultsToMemstore(t *testing.T) {
	logger := logging.New("text", slog.LevelInfo).Component("test")
	cfg := &brokerconfig.Config{}
	cfg.Store.Driver = "memory"

	store, checks, cleanup, err := buildStore(t.Context(), cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memstore.Store{}, store)
	assert.Empty(t, checks)
}

func TestBuildBus_DefaultsToLocalQueue(t *testing.T) {
	logger := logging.New("text", slog.LevelInfo).Component("test")
	cfg := &brokerconfig.Config{}
	cfg.Bus.Driver = "local"

	bus, check, cleanup, err := buildBus(t.Context(), cfg, nil, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &localqueue.Queue{}, bus)
	assert.Nil(t, check)
}

func TestBuildCatalog_EmptyPathYieldsNoWatcher(t *testing.T) {
	logger := logging.New("text", slog.LevelInfo).Component("test")
	cfg := &brokerconfig.Config{}
	cfg.Catalog.FilePath = ""
	cfg.Catalog.CacheSize = 16

	cat, watcher, err := buildCatalog(cfg, logger)
	require.NoError(t, err)
	assert.NotNil(t, cat)
	assert.Nil(t, watcher)
}
