package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pr-poehali-dev/social-connect-platform-1-sub000/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{Addr: "127.0.0.1:0"},
		Media:   config.MediaConfig{Timeout: time.Second},
		Storage: config.StorageConfig{CacheDBPath: filepath.Join(t.TempDir(), "cache.db")},
		Chat:    config.ChatConfig{HistoryLimit: 20},
	}
}

func TestRunReturnsStartupErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.PersonasFile = filepath.Join(t.TempDir(), "missing.yaml")

	err := run(cfg, zerolog.Nop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "load personas")
}

func TestRunReturnsListenErrorAfterWiring(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Addr = "127.0.0.1:not-a-port"

	require.Error(t, run(cfg, zerolog.Nop()))
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
