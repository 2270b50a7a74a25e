package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAppliesWorkerFloor(t *testing.T) {
	cfg := Default()
	require.Equal(t, 1, cfg.Workers)
	require.Equal(t, 0, cfg.TableCapacity)
	require.Empty(t, cfg.Admin.Address)
}

func TestLoadDecodesListenersAndBackendOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fdcore.toml")
	body := `
workers = 4
table_capacity = 4096
backend_order = ["epoll", "kqueue"]

[[listener]]
network = "tcp"
address = ":8080"
reuseport = true

[admin]
network = "tcp"
address = "127.0.0.1:9090"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 4096, cfg.TableCapacity)
	require.Equal(t, []string{"epoll", "kqueue"}, cfg.BackendOrder)
	require.Len(t, cfg.Listeners, 1)
	require.Equal(t, "tcp", cfg.Listeners[0].Network)
	require.Equal(t, ":8080", cfg.Listeners[0].Address)
	require.True(t, cfg.Listeners[0].Reuseport)
	require.Equal(t, "127.0.0.1:9090", cfg.Admin.Address)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
