package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfigFile(t *testing.T, path, host string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Player.ID = "00:04:20:aa:bb:cc"
	cfg.Server.Host = host
	require.NoError(t, SaveToFile(cfg, path))
}

func TestLoader_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfigFile(t, path, "music.local")

	loader, err := NewLoader(path, zap.NewNop())
	require.NoError(t, err)
	defer loader.Stop()

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "music.local", cfg.Server.Host)
	assert.Equal(t, cfg, loader.Current())
}

func TestLoader_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfigFile(t, path, "music.local")

	loader, err := NewLoader(path, zap.NewNop())
	require.NoError(t, err)
	defer loader.Stop()

	_, err = loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	require.NoError(t, loader.StartWatching(func(cfg *Config) error {
		changed <- cfg
		return nil
	}))

	writeConfigFile(t, path, "other.local")

	select {
	case cfg := <-changed:
		assert.Equal(t, "other.local", cfg.Server.Host)
	case <-time.After(2 * time.Second):
		t.Fatal("change never observed")
	}
	assert.Equal(t, "other.local", loader.Current().Server.Host)
}

func TestLoader_InvalidReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfigFile(t, path, "music.local")

	loader, err := NewLoader(path, zap.NewNop())
	require.NoError(t, err)
	defer loader.Stop()

	_, err = loader.Load()
	require.NoError(t, err)

	changed := make(chan struct{}, 1)
	require.NoError(t, loader.StartWatching(func(*Config) error {
		changed <- struct{}{}
		return nil
	}))

	// Player id missing, fails validation.
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"host":"x"}}`), 0o600))

	select {
	case <-changed:
		t.Fatal("invalid config must not be applied")
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, "music.local", loader.Current().Server.Host)
}

func TestLoader_StopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfigFile(t, path, "music.local")

	loader, err := NewLoader(path, zap.NewNop())
	require.NoError(t, err)

	loader.Stop()
	loader.Stop()
}
