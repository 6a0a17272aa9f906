package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "data", "cloudstash.db")
	containerRoot := filepath.Join(tmpDir, "container")
	remoteRoot := filepath.Join(tmpDir, "remote")

	configContent := `
server:
  port: 8080
  host: "0.0.0.0"
  shutdown_timeout: 30s

container:
  root: "` + containerRoot + `"
  identity_token: "token-123"

platform:
  remote_root: "` + remoteRoot + `"
  workers: 2
  chunk_size: 4096
  chunk_delay: 5ms
  query_interval: 100ms

transfers:
  timeout: 1h
  size_probe_workers: 4

gatekeeper:
  enabled: true
  reserve_bytes: 1048576

database:
  path: "` + dbPath + `"

logging:
  level: "debug"
  format: "text"
`

	configPath := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Reset global config for testing
	globalConfig = nil
	configOnce = sync.Once{}

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, containerRoot, cfg.Container.Root)
	assert.Equal(t, "token-123", cfg.Container.IdentityToken)

	assert.Equal(t, remoteRoot, cfg.Platform.RemoteRoot)
	assert.Equal(t, 2, cfg.Platform.Workers)
	assert.Equal(t, 4096, cfg.Platform.ChunkSize)
	assert.Equal(t, 5*time.Millisecond, cfg.Platform.ChunkDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Platform.QueryInterval)

	assert.Equal(t, time.Hour, cfg.Transfers.Timeout)
	assert.Equal(t, 4, cfg.Transfers.SizeProbeWorkers)

	assert.True(t, cfg.Gatekeeper.Enabled)
	assert.Equal(t, uint64(1048576), cfg.Gatekeeper.ReserveBytes)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Directories are created on load
	assert.DirExists(t, filepath.Join(containerRoot, "Documents"))
	assert.DirExists(t, remoteRoot)
	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 4, cfg.Platform.Workers)
	assert.Equal(t, 256*1024, cfg.Platform.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Platform.QueryInterval)
	assert.Equal(t, 8, cfg.Transfers.SizeProbeWorkers)
	assert.Equal(t, 7*24*time.Hour, cfg.Transfers.HistoryRetention)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NoError(t, cfg.validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
		errorMsg    string
	}{
		{
			name: "invalid port - negative",
			config: &Config{
				Server: ServerConfig{Port: -1},
			},
			expectError: true,
			errorMsg:    "invalid server port",
		},
		{
			name: "invalid port - too high",
			config: &Config{
				Server: ServerConfig{Port: 99999},
			},
			expectError: true,
			errorMsg:    "invalid server port",
		},
		{
			name: "relative container root",
			config: &Config{
				Server:    ServerConfig{Port: 8080},
				Container: ContainerConfig{Root: "relative/container"},
				Platform:  PlatformConfig{RemoteRoot: "/remote"},
			},
			expectError: true,
			errorMsg:    "container root must be absolute",
		},
		{
			name: "container without remote root",
			config: &Config{
				Server:    ServerConfig{Port: 8080},
				Container: ContainerConfig{Root: "/container"},
			},
			expectError: true,
			errorMsg:    "remote_root is required",
		},
		{
			name: "negative timeout",
			config: &Config{
				Server:    ServerConfig{Port: 8080},
				Transfers: TransfersConfig{Timeout: -time.Second},
			},
			expectError: true,
			errorMsg:    "timeout cannot be negative",
		},
		{
			name: "negative history retention",
			config: &Config{
				Server:    ServerConfig{Port: 8080},
				Transfers: TransfersConfig{HistoryRetention: -time.Hour},
			},
			expectError: true,
			errorMsg:    "history_retention cannot be negative",
		},
		{
			name: "unexpanded identity token",
			config: &Config{
				Server:    ServerConfig{Port: 8080},
				Container: ContainerConfig{IdentityToken: "${CLOUD_TOKEN}"},
			},
			expectError: true,
			errorMsg:    "unset environment variable",
		},
		{
			name: "valid config",
			config: &Config{
				Server:    ServerConfig{Port: 8080},
				Container: ContainerConfig{Root: "/container", IdentityToken: "abc"},
				Platform:  PlatformConfig{RemoteRoot: "/remote", Workers: 2},
			},
			expectError: false,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.validate()
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigGetters(t *testing.T) {
	cfg := &Config{
		Server:     ServerConfig{Port: 8080, Host: "localhost"},
		Container:  ContainerConfig{Root: "/container", IdentityToken: "tok"},
		Platform:   PlatformConfig{RemoteRoot: "/remote", Workers: 3},
		Transfers:  TransfersConfig{Timeout: time.Minute},
		Gatekeeper: GatekeeperConfig{Enabled: true, ReserveBytes: 10},
		Database:   DatabaseConfig{Path: "/data/db.sqlite"},
		Logging:    LoggingConfig{Level: "warn"},
	}

	assert.Equal(t, "localhost", cfg.GetServer().Host)
	assert.Equal(t, "tok", cfg.GetContainer().IdentityToken)
	assert.Equal(t, 3, cfg.GetPlatform().Workers)
	assert.Equal(t, time.Minute, cfg.GetTransfers().Timeout)
	assert.True(t, cfg.GetGatekeeper().Enabled)
	assert.Equal(t, "/data/db.sqlite", cfg.GetDatabase().Path)
	assert.Equal(t, "warn", cfg.GetLogging().Level)
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "data", "test.db")

	configContent := `
server:
  port: 8080
  host: "${HOST_BIND}"

container:
  identity_token: "${CLOUD_TOKEN}"

database:
  path: "${DB_PATH}"
`

	t.Setenv("HOST_BIND", "192.168.1.100")
	t.Setenv("CLOUD_TOKEN", "secret-token")
	t.Setenv("DB_PATH", dbPath)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	globalConfig = nil
	configOnce = sync.Once{}

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.100", cfg.Server.Host)
	assert.Equal(t, "secret-token", cfg.Container.IdentityToken)
	assert.Equal(t, dbPath, cfg.Database.Path)
}

func TestReloadKeepsContainerLocation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	write := func(token, level string) {
		content := `
container:
  root: "` + filepath.Join(tmpDir, "container") + `"
  identity_token: "` + token + `"
platform:
  remote_root: "` + filepath.Join(tmpDir, "remote") + `"
logging:
  level: "` + level + `"
`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	}

	write("first", "info")
	cfg, err := loadConfig(configPath)
	require.NoError(t, err)

	cfg.Container.Root = "/pinned"
	write("second", "debug")
	require.NoError(t, cfg.reload(configPath))

	assert.Equal(t, "second", cfg.GetContainer().IdentityToken)
	assert.Equal(t, "debug", cfg.GetLogging().Level)
	assert.Equal(t, "/pinned", cfg.GetContainer().Root)
}

func TestWatchForChanges_NonBlocking(t *testing.T) {
	cfg := Default()
	ch := cfg.WatchForChanges()

	cfg.notifyWatchers()
	cfg.notifyWatchers()

	select {
	case <-ch:
	default:
		t.Fatal("expected a change notification")
	}
}

func TestConfigMissingFile(t *testing.T) {
	globalConfig = nil
	configOnce = sync.Once{}

	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConfigInvalidYAML(t *testing.T) {
	invalidYAML := `
server:
  port: invalid_port
  host: test
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	globalConfig = nil
	configOnce = sync.Once{}

	_, err = Load(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}
