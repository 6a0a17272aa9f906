package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Container  ContainerConfig  `yaml:"container"`
	Platform   PlatformConfig   `yaml:"platform"`
	Transfers  TransfersConfig  `yaml:"transfers"`
	Gatekeeper GatekeeperConfig `yaml:"gatekeeper"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`

	mu       sync.RWMutex
	watchers []chan<- struct{}
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ContainerConfig locates the cloud container. An empty identity token means
// no cloud identity is signed in.
type ContainerConfig struct {
	Root          string `yaml:"root"`
	IdentityToken string `yaml:"identity_token"`
}

// PlatformConfig tunes the local platform daemon that moves bytes between the
// container and the remote store.
type PlatformConfig struct {
	RemoteRoot    string        `yaml:"remote_root"`
	Workers       int           `yaml:"workers"`
	ChunkSize     int           `yaml:"chunk_size"`
	ChunkDelay    time.Duration `yaml:"chunk_delay"`
	QueryInterval time.Duration `yaml:"query_interval"`
}

type TransfersConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	SizeProbeWorkers int           `yaml:"size_probe_workers"`
	// HistoryRetention is how long finished transfers stay in the history.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type GatekeeperConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ReserveBytes uint64 `yaml:"reserve_bytes"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// Load loads configuration from file with environment variable expansion
func Load(configPath string) (*Config, error) {
	var err error
	configOnce.Do(func() {
		globalConfig, err = loadConfig(configPath)
		if err == nil && globalConfig != nil {
			go globalConfig.watchConfig(configPath)
		}
	})
	return globalConfig, err
}

// Get returns the global configuration instance
func Get() *Config {
	if globalConfig == nil {
		panic("configuration not loaded - call Load() first")
	}
	return globalConfig
}

// Default returns a configuration usable without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func loadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	content := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8089
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Platform.Workers == 0 {
		c.Platform.Workers = 4
	}
	if c.Platform.ChunkSize == 0 {
		c.Platform.ChunkSize = 256 * 1024
	}
	if c.Platform.QueryInterval == 0 {
		c.Platform.QueryInterval = 250 * time.Millisecond
	}
	if c.Transfers.SizeProbeWorkers == 0 {
		c.Transfers.SizeProbeWorkers = 8
	}
	if c.Transfers.HistoryRetention == 0 {
		c.Transfers.HistoryRetention = 7 * 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Container.Root != "" && !filepath.IsAbs(c.Container.Root) {
		return fmt.Errorf("container root must be absolute: %s", c.Container.Root)
	}

	if c.Container.Root != "" && c.Platform.RemoteRoot == "" {
		return fmt.Errorf("platform remote_root is required when a container root is set")
	}

	if c.Platform.Workers < 0 {
		return fmt.Errorf("platform workers cannot be negative")
	}

	if c.Platform.ChunkSize < 0 {
		return fmt.Errorf("platform chunk_size cannot be negative")
	}

	if c.Transfers.Timeout < 0 {
		return fmt.Errorf("transfers timeout cannot be negative")
	}

	if c.Transfers.HistoryRetention < 0 {
		return fmt.Errorf("transfers history_retention cannot be negative")
	}

	if strings.HasPrefix(c.Container.IdentityToken, "${") {
		return fmt.Errorf("container identity_token references an unset environment variable")
	}

	return nil
}

func (c *Config) ensureDirectories() error {
	var dirs []string

	if c.Database.Path != "" && c.Database.Path != ":memory:" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}

	if c.Container.Root != "" {
		dirs = append(dirs, filepath.Join(c.Container.Root, "Documents"), c.Platform.RemoteRoot)
	}

	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// WatchForChanges registers a channel to receive notifications when config changes
func (c *Config) WatchForChanges() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	c.watchers = append(c.watchers, ch)
	return ch
}

func (c *Config) watchConfig(configPath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create config watcher", "error", err)
		return
	}
	defer watcher.Close()

	configDir := filepath.Dir(configPath)
	if err := watcher.Add(configDir); err != nil {
		slog.Error("failed to watch config directory", "error", err, "path", configDir)
		return
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) == filepath.Base(configPath) &&
				(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				slog.Info("config file changed, reloading", "file", configPath)

				// Small delay to ensure file write is complete
				time.Sleep(100 * time.Millisecond)

				if err := c.reload(configPath); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					c.notifyWatchers()
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

// reload swaps the fields that are safe to change at runtime. The container
// and database locations are fixed for the life of the process.
func (c *Config) reload(configPath string) error {
	newConfig, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Server = newConfig.Server
	c.Transfers = newConfig.Transfers
	c.Gatekeeper = newConfig.Gatekeeper
	c.Logging = newConfig.Logging
	c.Container.IdentityToken = newConfig.Container.IdentityToken
	c.Platform.ChunkDelay = newConfig.Platform.ChunkDelay
	c.Platform.QueryInterval = newConfig.Platform.QueryInterval

	slog.Info("configuration reloaded successfully")
	return nil
}

func (c *Config) notifyWatchers() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, watcher := range c.watchers {
		select {
		case watcher <- struct{}{}:
		default:
			// Non-blocking send - if buffer is full, skip
		}
	}
}

// GetServer returns a copy of the server configuration
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetContainer returns a copy of the container configuration
func (c *Config) GetContainer() ContainerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Container
}

// GetPlatform returns a copy of the platform configuration
func (c *Config) GetPlatform() PlatformConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Platform
}

// GetTransfers returns a copy of the transfers configuration
func (c *Config) GetTransfers() TransfersConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Transfers
}

// GetGatekeeper returns a copy of the gatekeeper configuration
func (c *Config) GetGatekeeper() GatekeeperConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gatekeeper
}

// GetDatabase returns a copy of the database configuration
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetLogging returns a copy of the logging configuration
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}
