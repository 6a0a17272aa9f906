package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"cloudstash/internal/config"
	"cloudstash/internal/container"
	"cloudstash/internal/engine"
	"cloudstash/internal/events"
	"cloudstash/internal/gatekeeper"
	"cloudstash/internal/platform"
	"cloudstash/internal/repository"
)

// app holds the wired components shared by every command.
type app struct {
	config     *config.Config
	repo       *repository.Repository
	platform   *platform.Local
	gatekeeper *gatekeeper.Gatekeeper
	emitter    *events.Emitter
	engine     *engine.Engine

	logMu   sync.Mutex
	logFile *os.File
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	configPath := getConfigPath(cmd)
	if configPath == "" {
		return nil, errors.New("no configuration file found")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a := &app{config: cfg}
	a.logFile = setupLogging(cfg.GetLogging(), nil)
	slog.Info("configuration loaded", "config_path", configPath)

	containerCfg := cfg.GetContainer()
	if containerCfg.Root == "" {
		return nil, errors.New("container.root is required")
	}

	dbPath := cfg.GetDatabase().Path
	if dbPath == "" {
		dbPath = ":memory:"
		slog.Warn("no database path configured, transfer history will not persist")
	}
	a.repo, err = repository.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized", "path", dbPath)

	c := container.New(containerCfg.Root, osfs.New(containerCfg.Root))
	local := osfs.New("/")

	a.platform = platform.NewLocal(platform.Options{
		Container: c,
		Local:     local,
		Remote:    osfs.New(cfg.GetPlatform().RemoteRoot),
		Index:     a.repo,
		Config:    cfg,
	})
	if err := a.platform.Start(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to start platform: %w", err)
	}

	a.gatekeeper = gatekeeper.New(cfg, nil)
	a.emitter = events.NewEmitter()
	a.engine = engine.New(engine.Options{
		Config:    cfg,
		Container: c,
		Platform:  a.platform,
		Local:     local,
		Repo:      a.repo,
		Emitter:   a.emitter,
		Gate:      a.gatekeeper,
	})

	return a, nil
}

// reloadLogging reinstalls the logger from the current configuration.
func (a *app) reloadLogging() {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	a.logFile = setupLogging(a.config.GetLogging(), a.logFile)
}

func (a *app) close() {
	if a.platform != nil {
		a.platform.Stop()
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}
	a.logMu.Lock()
	defer a.logMu.Unlock()
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}
