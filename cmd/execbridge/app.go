package main

import (
	"log/slog"

	"github.com/sameehj/execbridge/pkg/access"
	"github.com/sameehj/execbridge/pkg/backup"
	"github.com/sameehj/execbridge/pkg/config"
	"github.com/sameehj/execbridge/pkg/exec"
	"github.com/sameehj/execbridge/pkg/fsops"
	"github.com/sameehj/execbridge/pkg/interp"
	"github.com/sameehj/execbridge/pkg/mcp"
	"github.com/sameehj/execbridge/pkg/metrics"
	"github.com/sameehj/execbridge/pkg/safety"
	"github.com/sameehj/execbridge/pkg/tool"
	"github.com/sameehj/execbridge/pkg/version"
)

const serverName = "execbridge"

// app holds every component built from one configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Recorder
	facade   *interp.Facade
	registry *tool.Registry
	server   *mcp.Server
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	rec := metrics.New()
	guard := access.NewGuard(cfg.Policy())

	vault := backup.New()
	vault.SetObserver(rec)

	runner := exec.NewRunner(cfg.Limits())
	runner.MaxOutput = cfg.Exec.MaxOutput
	if cfg.Exec.WaitDelay > 0 {
		runner.WaitDelay = cfg.Exec.WaitDelay
	}
	runner.SetLogger(logger)
	runner.SetObserver(rec)

	files := fsops.New(guard, vault, cfg.FilesOptions())
	files.SetLogger(logger)

	facade := interp.New(guard, safety.Default(), runner, cfg.InterpOptions(version.Version))
	facade.SetLogger(logger)
	facade.SetObserver(rec)

	registry := tool.NewRegistry()
	registry.SetLogger(logger)
	registry.SetRecorder(rec)
	if err := tool.RegisterBuiltins(registry, files, facade); err != nil {
		return nil, err
	}

	server := mcp.NewServer(registry, serverName, version.Version)
	server.SetLogger(logger)

	logger.Debug("app_ready",
		"volumes", cfg.Access.Volumes,
		"prefixes", cfg.Access.Prefixes,
		"scratch_dir", cfg.Access.ScratchDir,
		"tools", len(registry.Definitions()))

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  rec,
		facade:   facade,
		registry: registry,
		server:   server,
	}, nil
}
