package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentworkforce/pagekeeper/internal/cache"
	"github.com/agentworkforce/pagekeeper/internal/config"
	"github.com/agentworkforce/pagekeeper/internal/events"
	"github.com/agentworkforce/pagekeeper/internal/logging"
	"github.com/agentworkforce/pagekeeper/internal/metrics"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/persistence"
	"github.com/agentworkforce/pagekeeper/internal/registry"
	"github.com/agentworkforce/pagekeeper/internal/remotestore"
	"github.com/agentworkforce/pagekeeper/internal/watch"
)

// app is the wired engine shared by every command.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	bus        *events.Bus
	cache      *cache.LocalCache
	controller *persistence.Controller
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if strings.TrimSpace(opts.RemoteURL) != "" {
		cfg.Remote.BaseURL = strings.TrimSpace(opts.RemoteURL)
	}
	if strings.TrimSpace(opts.LogLevel) != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, nil
}

func newApp(cfg config.Config) (*app, error) {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	sugar := logger.Sugar()

	backend, err := cache.BuildBackendFromDSN(cfg.Cache.DSN)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	local := cache.NewLocalCache(backend, sugar.Named("cache"))

	bus := events.NewBus(events.WithDropHandler(func(events.Event) {
		metrics.EventsDroppedTotal.Inc()
	}))

	eventCtx := cfg.Event
	if cfg.Assets.EventFile != "" {
		if loaded, err := watch.LoadEventContext(cfg.Assets.EventFile); err == nil {
			eventCtx = loaded
		} else {
			sugar.Warnw("event file not loaded, using configured event data", "path", cfg.Assets.EventFile, "error", err)
		}
	}

	controller, err := persistence.New(persistence.Options{
		Cache:  local,
		Remote: remotestore.New(cfg.Remote.BaseURL, cfg.Remote.Token, remotestore.WithLogger(sugar.Named("remote"))),
		Registry: registry.New(
			registry.WithLocale(cfg.Registry.Locale),
			registry.WithLogger(sugar.Named("registry")),
		),
		Bus: bus,
		Downloader: persistence.FileDownloader{
			Dir:    cfg.Downloads.Dir,
			Logger: sugar.Named("download"),
		},
		Rules:          cfg.Structure,
		Deduper:        pagedoc.Deduper{SingletonTypes: cfg.Dedupe.SingletonTypes},
		EventContext:   eventCtx,
		RefreshTimeout: cfg.Remote.RefreshTimeout,
		ListTimeout:    cfg.Remote.ListTimeout,
		SaveTimeout:    cfg.Remote.SaveTimeout,
		MemoryPages:    cfg.Cache.MemoryPages,
		Logger:         sugar.Named("pages"),
	})
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, bus: bus, cache: local, controller: controller}, nil
}

func (a *app) Close() error {
	err := a.controller.Close()
	a.bus.Close()
	if cerr := a.cache.Close(); err == nil {
		err = cerr
	}
	_ = a.logger.Sync()
	return err
}
