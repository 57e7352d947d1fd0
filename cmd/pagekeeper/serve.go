package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/pagekeeper/internal/config"
	"github.com/agentworkforce/pagekeeper/internal/httpapi"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
	"github.com/agentworkforce/pagekeeper/internal/watch"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	addr string
}

func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editor API and watch the shared event file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address; overrides config")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger.Sugar()

	if restored, err := a.controller.RecoverBackup(ctx); err != nil {
		logger.Warnw("backup recovery failed", "error", err)
	} else if restored {
		logger.Infow("restored page from backup")
	}
	if _, err := a.controller.ListPages(ctx); err != nil {
		logger.Warnw("initial page list incomplete", "error", err)
	}

	handler := httpapi.NewServerWithConfig(a.controller, a.bus, httpapi.ServerConfig{
		JWTSecret:       cfg.Server.JWTSecret,
		HookSecret:      cfg.Server.HookSecret,
		RateLimitMax:    cfg.Server.RateLimitMax,
		RateLimitWindow: cfg.Server.RateLimitWindow,
		RefreshWait:     cfg.Remote.RefreshTimeout * 2,
		OriginPatterns:  cfg.Server.OriginPatterns,
	}, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("pagekeeper listening", "addr", cfg.Server.Addr, "remoteEnabled", a.controller.RemoteEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Assets.EventFile != "" {
		watcher := &watch.AssetWatcher{
			Path:         cfg.Assets.EventFile,
			Interval:     cfg.Assets.PollInterval,
			ForcePolling: cfg.Assets.ForcePolling,
			Logger:       logger.Named("assets"),
			OnChange: func(ctx context.Context, ec pagedoc.EventContext) {
				updated := a.controller.ApplyEventContext(ctx, ec)
				logger.Infow("event assets changed", "pagesUpdated", updated)
			},
		}
		group.Go(func() error {
			return watcher.Run(ctx)
		})
	}
	return group.Wait()
}
