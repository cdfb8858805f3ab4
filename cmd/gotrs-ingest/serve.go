package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/gotrs-ingest/internal/api"
	"github.com/gotrs-io/gotrs-ingest/internal/auth"
	"github.com/gotrs-io/gotrs-ingest/internal/config"
	"github.com/gotrs-io/gotrs-ingest/internal/logging"
	"github.com/gotrs-io/gotrs-ingest/internal/services/scheduler"
	"github.com/gotrs-io/gotrs-ingest/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poll scheduler and the ops HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := config.ValidateSecrets(cfg, logger); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withPipeline(ctx); err != nil {
		return err
	}

	config.OnChange(func(next *config.Config) {
		logging.SetLevel(next.Logging.Level)
	})

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return fmt.Errorf("invalid app.timezone %q: %w", cfg.App.Timezone, err)
	}
	sched := scheduler.NewService(a.poller,
		scheduler.WithLogger(logger),
		scheduler.WithLocation(loc),
		scheduler.WithSchedule(scheduler.EmailIngestSlug, cfg.Poll.Schedule),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.Ops.Enabled {
		var jwtManager *auth.JWTManager
		if cfg.Ops.JWTSecret != "" {
			jwtManager = auth.NewJWTManager(cfg.Ops.JWTSecret, time.Hour)
		}
		server := api.NewServer(api.Deps{
			Poller:   a.poller,
			Accounts: a.accounts,
			Ingester: a.postmaster,
			Status:   statusStore(a),
			JWT:      jwtManager,
			Logger:   logger,
			Version:  version.Short(),
		})
		g.Go(func() error {
			return server.ListenAndServe(gctx, cfg.Ops.Addr)
		})
	}

	logger.Info("gotrs-ingest started",
		"version", version.String(),
		"schedule", cfg.Poll.Schedule,
		"workers", cfg.Poll.Workers,
		"ops", cfg.Ops.Enabled)

	err = g.Wait()
	if err != nil && !errors.Is(err, ctx.Err()) {
		return err
	}
	logger.Info("gotrs-ingest stopped")
	return nil
}
