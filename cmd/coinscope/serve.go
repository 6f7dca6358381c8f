package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coinScope/internal/api"
	"coinScope/internal/history"
	"coinScope/internal/prices"
	"coinScope/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, _ []string) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()
	cfg, logger := d.cfg, d.logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink prices.SnapshotSink
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		sink = store
	}

	refresher := prices.NewRefresher(d.batcher, d.eth, d.catalog.Addresses, prices.RefresherConfig{
		Interval: cfg.PriceRefresh,
		Clock:    d.clock,
		Sink:     sink,
		Logger:   logger,
	})

	server := api.NewServer(api.Options{
		Catalog:       d.catalog,
		Prices:        d.batcher,
		Eth:           d.eth,
		Feed:          refresher,
		Market:        d.gecko,
		HistoryCaches: history.NewCaches(d.clock),
		Clock:         d.clock,
		Logger:        logger,
	})

	logger.Info("coinscope start",
		zap.String("listen", cfg.Listen),
		zap.String("gecko", cfg.GeckoURL),
		zap.String("network", cfg.Network),
		zap.String("platform", cfg.PlatformURL),
		zap.Duration("price_refresh", cfg.PriceRefresh),
		zap.Bool("postgres", sink != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return refresher.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx, cfg.Listen)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("coinscope stopped")
	return nil
}
