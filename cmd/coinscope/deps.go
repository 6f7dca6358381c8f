package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coinScope/internal/config"
	"coinScope/internal/gecko"
	"coinScope/internal/platform"
	"coinScope/internal/prices"
)

// deps are the clients shared by every subcommand.
type deps struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    clock.Clock
	gecko    *gecko.Client
	platform *platform.Client
	catalog  *platform.Catalog
	batcher  *prices.Batcher
	eth      *prices.EthPrice
}

func loadDeps(cmd *cobra.Command) (*deps, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	clk := clock.New()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	geckoClient := gecko.NewClient(gecko.Options{
		BaseURL:    cfg.GeckoURL,
		Network:    cfg.Network,
		HTTPClient: httpClient,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Clock:      clk,
		Logger:     logger,
	})
	platformClient := platform.NewClient(platform.Options{
		BaseURL:    cfg.PlatformURL,
		APIKey:     cfg.PlatformAPIKey,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	return &deps{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		gecko:    geckoClient,
		platform: platformClient,
		catalog:  platform.NewCatalog(platformClient, clk),
		batcher:  prices.NewBatcher(geckoClient, clk, logger),
		eth:      prices.NewEthPrice(cfg.CoinGeckoURL, httpClient, clk),
	}, nil
}

func (d *deps) close() {
	_ = d.logger.Sync()
}

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
