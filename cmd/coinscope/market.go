package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coinScope/internal/format"
	"coinScope/internal/gecko"
	"coinScope/internal/history"
	"coinScope/internal/model"
)

const readTimeout = 30 * time.Second

type coinLine struct {
	ID        string         `json:"id"`
	Address   string         `json:"address"`
	Name      string         `json:"name"`
	Symbol    string         `json:"symbol"`
	Kind      model.CoinKind `json:"kind"`
	Price     string         `json:"price"`
	MarketCap string         `json:"market_cap"`
}

func runCoins(cmd *cobra.Command, _ []string) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := commandContext(cmd, readTimeout)
	defer cancel()

	coins, err := d.catalog.PopularCoins(ctx)
	if err != nil {
		return err
	}
	addresses := make([]string, 0, len(coins))
	for _, c := range coins {
		addresses = append(addresses, c.ContractAddress)
	}
	priceMap, err := d.batcher.Fetch(ctx, addresses)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	out := make([]coinLine, 0, len(coins))
	for _, c := range coins {
		p := priceMap[strings.ToLower(c.ContractAddress)]
		out = append(out, coinLine{
			ID:        c.ID,
			Address:   c.ContractAddress,
			Name:      c.Metadata.Name,
			Symbol:    c.Metadata.Symbol,
			Kind:      c.Kind,
			Price:     format.FormatUSDPrice(p.PriceUSD),
			MarketCap: format.FormatMarketCap(p.MarketCap),
		})
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runHistory(cmd *cobra.Command, args []string) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()

	raw, _ := cmd.Flags().GetString("timeframe")
	tf, err := gecko.ParseTimeframe(raw)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, readTimeout)
	defer cancel()

	resolver := history.NewResolver(d.gecko, nil, d.clock, d.logger)
	h := resolver.Resolve(ctx, args[0], tf)
	if h.Err != nil {
		return h.Err
	}
	if !h.HasPool {
		d.logger.Info("no pool found", zap.String("token", args[0]))
	}
	return printJSON(cmd.OutOrStdout(), h)
}

func runPrices(cmd *cobra.Command, args []string) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := commandContext(cmd, readTimeout)
	defer cancel()

	priceMap, err := d.batcher.Fetch(ctx, args)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), priceMap)
}

func runEthPrice(cmd *cobra.Command, _ []string) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := commandContext(cmd, readTimeout)
	defer cancel()

	usd, err := d.eth.USD(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"usd": usd, "display": format.FormatUSDPrice(&usd)})
}
