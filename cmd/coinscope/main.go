package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "coinscope",
		Short:        "Creator coin market data and trading on Base",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("gecko-url", "https://api.geckoterminal.com/api/v2", "GeckoTerminal API base URL")
	pf.String("network", "base", "GeckoTerminal network id")
	pf.String("platform-url", "https://public.api.paragraph.com/api/v1", "platform coin API base URL")
	pf.String("platform-api-key", "", "platform API key")
	pf.String("coingecko-url", "https://api.coingecko.com/api/v3", "CoinGecko API base URL")
	pf.Int("max-retries", 2, "retries on HTTP 429 before giving up")
	pf.Duration("retry-delay", time.Second, "base delay between rate-limit retries (grows linearly)")
	pf.Duration("http-timeout", 15*time.Second, "HTTP client timeout")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the coin API and stream prices",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("price-refresh", 60*time.Second, "price refresh interval")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN for price snapshots (optional)")
	root.AddCommand(serveCmd)

	coinsCmd := &cobra.Command{
		Use:   "coins",
		Short: "List popular coins with prices",
		Args:  cobra.NoArgs,
		RunE:  runCoins,
	}
	root.AddCommand(coinsCmd)

	historyCmd := &cobra.Command{
		Use:   "history <token>",
		Short: "Print price history of a token's top pool",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().String("timeframe", "1d", "timeframe (1h, 4h, 1d, 1w)")
	root.AddCommand(historyCmd)

	pricesCmd := &cobra.Command{
		Use:   "prices <address>...",
		Short: "Print current prices for token addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPrices,
	}
	root.AddCommand(pricesCmd)

	ethPriceCmd := &cobra.Command{
		Use:   "eth-price",
		Short: "Print the ETH/USD rate",
		Args:  cobra.NoArgs,
		RunE:  runEthPrice,
	}
	root.AddCommand(ethPriceCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote <coin>",
		Short: "Quote a buy of a coin for an ETH amount",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("amount", "", "ETH amount to spend")
	root.AddCommand(quoteCmd)

	balanceCmd := &cobra.Command{
		Use:   "balance <coin>",
		Short: "Print the connected wallet's coin balance",
		Args:  cobra.ExactArgs(1),
		RunE:  runBalance,
	}
	addWalletFlags(balanceCmd)
	root.AddCommand(balanceCmd)

	buyCmd := &cobra.Command{
		Use:   "buy <coin>",
		Short: "Buy a coin with ETH",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuy,
	}
	addWalletFlags(buyCmd)
	addTradeFlags(buyCmd)
	buyCmd.Flags().String("amount", "", "ETH amount to spend")
	root.AddCommand(buyCmd)

	sellCmd := &cobra.Command{
		Use:   "sell <coin>",
		Short: "Sell a coin for ETH",
		Args:  cobra.ExactArgs(1),
		RunE:  runSell,
	}
	addWalletFlags(sellCmd)
	addTradeFlags(sellCmd)
	sellCmd.Flags().String("amount", "", "coin amount to sell")
	sellCmd.Flags().Int64("percent", 0, "sell this percentage of the balance instead of --amount")
	sellCmd.MarkFlagsMutuallyExclusive("amount", "percent")
	root.AddCommand(sellCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addWalletFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("chain-id", 8453, "chain to trade on")
	cmd.Flags().StringSlice("chain-rpc", []string{"8453=https://mainnet.base.org"}, "chainID=url RPC endpoints")
	cmd.Flags().String("connector", "", "wallet connector (private-key, keystore); empty picks the first configured")
	cmd.Flags().String("private-key", "", "hex private key")
	cmd.Flags().String("keystore-dir", "", "go-ethereum keystore directory")
	cmd.Flags().String("keystore-account", "", "keystore account address (default first)")
	cmd.Flags().String("keystore-passphrase", "", "keystore passphrase")
}

func addTradeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	cmd.Flags().String("journal", "./data/trades.jsonl", "trade journal JSONL path")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for trade records (optional)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
