package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"coinScope/internal/format"
	"coinScope/internal/model"
	"coinScope/internal/storage"
	"coinScope/internal/storage/postgres"
	"coinScope/internal/trade"
	"coinScope/internal/wallet"
)

const tradeTimeout = 5 * time.Minute

func runQuote(cmd *cobra.Command, args []string) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := commandContext(cmd, readTimeout)
	defer cancel()

	coin, err := d.catalog.Coin(ctx, args[0])
	if err != nil {
		return err
	}
	amount, _ := cmd.Flags().GetString("amount")

	flow := trade.NewFlow(coin, nil, d.platform, trade.Config{ChainID: d.cfg.ChainID, Clock: d.clock, Logger: d.logger})
	req := flow.SetBuyAmount(amount)
	if !req.Enabled {
		return printJSON(cmd.OutOrStdout(), map[string]any{"enabled": false})
	}
	st := flow.RefreshQuote(ctx)
	if st.Err != nil {
		return st.Err
	}
	out := map[string]any{
		"enabled":    true,
		"amount_wei": req.AmountWei.String(),
		"quote":      st.Data,
	}
	if q, ok := parseBig(st.Data); ok {
		out["quote_display"] = format.FormatTokenCount(q, coin.TokenDecimals()) + " " + coin.Metadata.Symbol
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runBalance(cmd *cobra.Command, args []string) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := commandContext(cmd, readTimeout)
	defer cancel()

	flow, w, err := openFlow(ctx, cmd, d, args[0], nil)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := flow.RefreshBalance(ctx); err != nil {
		return err
	}
	return printBalance(cmd.OutOrStdout(), flow, w)
}

func runBuy(cmd *cobra.Command, args []string) error {
	return runTrade(cmd, args[0], model.ActionBuy)
}

func runSell(cmd *cobra.Command, args []string) error {
	return runTrade(cmd, args[0], model.ActionSell)
}

func runTrade(cmd *cobra.Command, coinAddress string, action model.TradeAction) error {
	d, err := loadDeps(cmd)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := commandContext(cmd, tradeTimeout)
	defer cancel()

	journal, closeJournal, err := openJournal(ctx, d)
	if err != nil {
		return err
	}
	defer closeJournal()

	flow, w, err := openFlow(ctx, cmd, d, coinAddress, journal)
	if err != nil {
		return err
	}
	defer w.Close()

	amount, _ := cmd.Flags().GetString("amount")
	var result model.TransactionResult
	switch action {
	case model.ActionBuy:
		flow.SetBuyAmount(amount)
		result, err = flow.Buy(ctx)
	case model.ActionSell:
		if err := flow.RefreshBalance(ctx); err != nil {
			return err
		}
		percent, _ := cmd.Flags().GetInt64("percent")
		if percent != 0 {
			if amount, err = flow.PercentSell(percent); err != nil {
				return err
			}
		} else {
			flow.SetSellAmount(amount)
		}
		result, err = flow.Sell(ctx)
	}
	if err != nil {
		return err
	}

	if err := printJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s failed: %s", action, result.Message)
	}
	return nil
}

// openFlow connects the configured wallet and builds a trade flow for the
// coin at address.
func openFlow(ctx context.Context, cmd *cobra.Command, d *deps, address string, journal trade.Journal) (*trade.Flow, *wallet.Wallet, error) {
	coin, err := d.catalog.Coin(ctx, address)
	if err != nil {
		return nil, nil, err
	}

	var connectors []wallet.Connector
	if d.cfg.PrivateKey != "" {
		connectors = append(connectors, wallet.NewPrivateKeyConnector(d.cfg.PrivateKey))
	}
	if d.cfg.KeystoreDir != "" {
		connectors = append(connectors, wallet.NewKeystoreConnector(d.cfg.KeystoreDir, d.cfg.KeystoreAccount, d.cfg.KeystorePassphrase))
	}
	w := wallet.New(connectors, wallet.Config{RPCURLs: d.cfg.ChainRPCs, Logger: d.logger})
	if err := w.Connect(ctx, d.cfg.Connector); err != nil {
		return nil, nil, err
	}

	var confirm trade.ConfirmFunc
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		confirm = promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr(), coin)
	}

	flow := trade.NewFlow(coin, w, d.platform, trade.Config{
		ChainID: d.cfg.ChainID,
		Clock:   d.clock,
		Journal: journal,
		Confirm: confirm,
		Logger:  d.logger,
	})
	return flow, w, nil
}

func openJournal(ctx context.Context, d *deps) (trade.Journal, func(), error) {
	journals := storage.Tee{storage.NewJsonlJournal(d.cfg.Journal)}
	if d.cfg.PGDSN == "" {
		return journals, func() {}, nil
	}
	store, err := postgres.NewStore(ctx, d.cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	d.logger.Info("journaling trades to postgres")
	return append(journals, store), store.Close, nil
}

func promptConfirm(in io.Reader, out io.Writer, coin model.Coin) trade.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, action model.TradeAction, amount string) (bool, error) {
		unit := coin.Metadata.Symbol
		if action == model.ActionBuy {
			unit = "ETH"
		}
		fmt.Fprintf(out, "%s %s %s of %s (%s)? [y/N] ", action, amount, unit, coin.Metadata.Name, coin.ContractAddress)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func printBalance(out io.Writer, flow *trade.Flow, w *wallet.Wallet) error {
	addr, _ := w.Address()
	balance := flow.Balance()
	if balance == nil {
		balance = new(big.Int)
	}
	return printJSON(out, map[string]any{
		"account":  addr.Hex(),
		"balance":  format.FormatUnits(balance, flow.Decimals()),
		"raw":      balance.String(),
		"can_sell": flow.CanSell(),
	})
}

func parseBig(s string) (*big.Int, bool) {
	return new(big.Int).SetString(strings.TrimSpace(s), 10)
}
