package trade

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"coinScope/internal/chain"
	"coinScope/internal/format"
	"coinScope/internal/model"
	"coinScope/internal/platform"
	"coinScope/internal/query"
)

const ethDecimals = 18

var (
	ErrTradeInFlight   = errors.New("trade already in flight")
	ErrInvalidAmount   = errors.New("amount must be a positive number")
	ErrNotConnected    = errors.New("wallet not connected")
	ErrSellUnavailable = errors.New("nothing to sell")
)

// Phase is the lifecycle of one trade attempt.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseSettled    Phase = "settled"
	PhaseFailed     Phase = "failed"
)

type Tab string

const (
	TabBuy  Tab = "buy"
	TabSell Tab = "sell"
)

// Wallet is the wallet surface the flow drives.
type Wallet interface {
	IsConnected() bool
	Address() (common.Address, bool)
	EnsureChain(ctx context.Context, chainID uint64) error
	Signer(ctx context.Context, chainID uint64) (platform.Signer, error)
	TokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// Trader executes trades and prices buys.
type Trader interface {
	Buy(ctx context.Context, req platform.TradeRequest) (common.Hash, error)
	Sell(ctx context.Context, req platform.TradeRequest) (common.Hash, error)
	Quote(ctx context.Context, coinID string, amountWei *big.Int) (string, error)
}

type Journal interface {
	PutTrades(ctx context.Context, records []model.TradeRecord) error
}

// ConfirmFunc asks the user to approve a trade. Returning false rejects it.
type ConfirmFunc func(ctx context.Context, action model.TradeAction, amount string) (bool, error)

// QuoteRequest is the quote lookup implied by the current buy amount.
type QuoteRequest struct {
	AmountWei *big.Int
	Enabled   bool
}

type Config struct {
	ChainID uint64
	Clock   clock.Clock
	Journal Journal
	Confirm ConfirmFunc
	Logger  *zap.Logger
}

// Flow is the buy/sell state for one coin.
type Flow struct {
	coin    model.Coin
	wallet  Wallet
	trader  Trader
	chainID uint64
	clock   clock.Clock
	journal Journal
	confirm ConfirmFunc
	logger  *zap.Logger
	quote   *query.Tracker[string]

	mu         sync.Mutex
	phase      Phase
	tab        Tab
	buyAmount  string
	sellAmount string
	quoteReq   QuoteRequest
	balance    *big.Int
	decimals   uint8
	result     *model.TransactionResult
}

func NewFlow(coin model.Coin, w Wallet, trader Trader, cfg Config) *Flow {
	if cfg.ChainID == 0 {
		cfg.ChainID = chain.BaseChainID
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Flow{
		coin:     coin,
		wallet:   w,
		trader:   trader,
		chainID:  cfg.ChainID,
		clock:    cfg.Clock,
		journal:  cfg.Journal,
		confirm:  cfg.Confirm,
		logger:   cfg.Logger.Named("trade").With(zap.String("coin", coin.ID)),
		quote:    query.NewTracker[string](cfg.Clock),
		phase:    PhaseIdle,
		tab:      TabBuy,
		decimals: coin.TokenDecimals(),
	}
}

func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *Flow) Tab() Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tab
}

func (f *Flow) BuyAmount() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buyAmount
}

func (f *Flow) SellAmount() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sellAmount
}

// Decimals returns the coin's decimals: the metadata value, or the on-chain
// value once a balance has been read for a coin whose metadata omits it.
func (f *Flow) Decimals() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decimals
}

// Balance returns the last read coin balance in smallest units, or nil if
// it is unknown.
func (f *Flow) Balance() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == nil {
		return nil
	}
	return new(big.Int).Set(f.balance)
}

// Result returns the outcome of the last finished attempt.
func (f *Flow) Result() (model.TransactionResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return model.TransactionResult{}, false
	}
	return *f.result, true
}

// SetBuyAmount records the ETH amount to spend. A positive amount enables a
// quote request for exactly that amount; anything else disables it. Any
// change of amount clears the visible quote and drops quotes still in flight.
func (f *Flow) SetBuyAmount(amount string) QuoteRequest {
	req := QuoteRequest{}
	if wei, err := format.ParseUnits(amount, ethDecimals); err == nil && wei.Sign() > 0 {
		req = QuoteRequest{AmountWei: wei, Enabled: true}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	changed := !sameQuoteRequest(f.quoteReq, req)
	f.buyAmount = strings.TrimSpace(amount)
	f.quoteReq = req
	if !req.Enabled || changed {
		f.quote.Disable()
	}
	return req
}

func sameQuoteRequest(a, b QuoteRequest) bool {
	if a.Enabled != b.Enabled {
		return false
	}
	if a.AmountWei == nil || b.AmountWei == nil {
		return a.AmountWei == b.AmountWei
	}
	return a.AmountWei.Cmp(b.AmountWei) == 0
}

// RefreshQuote issues the quote request for the current buy amount. Only the
// response for the latest amount becomes visible.
func (f *Flow) RefreshQuote(ctx context.Context) query.State[string] {
	f.mu.Lock()
	req := f.quoteReq
	if !req.Enabled {
		f.mu.Unlock()
		return f.quote.State()
	}
	gen := f.quote.Begin()
	f.mu.Unlock()

	out, err := f.trader.Quote(ctx, f.coin.ID, req.AmountWei)
	if !f.quote.Commit(gen, out, err) {
		f.logger.Debug("stale quote dropped", zap.String("amount_wei", req.AmountWei.String()))
	}
	return f.quote.State()
}

func (f *Flow) QuoteState() query.State[string] {
	return f.quote.State()
}

func (f *Flow) SetSellAmount(amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellAmount = strings.TrimSpace(amount)
}

// PercentSell sets the sell amount to percent of the balance, in whole-token
// units.
func (f *Flow) PercentSell(percent int64) (string, error) {
	if percent <= 0 || percent > 100 {
		return "", fmt.Errorf("percent out of range: %d", percent)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance == nil || f.balance.Sign() <= 0 {
		return "", ErrSellUnavailable
	}
	amount, err := format.PercentOf(format.FormatUnits(f.balance, f.decimals), percent)
	if err != nil {
		return "", err
	}
	f.sellAmount = amount
	return amount, nil
}

// CanSell reports whether a wallet is connected and holds a positive balance.
func (f *Flow) CanSell() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canSellLocked()
}

func (f *Flow) canSellLocked() bool {
	return f.wallet.IsConnected() && f.balance != nil && f.balance.Sign() > 0
}

// SelectTab switches between buy and sell. Sell is refused while CanSell
// is false.
func (f *Flow) SelectTab(tab Tab) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch tab {
	case TabBuy:
	case TabSell:
		if !f.canSellLocked() {
			return ErrSellUnavailable
		}
	default:
		return fmt.Errorf("unknown tab %q", tab)
	}
	f.tab = tab
	return nil
}

// RefreshBalance re-reads the coin balance of the connected account. When
// selling becomes unavailable the flow falls back to the buy tab.
func (f *Flow) RefreshBalance(ctx context.Context) error {
	var (
		balance *big.Int
		err     error
	)
	decimals := f.Decimals()
	if f.wallet.IsConnected() {
		token := common.HexToAddress(f.coin.ContractAddress)
		if err = f.wallet.EnsureChain(ctx, f.chainID); err == nil {
			balance, err = f.wallet.TokenBalance(ctx, token)
		}
		if err != nil {
			err = fmt.Errorf("read balance: %w", err)
		} else if f.coin.Metadata.Decimals == 0 {
			if d, derr := f.wallet.TokenDecimals(ctx, token); derr == nil {
				decimals = d
			} else {
				f.logger.Warn("read token decimals failed", zap.Error(derr))
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.balance = balance
		f.decimals = decimals
	}
	if f.tab == TabSell && !f.canSellLocked() {
		f.tab = TabBuy
	}
	return err
}

// Reset returns a finished flow to idle.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase == PhaseSubmitting {
		return
	}
	f.phase = PhaseIdle
	f.result = nil
}

// Buy spends the current buy amount of ETH on the coin. Precondition
// failures are returned as errors; the outcome of a submitted attempt is
// reported in the result.
func (f *Flow) Buy(ctx context.Context) (model.TransactionResult, error) {
	f.mu.Lock()
	amount := f.buyAmount
	f.mu.Unlock()

	wei, err := format.ParseUnits(amount, ethDecimals)
	if err != nil || wei.Sign() <= 0 {
		return model.TransactionResult{}, ErrInvalidAmount
	}
	return f.submit(ctx, model.ActionBuy, amount, wei)
}

// Sell sells the current sell amount, floored to the coin's smallest units.
func (f *Flow) Sell(ctx context.Context) (model.TransactionResult, error) {
	f.mu.Lock()
	amount := f.sellAmount
	known := f.balance != nil && f.balance.Sign() > 0
	decimals := f.decimals
	f.mu.Unlock()

	if amount == "" {
		return model.TransactionResult{}, ErrInvalidAmount
	}
	if !known {
		return model.TransactionResult{}, ErrSellUnavailable
	}
	units, err := format.ParseUnits(amount, decimals)
	if err != nil || units.Sign() <= 0 {
		return model.TransactionResult{}, ErrInvalidAmount
	}
	return f.submit(ctx, model.ActionSell, amount, units)
}

func (f *Flow) submit(ctx context.Context, action model.TradeAction, amount string, units *big.Int) (model.TransactionResult, error) {
	if !f.wallet.IsConnected() {
		return model.TransactionResult{}, ErrNotConnected
	}

	f.mu.Lock()
	if f.phase == PhaseSubmitting {
		f.mu.Unlock()
		return model.TransactionResult{}, ErrTradeInFlight
	}
	f.phase = PhaseSubmitting
	f.result = nil
	f.mu.Unlock()

	started := f.clock.Now()
	account, hash, err := f.execute(ctx, action, amount, units)

	result := model.TransactionResult{Action: action, Success: err == nil}
	if err == nil {
		result.TxHash = hash.Hex()
		f.logger.Info("trade settled",
			zap.String("action", string(action)),
			zap.String("amount", amount),
			zap.String("tx", result.TxHash),
		)
	} else {
		result.Category, result.Message = ClassifyError(err)
		result.Detail = err.Error()
		if hash != (common.Hash{}) {
			result.TxHash = hash.Hex()
		}
		f.logger.Warn("trade failed",
			zap.String("action", string(action)),
			zap.String("amount", amount),
			zap.String("category", string(result.Category)),
			zap.Error(err),
		)
	}

	f.mu.Lock()
	if err == nil {
		f.phase = PhaseSettled
		if action == model.ActionBuy {
			f.buyAmount = ""
			f.quoteReq = QuoteRequest{}
		} else {
			f.sellAmount = ""
		}
	} else {
		f.phase = PhaseFailed
	}
	f.result = &result
	f.mu.Unlock()

	if err == nil && action == model.ActionBuy {
		f.quote.Disable()
	}
	f.record(ctx, account, amount, units, result, started)
	return result, nil
}

func (f *Flow) execute(ctx context.Context, action model.TradeAction, amount string, units *big.Int) (common.Address, common.Hash, error) {
	if f.confirm != nil {
		ok, err := f.confirm(ctx, action, amount)
		if err != nil {
			return common.Address{}, common.Hash{}, fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			return common.Address{}, common.Hash{}, ErrUserRejected
		}
	}

	if err := f.wallet.EnsureChain(ctx, f.chainID); err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("switch chain: %w", err)
	}
	signer, err := f.wallet.Signer(ctx, f.chainID)
	if err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("signing client: %w", err)
	}
	account := signer.Address()

	req := platform.TradeRequest{
		CoinID:  f.coin.ID,
		Client:  signer,
		Account: account,
		Amount:  units,
	}
	var hash common.Hash
	if action == model.ActionBuy {
		hash, err = f.trader.Buy(ctx, req)
	} else {
		hash, err = f.trader.Sell(ctx, req)
	}
	return account, hash, err
}

func (f *Flow) record(ctx context.Context, account common.Address, amount string, units *big.Int, result model.TransactionResult, started time.Time) {
	if f.journal == nil {
		return
	}
	if account == (common.Address{}) {
		account, _ = f.wallet.Address()
	}
	rec := model.TradeRecord{
		CoinID:          f.coin.ID,
		ContractAddress: f.coin.ContractAddress,
		Account:         account.Hex(),
		ChainID:         f.chainID,
		Action:          result.Action,
		Amount:          amount,
		AmountBaseUnits: units.String(),
		TxHash:          result.TxHash,
		Success:         result.Success,
		Category:        result.Category,
		Error:           result.Detail,
		SubmittedAt:     started.UTC().Format(time.RFC3339),
		FinishedAt:      f.clock.Now().UTC().Format(time.RFC3339),
	}
	if err := f.journal.PutTrades(ctx, []model.TradeRecord{rec}); err != nil {
		f.logger.Warn("journal trade failed", zap.Error(err))
	}
}
