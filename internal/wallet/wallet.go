package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"coinScope/internal/platform"
)

var (
	ErrNotConnected     = errors.New("wallet not connected")
	ErrNoChain          = errors.New("no active chain")
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrWrongChain       = errors.New("wallet is on a different chain")
	ErrUnknownConnector = errors.New("unknown connector")
	ErrNoConnectors     = errors.New("no connectors configured")
)

type Config struct {
	// RPCURLs maps chain id to RPC endpoint.
	RPCURLs map[uint64]string
	Dial    Dialer
	Logger  *zap.Logger
}

// Wallet holds the connected account and the chain it is talking to.
type Wallet struct {
	connectors []Connector
	rpcURLs    map[uint64]string
	dial       Dialer
	logger     *zap.Logger

	mu        sync.RWMutex
	connector Connector
	account   Account
	chainID   uint64
	backend   Backend

	decimalsMu sync.Mutex
	decimals   map[decimalsKey]uint8
}

type decimalsKey struct {
	chainID uint64
	token   common.Address
}

func New(connectors []Connector, cfg Config) *Wallet {
	dial := cfg.Dial
	if dial == nil {
		dial = DialRPC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	urls := make(map[uint64]string, len(cfg.RPCURLs))
	for id, u := range cfg.RPCURLs {
		urls[id] = u
	}
	return &Wallet{
		connectors: connectors,
		rpcURLs:    urls,
		dial:       dial,
		logger:     logger.Named("wallet"),
		decimals:   make(map[decimalsKey]uint8),
	}
}

func (w *Wallet) Connectors() []Connector {
	return w.connectors
}

// Connect connects through the connector with the given id. An empty id
// uses the first configured connector.
func (w *Wallet) Connect(ctx context.Context, id string) error {
	if len(w.connectors) == 0 {
		return ErrNoConnectors
	}
	var conn Connector
	if id == "" {
		conn = w.connectors[0]
	} else {
		for _, c := range w.connectors {
			if c.ID() == id {
				conn = c
				break
			}
		}
	}
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConnector, id)
	}

	acct, err := conn.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", conn.ID(), err)
	}

	w.mu.Lock()
	w.lockAccount()
	w.connector = conn
	w.account = acct
	w.mu.Unlock()

	w.logger.Info("wallet connected",
		zap.String("connector", conn.ID()),
		zap.String("address", acct.Address().Hex()),
	)
	return nil
}

func (w *Wallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lockAccount()
	w.connector = nil
	w.account = nil
}

// lockAccount must be called with mu held.
func (w *Wallet) lockAccount() {
	if l, ok := w.account.(interface{ Lock() error }); ok {
		if err := l.Lock(); err != nil {
			w.logger.Warn("lock account failed", zap.Error(err))
		}
	}
}

func (w *Wallet) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.account != nil
}

func (w *Wallet) Address() (common.Address, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.account == nil {
		return common.Address{}, false
	}
	return w.account.Address(), true
}

// ActiveChain returns 0 when no chain has been selected.
func (w *Wallet) ActiveChain() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.backend == nil {
		return 0
	}
	return w.chainID
}

// SwitchChain dials the RPC configured for chainID and makes it active after
// checking the endpoint reports the same chain id.
func (w *Wallet) SwitchChain(ctx context.Context, chainID uint64) error {
	url, ok := w.rpcURLs[chainID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	backend, err := w.dial(ctx, url)
	if err != nil {
		return fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	reported, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return fmt.Errorf("chain id: %w", err)
	}
	if reported.Uint64() != chainID {
		backend.Close()
		return fmt.Errorf("rpc for chain %d reports chain %s", chainID, reported)
	}

	w.mu.Lock()
	old := w.backend
	w.backend = backend
	w.chainID = chainID
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}

	w.logger.Info("switched chain", zap.Uint64("chain_id", chainID))
	return nil
}

// EnsureChain switches only when chainID is not already active.
func (w *Wallet) EnsureChain(ctx context.Context, chainID uint64) error {
	if w.ActiveChain() == chainID {
		return nil
	}
	return w.SwitchChain(ctx, chainID)
}

// SigningClient returns a Signer for the connected account on chainID,
// which must be the active chain.
func (w *Wallet) SigningClient(ctx context.Context, chainID uint64) (*Signer, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.account == nil {
		return nil, ErrNotConnected
	}
	if w.backend == nil {
		return nil, ErrNoChain
	}
	if w.chainID != chainID {
		return nil, fmt.Errorf("%w: active %d, want %d", ErrWrongChain, w.chainID, chainID)
	}
	return &Signer{
		backend: w.backend,
		account: w.account,
		chainID: new(big.Int).SetUint64(chainID),
		logger:  w.logger.Named("signer"),
	}, nil
}

// Signer is SigningClient behind the platform signing interface.
func (w *Wallet) Signer(ctx context.Context, chainID uint64) (platform.Signer, error) {
	s, err := w.SigningClient(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TokenBalance reads the connected account's balance of an ERC-20 token on
// the active chain.
func (w *Wallet) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	w.mu.RLock()
	acct, backend := w.account, w.backend
	w.mu.RUnlock()
	if acct == nil {
		return nil, ErrNotConnected
	}
	if backend == nil {
		return nil, ErrNoChain
	}
	return backend.BalanceOf(ctx, token, acct.Address())
}

// TokenDecimals reads an ERC-20 token's decimals on the active chain. Results
// are cached per chain.
func (w *Wallet) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	w.mu.RLock()
	chainID, backend := w.chainID, w.backend
	w.mu.RUnlock()
	if backend == nil {
		return 0, ErrNoChain
	}

	key := decimalsKey{chainID: chainID, token: token}
	w.decimalsMu.Lock()
	d, ok := w.decimals[key]
	w.decimalsMu.Unlock()
	if ok {
		return d, nil
	}

	d, err := backend.Decimals(ctx, token)
	if err != nil {
		return 0, err
	}
	w.decimalsMu.Lock()
	w.decimals[key] = d
	w.decimalsMu.Unlock()
	return d, nil
}

func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lockAccount()
	w.account = nil
	w.connector = nil
	if w.backend != nil {
		w.backend.Close()
		w.backend = nil
	}
}
