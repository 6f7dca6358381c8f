package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"coinScope/internal/gecko"
	"coinScope/internal/model"
	"coinScope/internal/query"
)

const (
	poolsTTL  = 5 * time.Minute
	candleTTL = time.Minute
)

// MarketData is the subset of the GeckoTerminal client used here.
type MarketData interface {
	TokenPools(ctx context.Context, token string) ([]model.Pool, error)
	PoolOHLCV(ctx context.Context, pool string, tf gecko.Timeframe) ([][]json.RawMessage, error)
}

// History is the chart-ready view of one token.
type History struct {
	Candles  []model.Candle `json:"candles"`
	PoolName string         `json:"pool_name,omitempty"`
	Loading  bool           `json:"loading"`
	Err      error          `json:"-"`
	HasPool  bool           `json:"has_pool"`
}

type candleKey struct {
	pool      string
	timeframe gecko.Timeframe
}

// Caches holds the response caches a set of Resolvers can share.
type Caches struct {
	Pools   *query.Cache[string, []model.Pool]
	Candles *query.Cache[candleKey, []model.Candle]
}

func NewCaches(clk clock.Clock) *Caches {
	return &Caches{
		Pools:   query.NewCache[string, []model.Pool](poolsTTL, clk),
		Candles: query.NewCache[candleKey, []model.Candle](candleTTL, clk),
	}
}

// Resolver finds a token's top pool and loads its normalized candles.
type Resolver struct {
	pools   *query.Query[string, []model.Pool]
	candles *query.Query[candleKey, []model.Candle]
	logger  *zap.Logger
}

// NewResolver builds a Resolver. Resolvers built over the same Caches share
// responses but keep their own visible state.
func NewResolver(source MarketData, caches *Caches, clk clock.Clock, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if caches == nil {
		caches = NewCaches(clk)
	}
	r := &Resolver{logger: logger.Named("history")}

	r.pools = query.NewWithCache(caches.Pools, clk, func(ctx context.Context, token string) ([]model.Pool, error) {
		return source.TokenPools(ctx, token)
	})
	r.candles = query.NewWithCache(caches.Candles, clk, func(ctx context.Context, key candleKey) ([]model.Candle, error) {
		rows, err := source.PoolOHLCV(ctx, key.pool, key.timeframe)
		if err != nil {
			return nil, err
		}
		parsed, err := ParseCandles(rows)
		if err != nil {
			return nil, err
		}
		return Normalize(parsed), nil
	})
	return r
}

// Resolve loads the price history of token for tf. An empty token leaves the
// resolver inert and issues no request.
func (r *Resolver) Resolve(ctx context.Context, token string, tf gecko.Timeframe) History {
	if token == "" {
		r.pools.Disable()
		r.candles.Disable()
		return History{Candles: []model.Candle{}}
	}

	pools, err := r.pools.Run(ctx, token)
	if err != nil {
		r.logger.Warn("pool lookup failed", zap.String("token", token), zap.Error(err))
		r.candles.Disable()
		return History{Candles: []model.Candle{}, Err: err}
	}
	if len(pools) == 0 {
		r.candles.Disable()
		return History{Candles: []model.Candle{}}
	}

	top := pools[0]
	candles, err := r.candles.Run(ctx, candleKey{pool: top.Address, timeframe: tf})
	if err != nil {
		r.logger.Warn("ohlcv fetch failed", zap.String("pool", top.Address), zap.String("timeframe", string(tf)), zap.Error(err))
		candles = nil
	}
	if candles == nil {
		candles = []model.Candle{}
	}

	return History{
		Candles:  candles,
		PoolName: top.Name,
		Err:      err,
		HasPool:  top.Address != "",
	}
}

// Snapshot combines the visible state of the pool and candle views.
func (r *Resolver) Snapshot() History {
	poolState := r.pools.State()
	candleState := r.candles.State()

	h := History{
		Candles: []model.Candle{},
		Loading: poolState.Loading || candleState.Loading,
		Err:     poolState.Err,
	}
	if h.Err == nil {
		h.Err = candleState.Err
	}
	if len(poolState.Data) > 0 {
		h.PoolName = poolState.Data[0].Name
		h.HasPool = poolState.Data[0].Address != ""
	}
	if candleState.HasData && candleState.Data != nil {
		h.Candles = candleState.Data
	}
	return h
}
