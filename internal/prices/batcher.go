package prices

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coinScope/internal/gecko"
	"coinScope/internal/model"
	"coinScope/internal/query"
)

// BatchSize is the upstream ceiling of addresses per multi-token request.
const BatchSize = 25

const priceTTL = time.Minute

// TokenSource fetches current prices for one batch of addresses.
type TokenSource interface {
	TokensMulti(ctx context.Context, addresses []string) ([]gecko.TokenAttributes, error)
}

// Batcher fetches current prices for any number of tokens.
type Batcher struct {
	source TokenSource
	cache  *query.Cache[string, map[string]model.TokenPrice]
	logger *zap.Logger
}

func NewBatcher(source TokenSource, clk clock.Clock, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		source: source,
		cache:  query.NewCache[string, map[string]model.TokenPrice](priceTTL, clk),
		logger: logger.Named("prices"),
	}
}

// Fetch returns prices keyed by lowercased address. Addresses upstream did not
// report are absent from the map.
func (b *Batcher) Fetch(ctx context.Context, addresses []string) (map[string]model.TokenPrice, error) {
	if len(addresses) == 0 {
		return map[string]model.TokenPrice{}, nil
	}

	key := setKey(addresses)
	if cached, ok := b.cache.Get(key); ok {
		return cached, nil
	}

	batches, err := SplitBatches(addresses, BatchSize)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("fetch token prices", zap.Int("addresses", len(addresses)), zap.Int("batches", len(batches)))

	results := make([][]gecko.TokenAttributes, len(batches))
	g, gCtx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			tokens, err := b.source.TokensMulti(gCtx, batch)
			if err != nil {
				return err
			}
			results[i] = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	priceMap := make(map[string]model.TokenPrice)
	for _, tokens := range results {
		for _, token := range tokens {
			priceMap[strings.ToLower(token.Address)] = toTokenPrice(token)
		}
	}

	b.cache.Set(key, priceMap)
	b.logger.Debug("token prices merged", zap.Int("tokens", len(priceMap)))
	return priceMap, nil
}

// Invalidate drops every cached price map.
func (b *Batcher) Invalidate() {
	b.cache.InvalidateAll()
}

func toTokenPrice(attrs gecko.TokenAttributes) model.TokenPrice {
	price := model.TokenPrice{
		PriceUSD:  parseOptional(attrs.PriceUSD),
		MarketCap: parseOptional(attrs.MarketCapUSD),
	}
	if price.MarketCap == nil {
		price.MarketCap = parseOptional(attrs.FDVUSD)
	}
	return price
}

func parseOptional(s *string) *float64 {
	if s == nil || *s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// setKey is an order-insensitive cache key for an address set.
func setKey(addresses []string) string {
	normalized := make([]string, len(addresses))
	for i, a := range addresses {
		normalized[i] = strings.ToLower(a)
	}
	sort.Strings(normalized)
	return strings.Join(normalized, ",")
}
