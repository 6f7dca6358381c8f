package platform

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"coinScope/internal/model"
	"coinScope/internal/query"
)

const (
	popularTTL = 30 * time.Second
	coinTTL    = 5 * time.Minute
)

// CoinAPI is the read side of the platform API.
type CoinAPI interface {
	PopularCoins(ctx context.Context) ([]model.Coin, error)
	CoinByAddress(ctx context.Context, address string) (model.Coin, error)
	Quote(ctx context.Context, coinID string, amountWei *big.Int) (string, error)
}

// Catalog serves the coin list and coin lookups with short-lived caching.
// Quotes are never cached.
type Catalog struct {
	api     CoinAPI
	popular *query.Cache[string, []model.Coin]
	coins   *query.Cache[string, model.Coin]
}

func NewCatalog(api CoinAPI, clk clock.Clock) *Catalog {
	return &Catalog{
		api:     api,
		popular: query.NewCache[string, []model.Coin](popularTTL, clk),
		coins:   query.NewCache[string, model.Coin](coinTTL, clk),
	}
}

func (c *Catalog) PopularCoins(ctx context.Context) ([]model.Coin, error) {
	if coins, ok := c.popular.Get("popular"); ok {
		return coins, nil
	}
	coins, err := c.api.PopularCoins(ctx)
	if err != nil {
		return nil, err
	}
	c.popular.Set("popular", coins)
	for _, coin := range coins {
		c.coins.Set(strings.ToLower(coin.ContractAddress), coin)
	}
	return coins, nil
}

// Coin looks a coin up by contract address.
func (c *Catalog) Coin(ctx context.Context, address string) (model.Coin, error) {
	key := strings.ToLower(address)
	if coin, ok := c.coins.Get(key); ok {
		return coin, nil
	}
	coin, err := c.api.CoinByAddress(ctx, address)
	if err != nil {
		return model.Coin{}, err
	}
	c.coins.Set(key, coin)
	return coin, nil
}

func (c *Catalog) Quote(ctx context.Context, coinID string, amountWei *big.Int) (string, error) {
	return c.api.Quote(ctx, coinID, amountWei)
}

// Addresses returns the contract addresses of the popular coins, in rank order.
func (c *Catalog) Addresses(ctx context.Context) ([]string, error) {
	coins, err := c.PopularCoins(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(coins))
	for _, coin := range coins {
		if coin.ContractAddress != "" {
			out = append(out, coin.ContractAddress)
		}
	}
	return out, nil
}

// Invalidate drops cached catalog entries.
func (c *Catalog) Invalidate() {
	c.popular.InvalidateAll()
	c.coins.InvalidateAll()
}
