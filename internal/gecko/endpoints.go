package gecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"coinScope/internal/model"
)

type poolsResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Address      string `json:"address"`
			Name         string `json:"name"`
			ReserveInUSD string `json:"reserve_in_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

type ohlcvResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]json.RawMessage `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}

// TokenAttributes is the price block of one token from the multi endpoint.
type TokenAttributes struct {
	Address      string  `json:"address"`
	PriceUSD     *string `json:"price_usd"`
	FDVUSD       *string `json:"fdv_usd"`
	MarketCapUSD *string `json:"market_cap_usd"`
}

type tokensResponse struct {
	Data []struct {
		ID         string          `json:"id"`
		Attributes TokenAttributes `json:"attributes"`
	} `json:"data"`
}

// TokenPools returns the pools of token in upstream rank order.
func (c *Client) TokenPools(ctx context.Context, token string) ([]model.Pool, error) {
	u := fmt.Sprintf("%s/tokens/%s/pools?page=1", c.networkURL(), url.PathEscape(token))
	body, err := c.fetchWithRetry(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp poolsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode pools: %w", err)
	}

	pools := make([]model.Pool, 0, len(resp.Data))
	for _, item := range resp.Data {
		pools = append(pools, model.Pool{
			ID:           item.ID,
			Address:      item.Attributes.Address,
			Name:         item.Attributes.Name,
			ReserveInUSD: item.Attributes.ReserveInUSD,
		})
	}
	return pools, nil
}

// PoolOHLCV returns the raw candle rows of pool for tf. Each row is
// [timestamp, open, high, low, close, volume]; values may be numbers or
// numeric strings.
func (c *Client) PoolOHLCV(ctx context.Context, pool string, tf Timeframe) ([][]json.RawMessage, error) {
	cfg, ok := tf.Config()
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}
	u := fmt.Sprintf("%s/pools/%s/ohlcv/%s?aggregate=%d&limit=%d",
		c.networkURL(), url.PathEscape(pool), cfg.Endpoint, cfg.Aggregate, cfg.Limit)
	body, err := c.fetchWithRetry(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp ohlcvResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode ohlcv: %w", err)
	}
	return resp.Data.Attributes.OHLCVList, nil
}

// TokensMulti returns current prices for up to 25 addresses in one request.
func (c *Client) TokensMulti(ctx context.Context, addresses []string) ([]TokenAttributes, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	u := fmt.Sprintf("%s/tokens/multi/%s", c.networkURL(), strings.Join(addresses, ","))
	body, err := c.fetchWithRetry(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp tokensResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}

	out := make([]TokenAttributes, 0, len(resp.Data))
	for _, item := range resp.Data {
		out = append(out, item.Attributes)
	}
	return out, nil
}
