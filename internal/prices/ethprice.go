package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"coinScope/internal/query"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

const ethPriceTTL = time.Minute

type simplePriceResponse struct {
	Ethereum struct {
		USD float64 `json:"usd"`
	} `json:"ethereum"`
}

// EthPrice reads the ETH/USD spot rate from CoinGecko.
type EthPrice struct {
	baseURL string
	http    *http.Client
	cache   *query.Cache[string, float64]
}

func NewEthPrice(baseURL string, httpClient *http.Client, clk clock.Clock) *EthPrice {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &EthPrice{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		cache:   query.NewCache[string, float64](ethPriceTTL, clk),
	}
}

// USD returns the current ETH price in USD.
func (e *EthPrice) USD(ctx context.Context) (float64, error) {
	if v, ok := e.cache.Get("ethereum"); ok {
		return v, nil
	}

	url := e.baseURL + "/simple/price?ids=ethereum&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch eth price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("failed to fetch eth price: %d", resp.StatusCode)
	}

	var body simplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode eth price: %w", err)
	}

	e.cache.Set("ethereum", body.Ethereum.USD)
	return body.Ethereum.USD, nil
}

// Invalidate drops the cached rate so the next USD call hits upstream.
func (e *EthPrice) Invalidate() {
	e.cache.InvalidateAll()
}
