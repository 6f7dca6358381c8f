package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinScope/internal/gecko"
	"coinScope/internal/model"
	"coinScope/internal/platform"
	"coinScope/internal/prices"
)

func f64(v float64) *float64 { return &v }

type fakeCatalog struct {
	coins    []model.Coin
	err      error
	quotes   []*big.Int
	quoteErr error
}

func (c *fakeCatalog) PopularCoins(ctx context.Context) ([]model.Coin, error) {
	return c.coins, c.err
}

func (c *fakeCatalog) Coin(ctx context.Context, address string) (model.Coin, error) {
	for _, coin := range c.coins {
		if strings.EqualFold(coin.ContractAddress, address) {
			return coin, nil
		}
	}
	return model.Coin{}, platform.ErrCoinNotFound
}

func (c *fakeCatalog) Quote(ctx context.Context, coinID string, amountWei *big.Int) (string, error) {
	c.quotes = append(c.quotes, amountWei)
	return "2500000000000000000000", c.quoteErr
}

type fakePrices struct {
	prices map[string]model.TokenPrice
	err    error
}

func (p *fakePrices) Fetch(ctx context.Context, addresses []string) (map[string]model.TokenPrice, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := map[string]model.TokenPrice{}
	for _, a := range addresses {
		if v, ok := p.prices[strings.ToLower(a)]; ok {
			out[strings.ToLower(a)] = v
		}
	}
	return out, nil
}

type fakeEth struct{ usd float64 }

func (e fakeEth) USD(ctx context.Context) (float64, error) { return e.usd, nil }

type fakeMarket struct {
	pools    map[string][]model.Pool
	rows     [][]json.RawMessage
	poolErr  error
	ohlcvErr map[gecko.Timeframe]error
}

func (m *fakeMarket) TokenPools(ctx context.Context, token string) ([]model.Pool, error) {
	return m.pools[token], m.poolErr
}

func (m *fakeMarket) PoolOHLCV(ctx context.Context, pool string, tf gecko.Timeframe) ([][]json.RawMessage, error) {
	if err := m.ohlcvErr[tf]; err != nil {
		return nil, err
	}
	return m.rows, nil
}

type fakeFeed struct {
	mu     sync.Mutex
	latest *prices.Snapshot
	subs   []chan prices.Snapshot
}

func (f *fakeFeed) Latest() (prices.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return prices.Snapshot{}, false
	}
	return *f.latest, true
}

func (f *fakeFeed) Subscribe() (<-chan prices.Snapshot, func()) {
	ch := make(chan prices.Snapshot, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeFeed) publish(s prices.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- s
	}
}

func (f *fakeFeed) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

const coinAddr = "0x00000000000000000000000000000000000000Aa"

func rawRow(t *testing.T, vals ...float64) []json.RawMessage {
	t.Helper()
	row := make([]json.RawMessage, 0, len(vals))
	for _, v := range vals {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		row = append(row, b)
	}
	return row
}

type fixture struct {
	catalog *fakeCatalog
	prices  *fakePrices
	market  *fakeMarket
	feed    *fakeFeed
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &fakeCatalog{coins: []model.Coin{
			{ID: "coin-a", ContractAddress: coinAddr, Metadata: model.CoinMetadata{Name: "Alpha", Symbol: "ALP"}, Kind: model.KindWriter},
		}},
		prices: &fakePrices{prices: map[string]model.TokenPrice{
			strings.ToLower(coinAddr): {PriceUSD: f64(1234.5), MarketCap: f64(2_500_000)},
		}},
		market: &fakeMarket{
			pools: map[string][]model.Pool{coinAddr: {{Address: "0xpool", Name: "ALP / WETH"}}},
			rows: [][]json.RawMessage{
				rawRow(t, 20, 1, 2, 0.5, 1.5, 10),
				rawRow(t, 10, 1, 2, 0.5, 1.2, 10),
				rawRow(t, 10, 9, 9, 9, 9, 9),
			},
		},
		feed: &fakeFeed{},
	}
	s := NewServer(Options{
		Catalog: f.catalog,
		Prices:  f.prices,
		Eth:     fakeEth{usd: 3000},
		Feed:    f.feed,
		Market:  f.market,
		Clock:   clock.NewMock(),
	})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCoinsListing(t *testing.T) {
	f := newFixture(t)

	var out []map[string]any
	status := getJSON(t, f.srv.URL+"/api/coins", &out)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out, 1)
	assert.Equal(t, "coin-a", out[0]["id"])
	assert.Equal(t, "writer", out[0]["kind"])
	assert.Equal(t, "$1,234.50", out[0]["price_display"])
	assert.Equal(t, 1234.5, out[0]["price_usd"])
	assert.NotEmpty(t, out[0]["market_cap_display"])
}

func TestCoinsListingWithoutPrices(t *testing.T) {
	f := newFixture(t)
	f.prices.err = errors.New("upstream down")

	var out []map[string]any
	status := getJSON(t, f.srv.URL+"/api/coins", &out)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out, 1)
	assert.Nil(t, out[0]["price_usd"])
}

func TestCoinRouteConvention(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/coin/" + coinAddr, "/api/coins/" + coinAddr} {
		var out struct {
			Coin struct {
				ID string `json:"id"`
			} `json:"coin"`
			History struct {
				Timeframe string         `json:"timeframe"`
				Candles   []model.Candle `json:"candles"`
				PoolName  string         `json:"pool_name"`
				HasPool   bool           `json:"has_pool"`
			} `json:"history"`
		}
		status := getJSON(t, f.srv.URL+path, &out)
		require.Equal(t, http.StatusOK, status, path)
		assert.Equal(t, "coin-a", out.Coin.ID)
		assert.Equal(t, "1d", out.History.Timeframe)
		assert.True(t, out.History.HasPool)
		assert.Equal(t, "ALP / WETH", out.History.PoolName)
		require.Len(t, out.History.Candles, 2)
		assert.Equal(t, int64(10), out.History.Candles[0].Time)
		assert.Equal(t, 1.2, out.History.Candles[0].Close)
		assert.Equal(t, int64(20), out.History.Candles[1].Time)
	}

	var body errorBody
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/coin/", &body))
	assert.Equal(t, "no coin selected", body.Error)
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/coin", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/coin/0xmissing", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.srv.URL+"/coin/"+coinAddr+"?timeframe=5m", nil))
}

func TestSelectedCoin(t *testing.T) {
	got, ok := SelectedCoin("/coin/0xabc")
	assert.True(t, ok)
	assert.Equal(t, "0xabc", got)

	got, ok = SelectedCoin("/coin/0xabc/")
	assert.True(t, ok)
	assert.Equal(t, "0xabc", got)

	for _, path := range []string{"/", "/coin", "/coin/", "/coinbase", "/coin/a/b"} {
		_, ok := SelectedCoin(path)
		assert.False(t, ok, path)
	}
}

func TestHistoryNoPool(t *testing.T) {
	f := newFixture(t)

	var out map[string]any
	status := getJSON(t, f.srv.URL+"/api/history/0xunknown?timeframe=1h", &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, out["has_pool"])
	assert.Equal(t, "1h", out["timeframe"])
	assert.Empty(t, out["candles"])
}

func TestHistoryUpstreamErrorIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.market.poolErr = &gecko.StatusError{Code: 500, URL: "x"}

	var body errorBody
	status := getJSON(t, f.srv.URL+"/api/history/"+coinAddr, &body)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body.Error, "500")
}

func TestRateLimitedIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = gecko.ErrMaxRetriesExceeded

	status := getJSON(t, f.srv.URL+"/api/coins", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestPrices(t *testing.T) {
	f := newFixture(t)

	var out map[string]model.TokenPrice
	status := getJSON(t, f.srv.URL+"/api/prices?addresses="+coinAddr+",0xother", &out)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out, 1)
	assert.Equal(t, 1234.5, *out[strings.ToLower(coinAddr)].PriceUSD)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"", "0", "abc"} {
		var out quoteView
		status := getJSON(t, f.srv.URL+"/api/quote/coin-a?amount="+amount, &out)
		require.Equal(t, http.StatusOK, status)
		assert.False(t, out.Enabled, amount)
	}
	assert.Empty(t, f.catalog.quotes)

	var out quoteView
	status := getJSON(t, f.srv.URL+"/api/quote/coin-a?amount=0.01", &out)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, out.Enabled)
	assert.Equal(t, "10000000000000000", out.AmountWei)
	assert.Equal(t, "2500000000000000000000", out.Quote)
	assert.Equal(t, "2,500", out.QuoteDisplay)
}

func TestEthPrice(t *testing.T) {
	f := newFixture(t)

	var out map[string]any
	status := getJSON(t, f.srv.URL+"/api/eth-price", &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3000.0, out["usd"])
	assert.Equal(t, "$3,000.00", out["display"])
}

func TestPriceStream(t *testing.T) {
	f := newFixture(t)
	f.feed.latest = &prices.Snapshot{Prices: map[string]model.TokenPrice{"0xa": {PriceUSD: f64(1)}}}

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/prices"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first prices.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1.0, *first.Prices["0xa"].PriceUSD)

	require.Eventually(t, func() bool { return f.feed.subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	eth := 3100.0
	f.feed.publish(prices.Snapshot{Prices: map[string]model.TokenPrice{"0xb": {PriceUSD: f64(2)}}, EthUSD: &eth})

	var second prices.Snapshot
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 2.0, *second.Prices["0xb"].PriceUSD)
	require.NotNil(t, second.EthUSD)
	assert.Equal(t, 3100.0, *second.EthUSD)
}

func readSettledHistory(t *testing.T, conn *websocket.Conn, tf gecko.Timeframe) historyView {
	t.Helper()
	for {
		var view historyView
		require.NoError(t, conn.ReadJSON(&view))
		if view.Timeframe == tf && !view.Loading {
			return view
		}
	}
}

func TestHistoryStreamSwitchesTimeframe(t *testing.T) {
	f := newFixture(t)
	f.market.ohlcvErr = map[gecko.Timeframe]error{gecko.Timeframe1H: errors.New("boom")}

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/history/" + coinAddr + "?timeframe=1d"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	daily := readSettledHistory(t, conn, gecko.Timeframe1D)
	assert.Empty(t, daily.Error)
	assert.True(t, daily.HasPool)
	assert.Len(t, daily.Candles, 2)

	require.NoError(t, conn.WriteJSON(historyRequest{Timeframe: "1h"}))
	hourly := readSettledHistory(t, conn, gecko.Timeframe1H)
	assert.Equal(t, "boom", hourly.Error)
	assert.Empty(t, hourly.Candles)

	require.NoError(t, conn.WriteJSON(historyRequest{Timeframe: "2d"}))
	var bad errorBody
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Contains(t, bad.Error, "2d")
}
