package platform

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinScope/internal/model"
)

type recordingSigner struct {
	address common.Address
	calls   []model.TxCall
}

func (s *recordingSigner) Address() common.Address { return s.address }

func (s *recordingSigner) Send(ctx context.Context, call model.TxCall) (common.Hash, error) {
	s.calls = append(s.calls, call)
	return common.HexToHash("0xfeed"), nil
}

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, APIKey: "secret"})
}

func TestPopularCoinsClassifiesAtIngestion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/coins", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "popular", r.URL.Query().Get("sortBy"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"items":[
			{"id":"a","contractAddress":"0xA","metadata":{"name":"Writer","symbol":"W","extensions":{}}},
			{"id":"b","contractAddress":"0xB","metadata":{"name":"Post","symbol":"P","extensions":{"coinType":"Post-Coin"}}},
			{"id":"c","contractAddress":"0xC","metadata":{"name":"Note","symbol":"N","extensions":{"paragraph":{"noteId":"n-1"}}}}
		]}`))
	})
	client := newServer(t, mux)

	coins, err := client.PopularCoins(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 3)
	assert.Equal(t, model.KindWriter, coins[0].Kind)
	assert.Equal(t, model.KindPost, coins[1].Kind)
	assert.Equal(t, model.KindPost, coins[2].Kind)
}

func TestCoinByAddressNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/coins/contract/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such coin"}`))
	})
	client := newServer(t, mux)

	_, err := client.CoinByAddress(context.Background(), "0xdead")
	assert.ErrorIs(t, err, ErrCoinNotFound)
}

func TestQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/coins/coin-1/quote", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10000000000000000", r.URL.Query().Get("amount"))
		w.Write([]byte(`{"quote":"123450000000000000000"}`))
	})
	client := newServer(t, mux)

	quote, err := client.Quote(context.Background(), "coin-1", big.NewInt(10000000000000000))
	require.NoError(t, err)
	assert.Equal(t, "123450000000000000000", quote)

	_, err = client.Quote(context.Background(), "coin-1", big.NewInt(0))
	assert.Error(t, err)
}

func TestBuySubmitsPreparedCall(t *testing.T) {
	account := common.HexToAddress("0x2222222222222222222222222222222222222222")
	mux := http.NewServeMux()
	mux.HandleFunc("/coins/coin-1/buy", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body tradeBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, account.Hex(), body.Account)
		assert.Equal(t, "1000", body.Amount)
		w.Write([]byte(`{"to":"0x3333333333333333333333333333333333333333","data":"0xabcdef","value":"1000"}`))
	})
	client := newServer(t, mux)

	signer := &recordingSigner{address: account}
	hash, err := client.Buy(context.Background(), TradeRequest{
		CoinID:  "coin-1",
		Client:  signer,
		Account: account,
		Amount:  big.NewInt(1000),
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed"), hash)
	require.Len(t, signer.calls, 1)
	assert.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), signer.calls[0].To)
	assert.Equal(t, []byte{0xab, 0xcd, 0xef}, signer.calls[0].Data)
	assert.Equal(t, int64(1000), signer.calls[0].Value.Int64())
}

func TestSellRequiresSigner(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:0"})
	_, err := client.Sell(context.Background(), TradeRequest{CoinID: "c", Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestSellSurfacesAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/coins/coin-1/sell", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"insufficient funds for transfer"}`))
	})
	client := newServer(t, mux)

	_, err := client.Sell(context.Background(), TradeRequest{
		CoinID: "coin-1",
		Client: &recordingSigner{},
		Amount: big.NewInt(5),
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)
	assert.Contains(t, err.Error(), "insufficient funds")
}

type countingAPI struct {
	popular int32
	byAddr  int32
}

func (c *countingAPI) PopularCoins(ctx context.Context) ([]model.Coin, error) {
	atomic.AddInt32(&c.popular, 1)
	return []model.Coin{{ID: "a", ContractAddress: "0xAbC"}, {ID: "b"}}, nil
}

func (c *countingAPI) CoinByAddress(ctx context.Context, address string) (model.Coin, error) {
	atomic.AddInt32(&c.byAddr, 1)
	return model.Coin{ID: "x", ContractAddress: address}, nil
}

func (c *countingAPI) Quote(ctx context.Context, coinID string, amountWei *big.Int) (string, error) {
	return "1", nil
}

func TestCatalogCaching(t *testing.T) {
	api := &countingAPI{}
	mockClock := clock.NewMock()
	catalog := NewCatalog(api, mockClock)

	addrs, err := catalog.Addresses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0xAbC"}, addrs)

	_, err = catalog.PopularCoins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.popular))

	coin, err := catalog.Coin(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "a", coin.ID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&api.byAddr))

	mockClock.Add(30 * time.Second)
	_, err = catalog.PopularCoins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&api.popular))

	catalog.Invalidate()
	_, err = catalog.Coin(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&api.byAddr))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.KindWriter, Classify(model.CoinMetadata{}))
	assert.Equal(t, model.KindPost, Classify(model.CoinMetadata{Extensions: model.CoinExtensions{CoinType: "POST"}}))
	assert.Equal(t, model.KindPost, Classify(model.CoinMetadata{Extensions: model.CoinExtensions{Paragraph: &model.ParagraphExt{NoteID: "x"}}}))
	assert.Equal(t, model.KindWriter, Classify(model.CoinMetadata{Extensions: model.CoinExtensions{Paragraph: &model.ParagraphExt{}}}))
}
