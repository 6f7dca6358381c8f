package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"coinScope/internal/model"
)

const DefaultBaseURL = "https://public.api.paragraph.com/api/v1"

var (
	ErrCoinNotFound = errors.New("coin not found")
	ErrNoSigner     = errors.New("no signing client")
)

// APIError is a non-2xx platform response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("platform api %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("platform api %d", e.Code)
}

// Signer signs, submits and awaits a prepared contract call.
type Signer interface {
	Address() common.Address
	Send(ctx context.Context, call model.TxCall) (common.Hash, error)
}

// TradeRequest is a buy or sell of Amount smallest units for Account.
type TradeRequest struct {
	CoinID  string
	Client  Signer
	Account common.Address
	Amount  *big.Int
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the platform coin API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
		logger:  opts.Logger.Named("platform"),
	}
}

type coinsResponse struct {
	Items []model.Coin `json:"items"`
}

type quoteResponse struct {
	Quote string `json:"quote"`
}

type tradeBody struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type txCallResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// PopularCoins returns the ranked popular coins.
func (c *Client) PopularCoins(ctx context.Context) ([]model.Coin, error) {
	var resp coinsResponse
	if err := c.do(ctx, http.MethodGet, "/coins?sortBy=popular", nil, &resp); err != nil {
		return nil, fmt.Errorf("popular coins: %w", err)
	}
	for i := range resp.Items {
		resp.Items[i].Kind = Classify(resp.Items[i].Metadata)
	}
	return resp.Items, nil
}

// CoinByAddress returns the coin deployed at address.
func (c *Client) CoinByAddress(ctx context.Context, address string) (model.Coin, error) {
	var coin model.Coin
	err := c.do(ctx, http.MethodGet, "/coins/contract/"+url.PathEscape(address), nil, &coin)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return model.Coin{}, fmt.Errorf("%w: %s", ErrCoinNotFound, address)
		}
		return model.Coin{}, fmt.Errorf("coin %s: %w", address, err)
	}
	coin.Kind = Classify(coin.Metadata)
	return coin, nil
}

// Quote returns the token amount receivable for amountWei, as a decimal
// integer string in the coin's smallest units.
func (c *Client) Quote(ctx context.Context, coinID string, amountWei *big.Int) (string, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return "", fmt.Errorf("quote amount must be positive")
	}
	path := fmt.Sprintf("/coins/%s/quote?amount=%s", url.PathEscape(coinID), amountWei.String())
	var resp quoteResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("quote: %w", err)
	}
	if _, ok := new(big.Int).SetString(resp.Quote, 10); !ok {
		return "", fmt.Errorf("quote: invalid amount %q", resp.Quote)
	}
	return resp.Quote, nil
}

// Buy prepares a buy of req.Amount wei and submits it through req.Client.
func (c *Client) Buy(ctx context.Context, req TradeRequest) (common.Hash, error) {
	return c.trade(ctx, "buy", req)
}

// Sell prepares a sell of req.Amount token units and submits it through req.Client.
func (c *Client) Sell(ctx context.Context, req TradeRequest) (common.Hash, error) {
	return c.trade(ctx, "sell", req)
}

func (c *Client) trade(ctx context.Context, side string, req TradeRequest) (common.Hash, error) {
	if req.Client == nil {
		return common.Hash{}, ErrNoSigner
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%s amount must be positive", side)
	}

	body := tradeBody{Account: req.Account.Hex(), Amount: req.Amount.String()}
	var resp txCallResponse
	path := fmt.Sprintf("/coins/%s/%s", url.PathEscape(req.CoinID), side)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return common.Hash{}, fmt.Errorf("prepare %s: %w", side, err)
	}

	call, err := resp.toCall()
	if err != nil {
		return common.Hash{}, fmt.Errorf("prepare %s: %w", side, err)
	}

	c.logger.Info("submit trade",
		zap.String("side", side),
		zap.String("coin_id", req.CoinID),
		zap.String("account", req.Account.Hex()),
		zap.String("amount", req.Amount.String()),
		zap.String("to", call.To.Hex()),
	)
	return req.Client.Send(ctx, call)
}

func (r txCallResponse) toCall() (model.TxCall, error) {
	if !common.IsHexAddress(r.To) {
		return model.TxCall{}, fmt.Errorf("invalid target address %q", r.To)
	}
	data, err := hexutil.Decode(r.Data)
	if err != nil {
		return model.TxCall{}, fmt.Errorf("invalid call data: %w", err)
	}
	value := new(big.Int)
	if r.Value != "" {
		if _, ok := value.SetString(r.Value, 0); !ok {
			return model.TxCall{}, fmt.Errorf("invalid value %q", r.Value)
		}
	}
	return model.TxCall{To: common.HexToAddress(r.To), Data: data, Value: value}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
