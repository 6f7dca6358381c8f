package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coinScope/internal/format"
	"coinScope/internal/gecko"
	"coinScope/internal/history"
	"coinScope/internal/model"
	"coinScope/internal/prices"
)

const (
	defaultTimeframe = gecko.Timeframe1D
	wsWriteTimeout   = 10 * time.Second
)

var errNoCoinSelected = errors.New("no coin selected")

type Catalog interface {
	PopularCoins(ctx context.Context) ([]model.Coin, error)
	Coin(ctx context.Context, address string) (model.Coin, error)
	Quote(ctx context.Context, coinID string, amountWei *big.Int) (string, error)
}

type PriceSource interface {
	Fetch(ctx context.Context, addresses []string) (map[string]model.TokenPrice, error)
}

type EthRate interface {
	USD(ctx context.Context) (float64, error)
}

// SnapshotFeed publishes price refresh cycles.
type SnapshotFeed interface {
	Latest() (prices.Snapshot, bool)
	Subscribe() (<-chan prices.Snapshot, func())
}

type Options struct {
	Catalog       Catalog
	Prices        PriceSource
	Eth           EthRate
	Feed          SnapshotFeed
	Market        history.MarketData
	HistoryCaches *history.Caches
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Server serves coin, price and history views over HTTP and streams price
// snapshots over websocket.
type Server struct {
	catalog  Catalog
	prices   PriceSource
	eth      EthRate
	feed     SnapshotFeed
	market   history.MarketData
	caches   *history.Caches
	clock    clock.Clock
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HistoryCaches == nil {
		opts.HistoryCaches = history.NewCaches(opts.Clock)
	}
	return &Server{
		catalog: opts.Catalog,
		prices:  opts.Prices,
		eth:     opts.Eth,
		feed:    opts.Feed,
		market:  opts.Market,
		caches:  opts.HistoryCaches,
		clock:   opts.Clock,
		logger:  opts.Logger.Named("api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/coins", s.handleCoins)
	mux.HandleFunc("GET /api/coins/{address}", s.handleCoin)
	mux.HandleFunc("GET /coin/{address}", s.handleCoin)
	mux.HandleFunc("GET /coin/{$}", s.handleNoCoin)
	mux.HandleFunc("GET /coin", s.handleNoCoin)
	mux.HandleFunc("GET /api/prices", s.handlePrices)
	mux.HandleFunc("GET /api/history/{address}", s.handleHistory)
	mux.HandleFunc("GET /api/quote/{coinID}", s.handleQuote)
	mux.HandleFunc("GET /api/eth-price", s.handleEthPrice)
	mux.HandleFunc("GET /ws/prices", s.handlePriceStream)
	mux.HandleFunc("GET /ws/history/{address}", s.handleHistoryStream)
	return s.logRequests(mux)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listen", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// SelectedCoin extracts the contract address from a /coin/{address} path.
// It reports false when the path carries no address segment.
func SelectedCoin(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/coin/")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

type coinView struct {
	model.Coin
	PriceUSD         *float64 `json:"price_usd"`
	MarketCap        *float64 `json:"market_cap"`
	PriceDisplay     string   `json:"price_display"`
	MarketCapDisplay string   `json:"market_cap_display"`
}

type historyView struct {
	Timeframe gecko.Timeframe `json:"timeframe"`
	history.History
	Error string `json:"error,omitempty"`
}

type coinDetail struct {
	Coin    coinView    `json:"coin"`
	History historyView `json:"history"`
}

// historyRequest switches the timeframe of a history stream.
type historyRequest struct {
	Timeframe string `json:"timeframe"`
}

type quoteView struct {
	Enabled      bool   `json:"enabled"`
	AmountWei    string `json:"amount_wei,omitempty"`
	Quote        string `json:"quote,omitempty"`
	QuoteDisplay string `json:"quote_display,omitempty"`
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := s.catalog.PopularCoins(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	addresses := make([]string, 0, len(coins))
	for _, c := range coins {
		addresses = append(addresses, c.ContractAddress)
	}
	priceMap := s.fetchPrices(r.Context(), addresses)

	out := make([]coinView, 0, len(coins))
	for _, c := range coins {
		out = append(out, newCoinView(c, priceMap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNoCoin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: errNoCoinSelected.Error()})
}

func (s *Server) handleCoin(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		s.handleNoCoin(w, r)
		return
	}
	tf, err := timeframeParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	coin, err := s.catalog.Coin(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	priceMap := s.fetchPrices(r.Context(), []string{coin.ContractAddress})

	writeJSON(w, http.StatusOK, coinDetail{
		Coin:    newCoinView(coin, priceMap),
		History: s.resolveHistory(r.Context(), coin.ContractAddress, tf),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("addresses")
	var addresses []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	priceMap, err := s.prices.Fetch(r.Context(), addresses)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceMap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tf, err := timeframeParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	view := s.resolveHistory(r.Context(), r.PathValue("address"), tf)
	if view.History.Err != nil && !view.HasPool {
		s.writeError(w, view.History.Err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	amount := r.URL.Query().Get("amount")
	wei, err := format.ParseUnits(amount, 18)
	if err != nil || wei.Sign() <= 0 {
		writeJSON(w, http.StatusOK, quoteView{Enabled: false})
		return
	}

	out, err := s.catalog.Quote(r.Context(), r.PathValue("coinID"), wei)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := quoteView{Enabled: true, AmountWei: wei.String(), Quote: out}
	if q, ok := new(big.Int).SetString(out, 10); ok {
		view.QuoteDisplay = format.FormatTokenCount(q, 18)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEthPrice(w http.ResponseWriter, r *http.Request) {
	usd, err := s.eth.USD(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usd":     usd,
		"display": format.FormatUSDPrice(&usd),
	})
}

func (s *Server) handlePriceStream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "price feed disabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.feed.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap, ok := s.feed.Latest(); ok {
		if err := writeFrame(conn, snap); err != nil {
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeFrame(conn, snap); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// handleHistoryStream keeps one resolver for the lifetime of the connection.
// The client switches timeframes by sending {"timeframe": "4h"}; each finished
// resolve of the current timeframe pushes the resolver's visible state.
func (s *Server) handleHistoryStream(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	tf, err := timeframeParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan string)
	go func() {
		defer close(requests)
		for {
			var req historyRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case requests <- req.Timeframe:
			case <-ctx.Done():
				return
			}
		}
	}()

	resolver := history.NewResolver(s.market, s.caches, s.clock, s.logger)
	finished := make(chan gecko.Timeframe)
	resolve := func(tf gecko.Timeframe) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolver.Resolve(ctx, address, tf)
			select {
			case finished <- tf:
			case <-ctx.Done():
			}
		}()
	}

	current := tf
	resolve(current)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-requests:
			if !ok {
				return
			}
			next, err := gecko.ParseTimeframe(raw)
			if err != nil {
				if err := writeFrame(conn, errorBody{Error: err.Error()}); err != nil {
					return
				}
				continue
			}
			current = next
			resolve(current)
		case done := <-finished:
			if done != current {
				continue
			}
			if err := writeFrame(conn, newHistoryView(current, resolver.Snapshot())); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (s *Server) resolveHistory(ctx context.Context, address string, tf gecko.Timeframe) historyView {
	resolver := history.NewResolver(s.market, s.caches, s.clock, s.logger)
	return newHistoryView(tf, resolver.Resolve(ctx, address, tf))
}

func newHistoryView(tf gecko.Timeframe, h history.History) historyView {
	view := historyView{Timeframe: tf, History: h}
	if h.Err != nil {
		view.Error = h.Err.Error()
	}
	return view
}

// fetchPrices degrades to an empty map so listings still render without
// prices.
func (s *Server) fetchPrices(ctx context.Context, addresses []string) map[string]model.TokenPrice {
	if s.prices == nil || len(addresses) == 0 {
		return map[string]model.TokenPrice{}
	}
	priceMap, err := s.prices.Fetch(ctx, addresses)
	if err != nil {
		s.logger.Warn("price fetch failed", zap.Int("tokens", len(addresses)), zap.Error(err))
		return map[string]model.TokenPrice{}
	}
	return priceMap
}

func newCoinView(c model.Coin, priceMap map[string]model.TokenPrice) coinView {
	p := priceMap[strings.ToLower(c.ContractAddress)]
	return coinView{
		Coin:             c,
		PriceUSD:         p.PriceUSD,
		MarketCap:        p.MarketCap,
		PriceDisplay:     format.FormatUSDPrice(p.PriceUSD),
		MarketCapDisplay: format.FormatMarketCap(p.MarketCap),
	}
}

func timeframeParam(r *http.Request) (gecko.Timeframe, error) {
	raw := r.URL.Query().Get("timeframe")
	if raw == "" {
		return defaultTimeframe, nil
	}
	return gecko.ParseTimeframe(raw)
}
