package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinScope/internal/gecko"
	"coinScope/internal/model"
)

type fakeMarket struct {
	pools      []model.Pool
	poolsErr   error
	rows       [][]json.RawMessage
	ohlcvErr   error
	poolCalls  int32
	ohlcvCalls int32
	lastPool   string
	lastTF     gecko.Timeframe
}

func (f *fakeMarket) TokenPools(ctx context.Context, token string) ([]model.Pool, error) {
	atomic.AddInt32(&f.poolCalls, 1)
	return f.pools, f.poolsErr
}

func (f *fakeMarket) PoolOHLCV(ctx context.Context, pool string, tf gecko.Timeframe) ([][]json.RawMessage, error) {
	atomic.AddInt32(&f.ohlcvCalls, 1)
	f.lastPool = pool
	f.lastTF = tf
	return f.rows, f.ohlcvErr
}

func row(ts int64, close string) []json.RawMessage {
	tsRaw, _ := json.Marshal(ts)
	return []json.RawMessage{
		tsRaw,
		json.RawMessage(`"1"`),
		json.RawMessage(`"2"`),
		json.RawMessage(`"0.5"`),
		json.RawMessage(`"` + close + `"`),
		json.RawMessage(`"10"`),
	}
}

func TestNormalizeKeepsFirstDuplicate(t *testing.T) {
	in := []model.Candle{
		{Time: 5, Close: 1},
		{Time: 5, Close: 2},
	}
	out := Normalize(in)
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].Close)
}

func TestNormalizeSortsAndDedups(t *testing.T) {
	in := []model.Candle{
		{Time: 30, Close: 3},
		{Time: 10, Close: 1},
		{Time: 20, Close: 2},
		{Time: 10, Close: 9},
		{Time: 30, Close: 8},
	}
	out := Normalize(in)
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].Time, out[i].Time)
	}
	assert.Equal(t, 1.0, out[0].Close)
	assert.Equal(t, 3.0, out[2].Close)
	assert.Equal(t, int64(30), in[0].Time, "input must not be reordered")
}

func TestParseCandlesAcceptsNumbersAndStrings(t *testing.T) {
	rows := [][]json.RawMessage{
		{json.RawMessage(`1700000000`), json.RawMessage(`1.5`), json.RawMessage(`"2"`), json.RawMessage(`"1"`), json.RawMessage(`"1.75"`), json.RawMessage(`300`)},
	}
	candles, err := ParseCandles(rows)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, model.Candle{Time: 1700000000, Open: 1.5, High: 2, Low: 1, Close: 1.75, Volume: 300}, candles[0])

	_, err = ParseCandles([][]json.RawMessage{{json.RawMessage(`1`)}})
	assert.Error(t, err)
}

func TestResolveUsesTopPool(t *testing.T) {
	market := &fakeMarket{
		pools: []model.Pool{
			{Address: "0xtop", Name: "COIN / WETH"},
			{Address: "0xsecond", Name: "COIN / USDC"},
		},
		rows: [][]json.RawMessage{row(20, "2"), row(10, "1"), row(20, "3")},
	}
	r := NewResolver(market, nil, clock.NewMock(), nil)

	h := r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1H)
	require.NoError(t, h.Err)
	assert.True(t, h.HasPool)
	assert.Equal(t, "COIN / WETH", h.PoolName)
	assert.Equal(t, "0xtop", market.lastPool)
	assert.Equal(t, gecko.Timeframe1H, market.lastTF)
	require.Len(t, h.Candles, 2)
	assert.Equal(t, int64(10), h.Candles[0].Time)
	assert.Equal(t, 2.0, h.Candles[1].Close)

	snap := r.Snapshot()
	assert.False(t, snap.Loading)
	assert.Len(t, snap.Candles, 2)
}

func TestResolveCachesPerTimeframe(t *testing.T) {
	market := &fakeMarket{
		pools: []model.Pool{{Address: "0xtop", Name: "P"}},
		rows:  [][]json.RawMessage{row(10, "1")},
	}
	r := NewResolver(market, nil, clock.NewMock(), nil)

	r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1D)
	r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1D)
	r.Resolve(context.Background(), "0xtoken", gecko.Timeframe4H)

	assert.Equal(t, int32(1), atomic.LoadInt32(&market.poolCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&market.ohlcvCalls))
}

func TestResolveEmptyTokenIsInert(t *testing.T) {
	market := &fakeMarket{}
	r := NewResolver(market, nil, clock.NewMock(), nil)

	h := r.Resolve(context.Background(), "", gecko.Timeframe1D)
	assert.NoError(t, h.Err)
	assert.False(t, h.HasPool)
	assert.Empty(t, h.Candles)
	assert.Equal(t, int32(0), atomic.LoadInt32(&market.poolCalls))
}

func TestResolveNoPoolIsNotAnError(t *testing.T) {
	market := &fakeMarket{pools: []model.Pool{}}
	r := NewResolver(market, nil, clock.NewMock(), nil)

	h := r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1D)
	assert.NoError(t, h.Err)
	assert.False(t, h.HasPool)
	assert.Empty(t, h.Candles)
	assert.Equal(t, int32(0), atomic.LoadInt32(&market.ohlcvCalls))
}

func TestResolvePoolErrorTakesPrecedence(t *testing.T) {
	poolErr := errors.New("pools down")
	market := &fakeMarket{poolsErr: poolErr}
	r := NewResolver(market, nil, clock.NewMock(), nil)

	h := r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1D)
	assert.ErrorIs(t, h.Err, poolErr)
	assert.ErrorIs(t, r.Snapshot().Err, poolErr)
	assert.Equal(t, int32(0), atomic.LoadInt32(&market.ohlcvCalls))
}

func TestResolveCandleError(t *testing.T) {
	candleErr := errors.New("ohlcv down")
	market := &fakeMarket{
		pools:    []model.Pool{{Address: "0xtop", Name: "P"}},
		ohlcvErr: candleErr,
	}
	r := NewResolver(market, nil, clock.NewMock(), nil)

	h := r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1D)
	assert.ErrorIs(t, h.Err, candleErr)
	assert.True(t, h.HasPool)
	assert.Empty(t, h.Candles)
}

func TestSnapshotDropsCandlesOfPreviousTimeframe(t *testing.T) {
	candleErr := errors.New("ohlcv down")
	market := &fakeMarket{
		pools: []model.Pool{{Address: "0xtop", Name: "P"}},
		rows:  [][]json.RawMessage{row(10, "1")},
	}
	r := NewResolver(market, nil, clock.NewMock(), nil)

	h := r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1D)
	require.NoError(t, h.Err)
	require.Len(t, r.Snapshot().Candles, 1)

	market.ohlcvErr = candleErr
	h = r.Resolve(context.Background(), "0xtoken", gecko.Timeframe1H)
	assert.ErrorIs(t, h.Err, candleErr)
	assert.Empty(t, h.Candles)

	snap := r.Snapshot()
	assert.ErrorIs(t, snap.Err, candleErr)
	assert.Empty(t, snap.Candles)
	assert.True(t, snap.HasPool)
	assert.False(t, snap.Loading)
}
