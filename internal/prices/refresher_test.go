package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinScope/internal/gecko"
)

type staticEth float64

func (s staticEth) USD(ctx context.Context) (float64, error) { return float64(s), nil }

func (staticEth) Invalidate() {}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (s *recordingSink) PutSnapshot(ctx context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot)
	s.mu.Unlock()
	return nil
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	source := &fakeSource{known: map[string]gecko.TokenAttributes{
		"0xa": {Address: "0xA", PriceUSD: str("2")},
	}}
	sink := &recordingSink{}
	r := NewRefresher(
		NewBatcher(source, clock.NewMock(), nil),
		staticEth(3000),
		func(ctx context.Context) ([]string, error) { return []string{"0xa"}, nil },
		RefresherConfig{Clock: clock.NewMock(), Sink: sink},
	)

	updates, cancel := r.Subscribe()
	defer cancel()

	snapshot, err := r.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snapshot.EthUSD)
	assert.Equal(t, 3000.0, *snapshot.EthUSD)
	assert.Contains(t, snapshot.Prices, "0xa")

	select {
	case got := <-updates:
		assert.Equal(t, snapshot.FetchedAt, got.FetchedAt)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive snapshot")
	}

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Len(t, latest.Prices, 1)
	assert.Len(t, sink.snapshots, 1)
}

func TestRunRefreshesOnEveryTick(t *testing.T) {
	source := &fakeSource{known: map[string]gecko.TokenAttributes{}}
	mockClock := clock.NewMock()
	r := NewRefresher(
		NewBatcher(source, mockClock, nil),
		nil,
		func(ctx context.Context) ([]string, error) { return []string{"0xa"}, nil },
		RefresherConfig{Clock: mockClock, Interval: time.Minute},
	)

	updates, cancel := r.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitSnapshot := func() {
		select {
		case <-updates:
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot published")
		}
	}

	waitSnapshot()
	mockClock.Add(time.Minute)
	waitSnapshot()

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Len(t, source.batches, 2)
}

func TestRefreshRefetchesEthRateEveryCycle(t *testing.T) {
	mockClock := clock.NewMock()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		mockClock.Add(50 * time.Millisecond)
		w.Write([]byte(`{"ethereum":{"usd":3000}}`))
	}))
	defer srv.Close()

	source := &fakeSource{known: map[string]gecko.TokenAttributes{}}
	r := NewRefresher(
		NewBatcher(source, mockClock, nil),
		NewEthPrice(srv.URL, srv.Client(), mockClock),
		func(ctx context.Context) ([]string, error) { return []string{"0xa"}, nil },
		RefresherConfig{Clock: mockClock, Interval: time.Minute},
	)

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	mockClock.Add(time.Minute)
	snapshot, err := r.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NotNil(t, snapshot.EthUSD)
	assert.Equal(t, 3000.0, *snapshot.EthUSD)
}
