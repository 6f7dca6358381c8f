package prices

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"coinScope/internal/model"
)

const DefaultRefreshInterval = 60 * time.Second

// Snapshot is the result of one refresh cycle.
type Snapshot struct {
	Prices    map[string]model.TokenPrice `json:"prices"`
	EthUSD    *float64                    `json:"eth_usd,omitempty"`
	FetchedAt time.Time                   `json:"fetched_at"`
}

// AddressSource supplies the token set to price on each cycle.
type AddressSource func(ctx context.Context) ([]string, error)

// SnapshotSink persists snapshots, e.g. to Postgres.
type SnapshotSink interface {
	PutSnapshot(ctx context.Context, snapshot Snapshot) error
}

type ethRate interface {
	USD(ctx context.Context) (float64, error)
	Invalidate()
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	Interval time.Duration
	Clock    clock.Clock
	Sink     SnapshotSink
	Logger   *zap.Logger
}

// Refresher reprices the current address set on a fixed interval and fans
// snapshots out to subscribers.
type Refresher struct {
	batcher   *Batcher
	eth       ethRate
	addresses AddressSource
	interval  time.Duration
	clock     clock.Clock
	sink      SnapshotSink
	logger    *zap.Logger

	mu     sync.RWMutex
	latest *Snapshot
	subs   map[chan Snapshot]struct{}
}

func NewRefresher(batcher *Batcher, eth ethRate, addresses AddressSource, cfg RefresherConfig) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Refresher{
		batcher:   batcher,
		eth:       eth,
		addresses: addresses,
		interval:  cfg.Interval,
		clock:     cfg.Clock,
		sink:      cfg.Sink,
		logger:    cfg.Logger.Named("refresher"),
		subs:      make(map[chan Snapshot]struct{}),
	}
}

// Run refreshes immediately and then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// Refresh runs a single cycle and returns its snapshot.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	addresses, err := r.addresses(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	r.batcher.Invalidate()
	priceMap, err := r.batcher.Fetch(ctx, addresses)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Prices: priceMap, FetchedAt: r.clock.Now().UTC()}
	if r.eth != nil {
		r.eth.Invalidate()
		if usd, err := r.eth.USD(ctx); err == nil {
			snapshot.EthUSD = &usd
		} else {
			r.logger.Warn("eth price refresh failed", zap.Error(err))
		}
	}

	r.publish(snapshot)

	if r.sink != nil {
		if err := r.sink.PutSnapshot(ctx, snapshot); err != nil {
			r.logger.Warn("persist snapshot failed", zap.Error(err))
		}
	}
	return snapshot, nil
}

func (r *Refresher) refresh(ctx context.Context) {
	snapshot, err := r.Refresh(ctx)
	if err != nil {
		r.logger.Warn("price refresh failed", zap.Error(err))
		return
	}
	r.logger.Info("prices refreshed", zap.Int("tokens", len(snapshot.Prices)))
}

// Latest returns the most recent snapshot, if any.
func (r *Refresher) Latest() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return Snapshot{}, false
	}
	return *r.latest, true
}

// Subscribe returns a channel receiving every new snapshot and a cancel
// function. Slow subscribers miss snapshots rather than block the loop.
func (r *Refresher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Refresher) publish(snapshot Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = &snapshot
	for ch := range r.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
