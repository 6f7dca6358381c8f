package query

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the visible outcome of the latest request of a view.
type State[V any] struct {
	Data      V
	HasData   bool
	Loading   bool
	Err       error
	UpdatedAt time.Time
}

// Tracker holds the visible state of one view. Every request takes a
// generation; only the latest generation may commit.
type Tracker[V any] struct {
	clock clock.Clock

	mu    sync.Mutex
	gen   uint64
	state State[V]
}

func NewTracker[V any](clk clock.Clock) *Tracker[V] {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker[V]{clock: clk}
}

// Begin starts a request and returns its generation.
func (t *Tracker[V]) Begin() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.state.Loading = true
	return t.gen
}

// Restart starts a request for a different key. Data of the previous key is
// cleared so it cannot surface next to this request's outcome.
func (t *Tracker[V]) Restart() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.state = State[V]{Loading: true}
	return t.gen
}

// Commit records the outcome of generation gen. It reports false when a newer
// request superseded it, in which case state is unchanged.
func (t *Tracker[V]) Commit(gen uint64, value V, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return false
	}
	t.state.Loading = false
	t.state.Err = err
	if err == nil {
		t.state.Data = value
		t.state.HasData = true
	}
	t.state.UpdatedAt = t.clock.Now()
	return true
}

// Disable makes the view inert: in-flight requests can no longer commit and
// the visible state is cleared.
func (t *Tracker[V]) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.state = State[V]{}
}

func (t *Tracker[V]) State() State[V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Generation returns the latest issued generation.
func (t *Tracker[V]) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}
