// Package budget enforces the daily ceiling on billable API calls.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MedicineCrawler/internal/domain"
)

// DefaultDailyLimit matches the search API's free quota with some headroom.
const DefaultDailyLimit = 24000

// Store persists the per-day call count.
type Store interface {
	Load(ctx context.Context, day string) (int, error)
	Increment(ctx context.Context, day string) (int, error)
}

// Tracker counts successful calls and in-flight reservations so concurrent
// workers never exceed the limit.
type Tracker struct {
	mu       sync.Mutex
	limit    int
	store    Store
	loc      *time.Location
	now      func() time.Time
	day      string
	used     int
	inflight int
	onChange func(used int)
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLocation sets the timezone the day boundary is computed in.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// OnChange registers a callback fired with the committed count.
func OnChange(fn func(used int)) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker builds a tracker; limit <= 0 falls back to DefaultDailyLimit.
func NewTracker(limit int, store Store, opts ...Option) *Tracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	t := &Tracker{limit: limit, store: store, loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Day returns today's key in the configured timezone.
func (t *Tracker) Day() string {
	return t.now().In(t.loc).Format("2006-01-02")
}

func (t *Tracker) refresh(ctx context.Context) error {
	day := t.Day()
	if day == t.day {
		return nil
	}
	count, err := t.store.Load(ctx, day)
	if err != nil {
		return fmt.Errorf("load budget for %s: %w", day, err)
	}
	t.day = day
	t.used = count
	t.inflight = 0
	return nil
}

// Reserve claims one call. It returns domain.ErrBudgetExhausted when
// committed plus in-flight calls already reach the limit.
func (t *Tracker) Reserve(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refresh(ctx); err != nil {
		return err
	}
	if t.used+t.inflight >= t.limit {
		return fmt.Errorf("%w: %d/%d calls used on %s", domain.ErrBudgetExhausted, t.used, t.limit, t.day)
	}
	t.inflight++
	return nil
}

// Commit turns a reservation into a persisted call.
func (t *Tracker) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight > 0 {
		t.inflight--
	}
	count, err := t.store.Increment(ctx, t.day)
	if err != nil {
		t.used++
		return fmt.Errorf("persist budget: %w", err)
	}
	t.used = count
	if t.onChange != nil {
		t.onChange(t.used)
	}
	return nil
}

// Release drops a reservation whose call did not succeed.
func (t *Tracker) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight > 0 {
		t.inflight--
	}
}

// Used returns the committed count for the current day.
func (t *Tracker) Used(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refresh(ctx); err != nil {
		return 0, err
	}
	return t.used, nil
}

// Limit returns the daily ceiling.
func (t *Tracker) Limit() int { return t.limit }

// MemoryStore keeps counts in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: map[string]int{}}
}

func (m *MemoryStore) Load(_ context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[day], nil
}

func (m *MemoryStore) Increment(_ context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[day]++
	return m.counts[day], nil
}
