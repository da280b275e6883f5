package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/ports"
)

// DailyScheduler fires a job once a day at a wall-clock time, typically just
// after the API budget resets.
type DailyScheduler struct {
	hour, minute int
	loc          *time.Location
	now          func() time.Time
	after        func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// NewDailyScheduler parses runAt as "HH:MM" in loc.
func NewDailyScheduler(runAt string, loc *time.Location) (*DailyScheduler, error) {
	t, err := time.Parse("15:04", runAt)
	if err != nil {
		return nil, fmt.Errorf("%w: scheduler runAt %q: %v", domain.ErrSetup, runAt, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &DailyScheduler{
		hour:   t.Hour(),
		minute: t.Minute(),
		loc:    loc,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Next returns the first trigger strictly after now.
func (c *DailyScheduler) Next(now time.Time) time.Time {
	local := now.In(c.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.minute, 0, 0, c.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start runs job at every trigger until ctx is done or Stop is called.
// Jobs run on the scheduler goroutine, so a slow run delays the next one
// instead of overlapping it.
func (c *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done
	go func() {
		defer close(done)
		for {
			next := c.Next(c.now())
			select {
			case t := <-c.after(next.Sub(c.now())):
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// Stop halts the scheduler and waits for a running job to return.
func (c *DailyScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
