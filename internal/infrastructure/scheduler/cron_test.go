package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"MedicineCrawler/internal/domain"
)

func TestNext(t *testing.T) {
	t.Parallel()
	seoul := time.FixedZone("KST", 9*3600)
	s, err := NewDailyScheduler("00:05", seoul)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	before := time.Date(2026, 4, 1, 0, 1, 0, 0, seoul)
	if got := s.Next(before); !got.Equal(time.Date(2026, 4, 1, 0, 5, 0, 0, seoul)) {
		t.Fatalf("same-day trigger: %s", got)
	}
	exact := time.Date(2026, 4, 1, 0, 5, 0, 0, seoul)
	if got := s.Next(exact); !got.Equal(time.Date(2026, 4, 2, 0, 5, 0, 0, seoul)) {
		t.Fatalf("trigger must be strictly after now: %s", got)
	}
	utc := time.Date(2026, 4, 1, 16, 0, 0, 0, time.UTC) // 01:00 KST on Apr 2
	if got := s.Next(utc); !got.Equal(time.Date(2026, 4, 3, 0, 5, 0, 0, seoul)) {
		t.Fatalf("timezone not applied: %s", got)
	}
}

func TestNewDailySchedulerRejectsBadTime(t *testing.T) {
	t.Parallel()
	if _, err := NewDailyScheduler("25:99", nil); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected ErrSetup, got %v", err)
	}
}

func TestStartRunsJobAndStops(t *testing.T) {
	t.Parallel()
	s, err := NewDailyScheduler("03:00", time.UTC)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ticks := make(chan time.Time)
	s.after = func(time.Duration) <-chan time.Time { return ticks }

	fired := make(chan time.Time, 1)
	if err := s.Start(context.Background(), func(tr time.Time) { fired <- tr }); err != nil {
		t.Fatalf("start: %v", err)
	}

	trigger := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	ticks <- trigger
	select {
	case got := <-fired:
		if !got.Equal(trigger) {
			t.Fatalf("unexpected trigger %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}
