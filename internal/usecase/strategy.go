package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"MedicineCrawler/internal/domain"
)

// DefaultWorkers is the bounded strategy's default parallelism.
const DefaultWorkers = 4

// KeywordFunc processes one keyword. It returns an error only when the
// whole run has to stop.
type KeywordFunc func(ctx context.Context, keyword string) error

// Strategy decides how keywords are scheduled.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, keywords []string, fn KeywordFunc) error
}

// Sequential processes one keyword at a time.
type Sequential struct{}

func (Sequential) Name() string { return "sequential" }

func (Sequential) Execute(ctx context.Context, keywords []string, fn KeywordFunc) error {
	for _, kw := range keywords {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, kw); err != nil {
			return err
		}
	}
	return nil
}

// Bounded runs up to Workers keywords concurrently. Each keyword is still
// paginated sequentially by its worker. The first stopping error cancels
// the others.
type Bounded struct {
	Workers int
}

func (b Bounded) Name() string { return "bounded" }

func (b Bounded) Execute(ctx context.Context, keywords []string, fn KeywordFunc) error {
	workers := b.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, kw := range keywords {
		if gctx.Err() != nil {
			break
		}
		kw := kw
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return fn(gctx, kw)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ParseStrategy maps a config or flag value to a strategy.
func ParseStrategy(name string, workers int) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sequential", "sync":
		return Sequential{}, nil
	case "bounded", "async", "parallel":
		return Bounded{Workers: workers}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrSetup, name)
	}
}

// stopsRun reports whether err ends the whole run rather than one keyword.
func stopsRun(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrBudgetExhausted) ||
		errors.Is(err, domain.ErrStorageUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}
