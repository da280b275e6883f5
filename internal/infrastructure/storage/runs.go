package storage

import (
	"context"
	"fmt"
	"time"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/ports"
)

// RunStore persists run summaries in crawl_runs.
type RunStore struct {
	db *DB
}

var _ ports.RunRepository = (*RunStore)(nil)

func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun inserts one finished run.
func (s *RunStore) SaveRun(ctx context.Context, run domain.RunSummary) error {
	query, args, err := s.db.Builder().
		Insert(runsTable).
		Columns("id", "mode", "strategy", "status", "started_at", "finished_at",
			"fetched", "skipped_duplicate", "failed", "filtered", "failed_keywords", "api_calls").
		Values(run.ID, run.Mode, run.Strategy, string(run.Status),
			run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339),
			run.Stats.Fetched, run.Stats.SkippedDuplicate, run.Stats.Failed,
			run.Stats.Filtered, run.Stats.FailedKeywords, run.Stats.APICalls).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	query, args, err := s.db.Builder().
		Select("id", "mode", "strategy", "status", "started_at", "finished_at",
			"fetched", "skipped_duplicate", "failed", "filtered", "failed_keywords", "api_calls").
		From(runsTable).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build run select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		var (
			run               domain.RunSummary
			status            string
			started, finished string
		)
		if err := rows.Scan(&run.ID, &run.Mode, &run.Strategy, &status, &started, &finished,
			&run.Stats.Fetched, &run.Stats.SkippedDuplicate, &run.Stats.Failed,
			&run.Stats.Filtered, &run.Stats.FailedKeywords, &run.Stats.APICalls); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = domain.RunStatus(status)
		run.StartedAt, _ = time.Parse(time.RFC3339, started)
		run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return runs, nil
}
