package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/ports"
)

const topN = 10

// StatsReader builds the show-stats report.
type StatsReader struct {
	db      *DB
	records *RecordStore
	runs    *RunStore
	budget  *BudgetStore
	day     func() string
}

var _ ports.StatsReader = (*StatsReader)(nil)

// NewStatsReader wires the stores; day returns today's budget key.
func NewStatsReader(db *DB, day func() string) *StatsReader {
	if day == nil {
		day = func() string { return time.Now().Format("2006-01-02") }
	}
	return &StatsReader{
		db:      db,
		records: NewRecordStore(db, nil),
		runs:    NewRunStore(db),
		budget:  NewBudgetStore(db, nil),
		day:     day,
	}
}

// Stats aggregates totals, top groups, recent additions and runs.
func (s *StatsReader) Stats(ctx context.Context) (domain.CatalogStats, error) {
	var out domain.CatalogStats
	var err error

	if out.Total, err = s.records.Count(ctx); err != nil {
		return out, err
	}
	if out.Manufacturers, err = s.groupCount(ctx, string(domain.FieldEntpName), topN); err != nil {
		return out, err
	}
	if out.Classes, err = s.groupCount(ctx, string(domain.FieldClassName), topN); err != nil {
		return out, err
	}
	if out.Forms, err = s.groupCount(ctx, string(domain.FieldFormName), topN); err != nil {
		return out, err
	}
	if out.DailyAdded, err = s.dailyAdded(ctx, 7); err != nil {
		return out, err
	}
	if out.RecentRuns, err = s.runs.RecentRuns(ctx, 5); err != nil {
		return out, err
	}
	day := s.day()
	count, err := s.budget.Load(ctx, day)
	if err != nil {
		return out, err
	}
	out.BudgetToday = domain.Budget{Day: day, Count: count}
	return out, nil
}

func (s *StatsReader) groupCount(ctx context.Context, column string, limit int) ([]domain.CountEntry, error) {
	query, args, err := s.db.Builder().
		Select(column, "COUNT(*) AS n").
		From(medicinesTable).
		Where(sq.And{sq.NotEq{column: nil}, sq.NotEq{column: ""}}).
		GroupBy(column).
		OrderBy("n DESC", column).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build group count: %w", err)
	}
	return s.collect(ctx, query, args)
}

func (s *StatsReader) dailyAdded(ctx context.Context, days int) ([]domain.CountEntry, error) {
	query, args, err := s.db.Builder().
		Select("SUBSTR(created_at, 1, 10) AS day", "COUNT(*) AS n").
		From(medicinesTable).
		GroupBy("SUBSTR(created_at, 1, 10)").
		OrderBy("day DESC").
		Limit(uint64(days)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build daily count: %w", err)
	}
	return s.collect(ctx, query, args)
}

func (s *StatsReader) collect(ctx context.Context, query string, args []any) ([]domain.CountEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []domain.CountEntry
	for rows.Next() {
		var e domain.CountEntry
		if err := rows.Scan(&e.Label, &e.Count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
