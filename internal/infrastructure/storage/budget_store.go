package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"MedicineCrawler/internal/budget"
)

// BudgetStore persists the daily API call count in the api_calls table.
type BudgetStore struct {
	db     *DB
	logger *slog.Logger
}

var _ budget.Store = (*BudgetStore)(nil)

// NewBudgetStore wires a migrated DB.
func NewBudgetStore(db *DB, logger *slog.Logger) *BudgetStore {
	return &BudgetStore{db: db, logger: logger}
}

// Load returns the count for day, zero if none was recorded.
func (s *BudgetStore) Load(ctx context.Context, day string) (int, error) {
	return s.load(ctx, s.db.DB, day)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *BudgetStore) load(ctx context.Context, q queryRower, day string) (int, error) {
	query, args, err := s.db.Builder().
		Select("call_count").
		From(apiCallsTable).
		Where(sq.Eq{"day": day}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build budget select: %w", err)
	}
	var n int
	err = q.QueryRowContext(ctx, query, args...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load budget: %w", err)
	}
	return n, nil
}

// Increment adds one call to day and returns the new count.
func (s *BudgetStore) Increment(ctx context.Context, day string) (int, error) {
	var count int
	err := RunTxRetry(ctx, s.db.DB, "increment budget", s.logger, func(tx *sql.Tx) error {
		query, args, err := s.db.Builder().
			Update(apiCallsTable).
			Set("call_count", sq.Expr("call_count + 1")).
			Where(sq.Eq{"day": day}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build budget update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update budget: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			query, args, err = s.db.Builder().
				Insert(apiCallsTable).
				Columns("day", "call_count").
				Values(day, 1).
				ToSql()
			if err != nil {
				return fmt.Errorf("build budget insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert budget: %w", err)
			}
		}
		count, err = s.load(ctx, tx, day)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
