package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/retry"
)

// RunTx runs fn in a transaction, rolling back on error or panic.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()

	err = fn(tx)
	return err
}

// IsTransient reports whether a database error is worth retrying: SQLite
// BUSY, lock and deadlock errors, serialization failures and unique
// violations from a racing insert.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505", "55P03":
			return true
		}
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213, 1062:
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// Unreachable wraps err with domain.ErrStorageUnavailable when the
// database itself cannot be reached. Other errors come back unchanged.
func (db *DB) Unreachable(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, domain.ErrStorageUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !errors.Is(err, sql.ErrConnDone) && !errors.Is(err, driver.ErrBadConn) {
		pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if db.PingContext(pingCtx) == nil {
			return err
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}

// txPolicy is the per-record transaction retry policy.
func txPolicy(name string, logger *slog.Logger) retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Retryable:   IsTransient,
		Logger:      logger,
		Name:        name,
	}
}

// RunTxRetry runs RunTx under the transient-error retry policy.
func RunTxRetry(ctx context.Context, db *sql.DB, name string, logger *slog.Logger, fn func(*sql.Tx) error) error {
	return retry.Do(ctx, txPolicy(name, logger), func(int) error {
		return RunTx(ctx, db, fn)
	})
}
