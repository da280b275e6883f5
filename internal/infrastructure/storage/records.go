package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/ports"
)

// RecordStore is the idempotent record sink.
type RecordStore struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

var _ ports.RecordSink = (*RecordStore)(nil)

// NewRecordStore wires a migrated DB.
func NewRecordStore(db *DB, logger *slog.Logger) *RecordStore {
	return &RecordStore{db: db, now: time.Now, logger: logger}
}

func recordColumns() []string {
	cols := make([]string, 0, len(domain.Fields)+2)
	for _, f := range domain.Fields {
		cols = append(cols, string(f))
	}
	return append(cols, "content_hash", "quality_score")
}

func scanRecord(row interface{ Scan(...any) error }) (domain.Record, error) {
	values := make([]sql.NullString, len(domain.Fields))
	var hash sql.NullString
	var score sql.NullFloat64
	dest := make([]any, 0, len(values)+2)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &hash, &score)
	if err := row.Scan(dest...); err != nil {
		return domain.Record{}, err
	}

	rec := domain.NewRecord()
	for i, f := range domain.Fields {
		if values[i].Valid {
			rec.Set(f, values[i].String)
		}
	}
	rec.ContentHash = hash.String
	rec.QualityScore = score.Float64
	return rec, nil
}

// Upsert inserts a new record or updates the non-blank fields that differ.
// Nothing is written when the stored row already matches.
func (s *RecordStore) Upsert(ctx context.Context, rec domain.Record) (domain.UpsertResult, error) {
	id := rec.NaturalID()
	if id == "" {
		return "", fmt.Errorf("%w: record has no natural id", domain.ErrValidation)
	}

	var result domain.UpsertResult
	err := RunTxRetry(ctx, s.db.DB, "upsert record", s.logger, func(tx *sql.Tx) error {
		var err error
		result, err = s.upsertTx(ctx, tx, id, rec)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: upsert %s: %w", domain.ErrPersistence, id, s.db.Unreachable(ctx, err))
	}
	return result, nil
}

func (s *RecordStore) upsertTx(ctx context.Context, tx *sql.Tx, id string, rec domain.Record) (domain.UpsertResult, error) {
	query, args, err := s.db.Builder().
		Select(recordColumns()...).
		From(medicinesTable).
		Where(sq.Eq{"natural_id": id}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build select: %w", err)
	}

	existing, err := scanRecord(tx.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.UpsertInserted, s.insertTx(ctx, tx, id, rec)
	case err != nil:
		return "", fmt.Errorf("select record: %w", err)
	}

	merged := existing.Clone()
	changes := map[string]any{}
	for _, f := range domain.Fields {
		incoming := rec.Get(f)
		if incoming == "" || incoming == existing.Get(f) {
			continue
		}
		merged.Set(f, incoming)
		changes[string(f)] = incoming
	}
	if len(changes) == 0 {
		return domain.UpsertUnchanged, nil
	}

	changes["content_hash"] = merged.ComputeHash()
	changes["quality_score"] = domain.QualityScore(merged)
	changes["updated_at"] = s.now().UTC().Format(time.RFC3339)

	query, args, err = s.db.Builder().
		Update(medicinesTable).
		SetMap(changes).
		Where(sq.Eq{"natural_id": id}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("update record: %w", err)
	}
	return domain.UpsertUpdated, nil
}

func (s *RecordStore) insertTx(ctx context.Context, tx *sql.Tx, id string, rec domain.Record) error {
	hash := rec.ContentHash
	if hash == "" {
		hash = rec.ComputeHash()
	}
	score := rec.QualityScore
	if score == 0 {
		score = domain.QualityScore(rec)
	}
	now := s.now().UTC().Format(time.RFC3339)

	values := map[string]any{
		"natural_id":    id,
		"content_hash":  hash,
		"quality_score": score,
		"created_at":    now,
		"updated_at":    now,
	}
	for _, f := range domain.Fields {
		if v := rec.Get(f); v != "" {
			values[string(f)] = v
		}
	}

	query, args, err := s.db.Builder().Insert(medicinesTable).SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get returns the record stored under a natural id.
func (s *RecordStore) Get(ctx context.Context, naturalID string) (*domain.Record, error) {
	query, args, err := s.db.Builder().
		Select(recordColumns()...).
		From(medicinesTable).
		Where(sq.Eq{"natural_id": naturalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return &rec, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	query, args, err := s.db.Builder().Select("COUNT(*)").From(medicinesTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Each streams all records in insertion order.
func (s *RecordStore) Each(ctx context.Context, fn func(domain.Record) error) error {
	query, args, err := s.db.Builder().
		Select(recordColumns()...).
		From(medicinesTable).
		OrderBy("id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration: %w", err)
	}
	return nil
}
