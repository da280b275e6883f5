package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/ports"
)

// Deduplicator checks the catalogue for items that were already ingested.
// The catalogue only grows, so a positive answer never becomes negative.
type Deduplicator struct {
	db *DB
}

var _ ports.Deduplicator = (*Deduplicator)(nil)

// NewDeduplicator wires a migrated DB.
func NewDeduplicator(db *DB) *Deduplicator {
	return &Deduplicator{db: db}
}

// IsDuplicate checks the exact URL, the exact title and finally the title
// with bracketed qualifiers stripped.
func (d *Deduplicator) IsDuplicate(ctx context.Context, url, title string) (bool, error) {
	url = strings.TrimSpace(url)
	title = strings.TrimSpace(title)

	if url != "" {
		if found, err := d.exists(ctx, sq.Eq{"url": url}); err != nil || found {
			return found, err
		}
	}
	if title == "" {
		return false, nil
	}
	if found, err := d.exists(ctx, sq.Eq{"item_name": title}); err != nil || found {
		return found, err
	}

	base := domain.BaseTitle(title)
	if base == title || len([]rune(base)) <= 3 {
		return false, nil
	}
	pattern := "%" + likeEscaper.Replace(base) + "%"
	return d.exists(ctx, sq.Expr("item_name LIKE ? ESCAPE '!'", pattern))
}

// likeEscaper quotes LIKE wildcards with '!', which none of the dialects
// treat specially inside string literals.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// IsDuplicateByContent checks whether a record with the same content hash exists.
func (d *Deduplicator) IsDuplicateByContent(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	return d.exists(ctx, sq.Eq{"content_hash": hash})
}

func (d *Deduplicator) exists(ctx context.Context, pred sq.Sqlizer) (bool, error) {
	query, args, err := d.db.Builder().
		Select("1").
		From(medicinesTable).
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build dedup query: %w", err)
	}
	var one int
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("dedup query: %w", d.db.Unreachable(ctx, err))
	}
	return true, nil
}
