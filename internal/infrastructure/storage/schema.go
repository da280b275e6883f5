package storage

import (
	"context"
	"fmt"
	"strings"

	"MedicineCrawler/internal/domain"
)

const (
	medicinesTable = "medicines"
	apiCallsTable  = "api_calls"
	runsTable      = "crawl_runs"
)

// Columns with a bounded type so they can be indexed on every dialect.
var boundedColumns = map[domain.Field]string{
	domain.FieldItemSeq:  "VARCHAR(64)",
	domain.FieldItemName: "VARCHAR(500)",
	domain.FieldURL:      "VARCHAR(700)",
}

// AutoID returns the surrogate primary key column definition.
func (d Dialect) AutoID() string {
	switch d {
	case Postgres:
		return "id BIGSERIAL PRIMARY KEY"
	case MySQL:
		return "id BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (d Dialect) floatType() string {
	switch d {
	case Postgres:
		return "DOUBLE PRECISION"
	case MySQL:
		return "DOUBLE"
	default:
		return "REAL"
	}
}

// TableSuffix is appended to CREATE TABLE statements.
func (d Dialect) TableSuffix() string {
	if d == MySQL {
		return " DEFAULT CHARSET=utf8mb4"
	}
	return ""
}

type index struct {
	name, table, column string
}

var indexes = []index{
	{"idx_medicines_url", medicinesTable, "url"},
	{"idx_medicines_item_name", medicinesTable, "item_name"},
	{"idx_medicines_content_hash", medicinesTable, "content_hash"},
	{"idx_medicines_item_seq", medicinesTable, "item_seq"},
	{"idx_crawl_runs_started", runsTable, "started_at"},
}

func schemaStatements(d Dialect) []string {
	cols := []string{d.AutoID(), "natural_id VARCHAR(255) NOT NULL UNIQUE"}
	for _, f := range domain.Fields {
		typ, ok := boundedColumns[f]
		if !ok {
			typ = "TEXT"
		}
		cols = append(cols, string(f)+" "+typ)
	}
	cols = append(cols,
		"content_hash VARCHAR(64)",
		"quality_score "+d.floatType(),
		"created_at VARCHAR(40) NOT NULL",
		"updated_at VARCHAR(40) NOT NULL",
	)

	runCols := []string{
		"id VARCHAR(36) PRIMARY KEY",
		"mode VARCHAR(32) NOT NULL",
		"strategy VARCHAR(32) NOT NULL",
		"status VARCHAR(32) NOT NULL",
		"started_at VARCHAR(40) NOT NULL",
		"finished_at VARCHAR(40) NOT NULL",
		"fetched INTEGER NOT NULL DEFAULT 0",
		"skipped_duplicate INTEGER NOT NULL DEFAULT 0",
		"failed INTEGER NOT NULL DEFAULT 0",
		"filtered INTEGER NOT NULL DEFAULT 0",
		"failed_keywords INTEGER NOT NULL DEFAULT 0",
		"api_calls INTEGER NOT NULL DEFAULT 0",
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS, so its indexes live inline.
	if d == MySQL {
		for _, idx := range indexes {
			def := fmt.Sprintf("INDEX %s (%s)", idx.name, idx.column)
			if idx.table == medicinesTable {
				cols = append(cols, def)
			} else {
				runCols = append(runCols, def)
			}
		}
	}

	stmts := []string{
		createTable(d, medicinesTable, cols),
		createTable(d, apiCallsTable, []string{"day VARCHAR(10) PRIMARY KEY", "call_count INTEGER NOT NULL"}),
		createTable(d, runsTable, runCols),
	}
	if d != MySQL {
		for _, idx := range indexes {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, idx.table, idx.column))
		}
	}
	return stmts
}

func createTable(d Dialect, name string, cols []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)%s", name, strings.Join(cols, ",\n\t"), d.TableSuffix())
}

// CreateSchema creates the catalogue, budget and run tables.
func (db *DB) CreateSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(db.Dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
