// Package export writes the catalogue and run statistics as CSV files that
// open cleanly in spreadsheet tools.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"MedicineCrawler/internal/domain"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// RecordSource streams stored records.
type RecordSource interface {
	Each(ctx context.Context, fn func(domain.Record) error) error
}

// RecordHeader is the column order of the records export.
func RecordHeader() []string {
	cols := make([]string, 0, len(domain.Fields)+2)
	for _, f := range domain.Fields {
		cols = append(cols, string(f))
	}
	return append(cols, "content_hash", "quality_score")
}

// WriteRecords writes a BOM, the header and one row per record.
func WriteRecords(ctx context.Context, w io.Writer, src RecordSource) (int, error) {
	if _, err := w.Write(bom); err != nil {
		return 0, fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordHeader()); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	row := make([]string, 0, len(domain.Fields)+2)
	err := src.Each(ctx, func(rec domain.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		row = row[:0]
		for _, f := range domain.Fields {
			row = append(row, rec.Get(f))
		}
		row = append(row, rec.ContentHash, strconv.FormatFloat(rec.QualityScore, 'f', 1, 64))
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

// RecordsFile exports into path, replacing it only once the export succeeded.
func RecordsFile(ctx context.Context, path string, src RecordSource) (int, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create export dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("create export temp: %w", err)
	}
	n, err := WriteRecords(ctx, tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return n, fmt.Errorf("replace export: %w", err)
	}
	return n, nil
}

var statsHeader = []string{
	"run_id", "mode", "strategy", "status", "started_at", "finished_at",
	"fetched_count", "skipped_duplicate_count", "failed_count", "filtered_count",
	"failed_keyword_count", "api_calls_made",
}

// AppendRunStats appends one row per run, writing BOM and header when the
// file is new or empty.
func AppendRunStats(path string, run domain.RunSummary) error {
	needHeader := false
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		needHeader = true
	case err != nil:
		return fmt.Errorf("stat %s: %w", path, err)
	case fi.Size() == 0:
		needHeader = true
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create stats dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if needHeader {
		if _, err := f.Write(bom); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
	}
	cw := csv.NewWriter(f)
	if needHeader {
		if err := cw.Write(statsHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	s := run.Stats
	row := []string{
		run.ID, run.Mode, run.Strategy, string(run.Status),
		run.StartedAt.Format(time.RFC3339), run.FinishedAt.Format(time.RFC3339),
		strconv.Itoa(s.Fetched), strconv.Itoa(s.SkippedDuplicate), strconv.Itoa(s.Failed),
		strconv.Itoa(s.Filtered), strconv.Itoa(s.FailedKeywords), strconv.Itoa(s.APICalls),
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Sync()
}
