package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"MedicineCrawler/internal/domain"
)

func TestParseCommandRejectsUnknown(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer
	if _, err := parseCommand("crawl-everything", nil, &out, &errOut); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
	if _, err := parseCommand("keyword", nil, &out, &errOut); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("keyword without -q must fail, got %v", err)
	}
	if _, err := parseCommand("run", []string{"-workers", "x"}, &out, &errOut); err == nil {
		t.Fatalf("bad flag value must fail")
	}
	if act, err := parseCommand("run", []string{"-strategy", "bounded", "-workers", "8"}, &out, &errOut); err != nil || act == nil {
		t.Fatalf("valid run flags rejected: %v", err)
	}
}

func TestRunWithoutArgsPrintsUsage(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "usage: medicinecrawler") {
		t.Fatalf("usage not printed: %q", errOut.String())
	}
}

func TestPrintStats(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printStats(&buf, domain.CatalogStats{
		Total:         12,
		Manufacturers: []domain.CountEntry{{Label: "한국얀센", Count: 7}},
		BudgetToday:   domain.Budget{Day: "2026-03-01", Count: 40},
		RecentRuns: []domain.RunSummary{{
			Mode: "keywords", Status: domain.RunCompleted,
			StartedAt: time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
			Stats:     domain.RunStats{Fetched: 12, APICalls: 40},
		}},
	})
	out := buf.String()
	for _, want := range []string{"records", "12", "한국얀센", "40 (2026-03-01)", "completed", "fetched 12"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats output missing %q:\n%s", want, out)
		}
	}
}
