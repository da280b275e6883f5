package domain

import (
	"sort"
	"time"
)

// KeywordProgress is how far one keyword got. Offset counts the items of
// Page that were already processed.
type KeywordProgress struct {
	Keyword        string    `json:"source_key"`
	Page           int       `json:"page"`
	Offset         int       `json:"page_offset,omitempty"`
	ProcessedCount int       `json:"processed_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// Checkpoint is the resume marker. The embedded progress is the most recent
// save; InProgress keeps every unfinished keyword so concurrent workers do
// not overwrite each other.
type Checkpoint struct {
	KeywordProgress
	InProgress map[string]KeywordProgress `json:"in_progress,omitempty"`
}

// Progress returns the saved position of keyword.
func (c *Checkpoint) Progress(keyword string) (KeywordProgress, bool) {
	if c == nil || keyword == "" {
		return KeywordProgress{}, false
	}
	if p, ok := c.InProgress[keyword]; ok {
		return p, true
	}
	if c.Keyword == keyword {
		return c.KeywordProgress, true
	}
	return KeywordProgress{}, false
}

// Keywords lists the unfinished keywords, the most recently saved first.
func (c *Checkpoint) Keywords() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.InProgress)+1)
	if c.Keyword != "" {
		out = append(out, c.Keyword)
	}
	rest := make([]string, 0, len(c.InProgress))
	for kw := range c.InProgress {
		if kw != c.Keyword {
			rest = append(rest, kw)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// FailedKeyword is one entry of the failed-keyword ledger.
type FailedKeyword struct {
	Keyword string
	Reason  string
}

// Budget is the persisted daily call counter.
type Budget struct {
	Day   string
	Count int
}

// RunStats aggregates the outcome of one ingestion run.
type RunStats struct {
	Fetched          int `json:"fetched_count"`
	SkippedDuplicate int `json:"skipped_duplicate_count"`
	Failed           int `json:"failed_count"`
	Filtered         int `json:"filtered_count"`
	FailedKeywords   int `json:"failed_keyword_count"`
	APICalls         int `json:"api_calls_made"`
}

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunCompleted       RunStatus = "completed"
	RunBudgetExhausted RunStatus = "budget_exhausted"
	RunInterrupted     RunStatus = "interrupted"
	RunFailed          RunStatus = "failed"
)

// RunSummary is persisted per run for show-stats.
type RunSummary struct {
	ID         string
	Mode       string
	Strategy   string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Stats      RunStats
}

// CountEntry is one row of a grouped count.
type CountEntry struct {
	Label string
	Count int
}

// CatalogStats is the show-stats report.
type CatalogStats struct {
	Total         int
	Manufacturers []CountEntry
	Classes       []CountEntry
	Forms         []CountEntry
	DailyAdded    []CountEntry
	RecentRuns    []RunSummary
	BudgetToday   Budget
}
