package ports

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"MedicineCrawler/internal/domain"
)

// DetailFetcher loads product detail pages.
type DetailFetcher interface {
	Document(ctx context.Context, pageURL string) (*goquery.Document, error)
}

// ImageStore downloads product images and returns the local reference.
type ImageStore interface {
	Save(ctx context.Context, imageURL, name string) (string, error)
}

// Deduplicator answers whether an item or record was already ingested.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, url, title string) (bool, error)
	IsDuplicateByContent(ctx context.Context, hash string) (bool, error)
}

// RecordSink persists records idempotently by natural id.
type RecordSink interface {
	Upsert(ctx context.Context, rec domain.Record) (domain.UpsertResult, error)
}

// CheckpointStore keeps per-keyword resume markers and the keyword ledgers.
type CheckpointStore interface {
	Save(ctx context.Context, progress domain.KeywordProgress) error
	Load(ctx context.Context) (*domain.Checkpoint, error)
	// Remove drops one keyword's marker once it is ledgered.
	Remove(ctx context.Context, keyword string) error
	Clear(ctx context.Context) error
	Completed(ctx context.Context) (map[string]bool, error)
	Failed(ctx context.Context) ([]domain.FailedKeyword, error)
	MarkCompleted(ctx context.Context, keyword string) error
	MarkFailed(ctx context.Context, keyword, reason string) error
}

// RunRepository stores run summaries.
type RunRepository interface {
	SaveRun(ctx context.Context, run domain.RunSummary) error
}

// StatsReader aggregates the catalogue for reporting.
type StatsReader interface {
	Stats(ctx context.Context) (domain.CatalogStats, error)
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
