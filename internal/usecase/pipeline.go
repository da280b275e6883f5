package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"MedicineCrawler/internal/budget"
	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/infrastructure/metrics"
	"MedicineCrawler/internal/infrastructure/parser"
	"MedicineCrawler/internal/ports"
	"MedicineCrawler/internal/retry"
	"MedicineCrawler/internal/scanner"
)

// ErrDuplicate is returned by FetchSingleURL when the page is already stored.
var ErrDuplicate = errors.New("already ingested")

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle              State = "idle"
	StateLoadingCheckpoint State = "loading_checkpoint"
	StateSelectingKeyword  State = "selecting_keyword"
	StatePaginating        State = "paginating"
	StateProcessingPage    State = "processing_page"
	StateCheckpointing     State = "checkpointing"
	StateBudgetExhausted   State = "budget_exhausted"
	StateDone              State = "done"
)

// Settings tunes pagination, checkpointing and keyword retries. Zero values
// fall back to defaults.
type Settings struct {
	PageSize        int
	MaxResults      int
	CheckpointEvery int
	MinQuality      float64
	KeywordAttempts int
	KeywordBackoff  time.Duration
}

func (s Settings) withDefaults(maxPage int) Settings {
	if s.PageSize <= 0 {
		s.PageSize = 100
	}
	if maxPage > 0 && s.PageSize > maxPage {
		s.PageSize = maxPage
	}
	if s.MaxResults <= 0 {
		s.MaxResults = 1000
	}
	if s.CheckpointEvery <= 0 {
		s.CheckpointEvery = 10
	}
	if s.MinQuality <= 0 {
		s.MinQuality = domain.DefaultMinQuality
	}
	if s.KeywordAttempts <= 0 {
		s.KeywordAttempts = 3
	}
	if s.KeywordBackoff <= 0 {
		s.KeywordBackoff = 5 * time.Second
	}
	return s
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
// Images, Runs, Notifier and Budget are optional.
type PipelineDeps struct {
	Source      scanner.Scanner
	Details     ports.DetailFetcher
	Images      ports.ImageStore
	Dedup       ports.Deduplicator
	Sink        ports.RecordSink
	Checkpoints ports.CheckpointStore
	Runs        ports.RunRepository
	Notifier    ports.Notifier
	Budget      *budget.Tracker
	Logger      *slog.Logger
	Settings    Settings
}

// RunOptions selects what one Run processes.
type RunOptions struct {
	Keywords []string
	// Force ignores the ledgers, used when a single keyword is requested.
	Force      bool
	MaxResults int
	Strategy   Strategy
	Mode       string
}

// Pipeline implements the keyword ingestion workflow.
type Pipeline struct {
	source      scanner.Scanner
	details     ports.DetailFetcher
	images      ports.ImageStore
	dedup       ports.Deduplicator
	sink        ports.RecordSink
	checkpoints ports.CheckpointStore
	runs        ports.RunRepository
	notifier    ports.Notifier
	budget      *budget.Tracker
	logger      *slog.Logger
	settings    Settings
	now         func() time.Time

	state atomic.Value
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxPage := 0
	if deps.Source != nil {
		maxPage = deps.Source.MaxPageSize()
	}
	p := &Pipeline{
		source:      deps.Source,
		details:     deps.Details,
		images:      deps.Images,
		dedup:       deps.Dedup,
		sink:        deps.Sink,
		checkpoints: deps.Checkpoints,
		runs:        deps.Runs,
		notifier:    deps.Notifier,
		budget:      deps.Budget,
		logger:      logger.With("component", "pipeline"),
		settings:    deps.Settings.withDefaults(maxPage),
		now:         time.Now,
	}
	p.state.Store(StateIdle)
	return p
}

// State returns the current position in the run state machine.
func (p *Pipeline) State() State {
	return p.state.Load().(State)
}

func (p *Pipeline) setState(s State) {
	if prev := p.state.Swap(s).(State); prev != s {
		p.logger.Debug("state changed", "from", prev, "to", s)
	}
}

type outcome string

const (
	outcomeFetched   outcome = "fetched"
	outcomeDuplicate outcome = "duplicate"
	outcomeFailed    outcome = "failed"
	outcomeFiltered  outcome = "filtered"
)

type counters struct {
	fetched, duplicates, failed, filtered, failedKeywords atomic.Int64
}

func (c *counters) add(o outcome) {
	switch o {
	case outcomeFetched:
		c.fetched.Add(1)
	case outcomeDuplicate:
		c.duplicates.Add(1)
	case outcomeFailed:
		c.failed.Add(1)
	case outcomeFiltered:
		c.filtered.Add(1)
	}
	metrics.Records.WithLabelValues(string(o)).Inc()
}

func (c *counters) snapshot() domain.RunStats {
	return domain.RunStats{
		Fetched:          int(c.fetched.Load()),
		SkippedDuplicate: int(c.duplicates.Load()),
		Failed:           int(c.failed.Load()),
		Filtered:         int(c.filtered.Load()),
		FailedKeywords:   int(c.failedKeywords.Load()),
	}
}

type runState struct {
	counters   counters
	resume     *domain.Checkpoint
	maxResults int
	// track is false for forced runs, which leave the checkpoint alone.
	track bool
}

// keywordProgress survives keyword retries so they resume on the failed
// page without counting its first items twice.
type keywordProgress struct {
	keyword   string
	page      int
	offset    int
	processed int
}

// Run processes the keyword queue with the chosen strategy. Budget
// exhaustion and cancellation end the run without an error; the summary
// status tells them apart.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (domain.RunSummary, error) {
	if p.source == nil || p.dedup == nil || p.sink == nil || p.checkpoints == nil {
		return domain.RunSummary{}, fmt.Errorf("%w: pipeline is missing a source, dedup, sink or checkpoint store", domain.ErrSetup)
	}
	if !p.source.Structured() && p.details == nil {
		return domain.RunSummary{}, fmt.Errorf("%w: source %s needs a detail fetcher", domain.ErrSetup, p.source.Name())
	}
	strategy := opts.Strategy
	if strategy == nil {
		strategy = Sequential{}
	}
	mode := opts.Mode
	if mode == "" {
		mode = "keywords"
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	summary := domain.RunSummary{ID: id.String(), Mode: mode, Strategy: strategy.Name(), StartedAt: p.now()}
	logger := p.logger.With("run_id", summary.ID)
	callsBefore := p.budgetUsed(ctx)

	p.setState(StateLoadingCheckpoint)
	cp, err := p.checkpoints.Load(ctx)
	if err != nil {
		p.setState(StateIdle)
		return summary, fmt.Errorf("load checkpoint: %w", err)
	}
	completed, err := p.checkpoints.Completed(ctx)
	if err != nil {
		p.setState(StateIdle)
		return summary, fmt.Errorf("load completed keywords: %w", err)
	}
	failed, err := p.checkpoints.Failed(ctx)
	if err != nil {
		p.setState(StateIdle)
		return summary, fmt.Errorf("load failed keywords: %w", err)
	}

	p.setState(StateSelectingKeyword)
	queue := buildQueue(opts.Keywords, completed, failed, cp, opts.Force)
	rs := &runState{resume: cp, maxResults: p.settings.MaxResults, track: !opts.Force}
	if opts.MaxResults > 0 {
		rs.maxResults = opts.MaxResults
	}
	logArgs := []any{
		"source", p.source.Name(),
		"strategy", strategy.Name(),
		"keywords", len(queue),
		"completed_before", len(completed),
		"failed_before", len(failed),
	}
	if cp != nil && rs.track {
		logArgs = append(logArgs, "in_progress", cp.Keywords())
	}
	logger.Info("run started", logArgs...)

	runErr := strategy.Execute(ctx, queue, func(ctx context.Context, kw string) error {
		return p.runKeyword(ctx, rs, kw)
	})

	// Bookkeeping below must still happen after a cancellation.
	finishCtx := context.WithoutCancel(ctx)
	summary.FinishedAt = p.now()
	summary.Stats = rs.counters.snapshot()
	summary.Stats.APICalls = p.budgetUsed(finishCtx) - callsBefore

	switch {
	case runErr == nil:
		summary.Status = domain.RunCompleted
		if rs.track {
			if err := p.checkpoints.Clear(finishCtx); err != nil {
				logger.Warn("clear checkpoint failed", "error", err)
			}
		}
		p.setState(StateDone)
	case errors.Is(runErr, domain.ErrBudgetExhausted):
		summary.Status = domain.RunBudgetExhausted
		p.setState(StateBudgetExhausted)
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) || ctx.Err() != nil:
		summary.Status = domain.RunInterrupted
		p.setState(StateDone)
	default:
		summary.Status = domain.RunFailed
		p.setState(StateDone)
	}

	p.finish(finishCtx, logger, summary, runErr)
	if summary.Status == domain.RunFailed {
		return summary, runErr
	}
	return summary, nil
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, summary domain.RunSummary, runErr error) {
	s := summary.Stats
	args := []any{
		"status", summary.Status,
		"fetched", s.Fetched,
		"skipped_duplicate", s.SkippedDuplicate,
		"failed", s.Failed,
		"filtered", s.Filtered,
		"failed_keywords", s.FailedKeywords,
		"api_calls", s.APICalls,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
	}
	if runErr != nil {
		args = append(args, "reason", runErr)
	}
	if summary.Status == domain.RunFailed {
		logger.Error("run finished", args...)
	} else {
		logger.Info("run finished", args...)
	}

	metrics.LastRunStats.WithLabelValues("fetched").Set(float64(s.Fetched))
	metrics.LastRunStats.WithLabelValues("skipped_duplicate").Set(float64(s.SkippedDuplicate))
	metrics.LastRunStats.WithLabelValues("failed").Set(float64(s.Failed))
	metrics.LastRunStats.WithLabelValues("filtered").Set(float64(s.Filtered))
	metrics.LastRunStats.WithLabelValues("failed_keywords").Set(float64(s.FailedKeywords))
	metrics.LastRunStats.WithLabelValues("api_calls").Set(float64(s.APICalls))

	if p.runs != nil {
		if err := p.runs.SaveRun(ctx, summary); err != nil {
			logger.Warn("persist run summary failed", "error", err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.PublishDigest(ctx, buildDigestMessage(summary)); err != nil {
			logger.Warn("publish digest failed", "error", err)
		}
	}
}

func (p *Pipeline) budgetUsed(ctx context.Context) int {
	if p.budget == nil {
		return 0
	}
	n, err := p.budget.Used(ctx)
	if err != nil {
		p.logger.Warn("read budget failed", "error", err)
		return 0
	}
	return n
}

func (p *Pipeline) runKeyword(ctx context.Context, rs *runState, kw string) error {
	logger := p.logger.With("keyword", kw)
	prog := &keywordProgress{keyword: kw, page: 1}
	if saved, ok := rs.resume.Progress(kw); ok && rs.track {
		prog.page = max(1, saved.Page)
		prog.offset = max(0, saved.Offset)
		prog.processed = saved.ProcessedCount
		logger.Info("resuming keyword", "page", prog.page, "offset", prog.offset, "processed", prog.processed)
	}

	policy := retry.Policy{
		MaxAttempts: p.settings.KeywordAttempts,
		BaseDelay:   p.settings.KeywordBackoff,
		Logger:      logger,
		Name:        "keyword",
		Retryable: func(err error) bool {
			return !stopsRun(ctx, err) && !errors.Is(err, domain.ErrSetup)
		},
	}
	err := retry.Do(ctx, policy, func(int) error {
		return p.paginate(ctx, rs, prog, logger)
	})

	switch {
	case err == nil:
		if err := p.checkpoints.MarkCompleted(ctx, kw); err != nil {
			logger.Warn("mark completed failed", "error", err)
		}
		p.dropCheckpoint(ctx, rs, kw, logger)
		metrics.Keywords.WithLabelValues("completed").Inc()
		logger.Info("keyword completed", "processed", prog.processed)
		return nil
	case stopsRun(ctx, err):
		p.saveCheckpoint(context.WithoutCancel(ctx), rs, prog, logger)
		switch {
		case errors.Is(err, domain.ErrBudgetExhausted):
			metrics.Keywords.WithLabelValues("budget_exhausted").Inc()
			logger.Warn("daily budget exhausted, stopping", "page", prog.page)
		case errors.Is(err, domain.ErrStorageUnavailable):
			metrics.Keywords.WithLabelValues("storage_unavailable").Inc()
			logger.Error("storage unavailable, stopping", "page", prog.page, "error", err)
		default:
			metrics.Keywords.WithLabelValues("interrupted").Inc()
			logger.Info("keyword interrupted", "page", prog.page)
		}
		return err
	case errors.Is(err, domain.ErrSetup):
		return err
	default:
		if err := p.checkpoints.MarkFailed(ctx, kw, err.Error()); err != nil {
			logger.Warn("mark failed failed", "error", err)
		}
		p.dropCheckpoint(ctx, rs, kw, logger)
		rs.counters.failedKeywords.Add(1)
		metrics.Keywords.WithLabelValues("failed").Inc()
		logger.Error("keyword failed", "page", prog.page, "error", err)
		return nil
	}
}

func (p *Pipeline) paginate(ctx context.Context, rs *runState, prog *keywordProgress, logger *slog.Logger) error {
	p.setState(StatePaginating)
	probe, err := p.source.Search(ctx, scanner.Request{Keyword: prog.keyword, Page: 1, PageSize: 1})
	if err != nil {
		return fmt.Errorf("probe total: %w", err)
	}
	limit := min(probe.Total, rs.maxResults)
	if limit <= 0 {
		logger.Info("no results")
		return nil
	}
	pageSize := p.settings.PageSize
	pages := (limit + pageSize - 1) / pageSize
	logger.Debug("paginating", "total", probe.Total, "limit", limit, "pages", pages, "from_page", prog.page)

	p.saveCheckpoint(ctx, rs, prog, logger)
	for prog.page <= pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := prog.page
		result, err := p.source.Search(ctx, scanner.Request{Keyword: prog.keyword, Page: page, PageSize: pageSize})
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if len(result.Items) == 0 {
			break
		}
		items := result.Items
		if remaining := limit - (page-1)*pageSize; remaining < len(items) {
			items = items[:max(remaining, 0)]
		}
		// Items before the offset were counted by an earlier attempt.
		items = items[min(prog.offset, len(items)):]

		p.setState(StateProcessingPage)
		if err := p.processPage(ctx, rs, prog, items, logger); err != nil {
			return err
		}
		if len(result.Items) < pageSize {
			break
		}
		prog.page, prog.offset = page+1, 0
		p.setState(StatePaginating)
	}
	return nil
}

func (p *Pipeline) processPage(ctx context.Context, rs *runState, prog *keywordProgress, items []domain.RawItem, logger *slog.Logger) error {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := p.processItem(ctx, item, seen, logger)
		if err != nil {
			return err
		}
		rs.counters.add(o)
		prog.offset++
		prog.processed++
		if prog.processed%p.settings.CheckpointEvery == 0 {
			p.setState(StateCheckpointing)
			p.saveCheckpoint(ctx, rs, prog, logger)
			p.setState(StateProcessingPage)
		}
	}
	return nil
}

func (p *Pipeline) saveCheckpoint(ctx context.Context, rs *runState, prog *keywordProgress, logger *slog.Logger) {
	if !rs.track {
		return
	}
	err := p.checkpoints.Save(ctx, domain.KeywordProgress{
		Keyword:        prog.keyword,
		Page:           prog.page,
		Offset:         prog.offset,
		ProcessedCount: prog.processed,
	})
	if err != nil {
		logger.Warn("save checkpoint failed", "error", err)
	}
}

func (p *Pipeline) dropCheckpoint(ctx context.Context, rs *runState, kw string, logger *slog.Logger) {
	if !rs.track {
		return
	}
	if err := p.checkpoints.Remove(ctx, kw); err != nil {
		logger.Warn("remove checkpoint entry failed", "error", err)
	}
}

// processItem returns an error only when the run has to stop.
func (p *Pipeline) processItem(ctx context.Context, item domain.RawItem, seen map[string]bool, logger *slog.Logger) (outcome, error) {
	var rec domain.Record
	if p.source.Structured() {
		rec = parser.MapFields(item.Fields)
		key := rec.NaturalID()
		if key == "" {
			key = item.Title
		}
		if seen[key] {
			return outcomeDuplicate, nil
		}
		seen[key] = true
	} else {
		if !parser.IsMedicineItem(item.Title, item.Description, item.URL) {
			return outcomeFiltered, nil
		}
		key := item.URL
		if key == "" {
			key = domain.NormalizeName(item.Title)
		}
		if seen[key] {
			return outcomeDuplicate, nil
		}
		seen[key] = true

		dup, err := p.dedup.IsDuplicate(ctx, item.URL, item.Title)
		if err != nil {
			return p.itemFailure(ctx, logger, item, "dedup lookup failed", err)
		}
		if dup {
			return outcomeDuplicate, nil
		}
		doc, err := p.details.Document(ctx, item.URL)
		if err != nil {
			return p.itemFailure(ctx, logger, item, "detail fetch failed", err)
		}
		if !parser.PreValidate(doc, item.URL) {
			return outcomeFiltered, nil
		}
		parsed, err := parser.ParseDetail(doc, item.URL, item.Title)
		if err != nil {
			return p.itemFailure(ctx, logger, item, "detail parse failed", err)
		}
		rec = *parsed
		if !rec.Has(domain.FieldItemImage) {
			rec.Set(domain.FieldItemImage, item.Thumbnail)
		}
	}

	o, cause := p.persist(ctx, &rec, logger)
	if cause != nil {
		return p.itemFailure(ctx, logger, item, "record rejected", cause)
	}
	return o, nil
}

func (p *Pipeline) itemFailure(ctx context.Context, logger *slog.Logger, item domain.RawItem, msg string, err error) (outcome, error) {
	if stopsRun(ctx, err) {
		return "", err
	}
	if errors.Is(err, domain.ErrValidation) {
		logger.Debug(msg, "title", item.Title, "error", err)
	} else {
		logger.Warn(msg, "title", item.Title, "url", item.URL, "error", err)
	}
	return outcomeFailed, nil
}

// persist runs the tail of the item pipeline. A non-nil cause comes with
// outcomeFailed.
func (p *Pipeline) persist(ctx context.Context, rec *domain.Record, logger *slog.Logger) (outcome, error) {
	if err := domain.Validate(rec, p.settings.MinQuality); err != nil {
		return outcomeFailed, err
	}
	p.downloadImage(ctx, rec, logger)

	rec.ContentHash = rec.ComputeHash()
	dup, err := p.dedup.IsDuplicateByContent(ctx, rec.ContentHash)
	if err != nil {
		return outcomeFailed, fmt.Errorf("content dedup: %w", err)
	}
	if dup {
		return outcomeDuplicate, nil
	}

	res, err := p.sink.Upsert(ctx, *rec)
	if err != nil {
		return outcomeFailed, err
	}
	if res == domain.UpsertUnchanged {
		return outcomeDuplicate, nil
	}
	logger.Debug("record stored", "natural_id", rec.NaturalID(), "result", res, "quality", rec.QualityScore)
	return outcomeFetched, nil
}

func (p *Pipeline) downloadImage(ctx context.Context, rec *domain.Record, logger *slog.Logger) {
	imageURL := rec.Get(domain.FieldItemImage)
	if p.images == nil || imageURL == "" {
		return
	}
	local, err := p.images.Save(ctx, imageURL, rec.Name())
	if err != nil {
		logger.Warn("image download failed", "url", imageURL, "error", err)
		return
	}
	logger.Debug("image stored", "path", local)
}

// FetchSingleURL ingests one detail page outside the keyword loop.
func (p *Pipeline) FetchSingleURL(ctx context.Context, pageURL, title string) (*domain.Record, error) {
	if p.details == nil || p.dedup == nil || p.sink == nil {
		return nil, fmt.Errorf("%w: pipeline is missing a detail fetcher, dedup or sink", domain.ErrSetup)
	}
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, fmt.Errorf("%w: empty url", domain.ErrValidation)
	}
	logger := p.logger.With("url", pageURL)

	dup, err := p.dedup.IsDuplicate(ctx, pageURL, title)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, pageURL)
	}

	doc, err := p.details.Document(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if title = strings.TrimSpace(title); title == "" {
		title = parser.PageTitle(doc)
	}
	if title == "" {
		title = lastPathSegment(pageURL)
	}
	rec, err := parser.ParseDetail(doc, pageURL, title)
	if err != nil {
		return nil, err
	}

	o, err := p.persist(ctx, rec, logger)
	if err != nil {
		return nil, err
	}
	if o == outcomeDuplicate {
		return rec, fmt.Errorf("%w: same content as a stored record", ErrDuplicate)
	}
	metrics.Records.WithLabelValues(string(o)).Inc()
	logger.Info("single url stored", "name", rec.Name(), "quality", rec.QualityScore)
	return rec, nil
}

func lastPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(seg); err == nil {
		return unescaped
	}
	return seg
}

func buildDigestMessage(run domain.RunSummary) string {
	s := run.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "*Medicine crawl %s*\n", run.Status)
	fmt.Fprintf(&b, "run `%s` (%s, %s)\n", run.ID, run.Mode, run.Strategy)
	fmt.Fprintf(&b, "new or updated: %d\n", s.Fetched)
	fmt.Fprintf(&b, "duplicates: %d\n", s.SkippedDuplicate)
	fmt.Fprintf(&b, "failed: %d\n", s.Failed)
	fmt.Fprintf(&b, "filtered: %d\n", s.Filtered)
	fmt.Fprintf(&b, "failed keywords: %d\n", s.FailedKeywords)
	fmt.Fprintf(&b, "api calls: %d\n", s.APICalls)
	fmt.Fprintf(&b, "took %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	return b.String()
}
