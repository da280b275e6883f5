package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"MedicineCrawler/internal/budget"
	"MedicineCrawler/internal/config"
	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/infrastructure/checkpoint"
	"MedicineCrawler/internal/infrastructure/export"
	"MedicineCrawler/internal/infrastructure/fetcher"
	"MedicineCrawler/internal/infrastructure/images"
	"MedicineCrawler/internal/infrastructure/metrics"
	"MedicineCrawler/internal/infrastructure/migrate"
	"MedicineCrawler/internal/infrastructure/scheduler"
	"MedicineCrawler/internal/infrastructure/source"
	"MedicineCrawler/internal/infrastructure/storage"
	"MedicineCrawler/internal/infrastructure/telegram"
	"MedicineCrawler/internal/scanner"
	"MedicineCrawler/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *storage.DB
	records *storage.RecordStore

	metricsOnce sync.Once
	closers     []io.Closer
}

// CrawlOptions are the command-line overrides of a crawl.
type CrawlOptions struct {
	// Keyword runs a single keyword and ignores the ledgers.
	Keyword    string
	Strategy   string
	Workers    int
	MaxResults int
	// StatsOut appends the run summary to a CSV file.
	StatsOut string
}

// New validates cfg and opens the database.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	return &Application{
		cfg:     cfg,
		logger:  baseLogger,
		db:      db,
		records: storage.NewRecordStore(db, baseLogger.With("component", "storage")),
	}, nil
}

// Close releases the database and any adapters opened on demand.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// Crawl runs the keyword ingestion once.
func (a *Application) Crawl(ctx context.Context, opts CrawlOptions) (domain.RunSummary, error) {
	a.serveMetrics(ctx)
	pipeline, err := a.newPipeline(ctx, true)
	if err != nil {
		return domain.RunSummary{}, err
	}
	runOpts, err := a.runOptions(opts)
	if err != nil {
		return domain.RunSummary{}, err
	}

	summary, err := pipeline.Run(ctx, runOpts)
	if opts.StatsOut != "" && summary.ID != "" {
		if serr := export.AppendRunStats(opts.StatsOut, summary); serr != nil {
			a.logger.Warn("write stats csv failed", "path", opts.StatsOut, "error", serr)
		}
	}
	return summary, err
}

func (a *Application) runOptions(opts CrawlOptions) (usecase.RunOptions, error) {
	name := a.cfg.Crawl.Strategy
	if opts.Strategy != "" {
		name = opts.Strategy
	}
	workers := a.cfg.Crawl.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	strategy, err := usecase.ParseStrategy(name, workers)
	if err != nil {
		return usecase.RunOptions{}, err
	}

	if kw := strings.TrimSpace(opts.Keyword); kw != "" {
		return usecase.RunOptions{
			Keywords:   []string{kw},
			Force:      true,
			MaxResults: opts.MaxResults,
			Strategy:   strategy,
			Mode:       "keyword",
		}, nil
	}
	keywords, err := usecase.ResolveKeywords(a.cfg.Crawl.Keywords, a.cfg.Crawl.KeywordsFile)
	if err != nil {
		return usecase.RunOptions{}, err
	}
	return usecase.RunOptions{
		Keywords:   keywords,
		MaxResults: opts.MaxResults,
		Strategy:   strategy,
		Mode:       "keywords",
	}, nil
}

// FetchURL ingests one detail page.
func (a *Application) FetchURL(ctx context.Context, pageURL, title string) (*domain.Record, error) {
	pipeline, err := a.newPipeline(ctx, false)
	if err != nil {
		return nil, err
	}
	return pipeline.FetchSingleURL(ctx, pageURL, title)
}

// Export writes the catalogue to path as CSV.
func (a *Application) Export(ctx context.Context, path string) (int, error) {
	n, err := export.RecordsFile(ctx, path, a.records)
	if err != nil {
		return n, err
	}
	a.logger.Info("catalogue exported", "path", path, "records", n)
	return n, nil
}

// Stats aggregates the catalogue and recent runs.
func (a *Application) Stats(ctx context.Context) (domain.CatalogStats, error) {
	loc := a.cfg.Budget.Location()
	reader := storage.NewStatsReader(a.db, func() string { return time.Now().In(loc).Format("2006-01-02") })
	return reader.Stats(ctx)
}

// Migrate rebuilds the consolidated table.
func (a *Application) Migrate(ctx context.Context) (migrate.Report, error) {
	m, err := migrate.New(a.db, migrationPlan(a.cfg.Migration), a.logger.With("component", "migrate"))
	if err != nil {
		return migrate.Report{}, err
	}
	return m.Run(ctx)
}

func migrationPlan(cfg config.MigrationConfig) migrate.Plan {
	if len(cfg.Sources) == 0 {
		plan := migrate.DefaultPlan()
		if cfg.Destination != "" {
			plan.Destination = cfg.Destination
		}
		if cfg.Relation != "" {
			plan.Relation = cfg.Relation
		}
		return plan
	}
	plan := migrate.Plan{Destination: cfg.Destination, Relation: cfg.Relation}
	if plan.Destination == "" {
		plan.Destination = migrate.DefaultPlan().Destination
	}
	for _, s := range cfg.Sources {
		plan.Sources = append(plan.Sources, migrate.Source{Table: s.Table, Key: s.Key, Fields: s.Fields, Priority: s.Priority})
	}
	return plan
}

// Daemon runs the crawl every day at the configured time until ctx is done.
func (a *Application) Daemon(ctx context.Context) error {
	a.serveMetrics(ctx)
	pipeline, err := a.newPipeline(ctx, true)
	if err != nil {
		return err
	}
	driver, err := scheduler.NewDailyScheduler(a.cfg.Scheduler.RunAt, a.cfg.Scheduler.Location())
	if err != nil {
		return err
	}
	logger := a.logger.With("component", "scheduler")
	sched := usecase.NewScheduler(driver, pipeline, func() (usecase.RunOptions, error) {
		return a.runOptions(CrawlOptions{})
	}, logger)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.Info("daemon started", "run_at", a.cfg.Scheduler.RunAt, "next", driver.Next(time.Now()))
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	return sched.Stop(stopCtx)
}

func (a *Application) serveMetrics(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	a.metricsOnce.Do(func() {
		logger := a.logger.With("component", "metrics")
		go func() {
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	})
}

// newPipeline builds the adapters. withSource is false for single-URL
// ingestion, which needs neither credentials nor the budget.
func (a *Application) newPipeline(ctx context.Context, withSource bool) (*usecase.Pipeline, error) {
	cfg := a.cfg
	details := fetcher.New(fetcher.Options{
		Kind:          "detail",
		Timeout:       cfg.Detail.Timeout,
		MinInterval:   cfg.Detail.MinInterval,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		UserAgent:     cfg.Detail.UserAgent,
		RespectRobots: cfg.Detail.RespectRobots,
		Logger:        a.logger.With("component", "fetcher.detail"),
	})
	checkpoints, err := checkpoint.NewFileStore(cfg.Crawl.CheckpointDir)
	if err != nil {
		return nil, err
	}

	deps := usecase.PipelineDeps{
		Details:     details,
		Dedup:       storage.NewDeduplicator(a.db),
		Sink:        a.records,
		Checkpoints: checkpoints,
		Runs:        storage.NewRunStore(a.db),
		Logger:      a.logger,
		Settings: usecase.Settings{
			PageSize:        cfg.Source.PageSize,
			MaxResults:      cfg.Source.MaxResults,
			CheckpointEvery: cfg.Crawl.CheckpointEvery,
			MinQuality:      cfg.Crawl.MinQuality,
			KeywordAttempts: cfg.Retry.KeywordAttempts,
			KeywordBackoff:  cfg.Retry.KeywordBackoff,
		},
	}
	if cfg.Images.Enabled {
		store, err := images.NewStore(details, cfg.Images.Dir, cfg.Images.MaxBytes, a.logger.With("component", "images"))
		if err != nil {
			return nil, err
		}
		deps.Images = store
	}
	if t := cfg.Notifications.Telegram; t.BotToken != "" && t.ChatID != "" {
		deps.Notifier = telegram.NewNotifier(t.BotToken, t.ChatID, telegram.WithLogger(a.logger.With("component", "telegram")))
	}

	if withSource {
		if err := cfg.ValidateSource(); err != nil {
			return nil, err
		}
		tracker, err := a.newBudget(ctx)
		if err != nil {
			return nil, err
		}
		src, err := a.newRegistry(tracker).Resolve(cfg.Source.Kind)
		if err != nil {
			return nil, err
		}
		deps.Source = src
		deps.Budget = tracker
	}
	return usecase.NewPipeline(deps), nil
}

func (a *Application) newBudget(ctx context.Context) (*budget.Tracker, error) {
	var store budget.Store
	if addr := a.cfg.Budget.RedisAddr; addr != "" {
		rs, err := storage.NewRedisBudgetStore(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSetup, err)
		}
		a.closers = append(a.closers, rs)
		store = rs
	} else {
		store = storage.NewBudgetStore(a.db, a.logger.With("component", "budget"))
	}
	return budget.NewTracker(a.cfg.Budget.DailyLimit, store,
		budget.WithLocation(a.cfg.Budget.Location()),
		budget.OnChange(func(used int) { metrics.BudgetUsed.Set(float64(used)) }),
	), nil
}

func (a *Application) newRegistry(tracker *budget.Tracker) *scanner.Registry {
	cfg := a.cfg.Source
	api := fetcher.New(fetcher.Options{
		Kind:        "api",
		Timeout:     cfg.RequestTimeout,
		MinInterval: cfg.MinInterval,
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay,
		UserAgent:   a.cfg.Detail.UserAgent,
		Budget:      tracker,
		Logger:      a.logger.With("component", "fetcher.api"),
	})
	endpoint := func(kind string) string {
		if cfg.Kind == kind {
			return cfg.Endpoint
		}
		return ""
	}

	registry := scanner.NewRegistry()
	registry.Register(source.NewNaverScanner(api, endpoint(config.SourceNaver), cfg.ClientID, cfg.ClientSecret))
	registry.Register(source.NewPillScanner(api, endpoint(config.SourcePill), cfg.ServiceKey))
	return registry
}
