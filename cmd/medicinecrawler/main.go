package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"MedicineCrawler/internal/app"
	"MedicineCrawler/internal/config"
	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/logging"
	"MedicineCrawler/internal/usecase"
)

const usageText = `usage: medicinecrawler <command> [flags]

commands:
  run      crawl every keyword (-strategy, -workers, -max, -stats-out)
  keyword  crawl one keyword ignoring the ledgers (-q, -max, -stats-out)
  url      ingest one detail page (-u, -title)
  export   write the catalogue as CSV (-o)
  stats    print catalogue statistics
  migrate  rebuild the consolidated drug table
  daemon   crawl every day at scheduler.runAt
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// action runs one command against a ready application.
type action func(ctx context.Context, application *app.Application, logger *slog.Logger) error

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 1
	}
	act, err := parseCommand(args[0], args[1:], stdout, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
			fmt.Fprint(stderr, usageText)
		}
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger, closer := logging.New(cfg.Logging)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		return 1
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if err := act(ctx, application, logger); err != nil {
		if errors.Is(err, domain.ErrSetup) || errors.Is(err, domain.ErrStorageUnavailable) {
			logger.Error("application stopped", "command", args[0], "error", err)
			return 1
		}
		logger.Error("command failed", "command", args[0], "error", err)
	}
	return 0
}

func parseCommand(name string, args []string, stdout, stderr io.Writer) (action, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch name {
	case "run", "keyword":
		var opts app.CrawlOptions
		fs.IntVar(&opts.MaxResults, "max", 0, "max results per keyword (default source.maxResults)")
		fs.StringVar(&opts.StatsOut, "stats-out", "", "append the run summary to this CSV file")
		if name == "run" {
			fs.StringVar(&opts.Strategy, "strategy", "", "sequential or bounded (default crawl.strategy)")
			fs.IntVar(&opts.Workers, "workers", 0, "bounded workers (default crawl.workers)")
		} else {
			fs.StringVar(&opts.Keyword, "q", "", "keyword to crawl")
		}
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if name == "keyword" && opts.Keyword == "" {
			return nil, fmt.Errorf("%w: keyword requires -q", domain.ErrSetup)
		}
		return func(ctx context.Context, application *app.Application, _ *slog.Logger) error {
			summary, err := application.Crawl(ctx, opts)
			if err != nil {
				return err
			}
			printSummary(stdout, summary)
			return nil
		}, nil

	case "url":
		var pageURL, title string
		fs.StringVar(&pageURL, "u", "", "detail page URL")
		fs.StringVar(&title, "title", "", "product name (default: page heading)")
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if pageURL == "" {
			return nil, fmt.Errorf("%w: url requires -u", domain.ErrSetup)
		}
		return func(ctx context.Context, application *app.Application, logger *slog.Logger) error {
			rec, err := application.FetchURL(ctx, pageURL, title)
			if errors.Is(err, usecase.ErrDuplicate) {
				logger.Info("already ingested", "url", pageURL)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "stored %s (quality %.1f)\n", rec.Name(), rec.QualityScore)
			return nil
		}, nil

	case "export":
		var out string
		fs.StringVar(&out, "o", "", "output CSV file")
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if out == "" {
			out = fmt.Sprintf("medicine_export_%s.csv", time.Now().Format("20060102_150405"))
		}
		return func(ctx context.Context, application *app.Application, _ *slog.Logger) error {
			n, err := application.Export(ctx, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "exported %d records to %s\n", n, out)
			return nil
		}, nil

	case "stats":
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		return func(ctx context.Context, application *app.Application, _ *slog.Logger) error {
			stats, err := application.Stats(ctx)
			if err != nil {
				return err
			}
			printStats(stdout, stats)
			return nil
		}, nil

	case "migrate":
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		return func(ctx context.Context, application *app.Application, _ *slog.Logger) error {
			report, err := application.Migrate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "migrated %d rows (%d joined)\n", report.Total, report.Primary)
			for table, n := range report.Added {
				fmt.Fprintf(stdout, "  %s: %d unmatched rows added\n", table, n)
			}
			if !report.Complete() {
				fmt.Fprintln(stdout, "warning: some source keys are missing from the destination")
			}
			return nil
		}, nil

	case "daemon":
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		return func(ctx context.Context, application *app.Application, _ *slog.Logger) error {
			return application.Daemon(ctx)
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %q", domain.ErrSetup, name)
	}
}

func printSummary(w io.Writer, run domain.RunSummary) {
	s := run.Stats
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.ID)
	fmt.Fprintf(tw, "status\t%s\n", run.Status)
	fmt.Fprintf(tw, "fetched\t%d\n", s.Fetched)
	fmt.Fprintf(tw, "skipped duplicates\t%d\n", s.SkippedDuplicate)
	fmt.Fprintf(tw, "failed\t%d\n", s.Failed)
	fmt.Fprintf(tw, "filtered\t%d\n", s.Filtered)
	fmt.Fprintf(tw, "failed keywords\t%d\n", s.FailedKeywords)
	fmt.Fprintf(tw, "api calls\t%d\n", s.APICalls)
	tw.Flush()
}

func printStats(w io.Writer, stats domain.CatalogStats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "records\t%d\n", stats.Total)
	fmt.Fprintf(tw, "api calls today\t%d (%s)\n", stats.BudgetToday.Count, stats.BudgetToday.Day)
	section := func(title string, entries []domain.CountEntry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(tw, "\n%s\t\n", title)
		for _, e := range entries {
			fmt.Fprintf(tw, "  %s\t%d\n", e.Label, e.Count)
		}
	}
	section("manufacturers", stats.Manufacturers)
	section("classes", stats.Classes)
	section("forms", stats.Forms)
	section("added per day", stats.DailyAdded)
	if len(stats.RecentRuns) > 0 {
		fmt.Fprintf(tw, "\nrecent runs\t\n")
		for _, r := range stats.RecentRuns {
			fmt.Fprintf(tw, "  %s\t%s\t%s\tfetched %d\tapi %d\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Mode, r.Status, r.Stats.Fetched, r.Stats.APICalls)
		}
	}
	tw.Flush()
}
