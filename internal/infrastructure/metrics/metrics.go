// Package metrics
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicinecrawler_fetch_requests_total",
			Help: "HTTP requests issued by the fetcher, labeled by request kind and status.",
		},
		[]string{"kind", "status"},
	)
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medicinecrawler_fetch_duration_seconds",
			Help:    "Duration of fetcher HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	Records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicinecrawler_records_total",
			Help: "Items processed by the pipeline, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	Keywords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medicinecrawler_keywords_total",
			Help: "Keywords finished by the pipeline, labeled by result.",
		},
		[]string{"result"},
	)
	BudgetUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "medicinecrawler_budget_used",
			Help: "Billable API calls committed today.",
		},
	)
	CheckpointSaves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medicinecrawler_checkpoint_saves_total",
			Help: "Checkpoint writes.",
		},
	)
	MigrationRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medicinecrawler_migration_rows",
			Help: "Rows written by the last consolidation migration, labeled by pass.",
		},
		[]string{"pass"},
	)
	LastRunStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medicinecrawler_last_run",
			Help: "Counters of the last finished ingestion run.",
		},
		[]string{"counter"},
	)
)

func init() {
	prometheus.MustRegister(FetchRequests)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(Records)
	prometheus.MustRegister(Keywords)
	prometheus.MustRegister(BudgetUsed)
	prometheus.MustRegister(CheckpointSaves)
	prometheus.MustRegister(MigrationRows)
	prometheus.MustRegister(LastRunStats)
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("exposing prometheus metrics", "address", addr)
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
