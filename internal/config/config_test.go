package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"MedicineCrawler/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Budget.DailyLimit != 24000 || cfg.Source.PageSize != 100 || cfg.Crawl.Workers != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Scheduler.Location().String() != defaultTimezone {
		t.Fatalf("unexpected scheduler timezone %s", cfg.Scheduler.Location())
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
database:
  driver: pgx
  dsn: postgres://crawler@localhost/medicine
source:
  kind: pillxml
  pageSize: 50
  requestTimeout: 20s
detail:
  respectRobots: false
crawl:
  strategy: bounded
  keywords: [타이레놀, 게보린]
migration:
  sources:
    - table: drug_identification
      key: item_seq
      fields: [item_name]
      priority: 1
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(dataAPIKeyEnv, "secret")
	t.Setenv(maxWorkersEnv, "8")
	t.Setenv(enableImagesEnv, "true")
	t.Setenv(dbDSNEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "pgx" || cfg.Database.DSN != "postgres://crawler@localhost/medicine" {
		t.Fatalf("database not merged: %+v", cfg.Database)
	}
	if cfg.Source.PageSize != 50 || cfg.Source.MaxResults != 1000 || cfg.Source.RequestTimeout != 20*time.Second {
		t.Fatalf("source not merged: %+v", cfg.Source)
	}
	if cfg.Source.ServiceKey != "secret" || cfg.Crawl.Workers != 8 || !cfg.Images.Enabled {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Detail.RespectRobots || cfg.Detail.Timeout != 15*time.Second {
		t.Fatalf("detail section not decoded over defaults: %+v", cfg.Detail)
	}
	if len(cfg.Crawl.Keywords) != 2 || len(cfg.Migration.Sources) != 1 {
		t.Fatalf("lists not merged: %+v %+v", cfg.Crawl.Keywords, cfg.Migration.Sources)
	}
	if err := cfg.ValidateSource(); err != nil {
		t.Fatalf("pillxml with a key should validate: %v", err)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(maxWorkersEnv, "many")
	if _, err := Load(); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.Database.Driver = "oracle"
	cfg.Source.PageSize = 500
	cfg.Scheduler.RunAt = "noon"
	err := cfg.Validate()
	if !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}

	naver := defaultConfig()
	if err := naver.ValidateSource(); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("naver without credentials must fail, got %v", err)
	}
	naver.Source.ClientID, naver.Source.ClientSecret = "id", "secret"
	if err := naver.ValidateSource(); err != nil {
		t.Fatalf("naver with credentials: %v", err)
	}
}
