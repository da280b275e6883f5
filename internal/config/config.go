package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"MedicineCrawler/internal/domain"
)

const (
	defaultTimezone = "Asia/Seoul"
	configPathEnv   = "MEDICINE_CRAWLER_CONFIG"

	naverClientIDEnv     = "NAVER_CLIENT_ID"
	naverClientSecretEnv = "NAVER_CLIENT_SECRET"
	dataAPIKeyEnv        = "DATA_API_KEY"
	dbDriverEnv          = "DB_DRIVER"
	dbDSNEnv             = "DB_DSN"
	dbPathEnv            = "DB_PATH"
	maxWorkersEnv        = "MAX_WORKERS"
	enableImagesEnv      = "ENABLE_IMAGE_DOWNLOAD"
	imagesDirEnv         = "IMAGES_DIR"
	redisAddrEnv         = "REDIS_ADDR"
	logLevelEnv          = "LOG_LEVEL"
	logFileEnv           = "LOG_FILE"
	metricsAddrEnv       = "METRICS_ADDR"
	telegramTokenEnv     = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv    = "TELEGRAM_CHAT_ID"
)

// Source kinds.
const (
	SourceNaver = "naver"
	SourcePill  = "pillxml"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Source        SourceConfig       `yaml:"source"`
	Detail        DetailConfig       `yaml:"detail"`
	Budget        BudgetConfig       `yaml:"budget"`
	Retry         RetryConfig        `yaml:"retry"`
	Crawl         CrawlConfig        `yaml:"crawl"`
	Images        ImagesConfig       `yaml:"images"`
	Notifications NotificationConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Migration     MigrationConfig    `yaml:"migration"`
}

// LoggingConfig selects the level and an optional rotated JSON log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DatabaseConfig names the database/sql driver and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SourceConfig describes the paginated search API.
type SourceConfig struct {
	Kind           string        `yaml:"kind"`
	Endpoint       string        `yaml:"endpoint"`
	ClientID       string        `yaml:"clientId"`
	ClientSecret   string        `yaml:"clientSecret"`
	ServiceKey     string        `yaml:"serviceKey"`
	PageSize       int           `yaml:"pageSize"`
	MaxResults     int           `yaml:"maxResults"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MinInterval    time.Duration `yaml:"minInterval"`
}

// DetailConfig tunes detail page fetching.
type DetailConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RespectRobots bool          `yaml:"respectRobots"`
	UserAgent     string        `yaml:"userAgent"`
	MinInterval   time.Duration `yaml:"minInterval"`
}

// BudgetConfig caps billable API calls per calendar day.
type BudgetConfig struct {
	DailyLimit int            `yaml:"dailyLimit"`
	Timezone   string         `yaml:"timezone"`
	RedisAddr  string         `yaml:"redisAddr"`
	location   *time.Location `yaml:"-"`
}

// Location resolves the budget timezone.
func (b BudgetConfig) Location() *time.Location {
	if b.location != nil {
		return b.location
	}
	return loadLocation(defaultTimezone)
}

// RetryConfig holds transport and keyword-level retry policies.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	BaseDelay       time.Duration `yaml:"baseDelay"`
	KeywordAttempts int           `yaml:"keywordAttempts"`
	KeywordBackoff  time.Duration `yaml:"keywordBackoff"`
}

// CrawlConfig controls keyword scheduling and checkpoints.
type CrawlConfig struct {
	Strategy        string   `yaml:"strategy"`
	Workers         int      `yaml:"workers"`
	CheckpointEvery int      `yaml:"checkpointEvery"`
	CheckpointDir   string   `yaml:"checkpointDir"`
	Keywords        []string `yaml:"keywords"`
	KeywordsFile    string   `yaml:"keywordsFile"`
	MinQuality      float64  `yaml:"minQuality"`
}

// ImagesConfig enables product image downloads.
type ImagesConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"maxBytes"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SchedulerConfig defines when the daemon starts the daily crawl.
type SchedulerConfig struct {
	RunAt    string         `yaml:"runAt"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return loadLocation(defaultTimezone)
}

// MetricsConfig exposes prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// MigrationConfig overrides the consolidation plan. An empty Sources list
// keeps the built-in plan.
type MigrationConfig struct {
	Destination string            `yaml:"destination"`
	Relation    string            `yaml:"relation"`
	Sources     []MigrationSource `yaml:"sources"`
}

// MigrationSource is one table merged into the destination.
type MigrationSource struct {
	Table    string   `yaml:"table"`
	Key      string   `yaml:"key"`
	Fields   []string `yaml:"fields"`
	Priority int      `yaml:"priority"`
}

// Load reads .env, the YAML file named by MEDICINE_CRAWLER_CONFIG and the
// environment, in that order of increasing precedence over the defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: read .env: %v", domain.ErrSetup, err)
	}

	cfg := defaultConfig()
	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read config %s: %v", domain.ErrSetup, path, err)
		}
		// Decoding over the defaults keeps every key the file leaves out
		// and lets it switch boolean defaults off.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse config %s: %v", domain.ErrSetup, path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	setString(naverClientIDEnv, &c.Source.ClientID)
	setString(naverClientSecretEnv, &c.Source.ClientSecret)
	setString(dataAPIKeyEnv, &c.Source.ServiceKey)
	setString(dbDriverEnv, &c.Database.Driver)
	setString(dbPathEnv, &c.Database.DSN)
	setString(dbDSNEnv, &c.Database.DSN)
	setString(imagesDirEnv, &c.Images.Dir)
	setString(redisAddrEnv, &c.Budget.RedisAddr)
	setString(logLevelEnv, &c.Logging.Level)
	setString(logFileEnv, &c.Logging.File)
	setString(metricsAddrEnv, &c.Metrics.Addr)
	setString(telegramTokenEnv, &c.Notifications.Telegram.BotToken)
	setString(telegramChatIDEnv, &c.Notifications.Telegram.ChatID)

	if v := strings.TrimSpace(os.Getenv(maxWorkersEnv)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", domain.ErrSetup, maxWorkersEnv, v)
		}
		c.Crawl.Workers = n
	}
	if v := strings.TrimSpace(os.Getenv(enableImagesEnv)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", domain.ErrSetup, enableImagesEnv, v)
		}
		c.Images.Enabled = b
	}
	return nil
}

func (c *Config) bindTimezone() error {
	for _, tz := range []struct {
		name string
		dst  **time.Location
	}{
		{c.Scheduler.Timezone, &c.Scheduler.location},
		{c.Budget.Timezone, &c.Budget.location},
	} {
		name := tz.name
		if name == "" {
			name = defaultTimezone
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			return fmt.Errorf("%w: unknown timezone %q", domain.ErrSetup, name)
		}
		*tz.dst = loc
	}
	return nil
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate reports settings that cannot work. Source credentials are
// checked separately by ValidateSource because not every command crawls.
func (c Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "sqlite3", "pgx", "postgres", "postgresql", "mysql", "mariadb":
	default:
		problems = append(problems, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		problems = append(problems, "database dsn is empty")
	}
	if c.Source.PageSize < 1 || c.Source.PageSize > 100 {
		problems = append(problems, fmt.Sprintf("source.pageSize %d outside 1..100", c.Source.PageSize))
	}
	if c.Source.MaxResults < 1 {
		problems = append(problems, "source.maxResults must be positive")
	}
	if c.Budget.DailyLimit < 1 {
		problems = append(problems, "budget.dailyLimit must be positive")
	}
	if c.Crawl.Workers < 1 {
		problems = append(problems, "crawl.workers must be positive")
	}
	switch strings.ToLower(c.Crawl.Strategy) {
	case "", "sequential", "sync", "bounded", "async", "parallel":
	default:
		problems = append(problems, fmt.Sprintf("unknown crawl.strategy %q", c.Crawl.Strategy))
	}
	if c.Crawl.MinQuality < 0 || c.Crawl.MinQuality > 100 {
		problems = append(problems, "crawl.minQuality must be within 0..100")
	}
	if _, err := time.Parse("15:04", c.Scheduler.RunAt); err != nil {
		problems = append(problems, fmt.Sprintf("scheduler.runAt %q is not HH:MM", c.Scheduler.RunAt))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrSetup, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateSource checks the credentials of the configured source kind.
func (c Config) ValidateSource() error {
	switch c.Source.Kind {
	case SourceNaver:
		if c.Source.ClientID == "" || c.Source.ClientSecret == "" {
			return fmt.Errorf("%w: %s and %s are required for the naver source", domain.ErrSetup, naverClientIDEnv, naverClientSecretEnv)
		}
	case SourcePill:
		if c.Source.ServiceKey == "" {
			return fmt.Errorf("%w: %s is required for the pillxml source", domain.ErrSetup, dataAPIKeyEnv)
		}
	default:
		return fmt.Errorf("%w: unknown source.kind %q", domain.ErrSetup, c.Source.Kind)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "data/medicine.db"},
		Source: SourceConfig{
			Kind:           SourceNaver,
			PageSize:       100,
			MaxResults:     1000,
			RequestTimeout: 10 * time.Second,
			MinInterval:    100 * time.Millisecond,
		},
		Detail: DetailConfig{
			Timeout:       15 * time.Second,
			RespectRobots: true,
			UserAgent:     "MedicineCrawler/1.0",
			MinInterval:   500 * time.Millisecond,
		},
		Budget: BudgetConfig{DailyLimit: 24000, Timezone: defaultTimezone},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelay:       time.Second,
			KeywordAttempts: 3,
			KeywordBackoff:  5 * time.Second,
		},
		Crawl: CrawlConfig{
			Strategy:        "sequential",
			Workers:         4,
			CheckpointEvery: 10,
			CheckpointDir:   "data/checkpoints",
			MinQuality:      domain.DefaultMinQuality,
		},
		Images:    ImagesConfig{Dir: "data/images", MaxBytes: 5 << 20},
		Scheduler: SchedulerConfig{RunAt: "00:05", Timezone: defaultTimezone},
	}
}
