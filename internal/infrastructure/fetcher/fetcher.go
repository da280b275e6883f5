// Package fetcher issues paced, budgeted and retried HTTP requests.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"MedicineCrawler/internal/budget"
	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/infrastructure/metrics"
	"MedicineCrawler/internal/retry"
)

const (
	defaultMaxBody = 10 << 20
	maxRetryAfter  = 2 * time.Minute
)

// ErrDisallowed is returned when robots.txt forbids the path.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// StatusError carries a non-2xx response status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Request describes one logical fetch; retries are hidden behind it.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Budgeted bool
}

// Response is a fully read, UTF-8 decoded response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Options configures a Fetcher. Zero values get the detail-page defaults.
type Options struct {
	Kind          string
	Client        *http.Client
	Timeout       time.Duration
	MinInterval   time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	UserAgent     string
	RespectRobots bool
	MaxBodyBytes  int64
	Budget        *budget.Tracker
	Logger        *slog.Logger
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	kind        string
	client      *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	userAgent   string
	maxBody     int64
	budget      *budget.Tracker
	robots      *robotsCache
	logger      *slog.Logger
}

// New builds a fetcher from opts.
func New(opts Options) *Fetcher {
	if opts.Kind == "" {
		opts.Kind = "detail"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "MedicineCrawler/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	f := &Fetcher{
		kind:        opts.Kind,
		client:      client,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		userAgent:   opts.UserAgent,
		maxBody:     opts.MaxBodyBytes,
		budget:      opts.Budget,
		logger:      logger,
	}
	if opts.RespectRobots {
		f.robots = newRobotsCache(client, opts.UserAgent)
	}
	return f
}

// Fetch performs req with pacing, budget accounting and retries.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, req.URL)
		if err != nil {
			f.logger.Debug("robots.txt unavailable", "url", req.URL, "error", err)
		} else if !allowed {
			return nil, fmt.Errorf("fetch %s: %w", req.URL, ErrDisallowed)
		}
	}

	policy := retry.Policy{
		MaxAttempts:  f.maxAttempts,
		BaseDelay:    f.baseDelay,
		MaxCooldowns: f.maxAttempts,
		Retryable:    func(err error) bool { return errors.Is(err, domain.ErrTransient) },
		Logger:       f.logger,
		Name:         f.kind + " fetch",
	}

	var out *Response
	err := retry.Do(ctx, policy, func(int) error {
		resp, err := f.attempt(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) attempt(ctx context.Context, req Request) (*Response, error) {
	if req.Budgeted && f.budget != nil {
		if err := f.budget.Reserve(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
	}
	committed := false
	defer func() {
		if req.Budgeted && f.budget != nil && !committed {
			f.budget.Release()
		}
	}()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(fmt.Errorf("wait for rate limiter: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	started := time.Now()
	resp, err := f.client.Do(httpReq)
	metrics.FetchDuration.WithLabelValues(f.kind).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.FetchRequests.WithLabelValues(f.kind, "error").Inc()
		if ctx.Err() != nil {
			return nil, retry.Permanent(fmt.Errorf("request %s: %w", req.URL, ctx.Err()))
		}
		return nil, fmt.Errorf("%w: request %s: %w", domain.ErrTransient, req.URL, err)
	}
	defer resp.Body.Close()
	metrics.FetchRequests.WithLabelValues(f.kind, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		statusErr := &StatusError{Code: resp.StatusCode, URL: req.URL}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := 5 * f.baseDelay
			if ra := parseRetryAfter(resp.Header); ra > wait && ra <= maxRetryAfter {
				wait = ra
			}
			return nil, retry.Cooldown(fmt.Errorf("%w: %w", domain.ErrTransient, statusErr), wait)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: %w", domain.ErrTransient, statusErr)
		default:
			return nil, retry.Permanent(statusErr)
		}
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrTransient, req.URL, err)
	}

	if req.Budgeted && f.budget != nil {
		committed = true
		if err := f.budget.Commit(ctx); err != nil {
			f.logger.Warn("budget commit failed", "error", err)
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body, URL: req.URL}, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = io.LimitReader(resp.Body, f.maxBody)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "html") {
		utf8Reader, err := charset.NewReader(reader, contentType)
		if err == nil {
			reader = utf8Reader
		}
	}
	return io.ReadAll(reader)
}

// Document fetches an HTML page and parses it.
func (f *Fetcher) Document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := f.Fetch(ctx, Request{URL: pageURL})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse document %s: %w", domain.ErrParse, pageURL, err)
	}
	return doc, nil
}

func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
