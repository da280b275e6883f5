package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"MedicineCrawler/internal/budget"
	"MedicineCrawler/internal/domain"
)

func newTestFetcher(tr *budget.Tracker, robots bool) *Fetcher {
	return New(Options{
		Kind:          "api",
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		Budget:        tr,
		RespectRobots: robots,
	})
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"total":0}`))
	}))
	defer srv.Close()

	tr := budget.NewTracker(10, budget.NewMemoryStore())
	resp, err := newTestFetcher(tr, false).Fetch(context.Background(), Request{URL: srv.URL, Budgeted: true})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != `{"total":0}` {
		t.Fatalf("unexpected body %q", resp.Body)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if used, _ := tr.Used(context.Background()); used != 1 {
		t.Fatalf("only the successful call should count, got %d", used)
	}
}

func TestFetchGivesUpAsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher(nil, false).Fetch(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("expected status error 502, got %v", err)
	}
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(nil, false).Fetch(context.Background(), Request{URL: srv.URL})
	if err == nil || calls.Load() != 1 {
		t.Fatalf("404 should fail once, calls=%d err=%v", calls.Load(), err)
	}
	if errors.Is(err, domain.ErrTransient) {
		t.Fatalf("404 must not be transient")
	}
}

func TestFetchTooManyRequestsCoolsDown(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// three cool-downs with MaxAttempts 3 still leave room for the success
	if _, err := newTestFetcher(nil, false).Fetch(context.Background(), Request{URL: srv.URL}); err != nil {
		t.Fatalf("fetch after cool-downs: %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 calls, got %d", calls.Load())
	}
}

func TestFetchBudgetExhaustedSkipsNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := budget.NewTracker(1, budget.NewMemoryStore())
	f := newTestFetcher(tr, false)
	if _, err := f.Fetch(context.Background(), Request{URL: srv.URL, Budgeted: true}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL, Budgeted: true})
	if !errors.Is(err, domain.ErrBudgetExhausted) {
		t.Fatalf("expected exhausted budget, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("exhausted budget must not hit the network, calls=%d", calls.Load())
	}
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(nil, true)
	if _, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/private/page"}); !errors.Is(err, ErrDisallowed) {
		t.Fatalf("expected robots rejection, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), Request{URL: srv.URL + "/public/page"}); err != nil {
		t.Fatalf("public page: %v", err)
	}
}

func TestFetchDecodesCharset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=euc-kr")
		_, _ = w.Write([]byte("<html><body>\xc7\xd1\xb1\xdb</body></html>"))
	}))
	defer srv.Close()

	doc, err := newTestFetcher(nil, false).Document(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if got := doc.Find("body").Text(); got != "한글" {
		t.Fatalf("expected decoded text, got %q", got)
	}
}
