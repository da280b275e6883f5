package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"MedicineCrawler/internal/domain"
)

func TestPublishDigestPostsForm(t *testing.T) {
	t.Parallel()

	var gotText, gotChat, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotPath = r.URL.Path
		gotText = r.PostForm.Get("text")
		gotChat = r.PostForm.Get("chat_id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("TOKEN", "42", WithBaseURL(srv.URL))
	if err := n.PublishDigest(context.Background(), "*run completed*"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotText != "*run completed*" || gotChat != "42" {
		t.Fatalf("unexpected form text=%q chat=%q", gotText, gotChat)
	}
}

func TestPublishDigestStopsOnClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier("TOKEN", "42", WithBaseURL(srv.URL))
	if err := n.PublishDigest(context.Background(), "x"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestPublishDigestMisconfigured(t *testing.T) {
	t.Parallel()

	err := NewNotifier("", "").PublishDigest(context.Background(), "x")
	if !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected ErrSetup, got %v", err)
	}
}
