package scanner

import (
	"context"
	"errors"
	"testing"

	"MedicineCrawler/internal/domain"
)

type stubScanner struct{ name string }

func (s stubScanner) Name() string { return s.name }
func (s stubScanner) Search(context.Context, Request) (domain.Page, error) {
	return domain.Page{}, nil
}
func (s stubScanner) Structured() bool { return false }
func (s stubScanner) MaxPageSize() int { return 100 }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubScanner{name: "naver"})
	reg.Register(stubScanner{name: "pillxml"})

	if _, err := reg.Resolve("naver"); err != nil {
		t.Fatalf("resolve naver: %v", err)
	}
	if _, err := reg.Resolve("missing"); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "naver" {
		t.Fatalf("unexpected names %v", names)
	}
}
