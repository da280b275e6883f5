package usecase

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"MedicineCrawler/internal/domain"
)

func TestDefaultKeywords(t *testing.T) {
	t.Parallel()
	kws := DefaultKeywords()
	if kws[0] != "ㄱ" {
		t.Fatalf("consonants must come first, got %q", kws[0])
	}
	seen := map[string]bool{}
	for _, kw := range kws {
		if seen[kw] {
			t.Fatalf("duplicate keyword %q", kw)
		}
		seen[kw] = true
	}
	for _, want := range []string{"A", "Z", "0", "9", "정", "타이레놀", "500mg"} {
		if !seen[want] {
			t.Fatalf("missing keyword %q", want)
		}
	}
	if !reflect.DeepEqual(kws, DefaultKeywords()) {
		t.Fatalf("order must be stable")
	}
}

func TestLoadKeywordsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "keywords.txt")
	content := "# brands\n타이레놀\n\n  게보린  \n타이레놀\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	kws, err := LoadKeywordsFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(kws, []string{"타이레놀", "게보린"}) {
		t.Fatalf("unexpected keywords %v", kws)
	}

	if _, err := LoadKeywordsFile(filepath.Join(t.TempDir(), "nope.txt")); !errors.Is(err, domain.ErrSetup) {
		t.Fatalf("expected setup error, got %v", err)
	}
}

func TestResolveKeywordsPrefersConfig(t *testing.T) {
	t.Parallel()
	kws, err := ResolveKeywords([]string{" a ", "b", "a"}, "/does/not/matter")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(kws, []string{"a", "b"}) {
		t.Fatalf("unexpected keywords %v", kws)
	}
	kws, err = ResolveKeywords(nil, "")
	if err != nil || len(kws) != len(DefaultKeywords()) {
		t.Fatalf("expected built-in list, got %d (%v)", len(kws), err)
	}
}

func latest(kw string, page int) *domain.Checkpoint {
	return &domain.Checkpoint{KeywordProgress: domain.KeywordProgress{Keyword: kw, Page: page}}
}

func TestBuildQueue(t *testing.T) {
	t.Parallel()
	all := []string{"a", "b", "c", "d"}
	completed := map[string]bool{"a": true}
	failed := []domain.FailedKeyword{{Keyword: "b", Reason: "503"}}
	several := latest("x", 3)
	several.InProgress = map[string]domain.KeywordProgress{
		"x": {Keyword: "x", Page: 3},
		"d": {Keyword: "d", Page: 2},
		"a": {Keyword: "a", Page: 5},
	}

	tests := []struct {
		name  string
		cp    *domain.Checkpoint
		force bool
		want  []string
	}{
		{name: "cold start", want: []string{"c", "d"}},
		{name: "in-progress first", cp: latest("d", 2), want: []string{"d", "c"}},
		{name: "in-progress added", cp: latest("x", 1), want: []string{"x", "c", "d"}},
		{name: "ledgered checkpoint ignored", cp: latest("b", 1), want: []string{"c", "d"}},
		{name: "force keeps all", cp: latest("x", 1), force: true, want: all},
		{name: "every unfinished keyword first", cp: several, want: []string{"x", "d", "c"}},
	}
	for _, tt := range tests {
		got := buildQueue(all, completed, failed, tt.cp, tt.force)
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
