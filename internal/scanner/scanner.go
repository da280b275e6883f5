package scanner

import (
	"context"
	"fmt"
	"sort"

	"MedicineCrawler/internal/domain"
)

// Request asks a source for one page of results for a keyword.
type Request struct {
	Keyword  string
	Page     int
	PageSize int
}

// Scanner captures a single paginated source (encyclopedia search, pill list, etc.).
type Scanner interface {
	Name() string
	// Search returns one page. An empty page means there is nothing more.
	Search(ctx context.Context, req Request) (domain.Page, error)
	// Structured reports whether items already carry their fields, so no
	// detail page has to be fetched.
	Structured() bool
	// MaxPageSize is the largest page the source accepts.
	MaxPageSize() int
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("%w: source %q is not registered (have %v)", domain.ErrSetup, name, r.Names())
}

// Names lists registered scanners in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
