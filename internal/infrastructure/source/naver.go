// Package source implements the paginated record sources behind the scanner
// registry.
package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/infrastructure/fetcher"
	"MedicineCrawler/internal/infrastructure/parser"
	"MedicineCrawler/internal/scanner"
)

// Fetcher is the subset of fetcher.Fetcher the sources need.
type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error)
}

const (
	NaverName          = "naver"
	NaverEndpoint      = "https://openapi.naver.com/v1/search/encyc.json"
	naverMaxDisplay    = 100
	naverMaxStart      = 1000
	naverQuerySuffix   = " 의약품"
	headerClientID     = "X-Naver-Client-Id"
	headerClientSecret = "X-Naver-Client-Secret"
)

// NaverScanner searches the encyclopedia API. Results need a detail fetch.
type NaverScanner struct {
	fetch        Fetcher
	endpoint     string
	clientID     string
	clientSecret string
}

var _ scanner.Scanner = (*NaverScanner)(nil)

// NewNaverScanner wires credentials; endpoint defaults to the public API.
func NewNaverScanner(f Fetcher, endpoint, clientID, clientSecret string) *NaverScanner {
	if endpoint == "" {
		endpoint = NaverEndpoint
	}
	return &NaverScanner{fetch: f, endpoint: endpoint, clientID: clientID, clientSecret: clientSecret}
}

func (n *NaverScanner) Name() string     { return NaverName }
func (n *NaverScanner) Structured() bool { return false }
func (n *NaverScanner) MaxPageSize() int { return naverMaxDisplay }

// Search maps page/pageSize onto the API's display/start window. Pages
// beyond the API's start limit come back empty.
func (n *NaverScanner) Search(ctx context.Context, req scanner.Request) (domain.Page, error) {
	display := req.PageSize
	if display <= 0 || display > naverMaxDisplay {
		display = naverMaxDisplay
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	start := (page-1)*display + 1
	if start > naverMaxStart {
		return domain.Page{}, nil
	}

	pageURL, err := n.buildURL(req.Keyword, display, start)
	if err != nil {
		return domain.Page{}, err
	}

	header := http.Header{}
	header.Set(headerClientID, n.clientID)
	header.Set(headerClientSecret, n.clientSecret)

	resp, err := n.fetch.Fetch(ctx, fetcher.Request{URL: pageURL, Header: header, Budgeted: true})
	if err != nil {
		return domain.Page{}, fmt.Errorf("search %q page %d: %w", req.Keyword, page, err)
	}
	return parser.ParseSearchJSON(bytes.NewReader(resp.Body))
}

func (n *NaverScanner) buildURL(keyword string, display, start int) (string, error) {
	parsed, err := url.Parse(n.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint %s: %w", domain.ErrSetup, n.endpoint, err)
	}
	query := parsed.Query()
	query.Set("query", strings.TrimSpace(keyword)+naverQuerySuffix)
	query.Set("display", strconv.Itoa(display))
	query.Set("start", strconv.Itoa(start))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
