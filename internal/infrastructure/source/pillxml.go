package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"MedicineCrawler/internal/domain"
	"MedicineCrawler/internal/infrastructure/fetcher"
	"MedicineCrawler/internal/infrastructure/parser"
	"MedicineCrawler/internal/scanner"
)

const (
	PillName     = "pillxml"
	PillEndpoint = "https://apis.data.go.kr/1471000/MdcinGrnIdntfcInfoService01/getMdcinGrnIdntfcInfoList01"
	pillMaxRows  = 100
)

// PillScanner reads the public-data pill identification list. Items arrive
// with structured fields.
type PillScanner struct {
	fetch      Fetcher
	endpoint   string
	serviceKey string
}

var _ scanner.Scanner = (*PillScanner)(nil)

// NewPillScanner wires the service key; endpoint defaults to the public API.
func NewPillScanner(f Fetcher, endpoint, serviceKey string) *PillScanner {
	if endpoint == "" {
		endpoint = PillEndpoint
	}
	return &PillScanner{fetch: f, endpoint: endpoint, serviceKey: serviceKey}
}

func (p *PillScanner) Name() string     { return PillName }
func (p *PillScanner) Structured() bool { return true }
func (p *PillScanner) MaxPageSize() int { return pillMaxRows }

func (p *PillScanner) Search(ctx context.Context, req scanner.Request) (domain.Page, error) {
	rows := req.PageSize
	if rows <= 0 || rows > pillMaxRows {
		rows = pillMaxRows
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	parsed, err := url.Parse(p.endpoint)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: invalid endpoint %s: %w", domain.ErrSetup, p.endpoint, err)
	}
	query := parsed.Query()
	query.Set("serviceKey", p.serviceKey)
	query.Set("pageNo", strconv.Itoa(page))
	query.Set("numOfRows", strconv.Itoa(rows))
	query.Set("type", "xml")
	if kw := strings.TrimSpace(req.Keyword); kw != "" {
		query.Set("item_name", kw)
	}
	parsed.RawQuery = query.Encode()

	resp, err := p.fetch.Fetch(ctx, fetcher.Request{URL: parsed.String(), Budgeted: true})
	if err != nil {
		return domain.Page{}, fmt.Errorf("list %q page %d: %w", req.Keyword, page, err)
	}
	return parser.ParseXMLList(bytes.NewReader(resp.Body))
}
