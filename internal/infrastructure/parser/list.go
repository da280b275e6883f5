package parser

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/microcosm-cc/bluemonday"

	"MedicineCrawler/internal/domain"
)

// APIError is a non-success result code reported inside an XML envelope.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api result %s: %s", e.Code, e.Message)
}

// quotaExceededCode is the public-data portal's "request limit exceeded" code.
const quotaExceededCode = "22"

// ParseXMLList flattens every <item> of a public-data XML list response.
func ParseXMLList(r io.Reader) (domain.Page, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: parse xml: %w", domain.ErrParse, err)
	}

	if code := xmlquery.FindOne(doc, "//resultCode"); code != nil {
		value := strings.TrimSpace(code.InnerText())
		if value != "" && value != "00" {
			apiErr := &APIError{Code: value, Message: "unknown error"}
			if msg := xmlquery.FindOne(doc, "//resultMsg"); msg != nil {
				apiErr.Message = strings.TrimSpace(msg.InnerText())
			}
			if value == quotaExceededCode {
				return domain.Page{}, fmt.Errorf("%w: %w", domain.ErrBudgetExhausted, apiErr)
			}
			return domain.Page{}, fmt.Errorf("%w: %w", domain.ErrParse, apiErr)
		}
	}

	var page domain.Page
	if total := xmlquery.FindOne(doc, "//totalCount"); total != nil {
		n, err := strconv.Atoi(strings.TrimSpace(total.InnerText()))
		if err != nil {
			return domain.Page{}, fmt.Errorf("%w: totalCount %q", domain.ErrParse, total.InnerText())
		}
		page.Total = n
	}

	for _, item := range xmlquery.Find(doc, "//item") {
		fields := map[string]string{}
		for child := item.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != xmlquery.ElementNode {
				continue
			}
			fields[child.Data] = strings.TrimSpace(child.InnerText())
		}
		if len(fields) == 0 {
			continue
		}
		page.Items = append(page.Items, domain.RawItem{
			Title:  lookupAlias(fields, domain.FieldItemName),
			Fields: fields,
		})
	}
	return page, nil
}

type searchResponse struct {
	Total int `json:"total"`
	Items []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		Description string `json:"description"`
		Thumbnail   string `json:"thumbnail"`
	} `json:"items"`
}

var markup = bluemonday.StrictPolicy()

// StripMarkup removes tags such as the <b> highlight from search snippets.
func StripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(markup.Sanitize(s)))
}

// ParseSearchJSON decodes the encyclopedia search response.
func ParseSearchJSON(r io.Reader) (domain.Page, error) {
	var resp searchResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return domain.Page{}, fmt.Errorf("%w: decode search response: %w", domain.ErrParse, err)
	}

	page := domain.Page{Total: resp.Total, Items: make([]domain.RawItem, 0, len(resp.Items))}
	for _, it := range resp.Items {
		page.Items = append(page.Items, domain.RawItem{
			URL:         strings.TrimSpace(it.Link),
			Title:       StripMarkup(it.Title),
			Description: StripMarkup(it.Description),
			Thumbnail:   strings.TrimSpace(it.Thumbnail),
		})
	}
	return page, nil
}
