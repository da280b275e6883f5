package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"MedicineCrawler/internal/domain"
)

const headingSelector = "h2.title, h3.title, h1.title, .article_header h2, .main_title"

var (
	bracketExpr   = regexp.MustCompile(`\[(.*?)\]`)
	classExpr     = regexp.MustCompile(`^\s*\[(.*?)\]\s*(.*)$`)
	numberExpr    = regexp.MustCompile(`[\d.]+`)
	whitespace    = regexp.MustCompile(`\s+`)
	styleWidth    = regexp.MustCompile(`width\s*:\s*(\d+)px`)
	styleHeight   = regexp.MustCompile(`height\s*:\s*(\d+)px`)
	headingTags   = map[string]bool{"h2": true, "h3": true, "h4": true}
	minImageArea  = 100 * 100
	sectionTitles = []struct {
		title string
		field domain.Field
	}{
		{"효능효과", domain.FieldEfficacy},
		{"용법용량", domain.FieldUseMethod},
		{"저장방법", domain.FieldDepositMethod},
		{"사용상의주의사항", domain.FieldCautionDetails},
		{"이상반응", domain.FieldSideEffects},
		{"부작용", domain.FieldSideEffects},
		{"상호작용", domain.FieldInteractions},
	}
	// Headings that end a section even though they are not mapped.
	boundaryTitles = []string{"성분정보", "사용기간"}
)

// PageTitle returns the main heading of a detail page.
func PageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find(headingSelector).First().Text()); t != "" {
		return collapseSpace(t)
	}
	return collapseSpace(strings.TrimSpace(doc.Find("h1").First().Text()))
}

// ParseDetail extracts a record from a product detail page.
func ParseDetail(doc *goquery.Document, sourceURL, title string) (*domain.Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = PageTitle(doc)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: %s has no title", domain.ErrParse, sourceURL)
	}

	rec := domain.NewRecord()
	rec.Set(domain.FieldItemName, title)
	rec.Set(domain.FieldURL, sourceURL)
	if m := bracketExpr.FindStringSubmatch(title); m != nil {
		rec.Set(domain.FieldItemEngName, m[1])
	}
	if img := FindImageURL(doc, sourceURL); img != "" {
		rec.Set(domain.FieldItemImage, img)
	}

	labels := 0
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		if applyLabel(&rec, collapseSpace(th.Text()), cleanText(td)) {
			labels++
		}
	})
	doc.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return
		}
		if applyLabel(&rec, collapseSpace(dt.Text()), cleanText(dd)) {
			labels++
		}
	})

	sections := 0
	doc.Find("h2, h3, h4").Each(func(_ int, h *goquery.Selection) {
		field, ok := sectionField(h.Text())
		if !ok || rec.Has(field) {
			return
		}
		var parts []string
		for sib := h.Next(); sib.Length() > 0; sib = sib.Next() {
			if isBoundary(sib) {
				break
			}
			if text := cleanText(sib); text != "" {
				parts = append(parts, text)
			}
		}
		if content := strings.Join(parts, " "); content != "" {
			rec.Set(field, content)
			sections++
		}
	})

	if labels == 0 && sections == 0 {
		return nil, fmt.Errorf("%w: %s has no label rows or sections", domain.ErrParse, sourceURL)
	}

	if details := rec.Get(domain.FieldCautionDetails); details != "" {
		SplitCautions(details).Apply(&rec)
	}
	return &rec, nil
}

func applyLabel(rec *domain.Record, header, value string) bool {
	if value == "" {
		return false
	}
	switch {
	case strings.Contains(header, "업체명"):
		rec.Set(domain.FieldEntpName, value)
	case strings.Contains(header, "분류"):
		setClassification(rec, value)
	case strings.Contains(header, "구분"):
		rec.Set(domain.FieldEtcOtcName, value)
	case strings.Contains(header, "성상"):
		rec.Set(domain.FieldChart, value)
	case strings.Contains(header, "제형"):
		rec.Set(domain.FieldFormName, value)
	case strings.Contains(header, "보험코드"):
		rec.Set(domain.FieldEdiCode, value)
	case strings.Contains(header, "모양"):
		rec.Set(domain.FieldDrugShape, value)
	case strings.Contains(header, "색깔"), strings.Contains(header, "색상"):
		rec.Set(domain.FieldColorClass1, value)
	case strings.Contains(header, "크기"):
		setSize(rec, value)
	case strings.Contains(header, "식별표기"):
		front, back, found := strings.Cut(value, "/")
		rec.Set(domain.FieldPrintFront, front)
		if found {
			rec.Set(domain.FieldPrintBack, back)
		}
	default:
		return false
	}
	return true
}

func setClassification(rec *domain.Record, value string) {
	if m := classExpr.FindStringSubmatch(value); m != nil {
		rec.Set(domain.FieldClassNo, m[1])
		rec.Set(domain.FieldClassName, m[2])
		return
	}
	rec.Set(domain.FieldClassName, value)
}

func setSize(rec *domain.Record, value string) {
	for _, part := range strings.Split(value, ",") {
		num := numberExpr.FindString(part)
		if num == "" {
			continue
		}
		switch {
		case strings.Contains(part, "장축"):
			rec.Set(domain.FieldLengLong, num)
		case strings.Contains(part, "단축"):
			rec.Set(domain.FieldLengShort, num)
		case strings.Contains(part, "두께"):
			rec.Set(domain.FieldThick, num)
		}
	}
}

func sectionField(heading string) (domain.Field, bool) {
	compact := strings.Join(strings.Fields(heading), "")
	for _, s := range sectionTitles {
		if strings.Contains(compact, s.title) {
			return s.field, true
		}
	}
	return "", false
}

func isBoundary(sel *goquery.Selection) bool {
	if !headingTags[goquery.NodeName(sel)] {
		return false
	}
	if _, ok := sectionField(sel.Text()); ok {
		return true
	}
	compact := strings.Join(strings.Fields(sel.Text()), "")
	for _, t := range boundaryTitles {
		if strings.Contains(compact, t) {
			return true
		}
	}
	return false
}

// cleanText joins the text nodes of sel with newlines, drops script and
// style content, and collapses whitespace.
func cleanText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return collapseSpace(strings.Join(parts, "\n"))
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

var imageSelectors = []string{
	"div.medicinedic_img img",
	"div.image_area img",
	"div.img_box img",
	"div.thumb_area img",
	"div.drug_info_img img",
	"img.drug_image",
	"div.item_image img",
	"div.med_img img",
	".medicine-image",
	".item-image",
	"div.media_end_content img",
	"div.figure_area img",
	"div.center_img img",
	"div.medi_wrap img",
	"div.medi_img img",
	"div.article_body img",
}

var imageAttrPatterns = []struct {
	attr     string
	patterns []string
}{
	{"src", []string{"medicinedic", "drug", "medicine", "pill", "pharm"}},
	{"alt", []string{"약품", "의약품", "정", "캡슐", "주사"}},
	{"class", []string{"drug", "medicine", "pill", "pharm", "item"}},
}

var imageSrcHints = []string{"drug", "medi", "pill", "pharm", "item"}

// FindImageURL locates the product image. It tries known containers first,
// then attribute hints, then the largest declared image.
func FindImageURL(doc *goquery.Document, base string) string {
	for _, sel := range imageSelectors {
		if src, ok := doc.Find(sel).First().Attr("src"); ok && strings.TrimSpace(src) != "" {
			return resolveURL(base, src)
		}
	}

	imgs := doc.Find("img")
	var found string
	imgs.EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, ok := img.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return true
		}
		for _, p := range imageAttrPatterns {
			value, ok := img.Attr(p.attr)
			if !ok {
				continue
			}
			value = strings.ToLower(value)
			for _, pattern := range p.patterns {
				if strings.Contains(value, pattern) {
					found = src
					return false
				}
			}
		}
		lower := strings.ToLower(src)
		for _, hint := range imageSrcHints {
			if strings.Contains(lower, hint) {
				found = src
				return false
			}
		}
		return true
	})
	if found != "" {
		return resolveURL(base, found)
	}

	bestArea := 0
	imgs.Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		width, height := dimension(img, "width", styleWidth), dimension(img, "height", styleHeight)
		if area := width * height; area > minImageArea && area > bestArea {
			bestArea = area
			found = src
		}
	})
	if found != "" {
		return resolveURL(base, found)
	}
	return ""
}

func dimension(img *goquery.Selection, attr string, styleExpr *regexp.Regexp) int {
	if v, ok := img.Attr(attr); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(v, "px"))); err == nil && n > 0 {
			return n
		}
	}
	style, _ := img.Attr("style")
	if m := styleExpr.FindStringSubmatch(style); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
