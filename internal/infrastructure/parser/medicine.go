package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Titles naming a company rather than a product.
var companyPatterns = []string{
	"제약", "약품(주)", "바이오", "파마", "약국", "의약품 제조",
	"(주)", "주식회사", "바이오택", "팜", "제약회사", "케미칼",
	"바이오로직스", "생명과학", "헬스케어", "바이오사이언스",
	"메디칼", "메디컬", "헬스", "제약사", "테라퓨틱스", "약업",
	"약품", "의약", "의약품", "제약업", "바이오제약", "생명공학",
	"약품공업", "제약공업", "팜텍", "바이오팜", "신약", "생물약품",
}

// Titles naming a general pharmacy concept.
var termPatterns = []string{
	"합성의약품", "생물의약품", "약학", "약사", "의약품 분류",
	"의약품 허가", "의약품 개발", "의약품 정의", "의약품이란",
	"제네릭", "오리지널", "백신", "약전", "약품학", "약리학",
	"바이오시밀러", "의약품 안전", "의약품 부작용", "의약품 관리",
	"처방의약품", "일반의약품", "전문의약품", "의약품 유통",
	"의약품산업", "약물", "약물학", "의약품 심사", "의약품 표시기재",
}

// DosageForms are product-name suffixes that identify a medicine.
var DosageForms = []string{
	"정", "캡슐", "주사", "시럽", "연고", "크림", "겔", "패치",
	"좌제", "분말", "액", "주", "서방정", "구강정", "액상", "세립", "과립",
}

var (
	strengthExpr       = regexp.MustCompile(`\d+\s*mg|\d+\s*mcg|\d+\s*g`)
	descriptionMarkers = []string{"효능", "용법", "성분"}
	pageCompanyWords   = []string{"제약", "(주)", "바이오", "파마", "약품", "바이오택", "생명과학"}
	pageSections       = []string{"효능효과", "용법용량", "성분", "주의사항", "저장방법", "사용상 주의사항"}
	pageHeaderTerms    = []string{"성분", "효능", "용법", "분류", "제형", "성상"}
)

// IsMedicineItem reports whether a search result names a concrete product.
// title and description must already be stripped of markup.
func IsMedicineItem(title, description, link string) bool {
	for _, p := range companyPatterns {
		if strings.Contains(title, p) {
			return false
		}
	}
	for _, p := range termPatterns {
		if strings.Contains(title, p) {
			return false
		}
	}

	if strings.Contains(strings.ToLower(link), "medicinedic") {
		return true
	}

	trimmed := strings.TrimSpace(title)
	for _, form := range DosageForms {
		if strings.HasSuffix(trimmed, form) {
			return true
		}
	}

	if strengthExpr.MatchString(title) {
		for _, form := range DosageForms {
			if strings.Contains(title, form) {
				return true
			}
		}
	}

	for _, m := range descriptionMarkers {
		if !strings.Contains(description, m) {
			return false
		}
	}
	return true
}

// PreValidate reports whether a fetched page looks like a product page
// before the full parse runs.
func PreValidate(doc *goquery.Document, pageURL string) bool {
	if strings.Contains(strings.ToLower(pageURL), "medicinedic") {
		return true
	}

	if title := PageTitle(doc); title != "" {
		for _, w := range pageCompanyWords {
			if strings.Contains(title, w) {
				return false
			}
		}
	}

	body := doc.Text()
	markers := 0
	for _, s := range pageSections {
		if strings.Contains(body, s) {
			markers++
		}
	}
	if markers >= 2 {
		return true
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() == 0 || row.Find("td").Length() == 0 {
			return
		}
		header := strings.TrimSpace(row.Find("th").First().Text())
		for _, term := range pageHeaderTerms {
			if strings.Contains(header, term) {
				markers++
				return
			}
		}
	})
	return markers >= 2
}
