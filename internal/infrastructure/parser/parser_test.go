package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"MedicineCrawler/internal/domain"
)

const detailHTML = `<html><body>
<h2 class="title">타이레놀정500밀리그램 [Tylenol Tab 500mg]</h2>
<div class="medicinedic_img"><img src="/images/tylenol.jpg"></div>
<table>
<tr><th>업체명</th><td>한국얀센</td></tr>
<tr><th>분류</th><td>[01140]해열.진통.소염제</td></tr>
<tr><th>구분</th><td>일반의약품</td></tr>
<tr><th>크기</th><td>장축 17.5mm, 단축 7.1mm, 두께 5.6mm</td></tr>
<tr><th>식별표기</th><td>TYLENOL/500</td></tr>
</table>
<h3>효능효과</h3>
<p>감기로 인한 발열 및 동통</p><p>두통,   치통</p>
<h3>용법용량</h3>
<p>1회 1~2정씩 1일 3~4회<script>track()</script></p>
<h3>사용상의 주의사항</h3>
<p>1. 다음 환자에게는 투여하지 말 것 1) 간장애 환자</p>
<p>2. 이상반응 1) 쇼크</p>
<h3>성분정보</h3><p>아세트아미노펜 500mg</p>
</body></html>`

func mustDoc(t *testing.T, src string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestParseDetail(t *testing.T) {
	t.Parallel()

	const pageURL = "https://terms.naver.com/entry.naver?docId=1"
	rec, err := ParseDetail(mustDoc(t, detailHTML), pageURL, "")
	if err != nil {
		t.Fatalf("parse detail: %v", err)
	}

	want := map[domain.Field]string{
		domain.FieldItemName:       "타이레놀정500밀리그램 [Tylenol Tab 500mg]",
		domain.FieldItemEngName:    "Tylenol Tab 500mg",
		domain.FieldEntpName:       "한국얀센",
		domain.FieldClassNo:        "01140",
		domain.FieldClassName:      "해열.진통.소염제",
		domain.FieldEtcOtcName:     "일반의약품",
		domain.FieldLengLong:       "17.5",
		domain.FieldLengShort:      "7.1",
		domain.FieldThick:          "5.6",
		domain.FieldPrintFront:     "TYLENOL",
		domain.FieldPrintBack:      "500",
		domain.FieldItemImage:      "https://terms.naver.com/images/tylenol.jpg",
		domain.FieldEfficacy:       "감기로 인한 발열 및 동통 두통, 치통",
		domain.FieldUseMethod:      "1회 1~2정씩 1일 3~4회",
		domain.FieldWarning:        "1. 다음 환자에게는 투여하지 말 것 1) 간장애 환자",
		domain.FieldSideEffects:    "2. 이상반응 1) 쇼크",
		domain.FieldURL:            pageURL,
		domain.FieldCautionDetails: "1. 다음 환자에게는 투여하지 말 것 1) 간장애 환자 2. 이상반응 1) 쇼크",
	}
	for f, v := range want {
		if got := rec.Get(f); got != v {
			t.Fatalf("%s = %q, want %q", f, got, v)
		}
	}
	if strings.Contains(rec.Get(domain.FieldCautionDetails), "아세트아미노펜") {
		t.Fatalf("section leaked past the next heading")
	}
}

func TestParseDetailUsesGivenTitle(t *testing.T) {
	t.Parallel()

	rec, err := ParseDetail(mustDoc(t, detailHTML), "https://example.org/a", "타이레놀정")
	if err != nil {
		t.Fatalf("parse detail: %v", err)
	}
	if rec.Name() != "타이레놀정" {
		t.Fatalf("given title ignored: %q", rec.Name())
	}
}

func TestParseDetailWithoutContent(t *testing.T) {
	t.Parallel()

	_, err := ParseDetail(mustDoc(t, `<html><body><h1>안내</h1><p>내용 없음</p></body></html>`), "https://example.org/b", "")
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestSplitCautions(t *testing.T) {
	t.Parallel()

	text := "1. 다음 환자에게는 투여하지 말 것 1) 이 약에 과민반응 환자 " +
		"2. 이상반응 1) 구역, 구토 " +
		"3. 일반적 주의 1) 장기 복용 금지 " +
		"4. 상호작용 1) 와파린과 병용 주의 " +
		"5. 임부에 대한 투여 안전성 미확립 " +
		"6. 보관 및 취급상의 주의사항 1) 어린이 손에 닿지 않게"

	c := SplitCautions(text)
	if c.Warning != "1. 다음 환자에게는 투여하지 말 것 1) 이 약에 과민반응 환자" {
		t.Fatalf("unexpected warning %q", c.Warning)
	}
	if c.SideEffects != "2. 이상반응 1) 구역, 구토" {
		t.Fatalf("unexpected side effects %q", c.SideEffects)
	}
	if c.Interactions != "4. 상호작용 1) 와파린과 병용 주의" {
		t.Fatalf("unexpected interactions %q", c.Interactions)
	}
	for _, part := range []string{"3. 일반적 주의", "5. 임부에 대한 투여", "6. 보관 및 취급상의"} {
		if !strings.Contains(c.Precautions, part) {
			t.Fatalf("precautions missing %q: %q", part, c.Precautions)
		}
	}
}

func TestSplitCautionsRemainderGoesToPrecautions(t *testing.T) {
	t.Parallel()

	c := SplitCautions("  복용 전   의사와 상의할 것 ")
	if c.Precautions != "복용 전 의사와 상의할 것" {
		t.Fatalf("unexpected precautions %q", c.Precautions)
	}
	if c.Warning != "" || c.SideEffects != "" || c.Interactions != "" {
		t.Fatalf("unmatched text leaked into other buckets: %+v", c)
	}
}

func TestMapFieldsAliases(t *testing.T) {
	t.Parallel()

	rec := MapFields(map[string]string{
		"itemSeq":         "200808876",
		"ITEM_NAME":       "가스디알정50밀리그램",
		"drug_name":       "무시되는 이름",
		"entpName":        "일동제약",
		"CLASS_NAME":      "[02390]기타의 소화기관용약",
		"useMethodQesitm": "1일 3회",
		"unknownKey":      "x",
	})

	checks := map[domain.Field]string{
		domain.FieldItemSeq:   "200808876",
		domain.FieldItemName:  "가스디알정50밀리그램",
		domain.FieldEntpName:  "일동제약",
		domain.FieldClassNo:   "02390",
		domain.FieldClassName: "기타의 소화기관용약",
		domain.FieldUseMethod: "1일 3회",
	}
	for f, v := range checks {
		if got := rec.Get(f); got != v {
			t.Fatalf("%s = %q, want %q", f, got, v)
		}
	}
	if len(rec.Values) != len(checks) {
		t.Fatalf("unexpected extra fields: %v", rec.Values)
	}
}

func TestParseXMLList(t *testing.T) {
	t.Parallel()

	const body = `<?xml version="1.0" encoding="UTF-8"?>
<response><header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header>
<body><items><item><ITEM_SEQ>200808876</ITEM_SEQ><ITEM_NAME>가스디알정50밀리그램</ITEM_NAME><ENTP_NAME>일동제약(주)</ENTP_NAME><COLOR_CLASS1>하양</COLOR_CLASS1></item>
<item><ITEM_SEQ>200808877</ITEM_SEQ><ITEM_NAME>게보린정</ITEM_NAME></item></items>
<numOfRows>2</numOfRows><pageNo>1</pageNo><totalCount>25000</totalCount></body></response>`

	page, err := ParseXMLList(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse xml: %v", err)
	}
	if page.Total != 25000 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].Title != "가스디알정50밀리그램" || page.Items[0].Fields["COLOR_CLASS1"] != "하양" {
		t.Fatalf("unexpected first item: %+v", page.Items[0])
	}
}

func TestParseXMLListResultCodes(t *testing.T) {
	t.Parallel()

	envelope := func(code string) string {
		return `<response><header><resultCode>` + code + `</resultCode><resultMsg>ERROR</resultMsg></header></response>`
	}

	_, err := ParseXMLList(strings.NewReader(envelope("30")))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "30" || !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected api error 30, got %v", err)
	}

	_, err = ParseXMLList(strings.NewReader(envelope("22")))
	if !errors.Is(err, domain.ErrBudgetExhausted) {
		t.Fatalf("quota code should exhaust the budget, got %v", err)
	}
}

func TestParseSearchJSON(t *testing.T) {
	t.Parallel()

	const body = `{"total":2,"start":1,"display":2,"items":[
{"title":"<b>타이레놀</b>정","link":"https://terms.naver.com/entry.naver?docId=1","description":"효능 &amp; 용법","thumbnail":"https://example.org/t.jpg"},
{"title":"한미<b>약품</b>","link":"https://terms.naver.com/entry.naver?docId=2","description":"회사"}]}`

	page, err := ParseSearchJSON(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	first := page.Items[0]
	if first.Title != "타이레놀정" || first.Description != "효능 & 용법" || first.Thumbnail == "" {
		t.Fatalf("unexpected item %+v", first)
	}
}

func TestIsMedicineItem(t *testing.T) {
	t.Parallel()

	const link = "https://terms.naver.com/entry.naver?docId=1"
	cases := []struct {
		title, description, link string
		want                     bool
	}{
		{"타이레놀정", "", link, true},
		{"한미약품", "", link, false},
		{"약물학", "효능 용법 성분", link, false},
		{"오메프라졸", "", "https://terms.naver.com/medicinedic/123", true},
		{"아스피린 100mg 장용정제", "", link, true},
		{"게보린", "효능, 용법과 성분 안내", link, true},
		{"비타민", "건강 정보", link, false},
	}
	for _, tc := range cases {
		if got := IsMedicineItem(tc.title, tc.description, tc.link); got != tc.want {
			t.Fatalf("IsMedicineItem(%q) = %v, want %v", tc.title, got, tc.want)
		}
	}
}

func TestPreValidate(t *testing.T) {
	t.Parallel()

	if !PreValidate(mustDoc(t, detailHTML), "https://terms.naver.com/entry.naver?docId=1") {
		t.Fatalf("product page rejected")
	}
	company := `<html><body><h2 class="title">대웅제약</h2><p>효능효과 용법용량</p></body></html>`
	if PreValidate(mustDoc(t, company), "https://terms.naver.com/entry.naver?docId=9") {
		t.Fatalf("company page accepted")
	}
	if !PreValidate(mustDoc(t, company), "https://terms.naver.com/medicinedic/9") {
		t.Fatalf("medicine dictionary url should always pass")
	}
}

func TestFindImageURLLargestArea(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><body>
<img src="/icon.png" width="16" height="16">
<img src="/photo/a.jpg" width="300" height="200">
<img src="/photo/b.jpg" style="width: 120px; height: 120px">
</body></html>`)
	if got := FindImageURL(doc, "https://example.org/page"); got != "https://example.org/photo/a.jpg" {
		t.Fatalf("unexpected image %q", got)
	}
}
