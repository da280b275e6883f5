package usecase

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"MedicineCrawler/internal/domain"
)

var keywordGroups = [][]string{
	// initial consonants
	{"ㄱ", "ㄲ", "ㄴ", "ㄷ", "ㄸ", "ㄹ", "ㅁ", "ㅂ", "ㅃ", "ㅅ", "ㅆ", "ㅇ", "ㅈ", "ㅉ", "ㅊ", "ㅋ", "ㅌ", "ㅍ", "ㅎ"},
	// general categories
	{"의약품", "약품", "전문의약품", "일반의약품", "희귀의약품", "의약외품", "처방약", "비처방약", "OTC", "제네릭", "오리지널"},
	// dosage forms
	{
		"정", "캡슐", "주사", "시럽", "연고", "크림", "겔", "패치", "좌제", "분말", "액", "로션",
		"과립", "현탁액", "환", "점안액", "점이액", "스프레이", "흡입제", "엑스제", "산제", "서방정",
		"구강붕해정", "설하정", "용액", "필름코팅정", "질정", "경피제", "좌약", "트로키정", "건조주사제",
	},
	// drug classes
	{
		"소화관", "혈액", "심혈관계", "피부", "호르몬", "항감염제", "항암제", "근골격계", "신경계",
		"호흡기계", "당뇨병치료제", "고혈압약", "고지혈증약", "항우울제", "항히스타민제", "진해거담제",
		"항경련제", "항궤양제", "항정신병약", "면역억제제", "비스테로이드성소염제", "항응고제",
		"진통제", "해열제", "항생제", "소화제", "변비약", "설사약", "수면제", "근육이완제", "이뇨제",
		"항바이러스제", "항진균제", "골다공증약", "통풍약", "편두통약", "천식약", "알레르기약",
	},
	// common ingredients
	{
		"아세트아미노펜", "디클로페낙", "아스피린", "이부프로펜", "메트포르민", "아토바스타틴",
		"로수바스타틴", "암로디핀", "발사르탄", "세티리진", "레보세티리진", "라니티딘", "오메프라졸",
		"판토프라졸", "란소프라졸", "글리메피리드", "심바스타틴", "에제티미브", "로사르탄", "텔미사르탄",
		"클로피도그렐", "와파린", "플루옥세틴", "에스시탈로프람", "졸피뎀", "세레콕시브", "레보플록사신",
		"아목시실린", "세팔렉신", "아지트로마이신", "플루코나졸", "가바펜틴", "프레가발린", "라모트리진",
		"실데나필", "타다라필", "퀘티아핀", "도네페질", "트라마돌", "덱사메타손", "파모티딘", "피나스테리드",
	},
	// brands
	{
		"타이레놀", "게보린", "판콜", "부루펜", "베아제", "판피린", "액티피드", "판콜에이", "캐롤",
		"이가탄", "센트룸", "아로나민", "삐콤씨", "인사돌", "우루사", "훼스탈", "이지엔", "지르텍",
		"클라리틴", "알레그라", "노바스크", "리피토", "크레스토", "넥시움", "활명수", "쎄레브렉스",
		"아드빌", "펜잘", "탁센", "개비스콘", "가스모틴", "둘코락스", "마그밀",
	},
	// strengths
	{
		"5mg", "10mg", "20mg", "25mg", "50mg", "100mg", "250mg", "500mg", "1g",
		"0.5mg", "1mg", "2mg", "75mg", "150mg", "200mg", "300mg", "400mg",
	},
}

// DefaultKeywords returns the built-in keyword list. Order is stable and
// every keyword appears once.
func DefaultKeywords() []string {
	var all []string
	for _, g := range keywordGroups[:1] {
		all = append(all, g...)
	}
	for c := 'A'; c <= 'Z'; c++ {
		all = append(all, string(c))
	}
	for i := 0; i < 10; i++ {
		all = append(all, strconv.Itoa(i))
	}
	for _, g := range keywordGroups[1:] {
		all = append(all, g...)
	}
	return uniqueKeywords(all)
}

// LoadKeywordsFile reads one keyword per line. Blank lines and lines
// starting with # are skipped.
func LoadKeywordsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open keywords file: %v", domain.ErrSetup, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read keywords file: %w", err)
	}
	return uniqueKeywords(out), nil
}

// ResolveKeywords picks the configured list, then the file, then the
// built-in list.
func ResolveKeywords(configured []string, file string) ([]string, error) {
	if kws := uniqueKeywords(configured); len(kws) > 0 {
		return kws, nil
	}
	if file != "" {
		return LoadKeywordsFile(file)
	}
	return DefaultKeywords(), nil
}

func uniqueKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// buildQueue drops ledgered keywords and moves the in-progress ones to the
// front, the latest first. force keeps every requested keyword.
func buildQueue(all []string, completed map[string]bool, failed []domain.FailedKeyword, cp *domain.Checkpoint, force bool) []string {
	all = uniqueKeywords(all)
	if force {
		return all
	}

	failedSet := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedSet[f.Keyword] = true
	}
	ledgered := func(kw string) bool { return completed[kw] || failedSet[kw] }

	queue := make([]string, 0, len(all))
	front := map[string]bool{}
	for _, kw := range cp.Keywords() {
		if !ledgered(kw) && !front[kw] {
			front[kw] = true
			queue = append(queue, kw)
		}
	}
	for _, kw := range all {
		if !ledgered(kw) && !front[kw] {
			queue = append(queue, kw)
		}
	}
	return queue
}
