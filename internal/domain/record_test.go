package domain

import (
	"errors"
	"testing"
)

func TestNaturalIDPrefersItemSequence(t *testing.T) {
	t.Parallel()

	r := NewRecord()
	r.Set(FieldItemName, "  타이레놀정  500mg ")
	if got := r.NaturalID(); got != "name:타이레놀정 500mg" {
		t.Fatalf("unexpected name id: %q", got)
	}

	r.Set(FieldItemSeq, "200300406")
	if got := r.NaturalID(); got != "200300406" {
		t.Fatalf("expected item sequence, got %q", got)
	}
}

func TestSetIgnoresBlank(t *testing.T) {
	t.Parallel()

	r := NewRecord()
	r.Set(FieldEntpName, "한국얀센")
	r.Set(FieldEntpName, "   ")
	if r.Get(FieldEntpName) != "한국얀센" {
		t.Fatalf("blank value overwrote manufacturer: %q", r.Get(FieldEntpName))
	}
}

func TestComputeHashIgnoresImageAndOrder(t *testing.T) {
	t.Parallel()

	a := NewRecord()
	a.Set(FieldItemName, "게보린정")
	a.Set(FieldEntpName, "삼진제약")
	a.Set(FieldItemImage, "https://example.org/a.jpg")

	b := NewRecord()
	b.Set(FieldEntpName, "삼진제약")
	b.Set(FieldItemName, "게보린정")
	b.Set(FieldItemImage, "images/local.jpg")

	if a.ComputeHash() != b.ComputeHash() {
		t.Fatalf("hash should not depend on image or insertion order")
	}

	b.Set(FieldClassName, "해열.진통.소염제")
	if a.ComputeHash() == b.ComputeHash() {
		t.Fatalf("hash should change when content changes")
	}
}

func TestBaseTitle(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"타이레놀정500밀리그램(아세트아미노펜)": "타이레놀정500밀리그램",
		"노바스크정 [Norvasc Tab]":      "노바스크정",
		"판콜에이내복액":                  "판콜에이내복액",
	}
	for in, want := range cases {
		if got := BaseTitle(in); got != want {
			t.Fatalf("BaseTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateRejectsNameOnlyRecord(t *testing.T) {
	t.Parallel()

	r := NewRecord()
	r.Set(FieldItemName, "아스피린정")
	r.Set(FieldURL, "https://terms.naver.com/entry.naver?docId=1")

	err := Validate(&r, 0)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateRequiresNameAndSource(t *testing.T) {
	t.Parallel()

	r := NewRecord()
	r.Set(FieldEntpName, "바이엘코리아")
	if err := Validate(&r, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateQualityThreshold(t *testing.T) {
	t.Parallel()

	r := NewRecord()
	r.Set(FieldItemName, "아스피린프로텍트정100밀리그램")
	r.Set(FieldURL, "https://terms.naver.com/entry.naver?docId=2")
	r.Set(FieldEntpName, "바이엘코리아")

	if err := Validate(&r, DefaultMinQuality); !errors.Is(err, ErrValidation) {
		t.Fatalf("one important group should fall below the default threshold, got %v", err)
	}

	r.Set(FieldClassName, "기타의 순환계용약")
	r.Set(FieldEfficacy, "혈전 생성 억제")
	if err := Validate(&r, DefaultMinQuality); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if r.QualityScore < DefaultMinQuality {
		t.Fatalf("quality score not stored: %.1f", r.QualityScore)
	}
}

func TestQualityScoreCountsGroupsOnce(t *testing.T) {
	t.Parallel()

	r := NewRecord()
	r.Set(FieldEntpName, "바이엘코리아")
	r.Set(FieldClassName, "기타의 순환계용약")
	r.Set(FieldClassNo, "[01390]")
	r.Set(FieldWarning, "출혈 경향")
	r.Set(FieldSideEffects, "위장 장애")

	// three of seven groups, whichever members carry them
	want := 3.0 / 7.0 * 100
	if got := QualityScore(r); got != want {
		t.Fatalf("quality score = %.4f, want %.4f", got, want)
	}
}
