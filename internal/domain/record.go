package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// Field is a canonical column of the medicine record schema.
type Field string

const (
	FieldItemSeq     Field = "item_seq"
	FieldItemName    Field = "item_name"
	FieldItemEngName Field = "item_eng_name"
	FieldEntpName    Field = "entp_name"
	FieldClassNo     Field = "class_no"
	FieldClassName   Field = "class_name"
	FieldEtcOtcName  Field = "etc_otc_name"
	FieldChart       Field = "chart"
	FieldFormName    Field = "form_code_name"
	FieldEdiCode     Field = "edi_code"

	FieldDrugShape   Field = "drug_shape"
	FieldColorClass1 Field = "color_class1"
	FieldColorClass2 Field = "color_class2"
	FieldLengLong    Field = "leng_long"
	FieldLengShort   Field = "leng_short"
	FieldThick       Field = "thick"
	FieldPrintFront  Field = "print_front"
	FieldPrintBack   Field = "print_back"
	FieldItemImage   Field = "item_image"

	FieldEfficacy       Field = "efcy_qesitm"
	FieldUseMethod      Field = "use_method_qesitm"
	FieldDepositMethod  Field = "deposit_method_qesitm"
	FieldWarning        Field = "atpn_warn_qesitm"
	FieldPrecautions    Field = "atpn_qesitm"
	FieldInteractions   Field = "intrc_qesitm"
	FieldSideEffects    Field = "se_qesitm"
	FieldCautionDetails Field = "caution_details"

	FieldURL Field = "url"
)

// Fields lists the canonical schema in storage/export order.
var Fields = []Field{
	FieldItemSeq, FieldItemName, FieldItemEngName, FieldEntpName, FieldClassNo, FieldClassName,
	FieldEtcOtcName, FieldChart, FieldFormName, FieldEdiCode,
	FieldDrugShape, FieldColorClass1, FieldColorClass2, FieldLengLong, FieldLengShort, FieldThick,
	FieldPrintFront, FieldPrintBack, FieldItemImage,
	FieldEfficacy, FieldUseMethod, FieldDepositMethod, FieldWarning, FieldPrecautions,
	FieldInteractions, FieldSideEffects, FieldCautionDetails,
	FieldURL,
}

// KnownField reports whether name is part of the canonical schema.
func KnownField(name string) bool {
	for _, f := range Fields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// RawItem is a search-result entry before parsing. Fields is set when the
// source already returns structured key/value data.
type RawItem struct {
	URL         string
	Title       string
	Description string
	Thumbnail   string
	Fields      map[string]string
}

// Page is one page of a paginated source.
type Page struct {
	Total int
	Items []RawItem
}

// Record is the canonical unit of the pipeline.
type Record struct {
	Values       map[Field]string
	ContentHash  string
	QualityScore float64
}

// NewRecord returns an empty record ready for Set.
func NewRecord() Record {
	return Record{Values: map[Field]string{}}
}

// Get returns the trimmed value of field or "".
func (r Record) Get(f Field) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[f]
}

// Set stores a trimmed value; blank values are ignored so they never
// overwrite anything downstream.
func (r *Record) Set(f Field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if r.Values == nil {
		r.Values = map[Field]string{}
	}
	r.Values[f] = value
}

// Has reports whether the field carries a non-blank value.
func (r Record) Has(f Field) bool {
	return r.Get(f) != ""
}

// Name is the product name.
func (r Record) Name() string { return r.Get(FieldItemName) }

// SourceURL is the page the record was captured from.
func (r Record) SourceURL() string { return r.Get(FieldURL) }

var (
	qualifierExpr = regexp.MustCompile(`\[.*?\]|\(.*?\)`)
	spaceExpr     = regexp.MustCompile(`\s+`)
)

// NaturalID returns the item sequence, or a normalized name when the source
// does not provide one.
func (r Record) NaturalID() string {
	if seq := r.Get(FieldItemSeq); seq != "" {
		return seq
	}
	name := NormalizeName(r.Name())
	if name == "" {
		return ""
	}
	return "name:" + name
}

// NormalizeName lowercases and collapses whitespace.
func NormalizeName(name string) string {
	name = spaceExpr.ReplaceAllString(strings.TrimSpace(name), " ")
	return strings.ToLower(name)
}

// BaseTitle strips bracketed and parenthesised qualifiers from a title.
func BaseTitle(title string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(qualifierExpr.ReplaceAllString(title, ""), " "))
}

// ComputeHash digests all non-volatile fields. The image reference is left
// out because it changes once the file is downloaded locally.
func (r Record) ComputeHash() string {
	parts := make([]string, 0, len(r.Values))
	for f, v := range r.Values {
		if f == FieldItemImage || v == "" {
			continue
		}
		parts = append(parts, string(f)+":"+v)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "||")))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := Record{Values: make(map[Field]string, len(r.Values)), ContentHash: r.ContentHash, QualityScore: r.QualityScore}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}

// UpsertResult describes what the sink did with a record.
type UpsertResult string

const (
	UpsertInserted  UpsertResult = "inserted"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)
