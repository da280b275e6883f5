package parser

import (
	"sort"
	"strings"

	"MedicineCrawler/internal/domain"
)

// extraAliases lists source keys that do not normalise to the canonical
// field name on their own. ITEM_SEQ, itemSeq and item_seq all match
// item_seq without an entry here.
var extraAliases = map[domain.Field][]string{
	domain.FieldItemName:       {"drug_name", "product_name", "제품명", "품목명"},
	domain.FieldItemEngName:    {"eng_name"},
	domain.FieldEntpName:       {"company", "manufacturer", "업체명"},
	domain.FieldClassName:      {"class_nm", "분류명"},
	domain.FieldColorClass1:    {"color_class", "color"},
	domain.FieldFormName:       {"form_name", "제형"},
	domain.FieldEfficacy:       {"efficacy", "ee_doc_data", "효능효과"},
	domain.FieldUseMethod:      {"use_method", "ud_doc_data", "용법용량"},
	domain.FieldDepositMethod:  {"storage_method", "저장방법"},
	domain.FieldPrecautions:    {"nb_doc_data", "precautions"},
	domain.FieldItemImage:      {"image_url", "big_prdt_img_url"},
	domain.FieldCautionDetails: {"caution", "사용상의주의사항"},
}

// aliasIndex maps a normalised key to its canonical field. It is built once.
var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]domain.Field {
	idx := make(map[string]domain.Field, len(domain.Fields)*2)
	for _, f := range domain.Fields {
		idx[normaliseKey(string(f))] = f
	}
	for f, aliases := range extraAliases {
		for _, alias := range aliases {
			idx[normaliseKey(alias)] = f
		}
	}
	return idx
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", ""))
}

// CanonicalField resolves a source key to a canonical field.
func CanonicalField(key string) (domain.Field, bool) {
	f, ok := aliasIndex[normaliseKey(key)]
	return f, ok
}

// MapFields converts a structured list item into a record. Unknown keys are
// dropped. Keys that spell the canonical name win over extra aliases.
func MapFields(fields map[string]string) domain.Record {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rec := domain.NewRecord()
	for _, primary := range []bool{true, false} {
		for _, key := range keys {
			f, ok := CanonicalField(key)
			if !ok || rec.Has(f) || (normaliseKey(key) == normaliseKey(string(f))) != primary {
				continue
			}
			if f == domain.FieldClassName {
				setClassification(&rec, fields[key])
				continue
			}
			rec.Set(f, fields[key])
		}
	}
	return rec
}

func lookupAlias(fields map[string]string, want domain.Field) string {
	for key, value := range fields {
		if f, ok := CanonicalField(key); ok && f == want && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
