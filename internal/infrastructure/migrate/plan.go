// Package migrate rebuilds the consolidated drug table from several source
// tables joined on their natural keys.
package migrate

import (
	"fmt"
	"regexp"

	"MedicineCrawler/internal/domain"
)

// Source is one input table of the consolidation.
type Source struct {
	Table string
	// Key is the natural key column. The destination carries a column of
	// the same name.
	Key    string
	Fields []string
	// Priority decides conflicts: a field set by a higher priority source
	// is never overwritten by a lower one.
	Priority int
}

// Plan describes a full rebuild.
type Plan struct {
	Destination string
	// Relation is an optional bridge table holding the key columns of the
	// sources. Without it, sources sharing a key column are joined directly.
	Relation string
	Sources  []Source
}

// DefaultPlan joins identification, efficacy and dosage data through
// drug_relation into integrated_drug_info.
func DefaultPlan() Plan {
	return Plan{
		Destination: "integrated_drug_info",
		Relation:    "drug_relation",
		Sources: []Source{
			{
				Table: "drug_identification",
				Key:   "item_seq",
				Fields: []string{
					"item_name", "item_eng_name", "entp_name", "class_no", "class_name",
					"etc_otc_name", "drug_shape", "color_class1", "color_class2",
					"print_front", "print_back", "leng_long", "leng_short",
					"item_image", "mark_code_front_img", "mark_code_back_img",
					"form_code_name", "chart", "item_permit_date", "edi_code",
				},
				Priority: 3,
			},
			{
				Table:    "drug_component_efficacy",
				Key:      "gnl_nm_cd",
				Fields:   []string{"gnl_nm", "meft_div_no", "fomn_tp_nm", "injc_pth_nm", "iqty_txt"},
				Priority: 2,
			},
			{
				Table: "drug_component_dosage",
				Key:   "cpnt_cd",
				Fields: []string{
					"drug_cpnt_kor_nm", "drug_cpnt_eng_nm", "foml_nm",
					"dosage_route_code", "day_max_dosg_qy", "day_max_dosg_qy_unit",
				},
				Priority: 1,
			},
		},
	}
}

var identExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every name is a plain SQL identifier, since table and
// column names are interpolated into statements.
func (p Plan) Validate() error {
	if len(p.Sources) == 0 {
		return fmt.Errorf("%w: migration plan has no sources", domain.ErrSetup)
	}
	names := []string{p.Destination}
	if p.Relation != "" {
		names = append(names, p.Relation)
	}
	for _, s := range p.Sources {
		names = append(names, s.Table, s.Key)
		names = append(names, s.Fields...)
	}
	for _, n := range names {
		if !identExpr.MatchString(n) {
			return fmt.Errorf("%w: invalid identifier %q in migration plan", domain.ErrSetup, n)
		}
	}
	return nil
}

// KeyColumns returns the distinct key columns in source order.
func (p Plan) KeyColumns() []string {
	return distinct(func(yield func(string)) {
		for _, s := range p.Sources {
			yield(s.Key)
		}
	})
}

// DestinationColumns returns key columns followed by every field.
func (p Plan) DestinationColumns() []string {
	keys := p.KeyColumns()
	return distinct(func(yield func(string)) {
		for _, k := range keys {
			yield(k)
		}
		for _, s := range p.Sources {
			for _, f := range s.Fields {
				yield(f)
			}
		}
	})
}

func distinct(each func(yield func(string))) []string {
	seen := map[string]bool{}
	var out []string
	each(func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	})
	return out
}
