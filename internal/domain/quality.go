package domain

import (
	"fmt"
	"strings"
)

// DefaultMinQuality is the share (percent) of important field groups a
// record must carry to be persisted.
const DefaultMinQuality = 30.0

// importantGroups are counted once each when any member is present.
var importantGroups = [][]Field{
	{FieldEntpName},
	{FieldClassName, FieldClassNo},
	{FieldEtcOtcName},
	{FieldItemImage},
	{FieldEfficacy},
	{FieldUseMethod},
	{FieldCautionDetails, FieldPrecautions, FieldWarning, FieldSideEffects, FieldInteractions},
}

// QualityScore returns the percentage of important field groups present.
func QualityScore(r Record) float64 {
	present := 0
	for _, group := range importantGroups {
		for _, f := range group {
			if r.Has(f) {
				present++
				break
			}
		}
	}
	return float64(present) / float64(len(importantGroups)) * 100
}

// Validate enforces the minimum shape of a persistable record and stores the
// computed quality score on r. The returned error wraps ErrValidation.
func Validate(r *Record, minQuality float64) error {
	var missing []string
	if r.Name() == "" {
		missing = append(missing, string(FieldItemName))
	}
	if r.SourceURL() == "" && r.Get(FieldItemSeq) == "" {
		missing = append(missing, string(FieldURL))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields %s", ErrValidation, strings.Join(missing, ", "))
	}

	if !r.Has(FieldEntpName) && !r.Has(FieldClassName) && !r.Has(FieldUseMethod) {
		return fmt.Errorf("%w: no manufacturer, classification or usage", ErrValidation)
	}

	r.QualityScore = QualityScore(*r)
	if r.QualityScore < minQuality {
		return fmt.Errorf("%w: quality score %.1f below %.1f", ErrValidation, r.QualityScore, minQuality)
	}
	return nil
}
