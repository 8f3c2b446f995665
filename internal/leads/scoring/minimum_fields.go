package scoring

import "leadgate_backend/internal/leads/domain"

// Spanish field labels consumed by the portal UI for "missing data" prompts.
const (
	labelName   = "nombre"
	labelBudget = "presupuesto"
	labelZones  = "zonas"
	labelTiming = "timing"
)

// minimumFilledForScoring is the readiness gate: a lead can be scored once
// this many of the core fields are known. is_investor never counts toward
// readiness; it only contributes a bonus.
const minimumFilledForScoring = 4

// MinimumFieldsResult reports how close a lead is to being scoreable.
type MinimumFieldsResult struct {
	Ready         bool     `json:"ready"`
	FilledCount   int      `json:"filledCount"`
	MissingFields []string `json:"missingFields"`
}

// CheckMinimumFields counts the core qualification fields that are filled:
// name non-empty, budget with min or max, at least one zone, timing
// non-empty. Missing fields are reported with Spanish labels.
func CheckMinimumFields(fields domain.QualificationFields) MinimumFieldsResult {
	result := MinimumFieldsResult{MissingFields: []string{}}

	if fields.HasName() {
		result.FilledCount++
	} else {
		result.MissingFields = append(result.MissingFields, labelName)
	}

	if fields.Budget.IsFilled() {
		result.FilledCount++
	} else {
		result.MissingFields = append(result.MissingFields, labelBudget)
	}

	if len(fields.Zones) > 0 {
		result.FilledCount++
	} else {
		result.MissingFields = append(result.MissingFields, labelZones)
	}

	if fields.HasTiming() {
		result.FilledCount++
	} else {
		result.MissingFields = append(result.MissingFields, labelTiming)
	}

	result.Ready = result.FilledCount >= minimumFilledForScoring
	return result
}
