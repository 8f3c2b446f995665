package domain

import "strings"

// Budget is the requested purchase budget range. Either bound may be absent.
type Budget struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// IsFilled reports whether at least one bound is known.
func (b Budget) IsFilled() bool {
	return b.Min != nil || b.Max != nil
}

// QualificationFields is the partial record accumulated across a
// conversation. Merge semantics are append-only: new extraction results
// overlay but never erase previously known non-null fields unless explicitly
// corrected by a newer non-null value.
type QualificationFields struct {
	Name       *string  `json:"name,omitempty"`
	Budget     Budget   `json:"budget"`
	Zones      []string `json:"zones,omitempty"`
	Timing     *string  `json:"timing,omitempty"`
	Bedrooms   *int     `json:"bedrooms,omitempty"`
	IsInvestor *bool    `json:"isInvestor,omitempty"`
	Financing  *string  `json:"financing,omitempty"`
}

// Merge overlays extracted values onto the accumulated record. A non-nil
// (or non-empty, for zones) overlay value replaces the stored one; nil
// overlay values keep what is already known.
func (f QualificationFields) Merge(overlay QualificationFields) QualificationFields {
	merged := f

	if overlay.Name != nil && strings.TrimSpace(*overlay.Name) != "" {
		merged.Name = overlay.Name
	}
	if overlay.Budget.Min != nil {
		merged.Budget.Min = overlay.Budget.Min
	}
	if overlay.Budget.Max != nil {
		merged.Budget.Max = overlay.Budget.Max
	}
	if len(overlay.Zones) > 0 {
		merged.Zones = normalizeZones(overlay.Zones)
	}
	if overlay.Timing != nil && strings.TrimSpace(*overlay.Timing) != "" {
		merged.Timing = overlay.Timing
	}
	if overlay.Bedrooms != nil {
		merged.Bedrooms = overlay.Bedrooms
	}
	if overlay.IsInvestor != nil {
		merged.IsInvestor = overlay.IsInvestor
	}
	if overlay.Financing != nil && strings.TrimSpace(*overlay.Financing) != "" {
		merged.Financing = overlay.Financing
	}

	return merged
}

// HasName reports whether a non-empty name is known.
func (f QualificationFields) HasName() bool {
	return f.Name != nil && strings.TrimSpace(*f.Name) != ""
}

// HasTiming reports whether a non-empty timing is known.
func (f QualificationFields) HasTiming() bool {
	return f.Timing != nil && strings.TrimSpace(*f.Timing) != ""
}

func normalizeZones(zones []string) []string {
	out := make([]string, 0, len(zones))
	seen := make(map[string]struct{}, len(zones))
	for _, z := range zones {
		trimmed := strings.TrimSpace(z)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
