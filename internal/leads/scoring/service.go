// Package scoring computes qualification scores for leads. Scoring is a pure,
// deterministic function of the accumulated qualification fields, the offer
// under consideration and the conversation context.
package scoring

import (
	"math"
	"strings"
	"time"

	"leadgate_backend/internal/leads/domain"
)

const (
	// scoreVersion tracks the scoring model for debugging and analysis.
	// Bump this when changing scoring logic significantly.
	scoreVersion = "2026-v1"

	// Maximum contribution per component. The maxima sum to 100 so a
	// perfect lead lands exactly at the top of the scale.
	maxBudgetContribution       = 25.0 // offer price range vs requested budget
	maxZoneContribution         = 20.0 // offer zone within requested zones
	maxTimingContribution       = 20.0 // purchase urgency
	maxCompletenessContribution = 15.0 // optional fields present
	investorBonus               = 5.0  // flat bonus for investors
	maxEngagementContribution   = 15.0 // message volume and response speed
)

// OfferContext is the slice of offer data scoring needs: the commercial
// price range and the zones the offer covers.
type OfferContext struct {
	PriceMin int64
	PriceMax int64
	Zones    []string
}

// ConversationContext carries engagement signals from the conversation.
type ConversationContext struct {
	MessageCount    int
	AvgResponseTime time.Duration
}

// Breakdown holds the named component scores. Components are independently
// retrievable for explainability on testing dashboards and developer-facing
// audit views.
type Breakdown struct {
	Budget        float64 `json:"budget"`
	Zone          float64 `json:"zone"`
	Timing        float64 `json:"timing"`
	Completeness  float64 `json:"completeness"`
	InvestorBonus float64 `json:"investor_bonus"`
	Engagement    float64 `json:"engagement"`
}

// Result is the outcome of scoring a lead against an offer.
type Result struct {
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	Version   string    `json:"version"`
}

// CalculateLeadScore produces the 0-100 qualification score with a component
// breakdown. The final score is rounded to the nearest integer and clamped
// to [0,100].
func CalculateLeadScore(fields domain.QualificationFields, offer OfferContext, convo ConversationContext) Result {
	breakdown := Breakdown{
		Budget:       scoreBudget(fields.Budget, offer),
		Zone:         scoreZone(fields.Zones, offer.Zones),
		Timing:       scoreTiming(fields),
		Completeness: scoreCompleteness(fields),
		Engagement:   scoreEngagement(convo),
	}
	if fields.IsInvestor != nil && *fields.IsInvestor {
		breakdown.InvestorBonus = investorBonus
	}

	total := breakdown.Budget + breakdown.Zone + breakdown.Timing +
		breakdown.Completeness + breakdown.InvestorBonus + breakdown.Engagement

	score := int(math.Round(total))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{Score: score, Breakdown: breakdown, Version: scoreVersion}
}

// scoreBudget measures the distance of the offer price range from the
// requested budget. A budget that overlaps the offer range scores full
// points; the score decays linearly with relative distance and bottoms out
// at zero when the gap exceeds half the nearest offer bound.
func scoreBudget(budget domain.Budget, offer OfferContext) float64 {
	if !budget.IsFilled() || offer.PriceMin <= 0 {
		return 0
	}

	// Treat one-sided budgets as open intervals.
	reqMin := int64(0)
	if budget.Min != nil {
		reqMin = *budget.Min
	}
	reqMax := int64(math.MaxInt64)
	if budget.Max != nil {
		reqMax = *budget.Max
	}

	offerMax := offer.PriceMax
	if offerMax < offer.PriceMin {
		offerMax = offer.PriceMin
	}

	// Ranges overlap: the budget can buy something in this offer.
	if reqMax >= offer.PriceMin && reqMin <= offerMax {
		return maxBudgetContribution
	}

	var gap, reference float64
	if reqMax < offer.PriceMin {
		gap = float64(offer.PriceMin - reqMax)
		reference = float64(offer.PriceMin)
	} else {
		gap = float64(reqMin - offerMax)
		reference = float64(offerMax)
	}

	ratio := gap / (reference / 2)
	if ratio >= 1 {
		return 0
	}
	return maxBudgetContribution * (1 - ratio)
}

// scoreZone awards full points when any offer zone appears in the requested
// zones (case-insensitive), half points when the lead named zones that all
// miss, and nothing when no zone is known.
func scoreZone(requested, offerZones []string) float64 {
	if len(requested) == 0 {
		return 0
	}

	want := make(map[string]struct{}, len(requested))
	for _, z := range requested {
		want[strings.ToLower(strings.TrimSpace(z))] = struct{}{}
	}

	for _, z := range offerZones {
		if _, ok := want[strings.ToLower(strings.TrimSpace(z))]; ok {
			return maxZoneContribution
		}
	}

	return maxZoneContribution / 2
}

// timingScores maps normalized timing answers to urgency. Closer timing
// scores higher.
var timingScores = map[string]float64{
	"inmediato":    1.0,
	"1-3 meses":    0.85,
	"3-6 meses":    0.6,
	"6-12 meses":   0.35,
	"más de 1 año": 0.15,
	"mas de 1 año": 0.15,
}

func scoreTiming(fields domain.QualificationFields) float64 {
	if !fields.HasTiming() {
		return 0
	}

	key := strings.ToLower(strings.TrimSpace(*fields.Timing))
	if factor, ok := timingScores[key]; ok {
		return maxTimingContribution * factor
	}

	// Unrecognized but present timing still signals some intent.
	return maxTimingContribution * 0.25
}

// scoreCompleteness rewards the fraction of optional fields present
// (bedrooms, financing, both budget bounds, a second zone). Core gate
// fields are scored by their own components.
func scoreCompleteness(fields domain.QualificationFields) float64 {
	const optionalFieldCount = 4

	filled := 0
	if fields.Bedrooms != nil {
		filled++
	}
	if fields.Financing != nil && strings.TrimSpace(*fields.Financing) != "" {
		filled++
	}
	if fields.Budget.Min != nil && fields.Budget.Max != nil {
		filled++
	}
	if len(fields.Zones) >= 2 {
		filled++
	}

	return maxCompletenessContribution * float64(filled) / optionalFieldCount
}

// scoreEngagement derives a score from message count and response time with
// diminishing returns: each message is worth less than the last, and fast
// responders get a speed bonus.
func scoreEngagement(convo ConversationContext) float64 {
	if convo.MessageCount <= 0 {
		return 0
	}

	// 1 - 0.8^n approaches 1 as messages accumulate.
	volume := 1 - math.Pow(0.8, float64(convo.MessageCount))

	speed := 0.5
	if convo.AvgResponseTime > 0 {
		switch {
		case convo.AvgResponseTime <= 2*time.Minute:
			speed = 1.0
		case convo.AvgResponseTime <= 15*time.Minute:
			speed = 0.8
		case convo.AvgResponseTime <= 2*time.Hour:
			speed = 0.6
		case convo.AvgResponseTime <= 24*time.Hour:
			speed = 0.4
		default:
			speed = 0.2
		}
	}

	return maxEngagementContribution * (0.7*volume + 0.3*speed)
}

// SuggestDisqualification picks the disqualification category for a lead
// whose score fell below the tenant threshold, based on which component
// failed hardest.
func SuggestDisqualification(fields domain.QualificationFields, offer OfferContext, breakdown Breakdown) domain.DisqualificationCategory {
	if breakdown.Budget == 0 && fields.Budget.IsFilled() && offer.PriceMin > 0 {
		reqMax := int64(math.MaxInt64)
		if fields.Budget.Max != nil {
			reqMax = *fields.Budget.Max
		}
		if reqMax < offer.PriceMin {
			// Offer is priced above anything the lead can spend.
			return domain.DisqualifiedPriceTooHigh
		}
		return domain.DisqualifiedPriceTooLow
	}

	if len(fields.Zones) > 0 && breakdown.Zone < maxZoneContribution {
		return domain.DisqualifiedWrongZone
	}

	if breakdown.Engagement == 0 {
		return domain.DisqualifiedNotInterested
	}

	return domain.DisqualifiedOther
}
