package service

import (
	"fmt"
	"strings"

	"github.com/ecosense/enviro-api/internal/models"
	"github.com/ecosense/enviro-api/pkg/random"
)

// Confidence thresholds for the verdict buckets. Boundary values belong
// to the higher bucket.
const (
	HighConfidenceThreshold   = 0.75
	MediumConfidenceThreshold = 0.50
)

// DecisionPolicy maps classifier output to a verdict and a
// human-readable reason. It holds no mutable state; randomness for the
// high-confidence branch is injected so the mapping stays reproducible.
type DecisionPolicy struct {
	verifyProbability float64
	rand              random.Source
}

// NewDecisionPolicy constructs a policy. verifyProbability is the
// chance a high-confidence report auto-verifies instead of queueing for
// review.
func NewDecisionPolicy(verifyProbability float64, rand random.Source) *DecisionPolicy {
	if verifyProbability <= 0 || verifyProbability > 1 {
		verifyProbability = 0.7
	}
	if rand == nil {
		rand = random.TimeSeeded()
	}
	return &DecisionPolicy{verifyProbability: verifyProbability, rand: rand}
}

// Decide resolves a verdict for the given classification. A missing
// classification must be passed as the zero value, which lands in the
// low-confidence bucket, so a report can never be left undecided.
func (p *DecisionPolicy) Decide(category models.Category, classification models.Classification) (models.ReportStatus, string) {
	confidence := classification.Confidence

	switch {
	case confidence >= HighConfidenceThreshold:
		if p.rand.Float64() < p.verifyProbability {
			return models.StatusVerified, fmt.Sprintf(
				"High AI confidence (%.2f). Visual indicators strongly match the reported category.", confidence)
		}
		return models.StatusNeedsReview, fmt.Sprintf(
			"High AI confidence (%.2f) but residual uncertainty remains; queued for manual confirmation.", confidence)

	case confidence >= MediumConfidenceThreshold:
		return models.StatusNeedsReview, fmt.Sprintf(
			"Moderate AI confidence (%.2f). Requires manual confirmation for accuracy.", confidence)

	default:
		reason := fmt.Sprintf("Insufficient visual evidence (confidence %.2f).", confidence)
		if contradicting := contradictingIndicators(category, classification.Indicators); len(contradicting) > 0 {
			reason += fmt.Sprintf(" Detected indicators did not support the claimed category: %s.", strings.Join(contradicting, ", "))
		}
		return models.StatusRejected, reason
	}
}

// categoryIndicatorKeywords maps each category to indicator substrings
// that support it. An indicator matching none of the claimed category's
// keywords counts as contradicting evidence in rejection reasons.
var categoryIndicatorKeywords = map[models.Category][]string{
	models.CategoryAir:          {"smog", "smoke", "haze", "emission", "exhaust", "air"},
	models.CategoryGarbage:      {"trash", "litter", "waste", "dump", "garbage"},
	models.CategoryConstruction: {"crane", "scaffold", "debris", "excavat", "cement", "construction"},
	models.CategoryWater:        {"sewage", "spill", "foam", "discolor", "effluent", "water"},
}

func contradictingIndicators(category models.Category, indicators []string) []string {
	keywords := categoryIndicatorKeywords[category]
	var contradicting []string
	for _, indicator := range indicators {
		lowered := strings.ToLower(indicator)
		supports := false
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) {
				supports = true
				break
			}
		}
		if !supports {
			contradicting = append(contradicting, indicator)
		}
	}
	return contradicting
}
