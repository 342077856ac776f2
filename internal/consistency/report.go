package consistency

import (
	"fmt"

	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// Recommendation thresholds. A count must exceed the threshold to fire.
const (
	duplicateCardThreshold = 2
	potErrorThreshold      = 3
	criticalErrorThreshold = 5
	lowConfidence          = 0.8
)

func buildReport(inputs []Input, errs []models.HandError) *models.ErrorReport {
	r := &models.ErrorReport{
		TotalHands:   len(inputs),
		TotalErrors:  len(errs),
		Errors:       errs,
		ErrorsByType: make(map[string]int),
		ErrorsByHand: make(map[string][]models.HandError),
		ErrorsBySeverity: map[string]int{
			models.SeverityCritical: 0,
			models.SeverityHigh:     0,
			models.SeverityMedium:   0,
			models.SeverityLow:      0,
		},
	}
	if r.Errors == nil {
		r.Errors = []models.HandError{}
	}
	for _, e := range errs {
		r.ErrorsByType[e.Type]++
		r.ErrorsByHand[e.HandID] = append(r.ErrorsByHand[e.HandID], e)
		r.ErrorsBySeverity[e.Severity]++
	}

	var sum float64
	for _, in := range inputs {
		if in.Hand.Confidence != nil {
			sum += *in.Hand.Confidence
			r.ConfidenceSamples++
		}
	}
	if r.ConfidenceSamples > 0 {
		r.AverageConfidence = sum / float64(r.ConfidenceSamples)
	}

	r.RecommendedActions = recommend(r, inputs)
	return r
}

func recommend(r *models.ErrorReport, inputs []Input) []models.Recommendation {
	recs := []models.Recommendation{}
	if len(inputs) == 0 {
		return recs
	}

	if n := r.ErrorsByType[models.ErrorTypeDuplicateCard]; n > duplicateCardThreshold {
		recs = append(recs, models.Recommendation{
			Priority:      "high",
			Action:        "Re-analyze with stricter card recognition",
			Reason:        fmt.Sprintf("Found %d duplicate card errors", n),
			AffectedHands: handsWith(r.Errors, func(e models.HandError) bool { return e.Type == models.ErrorTypeDuplicateCard }),
		})
	}

	if n := r.ErrorsByType[models.ErrorTypePotInconsistency]; n > potErrorThreshold {
		recs = append(recs, models.Recommendation{
			Priority:      "high",
			Action:        "Add explicit pot calculation instructions to the extraction prompt",
			Reason:        fmt.Sprintf("Found %d pot inconsistencies", n),
			AffectedHands: handsWith(r.Errors, func(e models.HandError) bool { return e.Type == models.ErrorTypePotInconsistency }),
		})
	}

	if r.ConfidenceSamples > 0 && r.AverageConfidence < lowConfidence {
		var affected []string
		for _, in := range inputs {
			if in.Hand.Confidence != nil && *in.Hand.Confidence < lowConfidence {
				affected = append(affected, in.ID)
			}
		}
		recs = append(recs, models.Recommendation{
			Priority:      "medium",
			Action:        "Re-analyze low-confidence hands",
			Reason:        fmt.Sprintf("Average confidence is low: %.1f%%", r.AverageConfidence*100),
			AffectedHands: affected,
		})
	}

	if n := r.ErrorsBySeverity[models.SeverityCritical]; n > criticalErrorThreshold {
		recs = append(recs, models.Recommendation{
			Priority:      "high",
			Action:        "Manual review required for critical errors",
			Reason:        fmt.Sprintf("Found %d critical errors", n),
			AffectedHands: handsWith(r.Errors, func(e models.HandError) bool { return e.Severity == models.SeverityCritical }),
		})
	}

	return recs
}

// handsWith lists each matching hand once, in first-seen order.
func handsWith(errs []models.HandError, match func(models.HandError) bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range errs {
		if match(e) && !seen[e.HandID] {
			seen[e.HandID] = true
			out = append(out, e.HandID)
		}
	}
	return out
}
