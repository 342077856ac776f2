package models

// Error types emitted by the consistency validator.
const (
	ErrorTypeDuplicateCard      = "duplicate_card"
	ErrorTypePotInconsistency   = "pot_inconsistency"
	ErrorTypeStackMismatch      = "stack_mismatch"
	ErrorTypeInvalidActionOrder = "invalid_action_order"
	ErrorTypeInvalidCard        = "invalid_card"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// HandError is one structural or arithmetic problem found in a hand.
type HandError struct {
	Type           string   `json:"type"`
	HandID         string   `json:"hand_id"`
	Message        string   `json:"message"`
	Severity       string   `json:"severity"`
	SuggestedFix   string   `json:"suggested_fix"`
	AffectedFields []string `json:"affected_fields"`
}

// Recommendation is advisory follow-up derived from an ErrorReport.
type Recommendation struct {
	Priority      string   `json:"priority"`
	Action        string   `json:"action"`
	Reason        string   `json:"reason"`
	AffectedHands []string `json:"affected_hands"`
}

// ErrorReport aggregates validator findings over a batch of hands.
// It is computed on demand and never stored as the source of truth.
type ErrorReport struct {
	TotalHands         int                    `json:"total_hands"`
	TotalErrors        int                    `json:"total_errors"`
	Errors             []HandError            `json:"errors"`
	ErrorsByType       map[string]int         `json:"errors_by_type"`
	ErrorsByHand       map[string][]HandError `json:"errors_by_hand"`
	ErrorsBySeverity   map[string]int         `json:"errors_by_severity"`
	AverageConfidence  float64                `json:"average_confidence"`
	ConfidenceSamples  int                    `json:"confidence_samples"`
	RecommendedActions []Recommendation       `json:"recommended_actions"`
}

// Summary trims the report down to what is kept on a job record.
func (r *ErrorReport) Summary() *ConsistencySummary {
	return &ConsistencySummary{
		TotalErrors:       r.TotalErrors,
		ErrorsByType:      r.ErrorsByType,
		ErrorsBySeverity:  r.ErrorsBySeverity,
		AverageConfidence: r.AverageConfidence,
		Recommendations:   r.RecommendedActions,
	}
}
