package consistency

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed patterns.json
var defaultPatterns []byte

// ActionPattern is one forbidden pair of consecutive actions by the same player.
type ActionPattern struct {
	Invalid      [2]string `json:"invalid"`
	Reason       string    `json:"reason"`
	SuggestedFix string    `json:"suggested_fix"`
}

type patternFile struct {
	ActionSequences []ActionPattern `json:"action_sequences"`
}

// LoadPatterns decodes a pattern file in the embedded format.
func LoadPatterns(data []byte) ([]ActionPattern, error) {
	var f patternFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode action patterns: %w", err)
	}
	for i := range f.ActionSequences {
		p := &f.ActionSequences[i]
		p.Invalid[0] = NormalizeAction(p.Invalid[0])
		p.Invalid[1] = NormalizeAction(p.Invalid[1])
	}
	return f.ActionSequences, nil
}

// NormalizeAction maps analyzer spellings such as "Raises", "all in" or
// "ALL_IN" onto one canonical verb.
func NormalizeAction(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	a = strings.NewReplacer("_", "-", " ", "-").Replace(a)
	switch a {
	case "allin", "all-in", "shove", "jam":
		return "all-in"
	case "folds":
		return "fold"
	case "checks":
		return "check"
	case "calls":
		return "call"
	case "bets":
		return "bet"
	case "raises", "re-raise", "reraise", "3bet", "3-bet":
		return "raise"
	}
	return a
}
