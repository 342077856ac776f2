package poker

import (
	"math"
	"strconv"
	"strings"
)

// Blinds is the result of parsing a stakes string. Nil fields were absent
// or unparseable.
type Blinds struct {
	SmallBlind *float64
	BigBlind   *float64
	Ante       *float64
}

// ParseStakes reads strings like "50k/100k/100k ante" or "1M/2M".
// The smaller of the first two values is taken as the small blind.
func ParseStakes(stakes string) Blinds {
	var out Blinds
	if strings.TrimSpace(stakes) == "" {
		return out
	}
	parts := strings.Split(strings.ToLower(stakes), "/")

	var sb, bb float64
	if len(parts) > 0 {
		sb = ParseChipAmount(parts[0])
	}
	if len(parts) > 1 {
		bb = ParseChipAmount(parts[1])
	}
	if sb > 0 && bb > 0 {
		lo, hi := math.Min(sb, bb), math.Max(sb, bb)
		out.SmallBlind, out.BigBlind = &lo, &hi
	}

	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		ante := ParseChipAmount(strings.ReplaceAll(parts[2], "ante", ""))
		out.Ante = &ante
	}
	return out
}

// ParseChipAmount parses a leading number with an optional k or m suffix
// and truncates to whole chips. Unparseable input yields 0.
func ParseChipAmount(s string) float64 {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1_000
	case strings.HasSuffix(s, "m"):
		mult = 1_000_000
	}
	v, err := strconv.ParseFloat(leadingNumber(s), 64)
	if err != nil {
		return 0
	}
	return math.Floor(v * mult)
}

func leadingNumber(s string) string {
	end := 0
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			end = i + 1
		case r == '.' && !dot:
			dot = true
		case r == ',':
		default:
			return strings.ReplaceAll(s[:end], ",", "")
		}
	}
	return strings.ReplaceAll(s[:end], ",", "")
}
