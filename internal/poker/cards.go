// Package poker holds small, dependency-free helpers shared by the hand
// persister and the consistency validator.
package poker

import "strings"

const (
	ranks = "23456789TJQKA"
	suits = "shdc"
)

// IsValidCard reports whether c is exactly one rank followed by one suit,
// for example "As" or "Td".
func IsValidCard(c string) bool {
	return len(c) == 2 && strings.IndexByte(ranks, c[0]) >= 0 && strings.IndexByte(suits, c[1]) >= 0
}

// CardProblem describes why c is not a valid card, or returns "" if it is.
func CardProblem(c string) string {
	switch {
	case len(c) != 2:
		return "card must be exactly two characters"
	case strings.IndexByte(ranks, c[0]) < 0:
		return "invalid rank " + string(c[0])
	case strings.IndexByte(suits, c[1]) < 0:
		return "invalid suit " + string(c[1])
	}
	return ""
}
