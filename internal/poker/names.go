package poker

import "strings"

// NormalizeName lowercases a player name and drops everything outside
// a-z and 0-9. The result is the player identity key.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
