package analyzer

import "strings"

// Platforms the analyzer backend dispatches on.
const (
	PlatformEPT    = "ept"
	PlatformTriton = "triton"
	PlatformWSOP   = "wsop"
)

var platformAliases = map[string]string{
	"ept":        PlatformEPT,
	"pokerstars": PlatformEPT,
	"triton":     PlatformTriton,
	"hustler":    PlatformTriton,
	"wsop":       PlatformWSOP,
}

// ResolvePlatform maps a caller-facing platform name onto one the backend
// understands. Unknown or empty names fall back to def.
func ResolvePlatform(name, def string) string {
	if p, ok := platformAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	if p, ok := platformAliases[strings.ToLower(def)]; ok {
		return p
	}
	return PlatformEPT
}

// KnownPlatform reports whether name is a recognized platform or alias.
func KnownPlatform(name string) bool {
	_, ok := platformAliases[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
