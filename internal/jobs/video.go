package jobs

import (
	"regexp"
	"strings"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&\n?#]+)`),
	regexp.MustCompile(`youtube\.com/embed/([^&\n?#]+)`),
}

// ExtractVideoID returns the YouTube id from a watch, short or embed URL.
func ExtractVideoID(url string) (string, bool) {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			if id := strings.TrimSpace(m[1]); id != "" {
				return id, true
			}
		}
	}
	return "", false
}
