package export

import (
	"strings"
	"unicode"
)

// Platforms truncate or reject long titles; 100 runes is the strictest
// limit (YouTube) across the supported set.
const maxTitleLen = 100

// sanitizeTitle strips control characters and angle brackets (rejected by
// the YouTube API) and caps the title length before it is handed to any
// adapter.
func sanitizeTitle(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) || r == '<' || r == '>' {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	runes := []rune(cleaned)
	if len(runes) > maxTitleLen {
		cleaned = strings.TrimSpace(string(runes[:maxTitleLen]))
	}
	return cleaned
}
