package validator

import (
	"regexp"
	"strings"
)

var (
	boldStars      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderscore = regexp.MustCompile(`__(.+?)__`)
	strikethrough  = regexp.MustCompile(`~~(.+?)~~`)
	italicStars    = regexp.MustCompile(`\*([^*\n]+)\*`)
	extraNewlines  = regexp.MustCompile(`\n{3,}`)
)

// Format strips markdown emphasis and collapses runs of blank lines.
// It is applied to the accepted reply only, never to stored history.
func Format(reply string) string {
	out := strings.ReplaceAll(reply, "\r\n", "\n")
	out = boldStars.ReplaceAllString(out, "$1")
	out = boldUnderscore.ReplaceAllString(out, "$1")
	out = strikethrough.ReplaceAllString(out, "$1")
	out = italicStars.ReplaceAllString(out, "$1")
	out = strings.ReplaceAll(out, "**", "")
	out = extraNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
