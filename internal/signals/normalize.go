// Package signals scores lead messages against curated Spanish lexical pattern tables.
//
// Every exported function is pure: the same text and history always yield the same signals.
// Text is compared case- and diacritic-insensitively after Normalize.
package signals

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases s, strips combining marks, collapses whitespace and trims.
// "¿Sí, uso   SHOPIFY?" becomes "¿si, uso shopify?".
func Normalize(s string) string {
	// transform.Chain keeps state, so build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lowered := strings.ToLower(s)
	out, _, err := transform.String(t, lowered)
	if err != nil {
		out = lowered
	}
	return strings.Join(strings.Fields(out), " ")
}

// Lexicon is an ordered table of phrases matched on word boundaries.
// A trailing '*' turns a phrase into a prefix ("agend*" matches "agendemos").
type Lexicon []phrase

type phrase struct {
	text string
	re   *regexp.Regexp
}

// NewLexicon normalizes and compiles phrases in order.
func NewLexicon(phrases ...string) Lexicon {
	l := make(Lexicon, 0, len(phrases))
	for _, p := range phrases {
		text := Normalize(p)
		var pattern string
		if strings.HasSuffix(text, "*") {
			text = strings.TrimSuffix(text, "*")
			pattern = `\b` + regexp.QuoteMeta(text) + `\w*`
		} else {
			pattern = `\b` + regexp.QuoteMeta(text) + `\b`
		}
		l = append(l, phrase{text: text, re: regexp.MustCompile(pattern)})
	}
	return l
}

// Matches returns every phrase of the table found in normalized, in table order.
func (l Lexicon) Matches(normalized string) []string {
	var found []string
	for _, p := range l {
		if p.re.MatchString(normalized) {
			found = append(found, p.text)
		}
	}
	return found
}

// MatchesEach matches every text on its own and returns the union in table order,
// so a phrase never spans two texts.
func (l Lexicon) MatchesEach(normalized []string) []string {
	var found []string
	for _, p := range l {
		for _, text := range normalized {
			if p.re.MatchString(text) {
				found = append(found, p.text)
				break
			}
		}
	}
	return found
}

// First returns the first phrase of the table found in normalized.
func (l Lexicon) First(normalized string) (string, bool) {
	for _, p := range l {
		if p.re.MatchString(normalized) {
			return p.text, true
		}
	}
	return "", false
}

// Any reports whether any phrase of the table is found in normalized.
func (l Lexicon) Any(normalized string) bool {
	_, ok := l.First(normalized)
	return ok
}

// Contains reports whether normalized text contains phrase on word boundaries.
func Contains(normalized, phrase string) bool {
	return NewLexicon(phrase).Any(normalized)
}

func words(normalized string) []string {
	return strings.Fields(normalized)
}
