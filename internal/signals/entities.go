package signals

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Entities are the lead facts recoverable from free text.
type Entities struct {
	Name           string `json:"name,omitempty"`
	Business       string `json:"business,omitempty"`
	HasOnlineStore *bool  `json:"hasOnlineStore,omitempty"`
	InvestsInAds   *bool  `json:"investsInAds,omitempty"`
}

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bme llamo (\w+)`),
		regexp.MustCompile(`\bmi nombre es (\w+)`),
		regexp.MustCompile(`\bsoy (\w+)`),
	}
	businessPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bvendo (\w+)`),
		regexp.MustCompile(`\btienda de (\w+)`),
		regexp.MustCompile(`\bnegocio de (\w+)`),
	}

	// Captures that are quantifiers or channels rather than names or products.
	nonEntityWords = map[string]bool{
		"nada": true, "online": true, "mucho": true, "poco": true, "bien": true,
		"mal": true, "harto": true, "por": true, "en": true, "de": true,
		"el": true, "la": true, "un": true, "una": true, "muy": true, "que": true,
		"yo": true, "bastante": true,
	}

	// "soy emprendedora" describes a role, not a name.
	rolePrefixes = []string{
		"emprendedor", "dueno", "duena", "vendedor", "comerciante", "empresari",
		"gerente", "fundador", "encargad", "administrador", "disenador", "artesan",
		"mama", "papa", "estudiante", "chilen",
	}

	onlineStorePresence = NewLexicon("tienda online", "ecommerce", "e-commerce", "pagina web", "vendo online", "tienda")
	adsInvestment       = NewLexicon("publicidad", "ads", "anuncios", "facebook ads", "meta ads", "invierto en")
)

// ExtractEntities applies the ordered pattern lists to text; the first acceptable match wins.
func ExtractEntities(text string) Entities {
	normalized := Normalize(text)
	var e Entities

	if name, ok := firstCapture(namePatterns, normalized, isRoleWord); ok {
		e.Name = capitalize(name)
	}
	if business, ok := firstCapture(businessPatterns, normalized, nil); ok {
		e.Business = business
	}

	switch {
	case storeAbsence.Any(normalized):
		e.HasOnlineStore = boolPtr(false)
	case onlineStorePresence.Any(normalized):
		e.HasOnlineStore = boolPtr(true)
	}
	if adsInvestment.Any(normalized) {
		e.InvestsInAds = boolPtr(true)
	}
	return e
}

func firstCapture(patterns []*regexp.Regexp, s string, reject func(string) bool) (string, bool) {
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if len(m) < 2 || nonEntityWords[m[1]] {
				continue
			}
			if reject != nil && reject(m[1]) {
				continue
			}
			return m[1], true
		}
	}
	return "", false
}

func isRoleWord(w string) bool {
	for _, p := range rolePrefixes {
		if strings.HasPrefix(w, p) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func boolPtr(b bool) *bool { return &b }
