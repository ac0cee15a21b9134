package signals

import (
	"regexp"
	"strings"
)

// ConfirmationThreshold is the minimum confidence at which a Shopify detection counts as confirmed.
const ConfirmationThreshold = 0.8

// Platform is the e-commerce platform a lead runs on.
type Platform string

const (
	PlatformShopify Platform = "shopify"
	PlatformOther   Platform = "other"
	PlatformUnknown Platform = "unknown"
)

// Method names the detection tier that produced a platform signal.
type Method string

const (
	MethodStoreAbsence         Method = "store_absence"
	MethodNegation             Method = "negation"
	MethodCompetitor           Method = "competitor_detected"
	MethodExplicitConfirmation Method = "explicit_confirmation"
	MethodSingleWord           Method = "single_word"
	MethodShortResponse        Method = "short_response"
	MethodMention              Method = "mention_in_context"
	MethodNotDetected          Method = "not_detected"
)

// Disqualification reasons.
const (
	ReasonNotShopify    = "not_shopify"
	ReasonNoOnlineStore = "no_online_store"
)

// PlatformSignal is the outcome of scoring one message for a Shopify confirmation.
type PlatformSignal struct {
	Detected         bool    `json:"detected"`
	Confidence       float64 `json:"confidence"`
	Method           Method  `json:"method"`
	ShouldDisqualify bool    `json:"shouldDisqualify"`
	Reason           string  `json:"reason,omitempty"`
	Competitor       string  `json:"competitor,omitempty"`
}

// Platform returns the platform implied by the signal.
func (s PlatformSignal) Platform() Platform {
	switch {
	case s.Detected:
		return PlatformShopify
	case s.Method == MethodNegation || s.Method == MethodCompetitor:
		return PlatformOther
	default:
		return PlatformUnknown
	}
}

// Confirmed reports whether the signal is a Shopify detection at or above ConfirmationThreshold.
func (s PlatformSignal) Confirmed() bool {
	return s.Detected && s.Confidence >= ConfirmationThreshold
}

// Informative reports whether the signal says anything about the platform or eligibility.
func (s PlatformSignal) Informative() bool {
	return s.Detected || s.ShouldDisqualify
}

const (
	maxShortResponseWords = 5
	maxMentionWords       = 15
)

var (
	storeAbsence = NewLexicon(
		"no tengo tienda",
		"no tengo una tienda",
		"no tengo tienda online",
		"no vendo online",
		"no vendo por internet",
		"no tengo pagina",
	)

	shopifyNegations = []*regexp.Regexp{
		regexp.MustCompile(`\bno\s+(uso|tengo|es|tenemos)\s+shopify\b`),
		regexp.MustCompile(`\bsin\s+shopify\b`),
		regexp.MustCompile(`\bno\s+shopify\b`),
	}

	competitors = NewLexicon(
		"woocommerce",
		"woo commerce",
		"magento",
		"prestashop",
		"vtex",
		"jumpseller",
		"tienda nube",
		"mercado shops",
		"mercadoshops",
		"wordpress",
	)

	shopifyExplicit = []*regexp.Regexp{
		regexp.MustCompile(`\b(uso|tengo|con|en|mi)\s+shopify\b`),
		regexp.MustCompile(`\bshopify\s+(si|es|uso|tengo)\b`),
		regexp.MustCompile(`\btienda\s+(en|con|de)\s+shopify\b`),
		regexp.MustCompile(`\besta\s+(en|con)\s+shopify\b`),
	}

	shopifySingle = regexp.MustCompile(`^\W*shopify\W*$`)
)

// platformTier is one row of the precedence table; the first matching tier wins.
type platformTier struct {
	method     Method
	confidence float64
	detected   bool
	disqualify bool
	reason     string
	match      func(normalized string, wordCount int) (competitor string, ok bool)
}

var platformTiers = []platformTier{
	{
		method: MethodStoreAbsence, confidence: 0.90, disqualify: true, reason: ReasonNoOnlineStore,
		match: func(n string, _ int) (string, bool) { return "", storeAbsence.Any(n) },
	},
	{
		method: MethodNegation, confidence: 0.95, disqualify: true, reason: ReasonNotShopify,
		match: func(n string, _ int) (string, bool) { return "", anyRegexp(shopifyNegations, n) },
	},
	{
		method: MethodCompetitor, confidence: 0.90, disqualify: true, reason: ReasonNotShopify,
		match: func(n string, _ int) (string, bool) { return competitors.First(n) },
	},
	{
		method: MethodExplicitConfirmation, confidence: 0.95, detected: true,
		match: func(n string, _ int) (string, bool) { return "", anyRegexp(shopifyExplicit, n) },
	},
	{
		method: MethodSingleWord, confidence: 0.85, detected: true,
		match: func(n string, _ int) (string, bool) { return "", shopifySingle.MatchString(n) },
	},
	{
		method: MethodShortResponse, confidence: 0.90, detected: true,
		match: func(n string, wc int) (string, bool) {
			return "", wc <= maxShortResponseWords && strings.Contains(n, "shopify")
		},
	},
	{
		method: MethodMention, confidence: 0.70, detected: true,
		match: func(n string, wc int) (string, bool) {
			return "", wc <= maxMentionWords && strings.Contains(n, "shopify")
		},
	},
}

// DetectPlatform scores a single message against the platform tier table.
func DetectPlatform(text string) PlatformSignal {
	normalized := Normalize(text)
	wc := len(words(normalized))
	for _, tier := range platformTiers {
		competitor, ok := tier.match(normalized, wc)
		if !ok {
			continue
		}
		return PlatformSignal{
			Detected:         tier.detected,
			Confidence:       tier.confidence,
			Method:           tier.method,
			ShouldDisqualify: tier.disqualify,
			Reason:           tier.reason,
			Competitor:       competitor,
		}
	}
	return PlatformSignal{Method: MethodNotDetected}
}

func anyRegexp(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
