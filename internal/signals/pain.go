package signals

import (
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// PainLevel is the severity of the problems a lead has expressed.
type PainLevel string

const (
	PainNone   PainLevel = "none"
	PainLow    PainLevel = "low"
	PainMedium PainLevel = "medium"
	PainHigh   PainLevel = "high"
)

// Rank orders pain levels so they can be compared and folded with max.
func (l PainLevel) Rank() int {
	switch l {
	case PainLow:
		return 1
	case PainMedium:
		return 2
	case PainHigh:
		return 3
	default:
		return 0
	}
}

// MaxPain returns the more severe of a and b.
func MaxPain(a, b PainLevel) PainLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return PainNone
	}
	return a
}

// PainSignal is the outcome of scoring the lead's messages for pain.
type PainSignal struct {
	Level                  PainLevel `json:"level"`
	Confidence             float64   `json:"confidence"`
	Signals                []string  `json:"signals,omitempty"`
	ExpressedInLastMessage bool      `json:"expressedInLastMessage"`
	// Frustration is derived from how many phrases matched, independent of their severity.
	Frustration PainLevel `json:"frustration"`
}

var painTable = []struct {
	level      PainLevel
	confidence float64
	lexicon    Lexicon
}{
	{
		level: PainHigh, confidence: 0.95,
		lexicon: NewLexicon(
			"no vendo", "no estoy vendiendo", "no logro vender", "no funciona",
			"no me funciona", "nada funciona", "frustrado", "cansado", "harto",
			"pierdo plata", "pierdo dinero", "gasto mucho", "cayeron las ventas",
			"bajaron las ventas",
		),
	},
	{
		level: PainMedium, confidence: 0.80,
		lexicon: NewLexicon(
			"no me va bien", "me va mal", "ventas bajas", "pocas ventas",
			"resultados malos", "ads no funcionan", "publicidad no funciona",
			"no veo resultados", "sin resultados", "no compran", "no me compran",
		),
	},
	{
		level: PainLow, confidence: 0.60,
		lexicon: NewLexicon(
			"no se", "no lo se", "confundido", "necesito ayuda",
			"me pueden ayudar", "quiero mejorar", "quiero optimizar",
		),
	},
}

// DetectPain scores the lead's own words (history plus text) against the pain lexicon.
// Each message is matched separately. Levels are checked high to low over the union of
// hits; the first level with any match wins.
func DetectPain(text string, history []models.Message) PainSignal {
	parts := make([]string, 0, len(history)+1)
	for _, m := range history {
		if m.IsUser() {
			parts = append(parts, Normalize(m.Content))
		}
	}
	last := Normalize(text)
	parts = append(parts, last)

	for _, row := range painTable {
		found := row.lexicon.MatchesEach(parts)
		if len(found) == 0 {
			continue
		}
		inLast := false
		for _, s := range found {
			if Contains(last, s) {
				inLast = true
				break
			}
		}
		return PainSignal{
			Level:                  row.level,
			Confidence:             row.confidence,
			Signals:                found,
			ExpressedInLastMessage: inLast,
			Frustration:            frustrationScore(len(found)),
		}
	}
	return PainSignal{Level: PainNone, Frustration: PainNone}
}

func frustrationScore(signals int) PainLevel {
	switch {
	case signals >= 3:
		return PainHigh
	case signals == 2:
		return PainMedium
	case signals == 1:
		return PainLow
	default:
		return PainNone
	}
}
