package memory

import "github.com/BTreeMap/LeadPipe/internal/signals"

// Conversion score weights.
const (
	weightShopify          = 30
	weightManyPainPoints   = 40
	weightOnePainPoint     = 20
	weightHighEngagement   = 10
	weightInvestsInAds     = 10
	weightFrustratedTone   = 10
	penaltyPositiveSignals = 30
	penaltyOtherPlatform   = 50
)

// ConversionScore is the weighted 0-100 likelihood that the lead books a meeting.
func ConversionScore(s State) int {
	score := 0
	if s.Platform == signals.PlatformShopify {
		score += weightShopify
	}
	switch {
	case len(s.PainPoints) >= 2:
		score += weightManyPainPoints
	case len(s.PainPoints) == 1:
		score += weightOnePainPoint
	}
	if s.Engagement == EngagementHigh {
		score += weightHighEngagement
	}
	if s.InvestsInAds != nil && *s.InvestsInAds {
		score += weightInvestsInAds
	}
	if s.Tone == ToneFrustrated {
		score += weightFrustratedTone
	}
	if len(s.PositiveSignals) > 0 {
		score -= penaltyPositiveSignals
	}
	if s.Platform == signals.PlatformOther {
		score -= penaltyOtherPlatform
	}
	return min(100, max(0, score))
}
