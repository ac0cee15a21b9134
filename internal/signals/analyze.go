package signals

import "github.com/BTreeMap/LeadPipe/internal/models"

// Analysis bundles the signals extracted from one message in the context of its history.
type Analysis struct {
	Platform PlatformSignal `json:"platform"`
	Pain     PainSignal     `json:"pain"`
	Intent   IntentSignal   `json:"intent"`
}

// InterventionMoment reports whether high pain and a confirmed platform co-occur.
// A lone pain signal never qualifies.
func (a Analysis) InterventionMoment() bool {
	return a.Pain.Level == PainHigh && a.Platform.Confirmed()
}

// Analyze scores text, the lead's latest message, against history (messages before it).
// Platform and intent look at text only; pain accumulates over all of the lead's messages.
func Analyze(text string, history []models.Message) Analysis {
	return Analysis{
		Platform: DetectPlatform(text),
		Pain:     DetectPain(text, history),
		Intent:   DetectIntent(text),
	}
}
