package signals

// Intent is what the lead is trying to do with their latest message.
type Intent string

const (
	IntentScheduling  Intent = "scheduling"
	IntentQuestioning Intent = "questioning"
	IntentObjecting   Intent = "objecting"
	IntentDiscovery   Intent = "discovery"
)

// IntentSignal is the classification of a single message.
type IntentSignal struct {
	Primary    Intent  `json:"primary"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
}

var intentTable = []struct {
	intent     Intent
	confidence float64
	lexicon    Lexicon
}{
	{
		intent: IntentScheduling, confidence: 0.9,
		lexicon: NewLexicon("si", "dale", "ok", "perfecto", "agendemos", "coordinemos", "me tinca", "me interesa"),
	},
	{
		intent: IntentQuestioning, confidence: 0.85,
		lexicon: NewLexicon("como funciona", "que es", "cuanto cuesta", "precio", "planes", "cuentame mas"),
	},
	{
		intent: IntentObjecting, confidence: 0.75,
		lexicon: NewLexicon("no creo", "no estoy seguro", "no se", "dejame pensarlo", "despues"),
	},
}

// DetectIntent classifies text by the first matching intent table row.
func DetectIntent(text string) IntentSignal {
	normalized := Normalize(text)
	for _, row := range intentTable {
		if evidence, ok := row.lexicon.First(normalized); ok {
			return IntentSignal{Primary: row.intent, Confidence: row.confidence, Evidence: evidence}
		}
	}
	return IntentSignal{Primary: IntentDiscovery, Confidence: 0.5}
}
