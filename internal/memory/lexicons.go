package memory

import (
	"regexp"

	"github.com/BTreeMap/LeadPipe/internal/signals"
)

var (
	painPoints = signals.NewLexicon(
		"no vendo", "ventas bajas", "no funciona", "frustrado", "gasto mucho",
		"pierdo plata", "ads no funcionan", "mal", "no compran", "sin resultados",
	)

	positivePhrases = []string{
		"me va bien", "vendo harto", "buenos resultados", "funciona bien", "estoy contento", "todo bien",
	}
	// positivePatterns capture a leading "no" so "no me va bien" is not read as positive.
	positivePatterns = compileNegatable(positivePhrases)

	toneFrustrated   = signals.NewLexicon("frustrad*", "cansad*", "harto", "mal", "no funciona")
	toneEnthusiastic = signals.NewLexicon("genial", "bacan", "excelente", "super")
	toneCasual       = signals.NewLexicon("hola", "que onda", "cacho")

	// Questions the agent has asked, detected in its own messages.
	questionTable = []struct {
		topic   Topic
		lexicon signals.Lexicon
	}{
		{TopicName, signals.NewLexicon("como te llamas", "tu nombre", "me llamo")},
		{TopicPlatform, signals.NewLexicon("plataforma", "shopify")},
		{TopicBusiness, signals.NewLexicon("que vendes", "a que te dedicas", "tienda online")},
		{TopicPain, signals.NewLexicon("como te va", "publicidad", "ventas")},
		{TopicMeeting, signals.NewLexicon("reuni*", "agend*", "te tinca", "coordinemos")},
	}

	topicTable = []struct {
		topic   string
		lexicon signals.Lexicon
	}{
		{"tienda_online", signals.NewLexicon("tienda", "ecommerce", "online")},
		{"plataforma", signals.NewLexicon("shopify", "woocommerce", "plataforma")},
		{"productos", signals.NewLexicon("vendo", "productos", "articulos")},
		{"publicidad", signals.NewLexicon("ads", "publicidad", "anuncios", "facebook", "meta")},
		{"ventas", signals.NewLexicon("ventas", "vender", "facturacion")},
		{"resultados", signals.NewLexicon("resultados", "conversion", "roi")},
		{"precio", signals.NewLexicon("precio", "cuanto", "costo", "plan")},
		{"reunion", signals.NewLexicon("reunion", "llamada", "demo", "agendar")},
	}
)

type negatable struct {
	text string
	re   *regexp.Regexp
}

func compileNegatable(phrases []string) []negatable {
	out := make([]negatable, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, negatable{
			text: p,
			re:   regexp.MustCompile(`(\bno\s+)?\b` + regexp.QuoteMeta(p) + `\b`),
		})
	}
	return out
}

// positiveMatches returns the positive phrases that occur at least once without a leading "no".
// Each message is matched on its own.
func positiveMatches(normalized []string) []string {
	var found []string
	for _, p := range positivePatterns {
		if positiveIn(p, normalized) {
			found = append(found, p.text)
		}
	}
	return found
}

func positiveIn(p negatable, normalized []string) bool {
	for _, text := range normalized {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if m[1] == "" {
				return true
			}
		}
	}
	return false
}
