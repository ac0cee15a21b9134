package policy

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/memory"
	"github.com/BTreeMap/LeadPipe/internal/signals"
)

// Observations are facts about the conversation handed to the model. They describe the
// situation and leave the wording to the model.
type Observations struct {
	Situation string   `json:"situation"`
	Facts     []string `json:"facts"`
	Notes     []string `json:"notes"`
	Temporal  string   `json:"temporal"`
	Questions []string `json:"questions"`
	Missing   []string `json:"missing"`
}

const earlyConversationMessages = 3

// Observe summarizes state and timing into Observations.
func Observe(s memory.State, tc signals.TemporalContext) Observations {
	var o Observations
	last := s.LastUserMessage
	greetingOnly := isGreeting(last)

	switch {
	case tc.Resuming:
		o.Situation = fmt.Sprintf("El usuario retoma la conversación después de %s. Su último mensaje es: %q", signals.HumanDuration(tc.SinceLastUser), last)
	case s.Phase == memory.PhaseOpening:
		o.Situation = fmt.Sprintf("Conversación recién iniciada. El usuario acaba de escribir: %q", last)
	default:
		o.Situation = fmt.Sprintf("Conversación activa en fase %s. El usuario acaba de decir: %q", s.Phase, last)
	}

	switch {
	case s.Platform == signals.PlatformShopify:
		o.Facts = append(o.Facts, fmt.Sprintf("Usuario usa Shopify (confianza: %.0f%%)", s.PlatformConfidence*100))
	case s.Disqualified():
		o.Facts = append(o.Facts, fmt.Sprintf("Usuario no califica: %s", s.DisqualifyReason))
	default:
		o.Facts = append(o.Facts, "Plataforma aún desconocida")
	}
	if s.PainLevel != signals.PainNone {
		o.Facts = append(o.Facts, fmt.Sprintf("Dolor detectado: nivel %s (señales: %s)", s.PainLevel, strings.Join(s.PainSignals, ", ")))
	}
	if s.Name != "" {
		o.Facts = append(o.Facts, "Nombre: "+s.Name)
	}
	if s.Business != "" {
		o.Facts = append(o.Facts, "Negocio: "+s.Business)
	}
	if len(s.PositiveSignals) > 0 {
		o.Facts = append(o.Facts, "Señales positivas: "+strings.Join(s.PositiveSignals, ", "))
	}
	if s.MeetingOffered() {
		o.Facts = append(o.Facts, "Ya se propuso una reunión anteriormente")
	}

	if tc.Resuming && greetingOnly {
		o.Notes = append(o.Notes, fmt.Sprintf("El usuario solo saludó después de %s de silencio. No expresó intención clara.", signals.HumanDuration(tc.SinceLastUser)))
	}
	if s.Platform == signals.PlatformShopify && s.PainLevel == signals.PainNone {
		o.Notes = append(o.Notes, "Usuario confirmó Shopify pero no ha expresado problemas todavía")
	}
	if s.Platform == signals.PlatformShopify && s.PainLevel != signals.PainNone && !s.MeetingOffered() {
		o.Notes = append(o.Notes, "Lead potencial: tiene Shopify y expresó problemas. No se le ha ofrecido reunión aún.")
	}
	if s.LastIntent.Primary == signals.IntentScheduling && !s.MeetingOffered() {
		o.Notes = append(o.Notes, "Señales de aceptación sin reunión propuesta previamente. Posible falso positivo.")
	}
	if s.MessageCount <= earlyConversationMessages {
		o.Notes = append(o.Notes, "Conversación muy temprana. Priorizar rapport sobre venta directa.")
	}

	switch {
	case tc.Resuming:
		o.Temporal = fmt.Sprintf("Pasaron %s desde el último mensaje.", signals.HumanDuration(tc.SinceLastUser))
	case tc.Freshness == signals.FreshnessVeryFresh:
		o.Temporal = "Conversación muy reciente, en tiempo real."
	default:
		o.Temporal = "Conversación fluida sin pausas significativas."
	}

	if tc.Resuming && greetingOnly {
		o.Questions = append(o.Questions, "¿Conviene re-establecer contexto antes de retomar la venta?")
	}
	if s.Platform == signals.PlatformShopify && s.PainLevel != signals.PainNone {
		o.Questions = append(o.Questions, "¿El lead está listo para una propuesta de reunión, o necesita más información primero?")
	}
	if s.Platform == signals.PlatformUnknown && s.MessageCount >= earlyConversationMessages {
		o.Questions = append(o.Questions, "¿Por qué el usuario aún no mencionó su plataforma?")
	}

	o.Missing = missing(s)
	return o
}

func missing(s memory.State) []string {
	var m []string
	hasStore := s.HasOnlineStore != nil && *s.HasOnlineStore
	if s.HasOnlineStore == nil {
		m = append(m, "¿Tiene tienda online?")
	}
	if hasStore && s.Platform == signals.PlatformUnknown {
		m = append(m, "¿Qué plataforma usa?")
	}
	if s.Platform == signals.PlatformShopify && s.Business == "" {
		m = append(m, "¿Qué vende?")
	}
	if s.Platform == signals.PlatformShopify && s.InvestsInAds == nil && s.PainLevel == signals.PainNone {
		m = append(m, "¿Cómo le va? ¿Tiene problemas con ventas o publicidad?")
	}
	return m
}

var greetings = signals.NewLexicon("hola", "buenas", "hey", "holi", "alo")

func isGreeting(text string) bool {
	n := signals.Normalize(text)
	first, ok := greetings.First(n)
	return ok && strings.HasPrefix(n, first)
}
