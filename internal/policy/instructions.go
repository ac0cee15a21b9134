package policy

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/memory"
)

// Instructions renders the per-run additional instructions for the assistant.
func Instructions(s memory.State, rec Recommendation, obs Observations) string {
	var b strings.Builder

	b.WriteString("CONTEXTO DE LA CONVERSACIÓN\n")
	b.WriteString(obs.Situation)
	b.WriteString("\n")

	writeList(&b, "HECHOS CLAVE", obs.Facts)
	writeList(&b, "OBSERVACIONES", obs.Notes)
	if obs.Temporal != "" {
		fmt.Fprintf(&b, "\nCONTEXTO TEMPORAL\n%s\n", obs.Temporal)
	}
	writeList(&b, "PREGUNTAS PARA REFLEXIONAR", obs.Questions)
	writeList(&b, "LO QUE FALTA DESCUBRIR", obs.Missing)

	fmt.Fprintf(&b, "\nESTADO\n- Fase: %s\n- Tono del usuario: %s\n- Engagement: %s\n- Score: %d (%s)\n",
		s.Phase, s.Tone, s.Engagement, s.ConversionScore, s.Temperature())

	fmt.Fprintf(&b, "\nRECOMENDACIÓN (%s, prioridad %s)\n%s\n", rec, rec.Priority, rec.Reasoning)
	if rec.SuppressMeeting() {
		b.WriteString("NO ofrezcas reunión en esta respuesta.\n")
	}

	b.WriteString("\nREGLAS: máximo 3 líneas, una sola pregunta, sin markdown, tono cercano chileno.\n")
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

// painSolutions maps memory pain points to what the meeting will help with.
var painSolutions = map[string]string{
	"no vendo":         "aumentar tus ventas",
	"ventas bajas":     "mejorar tus resultados",
	"no funciona":      "optimizar tu estrategia",
	"frustrado":        "resolver tus problemas de publicidad",
	"gasto mucho":      "reducir tu inversión y mejorar ROI",
	"pierdo plata":     "mejorar tu rentabilidad",
	"ads no funcionan": "optimizar tus anuncios",
	"no compran":       "aumentar conversiones",
	"sin resultados":   "conseguir mejores resultados",
	"mal":              "mejorar tu situación",
}

const defaultPainSolution = "optimizar tu publicidad de Shopify"

// BookingMessage is the text sent with the booking link, personalized by the first
// mapped pain point.
func BookingMessage(s memory.State, link string) string {
	if len(s.PainPoints) == 0 {
		return fmt.Sprintf("📅 Perfecto! Acá puedes elegir el día y hora que más te acomode:\n\n%s", link)
	}
	solution := defaultPainSolution
	for _, p := range s.PainPoints {
		if sol, ok := painSolutions[p]; ok {
			solution = sol
			break
		}
	}
	return fmt.Sprintf("📅 Agenda aquí y vemos cómo te podemos ayudar con %s:\n\n%s", solution, link)
}
