package tools

import (
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// TaggerContext is how many messages before the latest one the tagger sees.
const TaggerContext = 5

// TaggerPrompt renders the recent conversation for the tagging assistant. The
// last message of history is the one being tagged.
func TaggerPrompt(history []models.Message) string {
	var msgs []models.Message
	for _, m := range history {
		if m.IsUser() || m.IsAssistant() {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) > TaggerContext+1 {
		msgs = msgs[len(msgs)-TaggerContext-1:]
	}

	var b strings.Builder
	b.WriteString("# CONVERSACIÓN PARA ANALIZAR\n\n")
	for _, m := range msgs {
		role := "AGENTE"
		if m.IsUser() {
			role = "USUARIO"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("\n---\n\n")
	b.WriteString("# TU TAREA\n")
	b.WriteString("Analiza SOLO los mensajes del USUARIO (no del AGENTE).\n")
	b.WriteString("Detecta y etiqueta cualquier información clave llamando a las funciones apropiadas.\n")
	b.WriteString("Si no hay información nueva que etiquetar, no hagas nada.\n")
	return b.String()
}
