package policy

import (
	"fmt"

	"github.com/BTreeMap/LeadPipe/internal/memory"
	"github.com/BTreeMap/LeadPipe/internal/signals"
)

type rule struct {
	name string
	when func(memory.State) bool
	then func(memory.State) Recommendation
}

// rules is evaluated in order. Meeting-oriented rules must stay below the platform guard.
var rules = []rule{
	{
		name: "confirmed platform with pain",
		when: func(s memory.State) bool {
			return s.PlatformConfirmed() && s.PainLevel != signals.PainNone
		},
		then: func(s memory.State) Recommendation {
			return Recommendation{
				Action:    ActionProposeMeeting,
				Reasoning: fmt.Sprintf("Shopify confirmado (%.2f) y dolor %s: proponer reunión.", s.PlatformConfidence, s.PainLevel),
				Priority:  PriorityHigh,
			}
		},
	},
	{
		name: "confirmed platform without pain",
		when: func(s memory.State) bool {
			return s.PlatformConfirmed() && s.PainLevel == signals.PainNone && !s.Asked(memory.TopicPain)
		},
		then: func(s memory.State) Recommendation {
			return Recommendation{
				Action:    ActionQualifyPain,
				Reasoning: "Shopify confirmado pero sin dolor expresado: preguntar cómo le va con ventas y publicidad.",
				Priority:  PriorityHigh,
			}
		},
	},
	{
		name: "disqualifying signal",
		when: func(s memory.State) bool { return s.Disqualified() },
		then: func(s memory.State) Recommendation {
			return Recommendation{
				Action:    ActionDisqualify,
				Reason:    s.DisqualifyReason,
				Reasoning: fmt.Sprintf("Lead no califica (%s): cerrar con amabilidad, sin ofrecer reunión.", s.DisqualifyReason),
				Priority:  PriorityHigh,
			}
		},
	},
	{
		name: "pain before platform",
		when: func(s memory.State) bool {
			return s.PainLevel != signals.PainNone && s.Platform == signals.PlatformUnknown && !s.Asked(memory.TopicPlatform)
		},
		then: func(s memory.State) Recommendation {
			return Recommendation{
				Action:    ActionAskPlatform,
				Reasoning: "Hay dolor pero la plataforma es desconocida: preguntar qué plataforma usa antes de cualquier propuesta.",
				Priority:  PriorityCritical,
			}
		},
	},
	{
		name: "scheduling after offer",
		when: func(s memory.State) bool {
			return s.LastIntent.Primary == signals.IntentScheduling && s.MeetingOffered()
		},
		then: func(s memory.State) Recommendation {
			return Recommendation{
				Action:    ActionSendCalendarLink,
				Reasoning: "El lead aceptó la reunión ofrecida: confirmar y enviar el link de agenda.",
				Priority:  PriorityHigh,
			}
		},
	},
	{
		name: "early conversation",
		when: func(s memory.State) bool {
			return s.Phase == memory.PhaseOpening || s.Phase == memory.PhaseDiscovery
		},
		then: func(s memory.State) Recommendation {
			return Recommendation{
				Action:    ActionDiscover,
				Reasoning: "Conversación temprana: construir rapport y descubrir negocio y plataforma.",
				Priority:  PriorityNormal,
			}
		},
	},
}

// Decide returns the recommendation of the first rule that matches s, or continue.
func Decide(s memory.State) Recommendation {
	for _, r := range rules {
		if !r.when(s) {
			continue
		}
		rec := r.then(s)
		rec.Rule = r.name
		rec.Tags = tags(s, rec.Action)
		return rec
	}
	rec := Recommendation{
		Action:    ActionContinue,
		Reasoning: "Sin cambios de estrategia: continuar la conversación de forma natural.",
		Priority:  PriorityNormal,
		Rule:      "default",
	}
	rec.Tags = tags(s, rec.Action)
	return rec
}
