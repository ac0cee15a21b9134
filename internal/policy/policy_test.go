package policy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/memory"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/signals"
)

func user(s string) models.Message { return models.Message{Role: models.RoleUser, Content: s} }

func TestDecideScenarioC(t *testing.T) {
	s := memory.Build([]models.Message{user("vendo ropa"), user("no vendo nada"), user("uso shopify")})
	rec := Decide(s)
	assert.Equal(t, ActionProposeMeeting, rec.Action)
	assert.NoError(t, rec.Check(s))
	assert.False(t, rec.SuppressMeeting())
	assert.Contains(t, rec.Tags, "action:propose_meeting")
	assert.Contains(t, rec.Tags, "intervention")
}

func TestDecideRules(t *testing.T) {
	tests := []struct {
		name   string
		state  memory.State
		action Action
		reason string
	}{
		{
			name: "confirmed platform with pain proposes",
			state: memory.State{Platform: signals.PlatformShopify, PlatformConfidence: 0.95,
				PainLevel: signals.PainMedium, Phase: memory.PhaseProposal},
			action: ActionProposeMeeting,
		},
		{
			name: "confirmed platform without pain qualifies",
			state: memory.State{Platform: signals.PlatformShopify, PlatformConfidence: 0.85,
				PainLevel: signals.PainNone, Phase: memory.PhaseQualification},
			action: ActionQualifyPain,
		},
		{
			name: "loose mention with pain does not propose",
			state: memory.State{Platform: signals.PlatformShopify, PlatformConfidence: 0.70,
				PainLevel: signals.PainHigh, Phase: memory.PhaseQualification},
			action: ActionContinue,
		},
		{
			name: "competitor disqualifies",
			state: memory.State{Platform: signals.PlatformOther, PlatformConfidence: 0.90,
				DisqualifyReason: signals.ReasonNotShopify, Phase: memory.PhaseClosing},
			action: ActionDisqualify,
			reason: signals.ReasonNotShopify,
		},
		{
			name: "no store disqualifies",
			state: memory.State{Platform: signals.PlatformUnknown, PainLevel: signals.PainHigh,
				DisqualifyReason: signals.ReasonNoOnlineStore, Phase: memory.PhaseDiscovery},
			action: ActionDisqualify,
			reason: signals.ReasonNoOnlineStore,
		},
		{
			name: "pain with unknown platform asks platform",
			state: memory.State{Platform: signals.PlatformUnknown, PainLevel: signals.PainHigh,
				Phase: memory.PhaseDiscovery},
			action: ActionAskPlatform,
		},
		{
			name: "pain with unknown platform already asked keeps discovering",
			state: memory.State{Platform: signals.PlatformUnknown, PainLevel: signals.PainHigh,
				QuestionsAsked: []memory.Topic{memory.TopicPlatform}, Phase: memory.PhaseDiscovery},
			action: ActionDiscover,
		},
		{
			name: "acceptance after offer sends link",
			state: memory.State{Platform: signals.PlatformUnknown, PainLevel: signals.PainNone,
				QuestionsAsked: []memory.Topic{memory.TopicMeeting},
				LastIntent:     signals.IntentSignal{Primary: signals.IntentScheduling, Confidence: 0.9},
				Phase:          memory.PhaseDiscovery},
			action: ActionSendCalendarLink,
		},
		{
			name:   "opening discovers",
			state:  memory.State{Platform: signals.PlatformUnknown, PainLevel: signals.PainNone, Phase: memory.PhaseOpening},
			action: ActionDiscover,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Decide(tt.state)
			assert.Equal(t, tt.action, rec.Action)
			assert.Equal(t, tt.reason, rec.Reason)
			assert.NotEmpty(t, rec.Reasoning)
			assert.NotEmpty(t, rec.Rule)
		})
	}
}

func TestAskPlatformIsCritical(t *testing.T) {
	s := memory.Build([]models.Message{user("hola"), {Role: models.RoleAssistant, Content: "¡Hola! ¿Qué vendes?"}, user("estoy frustrado, no vendo nada")})
	rec := Decide(s)
	assert.Equal(t, ActionAskPlatform, rec.Action)
	assert.Equal(t, PriorityCritical, rec.Priority)
	assert.True(t, rec.SuppressMeeting())
}

// Every combination of the inputs the rules read must respect the proposal guard.
func TestProposeMeetingRequiresConfirmedPlatform(t *testing.T) {
	platforms := []signals.Platform{signals.PlatformShopify, signals.PlatformOther, signals.PlatformUnknown}
	confidences := []float64{0, 0.70, 0.79, 0.80, 0.85, 0.95}
	pains := []signals.PainLevel{signals.PainNone, signals.PainLow, signals.PainMedium, signals.PainHigh}
	askedSets := [][]memory.Topic{nil, {memory.TopicPain}, {memory.TopicPlatform}, {memory.TopicMeeting}, {memory.TopicMeeting, memory.TopicPain, memory.TopicPlatform}}
	intents := []signals.Intent{signals.IntentDiscovery, signals.IntentScheduling}
	phases := []memory.Phase{memory.PhaseOpening, memory.PhaseDiscovery, memory.PhaseQualification, memory.PhaseProposal, memory.PhaseClosing}
	reasons := []string{"", signals.ReasonNotShopify, signals.ReasonNoOnlineStore}

	n := 0
	for _, p := range platforms {
		for _, c := range confidences {
			for _, pain := range pains {
				for _, asked := range askedSets {
					for _, in := range intents {
						for _, ph := range phases {
							for _, r := range reasons {
								s := memory.State{
									Platform: p, PlatformConfidence: c, PainLevel: pain,
									QuestionsAsked: asked, LastIntent: signals.IntentSignal{Primary: in},
									Phase: ph, DisqualifyReason: r, InterventionMoment: ph == memory.PhaseProposal,
								}
								rec := Decide(s)
								n++
								if err := rec.Check(s); err != nil {
									t.Fatalf("state %+v: %v", s, err)
								}
								if rec.Action == ActionProposeMeeting {
									require.Equal(t, signals.PlatformShopify, s.Platform)
									require.GreaterOrEqual(t, s.PlatformConfidence, signals.ConfirmationThreshold)
								}
							}
						}
					}
				}
			}
		}
	}
	assert.Greater(t, n, 1000)
}

func TestCheckRejectsPrematureProposal(t *testing.T) {
	rec := Recommendation{Action: ActionProposeMeeting}
	err := rec.Check(memory.State{Platform: signals.PlatformShopify, PlatformConfidence: 0.7})
	assert.True(t, errors.Is(err, ErrPrematureProposal))
}

func TestBookingMessage(t *testing.T) {
	link := "https://calendar.example.com/book"

	msg := BookingMessage(memory.State{PainPoints: []string{"gasto mucho", "no vendo"}}, link)
	assert.Contains(t, msg, "reducir tu inversión y mejorar ROI")
	assert.True(t, strings.HasSuffix(msg, link))

	msg = BookingMessage(memory.State{}, link)
	assert.Contains(t, msg, "elegir el día y hora")
	assert.True(t, strings.HasSuffix(msg, link))
}

func TestObserveResumingGreeting(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	history := []models.Message{
		{Role: models.RoleUser, Content: "uso shopify", Timestamp: now.Add(-30 * time.Hour)},
		{Role: models.RoleAssistant, Content: "¿Cómo te va con las ventas?", Timestamp: now.Add(-30 * time.Hour)},
	}
	s := memory.Build(append(history, models.Message{Role: models.RoleUser, Content: "hola", Timestamp: now}))
	tc := signals.Temporal(history, now)

	obs := Observe(s, tc)
	assert.Contains(t, obs.Situation, "retoma la conversación")
	assert.Contains(t, obs.Temporal, "1 día")
	require.NotEmpty(t, obs.Notes)
	assert.Contains(t, obs.Notes[0], "solo saludó")
	assert.Contains(t, obs.Facts[0], "Shopify")
}

func TestInstructions(t *testing.T) {
	s := memory.Build([]models.Message{user("hola"), {Role: models.RoleAssistant, Content: "¡Hola! ¿Qué vendes?"}, user("estoy frustrado, no vendo nada")})
	rec := Decide(s)
	text := Instructions(s, rec, Observe(s, signals.TemporalContext{}))

	assert.Contains(t, text, "ask_platform")
	assert.Contains(t, text, "NO ofrezcas reunión")
	assert.Contains(t, text, "Plataforma aún desconocida")
	assert.Contains(t, text, "¿Tiene tienda online?")
}
