// Package memory folds a conversation history into a ConversationState.
//
// The state is derived, never stored: Build is a pure function of the history, so a fact
// stated anywhere in the conversation is present in every state computed afterwards.
package memory

import (
	"slices"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/signals"
)

// Topic is a qualification question the agent asks or the lead answers.
type Topic string

const (
	TopicName        Topic = "name"
	TopicPlatform    Topic = "platform"
	TopicBusiness    Topic = "business"
	TopicPain        Topic = "pain"
	TopicMeeting     Topic = "meeting"
	TopicOnlineStore Topic = "online_store"
	TopicAds         Topic = "ads"
)

// Phase is the stage of the qualification dialogue.
type Phase string

const (
	PhaseOpening       Phase = "OPENING"
	PhaseDiscovery     Phase = "DISCOVERY"
	PhaseQualification Phase = "QUALIFICATION"
	PhaseProposal      Phase = "PROPOSAL"
	PhaseClosing       Phase = "CLOSING"
)

// Tone is the dominant register of the lead's recent messages.
type Tone string

const (
	ToneNeutral      Tone = "neutral"
	ToneFrustrated   Tone = "frustrated"
	ToneEnthusiastic Tone = "enthusiastic"
	ToneCasual       Tone = "casual"
)

// Engagement is how much effort the lead puts into their messages.
type Engagement string

const (
	EngagementLow    Engagement = "low"
	EngagementMedium Engagement = "medium"
	EngagementHigh   Engagement = "high"
)

// BookingLinkMarker prefixes the system message recorded when the booking link is sent.
const BookingLinkMarker = "📅 Link de agendamiento enviado"

// State is the belief-state about a lead. It is a value: two Builds over the same
// history are reflect.DeepEqual.
type State struct {
	Name     string `json:"name,omitempty"`
	Business string `json:"business,omitempty"`

	Platform           signals.Platform `json:"platform"`
	PlatformConfidence float64          `json:"platformConfidence"`
	PlatformMethod     signals.Method   `json:"platformMethod"`
	Competitor         string           `json:"competitor,omitempty"`

	// DisqualifyReason is empty unless a hard eligibility criterion failed.
	DisqualifyReason string `json:"disqualifyReason,omitempty"`

	HasOnlineStore *bool `json:"hasOnlineStore,omitempty"`
	InvestsInAds   *bool `json:"investsInAds,omitempty"`

	PainPoints      []string          `json:"painPoints"`
	PainLevel       signals.PainLevel `json:"painLevel"`
	PainSignals     []string          `json:"painSignals"`
	PositiveSignals []string          `json:"positiveSignals"`

	QuestionsAsked    []Topic  `json:"questionsAsked"`
	QuestionsAnswered []Topic  `json:"questionsAnswered"`
	TopicsDiscussed   []string `json:"topicsDiscussed"`

	Tone       Tone       `json:"tone"`
	Engagement Engagement `json:"engagement"`

	Phase              Phase `json:"phase"`
	InterventionMoment bool  `json:"interventionMoment"`
	ConversionScore    int   `json:"conversionScore"`

	MessageCount           int                  `json:"messageCount"`
	LastUserMessage        string               `json:"lastUserMessage,omitempty"`
	LastIntent             signals.IntentSignal `json:"lastIntent"`
	RecentlyOfferedMeeting bool                 `json:"recentlyOfferedMeeting"`
	LinkSent               bool                 `json:"linkSent"`
}

// Asked reports whether the agent has already asked about topic.
func (s State) Asked(t Topic) bool {
	return slices.Contains(s.QuestionsAsked, t)
}

// Answered reports whether the lead has already provided topic.
func (s State) Answered(t Topic) bool {
	return slices.Contains(s.QuestionsAnswered, t)
}

// MeetingOffered reports whether a meeting was proposed at any point.
func (s State) MeetingOffered() bool {
	return s.Asked(TopicMeeting) || s.LinkSent
}

// PlatformConfirmed reports a Shopify confirmation at or above the confirmation threshold.
func (s State) PlatformConfirmed() bool {
	return s.Platform == signals.PlatformShopify && s.PlatformConfidence >= signals.ConfirmationThreshold
}

// Disqualified reports whether the lead failed a hard eligibility criterion.
func (s State) Disqualified() bool {
	return s.DisqualifyReason != ""
}

// Temperature buckets the conversion score.
func (s State) Temperature() models.Temperature {
	return Temperature(s.ConversionScore)
}

// LeadScore maps the conversion score onto the 0-10 scale used by lead status updates.
func (s State) LeadScore() int {
	return s.ConversionScore / 10
}

// Temperature buckets a 0-100 conversion score: hot >= 70, warm >= 40, cold otherwise.
func Temperature(score int) models.Temperature {
	switch {
	case score >= 70:
		return models.TemperatureHot
	case score >= 40:
		return models.TemperatureWarm
	default:
		return models.TemperatureCold
	}
}
