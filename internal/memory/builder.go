package memory

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/signals"
)

const (
	openingMaxMessages    = 2
	toneWindow            = 3
	recentAssistantWindow = 3

	highEngagementAvgRunes = 50
	lowEngagementAvgRunes  = 15
)

// Build folds history into a State. The lead's latest message is the last user entry of history.
// System entries are bookkeeping and do not count as conversation turns.
func Build(history []models.Message) State {
	s := State{
		Platform:       signals.PlatformUnknown,
		PlatformMethod: signals.MethodNotDetected,
		PainLevel:      signals.PainNone,
		Tone:           ToneNeutral,
		Engagement:     EngagementLow,
	}

	var (
		userTexts      []string
		userNormalized []string
		assistantTexts []string
		allTexts       []string
		prior          []models.Message
		storeAbsent    bool
		lastUserIdx    = -1
	)
	asked := map[Topic]bool{}

	for i, m := range history {
		switch m.Role {
		case models.RoleSystem:
			if strings.HasPrefix(m.Content, BookingLinkMarker) {
				s.LinkSent = true
			}
			continue
		case models.RoleAssistant:
			normalized := signals.Normalize(m.Content)
			assistantTexts = append(assistantTexts, m.Content)
			allTexts = append(allTexts, normalized)
			for _, q := range questionTable {
				if q.lexicon.Any(normalized) {
					asked[q.topic] = true
				}
			}
		case models.RoleUser:
			normalized := signals.Normalize(m.Content)
			userTexts = append(userTexts, m.Content)
			userNormalized = append(userNormalized, normalized)
			allTexts = append(allTexts, normalized)
			lastUserIdx = i

			sig := signals.DetectPlatform(m.Content)
			if sig.Method == signals.MethodStoreAbsence {
				storeAbsent = true
			} else if replacesPlatform(s, sig) {
				s.Platform = sig.Platform()
				s.PlatformConfidence = sig.Confidence
				s.PlatformMethod = sig.Method
				s.Competitor = sig.Competitor
			}

			pain := signals.DetectPain(m.Content, prior)
			s.PainLevel = signals.MaxPain(s.PainLevel, pain.Level)
			if pain.Level == s.PainLevel {
				s.PainSignals = pain.Signals
			}
		}
		s.MessageCount++
		prior = append(prior, m)
	}

	userText := strings.Join(userTexts, " ")

	entities := signals.ExtractEntities(userText)
	s.Name = entities.Name
	s.Business = entities.Business
	s.HasOnlineStore = entities.HasOnlineStore
	s.InvestsInAds = entities.InvestsInAds

	s.PainPoints = painPoints.MatchesEach(userNormalized)
	s.PositiveSignals = positiveMatches(userNormalized)
	s.Tone = tone(userTexts)
	s.Engagement = engagement(userTexts)
	s.TopicsDiscussed = topicsDiscussed(strings.Join(allTexts, " "))
	s.QuestionsAsked = sortedTopics(asked)
	s.QuestionsAnswered = answered(s)
	s.RecentlyOfferedMeeting = recentlyOffered(assistantTexts)

	switch {
	case s.Platform == signals.PlatformOther:
		s.DisqualifyReason = signals.ReasonNotShopify
	case storeAbsent && s.Platform != signals.PlatformShopify:
		s.DisqualifyReason = signals.ReasonNoOnlineStore
	}

	if lastUserIdx >= 0 {
		last := history[lastUserIdx]
		analysis := signals.Analyze(last.Content, history[:lastUserIdx])
		s.InterventionMoment = analysis.InterventionMoment()
		s.LastIntent = analysis.Intent
		s.LastUserMessage = last.Content
	}

	s.Phase = phase(s)
	s.ConversionScore = ConversionScore(s)
	return s
}

// replacesPlatform reports whether sig should overwrite the platform held in s.
// A confirmed Shopify platform only yields to an explicit negation.
func replacesPlatform(s State, sig signals.PlatformSignal) bool {
	if !sig.Informative() {
		return false
	}
	if s.PlatformConfirmed() {
		return sig.Method == signals.MethodNegation
	}
	return s.Platform == signals.PlatformUnknown || sig.Confidence >= s.PlatformConfidence
}

// phase applies the phase rules in order; the first match wins.
func phase(s State) Phase {
	switch {
	case s.InterventionMoment:
		return PhaseProposal
	case s.MessageCount <= openingMaxMessages:
		return PhaseOpening
	case s.Platform == signals.PlatformUnknown:
		return PhaseDiscovery
	case s.Platform == signals.PlatformShopify && !s.Asked(TopicPain):
		return PhaseQualification
	case s.Platform == signals.PlatformShopify && s.PainLevel != signals.PainNone && !s.MeetingOffered():
		return PhaseProposal
	default:
		return PhaseClosing
	}
}

func tone(userTexts []string) Tone {
	if len(userTexts) == 0 {
		return ToneNeutral
	}
	recent := userTexts[max(0, len(userTexts)-toneWindow):]
	raw := strings.Join(recent, " ")
	text := signals.Normalize(raw)
	switch {
	case toneFrustrated.Any(text):
		return ToneFrustrated
	case toneEnthusiastic.Any(text) || strings.Contains(raw, "!"):
		return ToneEnthusiastic
	case toneCasual.Any(text):
		return ToneCasual
	default:
		return ToneNeutral
	}
}

func engagement(userTexts []string) Engagement {
	if len(userTexts) == 0 {
		return EngagementLow
	}
	total := 0
	for _, t := range userTexts {
		total += utf8.RuneCountInString(t)
	}
	avg := float64(total) / float64(len(userTexts))
	switch {
	case avg > highEngagementAvgRunes:
		return EngagementHigh
	case avg < lowEngagementAvgRunes:
		return EngagementLow
	default:
		return EngagementMedium
	}
}

func topicsDiscussed(normalized string) []string {
	var topics []string
	for _, row := range topicTable {
		if row.lexicon.Any(normalized) {
			topics = append(topics, row.topic)
		}
	}
	slices.Sort(topics)
	return topics
}

func answered(s State) []Topic {
	set := map[Topic]bool{}
	if s.Name != "" {
		set[TopicName] = true
	}
	if s.Platform != signals.PlatformUnknown {
		set[TopicPlatform] = true
	}
	if s.Business != "" {
		set[TopicBusiness] = true
	}
	if s.PainLevel != signals.PainNone {
		set[TopicPain] = true
	}
	if s.HasOnlineStore != nil {
		set[TopicOnlineStore] = true
	}
	if s.InvestsInAds != nil {
		set[TopicAds] = true
	}
	return sortedTopics(set)
}

func recentlyOffered(assistantTexts []string) bool {
	recent := assistantTexts[max(0, len(assistantTexts)-recentAssistantWindow):]
	for _, t := range recent {
		if signals.OffersMeeting(t) {
			return true
		}
	}
	return false
}

func sortedTopics(set map[Topic]bool) []Topic {
	out := make([]Topic, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
