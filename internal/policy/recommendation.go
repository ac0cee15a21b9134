// Package policy derives the next strategic move from a memory.State.
//
// Decide is deterministic: an ordered rule table is evaluated top to bottom and the first
// matching rule produces the Recommendation. The output is advisory context for the
// generation step, never user-facing text.
package policy

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/LeadPipe/internal/memory"
	"github.com/BTreeMap/LeadPipe/internal/signals"
)

// Action is the tag of a Recommendation.
type Action string

const (
	ActionAskPlatform      Action = "ask_platform"
	ActionQualifyPain      Action = "qualify_pain"
	ActionProposeMeeting   Action = "propose_meeting"
	ActionDisqualify       Action = "disqualify"
	ActionSendCalendarLink Action = "send_calendar_link"
	ActionDiscover         Action = "discover"
	ActionContinue         Action = "continue"
)

// Priority ranks how strongly the generation step must follow a recommendation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
)

// ErrPrematureProposal is returned by Recommendation.Check when a meeting is proposed
// without a confirmed Shopify platform.
var ErrPrematureProposal = errors.New("meeting proposed without confirmed shopify platform")

// Recommendation is exactly one next action with its rationale.
type Recommendation struct {
	Action Action `json:"action"`
	// Reason is set for ActionDisqualify only.
	Reason    string   `json:"reason,omitempty"`
	Reasoning string   `json:"reasoning"`
	Tags      []string `json:"tags"`
	Priority  Priority `json:"priority"`
	// Rule names the rule that fired.
	Rule string `json:"rule"`
}

// SuppressMeeting reports whether the reply must not offer a meeting.
func (r Recommendation) SuppressMeeting() bool {
	return r.Action != ActionProposeMeeting && r.Action != ActionSendCalendarLink
}

// Check verifies the recommendation against the state it was derived from.
func (r Recommendation) Check(s memory.State) error {
	if r.Action == ActionProposeMeeting && !s.PlatformConfirmed() {
		return fmt.Errorf("%w: platform=%s confidence=%.2f", ErrPrematureProposal, s.Platform, s.PlatformConfidence)
	}
	return nil
}

func (r Recommendation) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("%s(%s)", r.Action, r.Reason)
	}
	return string(r.Action)
}

func tags(s memory.State, a Action) []string {
	t := []string{
		"action:" + string(a),
		"phase:" + string(s.Phase),
		"platform:" + string(s.Platform),
		"pain:" + string(s.PainLevel),
		"temperature:" + string(s.Temperature()),
	}
	if s.InterventionMoment {
		t = append(t, "intervention")
	}
	if s.Disqualified() {
		t = append(t, "disqualified:"+s.DisqualifyReason)
	}
	if s.Platform == signals.PlatformOther && s.Competitor != "" {
		t = append(t, "competitor:"+s.Competitor)
	}
	return t
}
