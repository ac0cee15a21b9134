// Package models defines the core data structures for LeadPipe.
//
// It includes conversation messages, lead facts and conversation status records,
// which are shared across the analysis, orchestration, storage and messaging modules.
package models

import (
	"errors"
	"time"
)

// Role identifies who authored a conversation message.
type Role string

const (
	// RoleUser marks a message written by the lead.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the agent.
	RoleAssistant Role = "assistant"
	// RoleSystem marks bookkeeping entries (e.g. booking link sent).
	RoleSystem Role = "system"
)

// Message is a single entry of a conversation history.
type Message struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// IsUser reports whether the message was written by the lead.
func (m Message) IsUser() bool { return m.Role == RoleUser }

// IsAssistant reports whether the message was written by the agent.
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

// Temperature classifies how close a lead is to converting.
type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

// IsValidTemperature checks if the given temperature is supported.
func IsValidTemperature(t Temperature) bool {
	switch t {
	case TemperatureHot, TemperatureWarm, TemperatureCold:
		return true
	default:
		return false
	}
}

// Outcome is the terminal (or pending) result of a qualification conversation.
type Outcome string

const (
	OutcomeScheduled    Outcome = "scheduled"
	OutcomeDisqualified Outcome = "disqualified"
	OutcomePending      Outcome = "pending"
	OutcomeAbandoned    Outcome = "abandoned"
	OutcomeLinkSent     Outcome = "link_sent"
)

// IsValidOutcome checks if the given outcome is supported.
func IsValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeScheduled, OutcomeDisqualified, OutcomePending, OutcomeAbandoned, OutcomeLinkSent:
		return true
	default:
		return false
	}
}

// LeadFacts is a partial set of facts about a lead. Nil fields are left untouched on upsert.
type LeadFacts struct {
	HasShopify        *bool    `json:"hasShopify,omitempty"`
	Name              *string  `json:"name,omitempty"`
	Email             *string  `json:"email,omitempty"`
	BusinessType      *string  `json:"businessType,omitempty"`
	MonthlyRevenueCLP *int64   `json:"monthlyRevenueCLP,omitempty"`
	InvestsInAds      *bool    `json:"investsInAds,omitempty"`
	AdSpendMonthlyCLP *int64   `json:"adSpendMonthlyCLP,omitempty"`
	PainPoints        []string `json:"painPoints,omitempty"`
}

// Merge overlays the non-nil fields of update onto f and returns the result.
// Pain points are unioned, keeping first-seen order.
func (f LeadFacts) Merge(update LeadFacts) LeadFacts {
	out := f
	if update.HasShopify != nil {
		out.HasShopify = update.HasShopify
	}
	if update.Name != nil {
		out.Name = update.Name
	}
	if update.Email != nil {
		out.Email = update.Email
	}
	if update.BusinessType != nil {
		out.BusinessType = update.BusinessType
	}
	if update.MonthlyRevenueCLP != nil {
		out.MonthlyRevenueCLP = update.MonthlyRevenueCLP
	}
	if update.InvestsInAds != nil {
		out.InvestsInAds = update.InvestsInAds
	}
	if update.AdSpendMonthlyCLP != nil {
		out.AdSpendMonthlyCLP = update.AdSpendMonthlyCLP
	}
	if len(update.PainPoints) > 0 {
		seen := make(map[string]bool, len(out.PainPoints))
		merged := make([]string, 0, len(out.PainPoints)+len(update.PainPoints))
		for _, p := range append(append([]string{}, out.PainPoints...), update.PainPoints...) {
			if seen[p] {
				continue
			}
			seen[p] = true
			merged = append(merged, p)
		}
		out.PainPoints = merged
	}
	return out
}

// Lead is the persisted profile of a prospective customer, keyed by phone number.
type Lead struct {
	Phone     string    `json:"phone"`
	Facts     LeadFacts `json:"facts"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationStatus is the qualification status recorded for a conversation.
type ConversationStatus struct {
	Score           int         `json:"score"`
	Temperature     Temperature `json:"temperature"`
	Outcome         Outcome     `json:"outcome,omitempty"`
	ReadyToSchedule bool        `json:"readyToSchedule,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Validate checks that the status carries supported values.
func (s ConversationStatus) Validate() error {
	if s.Score < 0 || s.Score > 100 {
		return ErrInvalidScore
	}
	if s.Temperature != "" && !IsValidTemperature(s.Temperature) {
		return ErrInvalidTemperature
	}
	if s.Outcome != "" && !IsValidOutcome(s.Outcome) {
		return ErrInvalidOutcome
	}
	return nil
}

// Inbound is a message received from a messaging transport.
type Inbound struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Error variables for validation
var (
	ErrEmptyConversationID = errors.New("conversation id cannot be empty")
	ErrEmptyPhone          = errors.New("phone cannot be empty")
	ErrInvalidScore        = errors.New("score must be within [0,100]")
	ErrInvalidTemperature  = errors.New("invalid lead temperature")
	ErrInvalidOutcome      = errors.New("invalid conversation outcome")
)
