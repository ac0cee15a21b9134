// Package agent turns one inbound lead message into the replies sent back.
//
// A turn loads the conversation, derives the belief state and recommendation,
// runs the assistant with those as instructions, validates the reply (asking
// for a rewrite when it breaks the rules) and records everything in the store.
// Provider failures never reach the caller: they become a user-safe apology.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/LeadPipe/internal/assistant"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/memory"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/policy"
	"github.com/BTreeMap/LeadPipe/internal/signals"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/tools"
	"github.com/BTreeMap/LeadPipe/internal/validator"
)

// ErrorReply is sent when the assistant could not produce a reply at all.
const ErrorReply = "Lo siento, ocurrió un error procesando tu mensaje. Por favor intenta nuevamente."

// DefaultMaxValidationRetries bounds the rewrites requested for a rejected reply.
const DefaultMaxValidationRetries = 2

// fallbackReplies are used in turn once every rewrite of a reply was rejected.
var fallbackReplies = []string{
	"Perdón, no entendí bien. ¿Me puedes explicar de nuevo?",
	"Disculpa, ¿podrías reformular eso?",
	"No caché bien, ¿me lo dices de nuevo?",
}

// Config tunes an Agent.
type Config struct {
	// BookingLink is sent once the lead accepts a meeting. Empty disables it.
	BookingLink string
	// TaggerAssistantID runs a second assistant that only calls the lead tools.
	TaggerAssistantID string
	TaggerEnabled     bool
	// MaxValidationRetries defaults to DefaultMaxValidationRetries. Negative disables rewrites.
	MaxValidationRetries int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Option customizes an Agent.
type Option func(*Agent)

// WithLocks shares the per-conversation lock table, usually with the orchestrator.
func WithLocks(locks *assistant.KeyedMutex) Option {
	return func(a *Agent) { a.locks = locks }
}

// Agent handles lead messages end to end.
type Agent struct {
	store     store.Store
	orch      *assistant.Orchestrator
	locks     *assistant.KeyedMutex
	cfg       Config
	fallbacks atomic.Uint64
}

// New builds an Agent over a store and an orchestrator.
func New(s store.Store, orch *assistant.Orchestrator, cfg Config, opts ...Option) *Agent {
	if cfg.MaxValidationRetries == 0 {
		cfg.MaxValidationRetries = DefaultMaxValidationRetries
	}
	if cfg.MaxValidationRetries < 0 {
		cfg.MaxValidationRetries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := &Agent{store: s, orch: orch, locks: assistant.NewKeyedMutex(), cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reply is the result of one handled message.
type Reply struct {
	TurnID string `json:"turnId"`
	// Text is the assistant reply as stored and sent.
	Text string `json:"text"`
	// Messages are the outbound messages in send order. The booking link, when
	// sent, follows the reply.
	Messages       []string              `json:"messages"`
	Recommendation policy.Recommendation `json:"recommendation"`
	State          memory.State          `json:"state"`
	// Attempts counts generation runs, rewrites included.
	Attempts int  `json:"attempts"`
	Fallback bool `json:"fallback"`
	LinkSent bool `json:"linkSent"`
}

// HandleMessage processes text from the lead identified by phone. Turns for the
// same phone run one at a time. Errors are returned only for invalid input,
// storage failures and cancellation of ctx.
func (a *Agent) HandleMessage(ctx context.Context, phone, text string) (Reply, error) {
	if phone == "" {
		return Reply{}, models.ErrEmptyPhone
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, errors.New("empty message")
	}

	turnID := uuid.NewString()

	unlock, err := a.locks.Lock(ctx, "conversation:"+phone)
	if err != nil {
		return Reply{}, err
	}
	defer unlock()

	now := a.cfg.Now().UTC()
	prior, err := a.store.History(ctx, phone)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}
	temporal := signals.Temporal(prior, now)

	if err := a.store.AppendMessage(ctx, phone, models.Message{Role: models.RoleUser, Content: text, Timestamp: now}); err != nil {
		return Reply{}, fmt.Errorf("append user message: %w", err)
	}
	history := append(prior, models.Message{Role: models.RoleUser, Content: text, Timestamp: now})

	state := memory.Build(history)
	rec := policy.Decide(state)
	if err := rec.Check(state); err != nil {
		logx.Error().Err(err).Str("phone", phone).Str("turn_id", turnID).Str("rule", rec.Rule).Msg("recommendation violates state guard")
	}
	obs := policy.Observe(state, temporal)
	logx.Info().
		Str("phone", phone).
		Str("turn_id", turnID).
		Str("phase", string(state.Phase)).
		Str("platform", string(state.Platform)).
		Float64("platform_confidence", state.PlatformConfidence).
		Str("pain", string(state.PainLevel)).
		Int("score", state.ConversionScore).
		Str("recommendation", rec.String()).
		Bool("resuming", temporal.Resuming).
		Msg("turn analyzed")

	a.saveDetectedFacts(ctx, phone, state)

	reply := Reply{TurnID: turnID, Recommendation: rec, State: state}
	out, attempts, fallback, err := a.generate(ctx, phone, text, state, policy.Instructions(state, rec, obs))
	if err != nil {
		return Reply{}, err
	}
	reply.Attempts = attempts
	reply.Fallback = fallback
	if out == ErrorReply {
		// The apology is not part of the dialogue.
		reply.Text = out
		reply.Messages = []string{out}
		return reply, nil
	}
	reply.Text = validator.Format(out)
	reply.Messages = []string{reply.Text}

	if err := a.store.AppendMessage(ctx, phone, models.Message{Role: models.RoleAssistant, Content: reply.Text, Timestamp: a.cfg.Now().UTC()}); err != nil {
		return Reply{}, fmt.Errorf("append assistant reply: %w", err)
	}

	if a.shouldSendLink(state, text, reply.Text) {
		booking := policy.BookingMessage(state, a.cfg.BookingLink)
		if err := a.recordBookingLink(ctx, phone, booking); err != nil {
			return Reply{}, err
		}
		reply.Messages = append(reply.Messages, booking)
		reply.LinkSent = true
		logx.Info().Str("phone", phone).Str("turn_id", turnID).Msg("booking link sent")
	}

	if err := a.updateStatus(ctx, phone, state, rec, reply.LinkSent); err != nil {
		logx.Warn().Err(err).Str("phone", phone).Str("turn_id", turnID).Msg("failed to update conversation status")
	}

	if a.cfg.TaggerEnabled && a.cfg.TaggerAssistantID != "" {
		a.tag(ctx, phone, history, turnID)
	}
	return reply, nil
}

// generate runs the assistant and asks for rewrites of rejected replies.
func (a *Agent) generate(ctx context.Context, phone, input string, state memory.State, instructions string) (string, int, bool, error) {
	phaseCtx := validator.ContextFor(state)
	attempts := 0
	for {
		attempts++
		res, err := a.orch.Process(ctx, assistant.Request{
			ConversationID: phone,
			Kind:           assistant.ThreadMain,
			Input:          input,
			Instructions:   instructions,
		})
		var result validator.Result
		switch {
		case err == nil:
			result = validator.Validate(res.Reply, phaseCtx)
		case errors.Is(err, assistant.ErrEmptyReply):
			result = validator.Validate("", phaseCtx)
		case ctx.Err() != nil:
			return "", attempts, false, ctx.Err()
		default:
			logx.Error().Err(err).Str("phone", phone).Int("attempt", attempts).Msg("assistant run failed")
			return ErrorReply, attempts, true, nil
		}

		if result.Valid {
			for _, w := range result.Warnings {
				logx.Warn().Str("phone", phone).Str("code", string(w.Code)).Msg(w.Message)
			}
			return res.Reply, attempts, false, nil
		}
		logx.Warn().Err(result.Err()).Str("phone", phone).Str("rules", result.Rules).Int("attempt", attempts).Msg("reply rejected")
		if attempts > a.cfg.MaxValidationRetries {
			return a.fallbackReply(), attempts, true, nil
		}
		input = validator.Correction(result)
	}
}

// fallbackReply rotates through the canned replies.
func (a *Agent) fallbackReply() string {
	n := a.fallbacks.Add(1) - 1
	return fallbackReplies[n%uint64(len(fallbackReplies))]
}

// shouldSendLink reports whether the lead just accepted a meeting the agent
// offered, or the reply itself promises the link, and no link went out before.
func (a *Agent) shouldSendLink(state memory.State, userText, reply string) bool {
	if a.cfg.BookingLink == "" || state.LinkSent {
		return false
	}
	if state.Disqualified() {
		return false
	}
	accepted := state.RecentlyOfferedMeeting && signals.ConfirmsScheduling(userText)
	return accepted || signals.PromisesLink(reply)
}

func (a *Agent) recordBookingLink(ctx context.Context, phone, booking string) error {
	now := a.cfg.Now().UTC()
	if err := a.store.AppendMessage(ctx, phone, models.Message{Role: models.RoleAssistant, Content: booking, Timestamp: now}); err != nil {
		return fmt.Errorf("append booking message: %w", err)
	}
	marker := fmt.Sprintf("%s. URL: %s", memory.BookingLinkMarker, a.cfg.BookingLink)
	if err := a.store.AppendMessage(ctx, phone, models.Message{Role: models.RoleSystem, Content: marker, Timestamp: now}); err != nil {
		return fmt.Errorf("append booking marker: %w", err)
	}
	return nil
}

// updateStatus records the score and temperature, keeping fields the lead
// tools may have set.
func (a *Agent) updateStatus(ctx context.Context, phone string, state memory.State, rec policy.Recommendation, linkSent bool) error {
	status, err := a.store.GetConversationStatus(ctx, phone)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	status.Score = state.ConversionScore
	status.Temperature = state.Temperature()
	switch {
	case rec.Action == policy.ActionDisqualify:
		status.Outcome = models.OutcomeDisqualified
	case linkSent:
		status.Outcome = models.OutcomeLinkSent
		status.ReadyToSchedule = true
	case status.Outcome == "":
		status.Outcome = models.OutcomePending
	}
	status.UpdatedAt = a.cfg.Now().UTC()
	return a.store.UpdateConversationStatus(ctx, phone, status)
}

// saveDetectedFacts stores what the analysis already knows before the model replies.
func (a *Agent) saveDetectedFacts(ctx context.Context, phone string, state memory.State) {
	var facts models.LeadFacts
	changed := false
	if state.PlatformConfirmed() {
		yes := true
		facts.HasShopify = &yes
		changed = true
	}
	if state.Name != "" {
		name := state.Name
		facts.Name = &name
		changed = true
	}
	if state.Business != "" {
		business := state.Business
		facts.BusinessType = &business
		changed = true
	}
	if state.InvestsInAds != nil {
		facts.InvestsInAds = state.InvestsInAds
		changed = true
	}
	if len(state.PainPoints) > 0 {
		facts.PainPoints = state.PainPoints
		changed = true
	}
	if !changed {
		return
	}
	if _, err := a.store.UpsertLeadFacts(ctx, phone, facts); err != nil {
		logx.Warn().Err(err).Str("phone", phone).Msg("failed to save detected lead facts")
	}
}

// tag runs the tagger assistant over the recent conversation. Failures are logged.
func (a *Agent) tag(ctx context.Context, phone string, history []models.Message, turnID string) {
	res, err := a.orch.Process(ctx, assistant.Request{
		ConversationID: phone,
		Kind:           assistant.ThreadTagger,
		AssistantID:    a.cfg.TaggerAssistantID,
		Input:          tools.TaggerPrompt(history),
		Tools:          tools.Definitions(),
	})
	if err != nil {
		logx.Warn().Err(err).Str("phone", phone).Str("turn_id", turnID).Msg("tagger run failed")
		return
	}
	logx.Debug().Str("phone", phone).Str("turn_id", turnID).Int("tool_calls", res.ToolCalls).Msg("tagger run completed")
}
