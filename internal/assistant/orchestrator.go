package assistant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultMaxWait         = 30 * time.Second
	DefaultRateLimitBuffer = time.Second
)

// Config holds orchestrator tuning. Zero durations fall back to the defaults.
type Config struct {
	AssistantID     string
	PollInterval    time.Duration
	MaxWait         time.Duration
	RateLimitBuffer time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.RateLimitBuffer <= 0 {
		c.RateLimitBuffer = DefaultRateLimitBuffer
	}
	return c
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLocks shares a KeyedMutex with other components.
func WithLocks(locks *KeyedMutex) Option {
	return func(o *Orchestrator) { o.locks = locks }
}

// WithRateLimitSleeper replaces the wait used before a rate-limit retry.
func WithRateLimitSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.rateLimitSleep = s }
}

// Orchestrator runs model turns against per-conversation threads.
type Orchestrator struct {
	provider       Provider
	threads        ThreadStore
	dispatcher     *Dispatcher
	locks          *KeyedMutex
	cfg            Config
	pollSleep      Sleeper
	rateLimitSleep Sleeper
}

// NewOrchestrator wires a provider and thread store. A nil dispatcher means runs
// are started without tools.
func NewOrchestrator(provider Provider, threads ThreadStore, dispatcher *Dispatcher, cfg Config, opts ...Option) *Orchestrator {
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	o := &Orchestrator{
		provider:       provider,
		threads:        threads,
		dispatcher:     dispatcher,
		locks:          NewKeyedMutex(),
		cfg:            cfg.withDefaults(),
		pollSleep:      sleepContext,
		rateLimitSleep: sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request is one turn submitted to a thread.
type Request struct {
	ConversationID string
	Kind           ThreadKind
	Input          string
	// AssistantID overrides Config.AssistantID.
	AssistantID  string
	Instructions string
	// Tools defaults to every tool registered on the dispatcher.
	Tools []ToolDefinition
}

// Result is the outcome of a completed turn.
type Result struct {
	Session
	Reply            string
	ToolCalls        int
	RateLimitRetries int
}

// Process serializes turns per conversation thread and runs one to completion.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	if req.ConversationID == "" {
		return Result{}, models.ErrEmptyConversationID
	}
	if req.Kind == "" {
		req.Kind = ThreadMain
	}

	unlock, err := o.locks.Lock(ctx, lockKey(req.ConversationID, req.Kind))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	threadID, err := o.EnsureThread(ctx, req.ConversationID, req.Kind)
	if err != nil {
		return Result{}, err
	}

	res, err := o.SubmitAndAwait(ctx, threadID, req)
	if errors.Is(err, ErrThreadNotFound) {
		// Thread vanished between verification and posting.
		logx.Warn().Str("conversation_id", req.ConversationID).Str("thread_id", threadID).Msg("thread disappeared, recreating")
		if threadID, err = o.createThread(ctx, req.ConversationID, req.Kind); err != nil {
			return Result{}, err
		}
		res, err = o.SubmitAndAwait(ctx, threadID, req)
	}
	res.ConversationID = req.ConversationID
	return res, err
}

func lockKey(conversationID string, kind ThreadKind) string {
	return "thread:" + string(kind) + ":" + conversationID
}

// EnsureThread returns the conversation's thread of the given kind, creating and
// persisting one when none is recorded or the recorded one no longer exists.
// Callers must serialize calls for the same conversation.
func (o *Orchestrator) EnsureThread(ctx context.Context, conversationID string, kind ThreadKind) (string, error) {
	threadID, err := o.storedThreadID(ctx, conversationID, kind)
	if err != nil {
		return "", fmt.Errorf("load thread id: %w", err)
	}
	if threadID != "" {
		err := o.provider.RetrieveThread(ctx, threadID)
		if err == nil {
			return threadID, nil
		}
		if !errors.Is(err, ErrThreadNotFound) {
			return "", fmt.Errorf("retrieve thread %s: %w", threadID, err)
		}
		logx.Warn().Str("conversation_id", conversationID).Str("thread_id", threadID).Msg("stored thread not found upstream, creating a new one")
	}
	return o.createThread(ctx, conversationID, kind)
}

func (o *Orchestrator) createThread(ctx context.Context, conversationID string, kind ThreadKind) (string, error) {
	threadID, err := o.provider.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if kind == ThreadTagger {
		err = o.threads.SetTaggerThreadID(ctx, conversationID, threadID)
	} else {
		err = o.threads.SetThreadID(ctx, conversationID, threadID)
	}
	if err != nil {
		return "", fmt.Errorf("persist thread id: %w", err)
	}
	logx.Info().Str("conversation_id", conversationID).Str("thread_id", threadID).Str("kind", string(kind)).Msg("thread created")
	return threadID, nil
}

func (o *Orchestrator) storedThreadID(ctx context.Context, conversationID string, kind ThreadKind) (string, error) {
	if kind == ThreadTagger {
		return o.threads.GetTaggerThreadID(ctx, conversationID)
	}
	return o.threads.GetThreadID(ctx, conversationID)
}

// SubmitAndAwait posts req.Input to the thread, starts a run and waits for it.
// A run that fails on a rate limit with a retry hint is retried once, without
// posting the input again.
func (o *Orchestrator) SubmitAndAwait(ctx context.Context, threadID string, req Request) (Result, error) {
	res := Result{Session: Session{ConversationID: req.ConversationID, ThreadID: threadID}}

	if err := o.provider.PostMessage(ctx, threadID, models.RoleUser, req.Input); err != nil {
		return res, fmt.Errorf("post message: %w", err)
	}

	params := o.runParams(req)
	run, err := o.startAndAwait(ctx, threadID, req.ConversationID, params, &res)

	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Status == StatusFailed {
		if wait, ok := retryAfter(runErr.Reason); ok {
			delay := wait + o.cfg.RateLimitBuffer
			logx.Warn().Str("conversation_id", req.ConversationID).Str("run_id", runErr.RunID).Dur("delay", delay).Msg("run rate limited, retrying once")
			if err := o.rateLimitSleep(ctx, delay); err != nil {
				return res, err
			}
			res.RateLimitRetries++
			run, err = o.startAndAwait(ctx, threadID, req.ConversationID, params, &res)
		}
	}
	if err != nil {
		return res, err
	}

	reply, err := o.provider.LatestMessage(ctx, threadID)
	if err != nil {
		return res, fmt.Errorf("read reply: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return res, ErrEmptyReply
	}
	res.RunID = run.ID
	res.Reply = reply
	return res, nil
}

func (o *Orchestrator) runParams(req Request) RunParams {
	params := RunParams{
		AssistantID:  req.AssistantID,
		Instructions: req.Instructions,
		Tools:        req.Tools,
	}
	if params.AssistantID == "" {
		params.AssistantID = o.cfg.AssistantID
	}
	if params.Tools == nil {
		params.Tools = o.dispatcher.Definitions()
	}
	return params
}

func (o *Orchestrator) startAndAwait(ctx context.Context, threadID, conversationID string, params RunParams, res *Result) (Run, error) {
	run, err := o.provider.CreateRun(ctx, threadID, params)
	if err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	res.RunID = run.ID
	res.Status = run.Status
	logx.Debug().Str("conversation_id", conversationID).Str("run_id", run.ID).Msg("run started")

	run, err = o.await(ctx, threadID, conversationID, run, res)
	res.Status = run.Status
	return run, err
}

func (o *Orchestrator) await(ctx context.Context, threadID, conversationID string, run Run, res *Result) (Run, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.MaxWait)
	defer cancel()

	timedOut := func(err error) (Run, error) {
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			run.Status = StatusTimedOut
			logx.Warn().Str("conversation_id", conversationID).Str("run_id", run.ID).Dur("max_wait", o.cfg.MaxWait).Msg("run timed out")
			return run, fmt.Errorf("run %s: %w", run.ID, ErrRunTimeout)
		}
		return run, err
	}

	for {
		switch run.Status {
		case StatusCompleted:
			return run, nil
		case StatusAwaitingToolOutput:
			res.ToolCalls += len(run.ToolCalls)
			outputs := o.dispatcher.Dispatch(waitCtx, conversationID, run.ToolCalls)
			next, err := o.provider.SubmitToolOutputs(waitCtx, threadID, run.ID, outputs)
			if err != nil {
				if waitCtx.Err() != nil {
					return timedOut(err)
				}
				return run, fmt.Errorf("submit tool outputs: %w", err)
			}
			run = next
			continue
		case StatusFailed, StatusCancelled, StatusExpired:
			runErr := &RunError{RunID: run.ID, Status: run.Status, Reason: run.LastError}
			if isRateLimit(run.LastError) {
				runErr.Err = ErrRateLimited
			}
			return run, runErr
		}

		if err := o.pollSleep(waitCtx, o.cfg.PollInterval); err != nil {
			return timedOut(err)
		}
		next, err := o.provider.RetrieveRun(waitCtx, threadID, run.ID)
		if err != nil {
			if waitCtx.Err() != nil {
				return timedOut(err)
			}
			return run, fmt.Errorf("retrieve run: %w", err)
		}
		run = next
	}
}

var retryHint = regexp.MustCompile(`(?i)try again in ([\d.]+)\s*(ms|s(?:ec(?:ond)?s?)?)\b`)

func isRateLimit(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "rate limit")
}

// retryAfter extracts the wait suggested by a rate-limit failure message.
func retryAfter(reason string) (time.Duration, bool) {
	if !isRateLimit(reason) {
		return 0, false
	}
	m := retryHint.FindStringSubmatch(reason)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 {
		return 0, false
	}
	unit := time.Second
	if strings.EqualFold(m[2], "ms") {
		unit = time.Millisecond
	}
	return time.Duration(v * float64(unit)), true
}
