package messaging

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultMaxConcurrentHandlers bounds the conversations handled at once.
const DefaultMaxConcurrentHandlers = 16

// Handler answers one lead message.
type Handler interface {
	HandleMessage(ctx context.Context, phone, text string) (agent.Reply, error)
}

var _ Handler = (*agent.Agent)(nil)

// ResponseLoop feeds inbound messages from a Service to a Handler and sends
// the replies back. Messages from one phone are handled in arrival order;
// different phones are handled concurrently, at most limit at a time.
type ResponseLoop struct {
	svc     Service
	handler Handler
	limit   int

	mu     sync.Mutex
	queues map[string]*phoneQueue
}

type phoneQueue struct {
	pending []models.Inbound
}

// NewResponseLoop creates a loop. A limit below 1 means DefaultMaxConcurrentHandlers.
func NewResponseLoop(svc Service, handler Handler, limit int) *ResponseLoop {
	if limit < 1 {
		limit = DefaultMaxConcurrentHandlers
	}
	return &ResponseLoop{
		svc:     svc,
		handler: handler,
		limit:   limit,
		queues:  make(map[string]*phoneQueue),
	}
}

// Run consumes Responses until the channel closes or ctx is cancelled, then
// waits for in-flight conversations. It returns ctx.Err() on cancellation.
func (l *ResponseLoop) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(l.limit)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case in, ok := <-l.svc.Responses():
			if !ok {
				break loop
			}
			l.enqueue(ctx, &g, in)
		}
	}
	_ = g.Wait()
	logx.Info().Msg("response loop stopped")
	return runErr
}

func (l *ResponseLoop) enqueue(ctx context.Context, g *errgroup.Group, in models.Inbound) {
	phone, err := l.svc.ValidateAndCanonicalizeRecipient(in.From)
	if err != nil {
		logx.Warn().Err(err).Str("from", in.From).Msg("dropping inbound message from invalid sender")
		return
	}
	in.From = phone

	l.mu.Lock()
	if q, ok := l.queues[phone]; ok {
		q.pending = append(q.pending, in)
		l.mu.Unlock()
		return
	}
	q := &phoneQueue{pending: []models.Inbound{in}}
	l.queues[phone] = q
	l.mu.Unlock()

	// Go blocks while limit workers are busy, which pauses intake.
	g.Go(func() error {
		l.drain(ctx, phone, q)
		return nil
	})
}

func (l *ResponseLoop) drain(ctx context.Context, phone string, q *phoneQueue) {
	for {
		l.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			if n := len(q.pending); n > 0 {
				logx.Warn().Str("phone", phone).Int("dropped", n).Msg("shutting down with unhandled messages")
			}
			delete(l.queues, phone)
			l.mu.Unlock()
			return
		}
		in := q.pending[0]
		q.pending = q.pending[1:]
		l.mu.Unlock()

		l.handle(ctx, in)
	}
}

func (l *ResponseLoop) handle(ctx context.Context, in models.Inbound) {
	reply, err := l.handler.HandleMessage(ctx, in.From, in.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return
		}
		logx.Error().Err(err).Str("phone", in.From).Msg("failed to handle lead message")
		l.send(ctx, in.From, agent.ErrorReply)
		return
	}
	for _, msg := range reply.Messages {
		if !l.send(ctx, in.From, msg) {
			return
		}
	}
}

func (l *ResponseLoop) send(ctx context.Context, phone, body string) bool {
	if err := l.svc.SendMessage(ctx, phone, body); err != nil {
		logx.Error().Err(err).Str("phone", phone).Msg("failed to send reply")
		return false
	}
	return true
}
