// Package api provides the HTTP server for LeadPipe.
//
// It mounts the Twilio webhook and exposes endpoints to inspect conversations,
// analyze transcripts without calling the model, and inject or send messages.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultWebhookPath is where the Twilio webhook is mounted.
	DefaultWebhookPath = "/webhooks/twilio"
	shutdownTimeout    = 10 * time.Second
	maxBodyBytes       = 1 << 20
)

// Server serves the LeadPipe HTTP API.
type Server struct {
	st          store.Store
	handler     messaging.Handler
	msgService  messaging.Service
	twilio      *messaging.TwilioService
	webhookPath string
	addr        string
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTwilioWebhook mounts the webhook of svc at path.
func WithTwilioWebhook(svc *messaging.TwilioService, path string) Option {
	return func(s *Server) {
		s.twilio = svc
		if path != "" {
			s.webhookPath = path
		}
	}
}

// WithMessagingService enables delivery of replies and the send endpoint.
func WithMessagingService(svc messaging.Service) Option {
	return func(s *Server) { s.msgService = svc }
}

// NewServer creates a Server. handler may be nil, which disables the message endpoint.
func NewServer(st store.Store, handler messaging.Handler, opts ...Option) *Server {
	s := &Server{
		st:          st,
		handler:     handler,
		webhookPath: DefaultWebhookPath,
		addr:        DefaultAddr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler with every endpoint mounted.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("POST /analyze", s.analyzeHandler)
	mux.HandleFunc("GET /conversations/{phone}", s.getConversationHandler)
	mux.HandleFunc("POST /conversations/{phone}/messages", s.postMessageHandler)
	mux.HandleFunc("POST /send", s.sendHandler)
	if s.twilio != nil {
		mux.HandleFunc(s.webhookPath, s.twilio.TwilioWebhookHandler)
		logx.Info().Str("path", s.webhookPath).Msg("Twilio webhook mounted")
	}
	return mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", s.addr).Msg("LeadPipe API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logx.Info().Msg("LeadPipe API shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}
