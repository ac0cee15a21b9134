package messaging

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without sending a reply through TwiML.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service on top of the Twilio REST API. Inbound
// messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	validator *twiliowhatsapp.SignatureValidator
	// webhookURL is the public URL Twilio signs requests against.
	webhookURL string
	responses  chan models.Inbound
	mu         sync.RWMutex
	stopped    bool
}

var _ Service = (*TwilioService)(nil)

// TwilioOption customizes a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature
// does not match publicURL.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = twiliowhatsapp.NewSignatureValidator(authToken)
		s.webhookURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService around a Twilio client or mock.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:    client,
		responses: make(chan models.Inbound, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+569..." as well as bare numbers.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		logx.Debug().Str("original", recipient).Str("canonical", canonical).Msg("TwilioService canonicalized recipient")
	}
	return canonical, nil
}

// Start is a no-op: inbound traffic is pushed by the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the responses channel. Webhook calls after Stop are rejected.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		logx.Error().Err(err).Str("to", to).Msg("TwilioService SendMessage validation error")
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// Responses returns the channel for incoming messages.
func (s *TwilioService) Responses() <-chan models.Inbound {
	return s.responses
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits them
// on the Responses channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		logx.Error().Err(err).Msg("failed to parse Twilio webhook form")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			logx.Warn().Str("remote_addr", r.RemoteAddr).Msg("Twilio webhook signature mismatch")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		logx.Warn().Str("from", from).Bool("body_set", body != "").Msg("Twilio webhook missing fields")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	logx.Info().Str("from", from).Str("message_sid", r.FormValue("MessageSid")).Int("body_length", len(body)).Msg("inbound WhatsApp message from Twilio")

	if !s.safeEmitResponse(models.Inbound{From: from, Body: body, Time: time.Now().Unix()}) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

// safeEmitResponse pushes an inbound message unless the service is stopped or
// the channel stays full for DefaultChannelTimeout.
func (s *TwilioService) safeEmitResponse(in models.Inbound) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		logx.Warn().Str("from", in.From).Msg("TwilioService dropping inbound message (service stopped)")
		return false
	}

	select {
	case s.responses <- in:
		logx.Debug().Str("from", in.From).Msg("TwilioService emitted inbound message")
		return true
	case <-time.After(DefaultChannelTimeout):
		logx.Warn().Str("from", in.From).Msg("TwilioService responses channel blocked, dropping message")
		return false
	}
}
