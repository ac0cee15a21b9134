package messaging

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // set when events can be subscribed to
	responses chan models.Inbound
	mu        sync.RWMutex
	stopped   bool
	handlerID uint32
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client:    client,
		responses: make(chan models.Inbound, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		logx.Debug().Msg("WhatsAppService created with full client for event handling")
	} else {
		logx.Debug().Msg("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient accepts "+569...", bare digits and JIDs.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start registers the message event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		logx.Debug().Msg("WhatsAppService no full client available, skipping event handling")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	logx.Debug().Msg("WhatsAppService event handler registered")
	return nil
}

// Stop unregisters the event handler and closes Responses. It is safe to call twice.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil && s.waClient.GetClient() != nil && s.handlerID != 0 {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
	}
	close(s.responses)
	logx.Info().Msg("WhatsAppService stopped")
	return nil
}

// SendMessage delivers body to a lead.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		logx.Error().Err(err).Str("to", canonical).Msg("WhatsAppService SendMessage error")
		return err
	}
	return nil
}

// Responses returns the channel of incoming lead messages.
func (s *WhatsAppService) Responses() <-chan models.Inbound {
	return s.responses
}

// handleIncomingMessage forwards direct text messages from leads. Our own
// messages, group chats and media are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		logx.Debug().Str("from", evt.Info.Sender.User).Msg("WhatsAppService ignoring non-text message")
		return
	}

	from, err := CanonicalizePhone(evt.Info.Sender.User)
	if err != nil {
		logx.Warn().Err(err).Str("sender", evt.Info.Sender.String()).Msg("WhatsAppService unusable sender")
		return
	}
	ts := evt.Info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.safeEmitResponse(models.Inbound{From: from, Body: text, Time: ts.Unix()})
}

func (s *WhatsAppService) safeEmitResponse(in models.Inbound) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		logx.Warn().Str("from", in.From).Msg("WhatsAppService dropping inbound message (service stopped)")
		return false
	}
	select {
	case s.responses <- in:
		logx.Info().Str("from", in.From).Msg("WhatsAppService incoming message forwarded")
		return true
	case <-time.After(DefaultChannelTimeout):
		logx.Warn().Str("from", in.From).Dur("timeout", DefaultChannelTimeout).Msg("WhatsAppService responses channel blocked, dropping message")
		return false
	}
}
