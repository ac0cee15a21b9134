package main

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/assistant"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/tools"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// openStore opens the store selected by the configuration. The returned
// closer releases it.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func() error, error) {
	dsn := cfg.StoreDSN()
	driver := store.DetectDSNType(dsn)
	logx.Info().Str("driver", driver).Msg("opening conversation store")

	if driver == store.DriverRedis {
		client, err := cfg.Redis.NewRedisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStoreFromClient(client, cfg.ConversationTTL), client.Close, nil
	}
	st, err := store.New(dsn, store.WithTTL(cfg.ConversationTTL))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return st, st.Close, nil
}

// newAgent builds the OpenAI provider, the orchestrator and the agent on top of st.
func newAgent(cfg config.Config, st store.Store) (*agent.Agent, error) {
	var reqOpts []option.RequestOption
	if cfg.OpenAI.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	provider, err := assistant.NewOpenAIProvider(cfg.OpenAI.APIKey, reqOpts...)
	if err != nil {
		return nil, err
	}
	return buildAgent(cfg, st, provider), nil
}

func buildAgent(cfg config.Config, st store.Store, provider assistant.Provider) *agent.Agent {
	dispatcher := assistant.NewDispatcher()
	tools.New(st).Register(dispatcher)

	locks := assistant.NewKeyedMutex()
	orch := assistant.NewOrchestrator(provider, st, dispatcher, assistant.Config{
		AssistantID:  cfg.OpenAI.AssistantID,
		PollInterval: cfg.OpenAI.PollInterval,
		MaxWait:      cfg.OpenAI.MaxWait,
	}, assistant.WithLocks(locks))

	return agent.New(st, orch, agent.Config{
		BookingLink:       cfg.BookingLink,
		TaggerAssistantID: cfg.OpenAI.TaggerAssistantID,
		TaggerEnabled:     cfg.TaggerEnabled(),
	}, agent.WithLocks(locks))
}

// transport is the messaging side of serve.
type transport struct {
	svc    messaging.Service
	twilio *messaging.TwilioService
	close  func()
}

func newTransport(ctx context.Context, cfg config.Config) (transport, error) {
	switch cfg.Transport {
	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken),
			twiliowhatsapp.WithFromWhats(cfg.Twilio.FromNumber),
		)
		if err != nil {
			return transport{}, err
		}
		var opts []messaging.TwilioOption
		if cfg.Twilio.WebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(cfg.Twilio.AuthToken, cfg.Twilio.WebhookURL))
		} else {
			logx.Warn().Msg("TWILIO_WEBHOOK_URL not set; webhook signatures are not verified")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return transport{svc: svc, twilio: svc, close: func() {}}, nil

	case config.TransportWhatsApp:
		var opts []whatsapp.Option
		opts = append(opts, whatsapp.WithDBDSN(cfg.WhatsAppDSN()))
		if cfg.WhatsApp.DBDriver != "" {
			opts = append(opts, whatsapp.WithDBDriver(cfg.WhatsApp.DBDriver))
		}
		if cfg.WhatsApp.QROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QROutput))
		}
		if cfg.WhatsApp.NumericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return transport{}, err
		}
		return transport{svc: messaging.NewWhatsAppService(client), close: client.Close}, nil
	}
	return transport{}, fmt.Errorf("transport %q is not served; use the chat command for the console", cfg.Transport)
}
