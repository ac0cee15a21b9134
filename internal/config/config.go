// Package config loads LeadPipe settings from the environment.
//
// Variables may also come from a .env file in the working directory. Nested
// sections are prefixed with their section name, e.g. OPENAI_API_KEY or
// TWILIO_ACCOUNT_SID.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	// DefaultStateDir is the default directory for LeadPipe state data.
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "leadpipe.db"
	// DefaultWhatsAppDBFileName holds the whatsmeow device session.
	DefaultWhatsAppDBFileName = "whatsapp.db"
)

// Environment represents the deployment environment of the service.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

// IsProduction reports whether the environment corresponds to production.
func (e Environment) IsProduction() bool {
	return e == Production
}

// ParseEnvironment normalises v into one of the known environments. Unknown
// values fall back to Development.
func ParseEnvironment(v string) Environment {
	switch Environment(strings.ToLower(strings.TrimSpace(v))) {
	case Production:
		return Production
	case Staging:
		return Staging
	case Testing:
		return Testing
	default:
		return Development
	}
}

// Transport selects how lead messages arrive and leave.
type Transport string

const (
	TransportTwilio   Transport = "twilio"
	TransportWhatsApp Transport = "whatsapp"
	TransportConsole  Transport = "console"
)

// OpenAIConfig configures the assistant runs.
type OpenAIConfig struct {
	APIKey            string        `envconfig:"API_KEY"`
	AssistantID       string        `envconfig:"ASSISTANT_ID"`
	TaggerAssistantID string        `envconfig:"TAGGER_ASSISTANT_ID"`
	TaggerEnabled     bool          `envconfig:"TAGGER_ENABLED" default:"true"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"500ms"`
	MaxWait           time.Duration `envconfig:"MAX_WAIT" default:"30s"`
	BaseURL           string        `envconfig:"BASE_URL"`
}

// TwilioConfig holds the Twilio WhatsApp credentials.
type TwilioConfig struct {
	AccountSID string `envconfig:"ACCOUNT_SID"`
	AuthToken  string `envconfig:"AUTH_TOKEN"`
	FromNumber string `envconfig:"FROM_NUMBER"`
	// WebhookPath is where Twilio posts inbound messages.
	WebhookPath string `envconfig:"WEBHOOK_PATH" default:"/webhooks/twilio"`
	// WebhookURL is the public URL Twilio signs requests against. Signature
	// checks are skipped when empty.
	WebhookURL string `envconfig:"WEBHOOK_URL"`
}

// WhatsAppConfig configures the whatsmeow transport.
type WhatsAppConfig struct {
	DBDriver    string `envconfig:"DB_DRIVER"`
	DBDSN       string `envconfig:"DB_DSN"`
	QROutput    string `envconfig:"QR_OUTPUT"`
	NumericCode bool   `envconfig:"NUMERIC_CODE"`
}

// Config is the full application configuration.
type Config struct {
	Env         string `envconfig:"LEADPIPE_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	StateDir    string `envconfig:"LEADPIPE_STATE_DIR" default:"/var/lib/leadpipe"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	Redis           store.RedisConfig
	ConversationTTL time.Duration `envconfig:"CONVERSATION_TTL" default:"720h"`

	OpenAI      OpenAIConfig
	BookingLink string `envconfig:"GOOGLE_CALENDAR_BOOKING_LINK"`

	Transport Transport `envconfig:"TRANSPORT" default:"twilio"`
	Twilio    TwilioConfig
	WhatsApp  WhatsAppConfig

	APIAddr               string `envconfig:"API_ADDR" default:":8080"`
	MaxConcurrentHandlers int    `envconfig:"MAX_CONCURRENT_HANDLERS" default:"16"`
}

// Load reads .env files (missing files are ignored) and then the process
// environment. Variables already set in the environment win over .env.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		logx.Debug().Err(err).Msg("failed to load .env file")
	} else {
		logx.Debug().Msg("successfully loaded .env file")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment config: %w", err)
	}
	cfg.Transport = Transport(strings.ToLower(string(cfg.Transport)))

	logx.Debug().
		Str("env", cfg.Env).
		Str("state_dir", cfg.StateDir).
		Bool("database_url_set", cfg.DatabaseURL != "").
		Bool("redis_url_set", cfg.Redis.URL != "").
		Bool("openai_key_set", cfg.OpenAI.APIKey != "").
		Bool("assistant_id_set", cfg.OpenAI.AssistantID != "").
		Bool("booking_link_set", cfg.BookingLink != "").
		Str("transport", string(cfg.Transport)).
		Msg("environment config loaded")
	return cfg, nil
}

// Environment returns the parsed deployment environment.
func (c Config) Environment() Environment {
	return ParseEnvironment(c.Env)
}

// StoreDSN picks the conversation store: Redis when configured, then
// DATABASE_URL, then SQLite inside the state directory.
func (c Config) StoreDSN() string {
	switch {
	case c.Redis.URL != "":
		return c.Redis.URL
	case c.DatabaseURL != "":
		return c.DatabaseURL
	default:
		return filepath.Join(c.StateDir, DefaultDBFileName)
	}
}

// WhatsAppDSN returns the whatsmeow session store DSN, defaulting to SQLite in
// the state directory.
func (c Config) WhatsAppDSN() string {
	if c.WhatsApp.DBDSN != "" {
		return c.WhatsApp.DBDSN
	}
	if store.DetectDSNType(c.DatabaseURL) == store.DriverPostgres {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultWhatsAppDBFileName)
}

// Validate checks the settings the selected transport needs.
func (c Config) Validate() error {
	var errs []error
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAI.AssistantID == "" {
		errs = append(errs, errors.New("OPENAI_ASSISTANT_ID is required"))
	}
	if c.OpenAI.PollInterval <= 0 || c.OpenAI.MaxWait <= 0 {
		errs = append(errs, errors.New("OPENAI_POLL_INTERVAL and OPENAI_MAX_WAIT must be positive"))
	}
	if c.MaxConcurrentHandlers <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_HANDLERS must be positive"))
	}
	switch c.Transport {
	case TransportTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio transport"))
		}
	case TransportWhatsApp, TransportConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSPORT %q", c.Transport))
	}
	return errors.Join(errs...)
}

// TaggerEnabled reports whether a tagger assistant should run after each reply.
func (c Config) TaggerEnabled() bool {
	return c.OpenAI.TaggerEnabled && c.OpenAI.TaggerAssistantID != ""
}
