package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/logx"
)

func TestMain(m *testing.M) {
	logx.Disable()
	os.Exit(m.Run())
}

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in   string
		want Environment
	}{
		{"production", Production},
		{" Production ", Production},
		{"staging", Staging},
		{"testing", Testing},
		{"", Development},
		{"qa", Development},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseEnvironment(tt.in), tt.in)
	}
	assert.True(t, Production.IsProduction())
	assert.False(t, Staging.IsProduction())
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Environment())
	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, 500*time.Millisecond, cfg.OpenAI.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.OpenAI.MaxWait)
	assert.Equal(t, 720*time.Hour, cfg.ConversationTTL)
	assert.Equal(t, TransportTwilio, cfg.Transport)
	assert.Equal(t, "/webhooks/twilio", cfg.Twilio.WebhookPath)
	assert.Equal(t, 16, cfg.MaxConcurrentHandlers)
	assert.Equal(t, 3, cfg.Redis.ReadTimeout)
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultDBFileName), cfg.StoreDSN())
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName), cfg.WhatsAppDSN())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEADPIPE_ENV", "production")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_ASSISTANT_ID", "asst_main")
	t.Setenv("OPENAI_TAGGER_ASSISTANT_ID", "asst_tagger")
	t.Setenv("OPENAI_MAX_WAIT", "45s")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+15550001111")
	t.Setenv("GOOGLE_CALENDAR_BOOKING_LINK", "https://cal.example.com/x")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/leads")
	t.Setenv("TRANSPORT", "Twilio")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Environment().IsProduction())
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 45*time.Second, cfg.OpenAI.MaxWait)
	assert.True(t, cfg.TaggerEnabled())
	assert.Equal(t, "AC123", cfg.Twilio.AccountSID)
	assert.Equal(t, "https://cal.example.com/x", cfg.BookingLink)
	assert.Equal(t, TransportTwilio, cfg.Transport)
	assert.Equal(t, "postgres://u:p@db/leads", cfg.StoreDSN())
	assert.Equal(t, "postgres://u:p@db/leads", cfg.WhatsAppDSN())

	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/0", cfg.StoreDSN())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENAI_ASSISTANT_ID=asst_from_file\nTRANSPORT=console\n"), 0o600))
	// godotenv does not override variables that are already set
	t.Setenv("OPENAI_ASSISTANT_ID", "")
	os.Unsetenv("OPENAI_ASSISTANT_ID")
	t.Setenv("TRANSPORT", "")
	os.Unsetenv("TRANSPORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "asst_from_file", cfg.OpenAI.AssistantID)
	assert.Equal(t, TransportConsole, cfg.Transport)
}

func TestValidate(t *testing.T) {
	valid := Config{
		OpenAI:                OpenAIConfig{APIKey: "k", AssistantID: "a", PollInterval: time.Second, MaxWait: time.Second},
		Transport:             TransportConsole,
		MaxConcurrentHandlers: 1,
	}
	require.NoError(t, valid.Validate())

	missingKey := valid
	missingKey.OpenAI.APIKey = ""
	assert.ErrorContains(t, missingKey.Validate(), "OPENAI_API_KEY")

	twilio := valid
	twilio.Transport = TransportTwilio
	assert.ErrorContains(t, twilio.Validate(), "TWILIO_ACCOUNT_SID")

	unknown := valid
	unknown.Transport = "telegram"
	assert.ErrorContains(t, unknown.Validate(), "unknown TRANSPORT")

	noTagger := valid
	noTagger.OpenAI.TaggerEnabled = true
	assert.False(t, noTagger.TaggerEnabled())
}
