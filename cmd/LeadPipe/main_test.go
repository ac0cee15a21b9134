package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/policy"
	"github.com/BTreeMap/LeadPipe/internal/signals"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/testutil"
)

func TestMain(m *testing.M) {
	logx.Disable()
	goleak.VerifyTestMain(m)
}

const shopifyTranscript = `
messages:
  - role: user
    content: hola
    timestamp: 2026-03-02T10:00:00Z
  - role: assistant
    content: "¡Hola! ¿En qué plataforma tienes tu tienda?"
    timestamp: 2026-03-02T10:00:05Z
  - role: user
    content: uso shopify
    timestamp: 2026-03-02T10:01:00Z
`

func TestParseTranscript(t *testing.T) {
	history, err := parseTranscript([]byte(shopifyTranscript))
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC), history[2].Timestamp.UTC())

	list := "- role: user\n  content: no tengo tienda\n"
	history, err = parseTranscript([]byte(list))
	require.NoError(t, err)
	assert.Equal(t, []models.Message{{Role: models.RoleUser, Content: "no tengo tienda"}}, history)

	_, err = parseTranscript([]byte("- role: bot\n  content: hola\n"))
	assert.ErrorContains(t, err, "unsupported role")

	_, err = parseTranscript([]byte("messages: []\n"))
	assert.Error(t, err)

	_, err = parseTranscript([]byte("messages: [unterminated"))
	assert.Error(t, err)
}

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	logx.Disable()
	return out.String(), err
}

func TestAnalyzeCommandJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lead.yaml")
	require.NoError(t, os.WriteFile(path, []byte(shopifyTranscript), 0o644))

	out, err := runRoot(t, "", "analyze", path)
	require.NoError(t, err)

	var an api.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &an))
	assert.Equal(t, signals.PlatformShopify, an.State.Platform)
	assert.Equal(t, an.State.LeadScore(), an.LeadScore)
	assert.False(t, an.Observations.Situation == "")
}

func TestAnalyzeCommandBriefFromStdin(t *testing.T) {
	out, err := runRoot(t, "- role: user\n  content: no tengo tienda\n", "analyze", "--brief", "-")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "action="+string(policy.ActionDisqualify)+" "), out)
	assert.Contains(t, out, "score=")
}

func TestAnalyzeCommandErrors(t *testing.T) {
	_, err := runRoot(t, "", "analyze")
	assert.Error(t, err)

	_, err = runRoot(t, "", "analyze", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAnalyzeIsReproducible(t *testing.T) {
	history, err := parseTranscript([]byte(shopifyTranscript))
	require.NoError(t, err)
	assert.Equal(t, analyzeTranscript(history), analyzeTranscript(history))
}

func TestServeRequiresConfiguration(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_ASSISTANT_ID", "TRANSPORT"} {
		t.Setenv(k, "")
	}
	_, err := runRoot(t, "", "serve")
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestRunChat(t *testing.T) {
	cfg := config.Config{}
	cfg.OpenAI.AssistantID = "asst_main"
	cfg.OpenAI.PollInterval = time.Millisecond
	cfg.OpenAI.MaxWait = 2 * time.Second
	st := store.NewInMemoryStore()
	ag := buildAgent(cfg, st, testutil.NewFakeProvider(testutil.Reply("¡Hola! ¿Qué vendes?")))

	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), ag, strings.NewReader("hola\n"), &out, "+56912345678"))
	assert.Contains(t, out.String(), "LeadPipe: ¡Hola! ¿Qué vendes?")

	history, err := st.History(context.Background(), "+56912345678")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestOpenStoreMemoryAndSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{DatabaseURL: "memory"}
	st, closeStore, err := openStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.InMemoryStore{}, st)
	require.NoError(t, closeStore())

	cfg = config.Config{StateDir: t.TempDir()}
	st, closeStore, err = openStore(ctx, cfg)
	require.NoError(t, err)
	defer closeStore()
	require.NoError(t, st.AppendMessage(ctx, "+56912345678", models.Message{Role: models.RoleUser, Content: "hola"}))
	_, err = os.Stat(filepath.Join(cfg.StateDir, config.DefaultDBFileName))
	assert.NoError(t, err)
}
