package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/assistant"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const phone = "+56912345678"

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestTagLeadInfo(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	tl := New(st)

	out, err := tl.TagLeadInfo(ctx, phone, raw(`{
		"hasShopify": true,
		"name": " Ana ",
		"businessType": "ropa deportiva",
		"monthlyRevenueCLP": 5000000,
		"painPoints": ["ventas bajas", " "]
	}`))
	require.NoError(t, err)
	res := out.(Result)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"hasShopify", "name", "businessType", "monthlyRevenueCLP", "painPoints"}, res.UpdatedFields)

	_, err = tl.TagLeadInfo(ctx, phone, raw(`{"painPoints": ["ventas bajas", "carritos abandonados"], "investsInAds": false}`))
	require.NoError(t, err)

	lead, err := st.GetLead(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "Ana", *lead.Facts.Name)
	assert.Equal(t, int64(5000000), *lead.Facts.MonthlyRevenueCLP)
	assert.False(t, *lead.Facts.InvestsInAds)
	assert.Equal(t, []string{"ventas bajas", "carritos abandonados"}, lead.Facts.PainPoints)
}

func TestTagLeadInfoNothingToTag(t *testing.T) {
	st := store.NewInMemoryStore()
	out, err := New(st).TagLeadInfo(context.Background(), phone, raw(`{"name": "", "monthlyRevenueCLP": 0}`))
	require.NoError(t, err)
	assert.Empty(t, out.(Result).UpdatedFields)

	_, err = st.GetLead(context.Background(), phone)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTagLeadInfoRejectsBadArguments(t *testing.T) {
	tl := New(store.NewInMemoryStore())
	for _, args := range []string{
		`{"email": "no-es-un-correo"}`,
		`{"monthlyRevenueCLP": -5}`,
		`{"hasShopify": "si"}`,
		`not json`,
	} {
		_, err := tl.TagLeadInfo(context.Background(), phone, raw(args))
		assert.ErrorIs(t, err, ErrInvalidArguments, args)
	}
}

func TestUpdateLeadStatus(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	tl := New(st)

	_, err := tl.UpdateLeadStatus(ctx, phone, raw(`{"leadScore": 7.5, "leadTemperature": "HOT"}`))
	require.NoError(t, err)

	status, err := st.GetConversationStatus(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 75, status.Score)
	assert.Equal(t, models.TemperatureHot, status.Temperature)
	assert.False(t, status.ReadyToSchedule)

	out, err := tl.UpdateLeadStatus(ctx, phone, raw(`{"outcome": "scheduled"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"outcome"}, out.(Result).UpdatedFields)

	status, err = st.GetConversationStatus(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 75, status.Score, "earlier fields are kept")
	assert.Equal(t, models.OutcomeScheduled, status.Outcome)
	assert.True(t, status.ReadyToSchedule)
}

func TestUpdateLeadStatusValidation(t *testing.T) {
	tl := New(store.NewInMemoryStore())
	tests := []string{
		`{"leadScore": 11}`,
		`{"leadScore": -1}`,
		`{"leadTemperature": "tibio"}`,
		`{"outcome": "won"}`,
	}
	for _, args := range tests {
		_, err := tl.UpdateLeadStatus(context.Background(), phone, raw(args))
		assert.ErrorIs(t, err, ErrInvalidArguments, args)
	}
}

func TestRegisterThroughDispatcher(t *testing.T) {
	st := store.NewInMemoryStore()
	d := assistant.NewDispatcher()
	New(st).Register(d)

	defs := d.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, TagLeadInfo, defs[0].Name)
	assert.Equal(t, UpdateLeadStatus, defs[1].Name)

	out := d.Dispatch(context.Background(), phone, []assistant.ToolCall{
		{ID: "1", FunctionName: TagLeadInfo, Arguments: raw(`{"name":"Ana"}`)},
		{ID: "2", FunctionName: UpdateLeadStatus, Arguments: raw(`{"leadScore": 42}`)},
	})
	require.Len(t, out, 2)
	assert.JSONEq(t, `{"success":true,"updatedFields":["name"]}`, out[0].Output)

	var failure struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out[1].Output), &failure))
	assert.False(t, failure.Success)
	assert.Contains(t, failure.Error, "leadScore")
}

func TestDefinitionsSchemas(t *testing.T) {
	defs := Definitions()
	for _, def := range defs {
		assert.Equal(t, "object", def.Parameters["type"], def.Name)
		_, err := json.Marshal(def.Parameters)
		assert.NoError(t, err, def.Name)
	}
	props := defs[0].Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "painPoints")
	assert.Len(t, props, 8)
}

func TestTaggerPrompt(t *testing.T) {
	var history []models.Message
	for i := 0; i < 8; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
	history = append(history, models.Message{Role: models.RoleSystem, Content: "📅 Link de agendamiento enviado"})
	history = append(history, models.Message{Role: models.RoleUser, Content: "vendo ropa"})

	p := TaggerPrompt(history)
	assert.NotContains(t, p, "m2")
	assert.Contains(t, p, "USUARIO: m4")
	assert.Contains(t, p, "AGENTE: m7")
	assert.Contains(t, p, "USUARIO: vendo ropa")
	assert.NotContains(t, p, "Link de agendamiento")
	assert.True(t, strings.HasPrefix(p, "# CONVERSACIÓN PARA ANALIZAR"))
}
