package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func user(s string) models.Message      { return models.Message{Role: models.RoleUser, Content: s} }
func assistant(s string) models.Message { return models.Message{Role: models.RoleAssistant, Content: s} }

func TestNormalize(t *testing.T) {
	assert.Equal(t, "¿si, uso shopify?", Normalize("  ¿Sí, uso   SHOPIFY?  "))
	assert.Equal(t, "tu pagina esta genial", Normalize("Tú página está GENIAL"))
	assert.Equal(t, "", Normalize("   "))
}

func TestDetectPlatformTiers(t *testing.T) {
	tests := []struct {
		text       string
		method     Method
		confidence float64
		detected   bool
		disqualify bool
		reason     string
		platform   Platform
	}{
		{"no uso shopify", MethodNegation, 0.95, false, true, ReasonNotShopify, PlatformOther},
		{"sin shopify por ahora", MethodNegation, 0.95, false, true, ReasonNotShopify, PlatformOther},
		{"uso woocommerce, no shopify", MethodNegation, 0.95, false, true, ReasonNotShopify, PlatformOther},
		{"tengo magento", MethodCompetitor, 0.90, false, true, ReasonNotShopify, PlatformOther},
		{"uso shopify", MethodExplicitConfirmation, 0.95, true, false, "", PlatformShopify},
		{"Tengo mi tienda en Shopify", MethodExplicitConfirmation, 0.95, true, false, "", PlatformShopify},
		{"Shopify", MethodSingleWord, 0.85, true, false, "", PlatformShopify},
		{"shopify!", MethodSingleWord, 0.85, true, false, "", PlatformShopify},
		{"shopify obvio", MethodShortResponse, 0.90, true, false, "", PlatformShopify},
		{"la verdad creo que la plataforma se llama shopify pero no estoy seguro", MethodMention, 0.70, true, false, "", PlatformShopify},
		{"no tengo tienda", MethodStoreAbsence, 0.90, false, true, ReasonNoOnlineStore, PlatformUnknown},
		{"hola, buenas tardes", MethodNotDetected, 0, false, false, "", PlatformUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := DetectPlatform(tt.text)
			assert.Equal(t, tt.method, got.Method)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.detected, got.Detected)
			assert.Equal(t, tt.disqualify, got.ShouldDisqualify)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.platform, got.Platform())
		})
	}
}

func TestDetectPlatformCompetitorName(t *testing.T) {
	got := DetectPlatform("mi tienda está en Tienda Nube")
	assert.Equal(t, MethodCompetitor, got.Method)
	assert.Equal(t, "tienda nube", got.Competitor)
}

func TestDetectPlatformLongMessageIsNotAMention(t *testing.T) {
	text := "te cuento que hace mucho tiempo un amigo me habló de una plataforma que se llama shopify y la verdad nunca la probé"
	got := DetectPlatform(text)
	assert.Equal(t, MethodNotDetected, got.Method)
	assert.False(t, got.Confirmed())
}

func TestDetectPlatformScenarioA(t *testing.T) {
	got := DetectPlatform("uso shopify")
	require.True(t, got.Detected)
	assert.GreaterOrEqual(t, got.Confidence, 0.85)
	assert.LessOrEqual(t, got.Confidence, 0.95)
	assert.Contains(t, []Method{MethodSingleWord, MethodExplicitConfirmation}, got.Method)
}

func TestDetectPlatformScenarioB(t *testing.T) {
	got := DetectPlatform("no tengo tienda")
	assert.True(t, got.ShouldDisqualify)
	assert.Equal(t, ReasonNoOnlineStore, got.Reason)
}

func TestDetectPain(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		history  []models.Message
		level    PainLevel
		conf     float64
		signals  []string
		inLast   bool
		frustLvl PainLevel
	}{
		{"high", "no vendo nada", nil, PainHigh, 0.95, []string{"no vendo"}, true, PainLow},
		{"medium", "tengo pocas ventas", nil, PainMedium, 0.80, []string{"pocas ventas"}, true, PainLow},
		{"low", "necesito ayuda", nil, PainLow, 0.60, []string{"necesito ayuda"}, true, PainLow},
		{"high wins over medium", "estoy frustrado, tengo pocas ventas", nil, PainHigh, 0.95, []string{"frustrado"}, true, PainLow},
		{"frustration by count", "no vendo, estoy frustrado y cansado", nil, PainHigh, 0.95, []string{"no vendo", "frustrado", "cansado"}, true, PainHigh},
		{"from history", "uso shopify", []models.Message{user("vendo ropa"), user("no vendo nada")}, PainHigh, 0.95, []string{"no vendo"}, false, PainLow},
		{"no phrase across messages", "vendo poleras en shopify y me va bien", []models.Message{user("no")}, PainNone, 0, nil, false, PainNone},
		{"union across messages", "estoy frustrado", []models.Message{user("tengo pocas ventas"), user("no vendo")}, PainHigh, 0.95, []string{"no vendo", "frustrado"}, true, PainMedium},
		{"assistant text ignored", "ok", []models.Message{assistant("¿no funciona tu publicidad?")}, PainNone, 0, nil, false, PainNone},
		{"none", "hola", nil, PainNone, 0, nil, false, PainNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectPain(tt.text, tt.history)
			assert.Equal(t, tt.level, got.Level)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
			assert.Equal(t, tt.signals, got.Signals)
			assert.Equal(t, tt.inLast, got.ExpressedInLastMessage)
			assert.Equal(t, tt.frustLvl, got.Frustration)
		})
	}
}

func TestMaxPain(t *testing.T) {
	assert.Equal(t, PainHigh, MaxPain(PainHigh, PainLow))
	assert.Equal(t, PainMedium, MaxPain(PainLow, PainMedium))
	assert.Equal(t, PainNone, MaxPain("", PainNone))
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text   string
		intent Intent
		conf   float64
	}{
		{"dale", IntentScheduling, 0.9},
		{"Sí, me interesa", IntentScheduling, 0.9},
		{"¿Cómo funciona?", IntentQuestioning, 0.85},
		{"cuanto cuesta", IntentQuestioning, 0.85},
		{"déjame pensarlo", IntentObjecting, 0.75},
		{"no sé", IntentObjecting, 0.75},
		{"vendo ropa", IntentDiscovery, 0.5},
		{"sin resultados", IntentDiscovery, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := DetectIntent(tt.text)
			assert.Equal(t, tt.intent, got.Primary)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
		})
	}
}

func TestExtractEntities(t *testing.T) {
	e := ExtractEntities("Hola, me llamo ana y vendo ropa por instagram")
	assert.Equal(t, "Ana", e.Name)
	assert.Equal(t, "ropa", e.Business)
	assert.Nil(t, e.HasOnlineStore)
	assert.Nil(t, e.InvestsInAds)

	e = ExtractEntities("soy de santiago, mi nombre es Pedro")
	assert.Equal(t, "Pedro", e.Name)

	e = ExtractEntities("soy emprendedora y vendo joyas")
	assert.Empty(t, e.Name)
	assert.Equal(t, "joyas", e.Business)

	e = ExtractEntities("soy dueña de una tienda, me llamo Carla")
	assert.Equal(t, "Carla", e.Name)

	e = ExtractEntities("soy Marta")
	assert.Equal(t, "Marta", e.Name)

	e = ExtractEntities("no vendo nada")
	assert.Empty(t, e.Business)

	e = ExtractEntities("no tengo tienda")
	require.NotNil(t, e.HasOnlineStore)
	assert.False(t, *e.HasOnlineStore)

	e = ExtractEntities("tengo una tienda online e invierto en facebook ads")
	require.NotNil(t, e.HasOnlineStore)
	assert.True(t, *e.HasOnlineStore)
	require.NotNil(t, e.InvestsInAds)
	assert.True(t, *e.InvestsInAds)
}

func TestConfirmsScheduling(t *testing.T) {
	for _, text := range []string{"dale", "Sí, agendemos", "pásame el link", "me tinca", "ok perfecto"} {
		assert.True(t, ConfirmsScheduling(text), text)
	}
	for _, text := range []string{"", "no gracias", "tengo pocas ventas"} {
		assert.False(t, ConfirmsScheduling(text), text)
	}
}

func TestMeetingOfferAndLinkPromise(t *testing.T) {
	assert.True(t, OffersMeeting("¿Te tinca agendar una reunión corta?"))
	assert.False(t, OffersMeeting("¿Qué vendes?"))
	assert.True(t, PromisesLink("Genial, te paso el link"))
	assert.False(t, PromisesLink("Genial"))
}

func TestTemporal(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(role models.Role, ago time.Duration) models.Message {
		return models.Message{Role: role, Content: "x", Timestamp: now.Add(-ago)}
	}

	tc := Temporal(nil, now)
	assert.Equal(t, FreshnessNew, tc.Freshness)
	assert.False(t, tc.Resuming)

	tc = Temporal([]models.Message{at(models.RoleUser, 26*time.Hour), at(models.RoleAssistant, 25*time.Hour)}, now)
	assert.Equal(t, GapDayOrMore, tc.Gap)
	assert.Equal(t, FreshnessResumedAfterLongGap, tc.Freshness)
	assert.True(t, tc.Resuming)

	tc = Temporal([]models.Message{at(models.RoleUser, 7*time.Hour)}, now)
	assert.Equal(t, GapSeveralHours, tc.Gap)

	tc = Temporal([]models.Message{at(models.RoleUser, 2*time.Hour)}, now)
	assert.Equal(t, GapOverAnHour, tc.Gap)
	assert.Equal(t, FreshnessResumedRecently, tc.Freshness)

	tc = Temporal([]models.Message{at(models.RoleUser, 2*time.Minute), at(models.RoleUser, time.Minute)}, now)
	assert.Equal(t, FreshnessVeryFresh, tc.Freshness)
	assert.Equal(t, GapNone, tc.Gap)

	tc = Temporal([]models.Message{at(models.RoleUser, 10*time.Minute), at(models.RoleUser, time.Minute)}, now)
	assert.Equal(t, FreshnessActive, tc.Freshness)
	assert.Equal(t, time.Minute, tc.SinceLastUser)
	assert.Equal(t, 10*time.Minute, tc.SinceStart)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "2 días", HumanDuration(48*time.Hour))
	assert.Equal(t, "1 hora", HumanDuration(90*time.Minute))
	assert.Equal(t, "5 minutos", HumanDuration(5*time.Minute))
	assert.Equal(t, "tiempo desconocido", HumanDuration(0))
}

func TestAnalyzeInterventionMoment(t *testing.T) {
	a := Analyze("uso shopify, pero estoy frustrado", nil)
	assert.True(t, a.InterventionMoment())

	a = Analyze("estoy frustrado", nil)
	assert.False(t, a.InterventionMoment(), "a lone pain signal must not trigger an intervention")

	a = Analyze("creo que era shopify, estoy frustrado", nil)
	assert.Equal(t, MethodMention, a.Platform.Method)
	assert.False(t, a.InterventionMoment(), "a loose mention is below the confirmation threshold")
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	history := []models.Message{user("vendo ropa"), assistant("¿Cómo te va?"), user("no vendo nada")}
	assert.Equal(t, Analyze("uso shopify", history), Analyze("uso shopify", history))
}
