package messaging

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/goleak"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

func TestMain(m *testing.M) {
	logx.Disable()
	goleak.VerifyTestMain(m)
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "+56912345678", want: "+56912345678"},
		{in: "56 9 1234 5678", want: "+56912345678"},
		{in: "whatsapp:+15550001111", want: "+15550001111"},
		{in: "56912345678@s.whatsapp.net", want: "+56912345678"},
		{in: "(555) 000-1111", want: "+5550001111"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "+123", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CanonicalizePhone(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func postForm(t *testing.T, h http.HandlerFunc, form url.Values, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTwilioWebhookEmitsInbound(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	rec := postForm(t, svc.TwilioWebhookHandler, url.Values{
		"From":       {"whatsapp:+56912345678"},
		"Body":       {"hola"},
		"MessageSid": {"SM123"},
	}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Response></Response>")

	select {
	case in := <-svc.Responses():
		assert.Equal(t, "whatsapp:+56912345678", in.From)
		assert.Equal(t, "hola", in.Body)
		assert.NotZero(t, in.Time)
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTwilioWebhookRejectsBadRequests(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, httptest.NewRequest(http.MethodGet, "/webhooks/twilio", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = postForm(t, svc.TwilioWebhookHandler, url.Values{"From": {"whatsapp:+56912345678"}}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.Responses())
}

func TestTwilioWebhookSignature(t *testing.T) {
	const token = "secret"
	const publicURL = "https://leads.example.com/webhooks/twilio"
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation(token, publicURL))
	defer svc.Stop()

	form := url.Values{"From": {"whatsapp:+56912345678"}, "Body": {"hola"}}
	params := map[string]string{"From": "whatsapp:+56912345678", "Body": "hola"}

	rec := postForm(t, svc.TwilioWebhookHandler, form, sign("wrong", publicURL, params))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postForm(t, svc.TwilioWebhookHandler, form, sign(token, publicURL, params))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, svc.Responses(), 1)
}

func TestTwilioWebhookAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	rec := postForm(t, svc.TwilioWebhookHandler, url.Values{"From": {"+56912345678"}, "Body": {"hola"}}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	ctx := context.Background()

	require.NoError(t, svc.SendMessage(ctx, "whatsapp:+56 9 1234 5678", "hola"))
	assert.Equal(t, []twiliowhatsapp.SentMessage{{To: "+56912345678", Body: "hola"}}, mock.Sent())

	assert.Error(t, svc.SendMessage(ctx, "abc", "hola"))

	require.NoError(t, svc.Stop())
	assert.ErrorIs(t, svc.SendMessage(ctx, "+56912345678", "hola"), ErrServiceStopped)
}

func textEvent(sender string, text string, fromMe, group bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender:   types.NewJID(sender, types.DefaultUserServer),
				IsFromMe: fromMe,
				IsGroup:  group,
			},
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: &text},
	}
}

func TestWhatsAppServiceForwardsLeadMessages(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	svc.handleIncomingMessage(textEvent("56912345678", "hola", false, false))
	svc.handleIncomingMessage(textEvent("56912345678", "mío", true, false))
	svc.handleIncomingMessage(textEvent("56912345678", "grupo", false, true))
	svc.handleIncomingMessage(&events.Message{Info: textEvent("56912345678", "", false, false).Info, Message: &waE2E.Message{}})

	extended := "te escribo por la tienda"
	svc.handleIncomingMessage(&events.Message{
		Info:    textEvent("15550001111", "", false, false).Info,
		Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: &extended}},
	})

	require.Len(t, svc.Responses(), 2)
	assert.Equal(t, models.Inbound{From: "+56912345678", Body: "hola", Time: 1700000000}, <-svc.Responses())
	assert.Equal(t, models.Inbound{From: "+15550001111", Body: extended, Time: 1700000000}, <-svc.Responses())
}

func TestWhatsAppServiceSendAndStop(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	require.NoError(t, svc.SendMessage(ctx, "56912345678", "hola"))
	assert.Equal(t, []string{"+56912345678: hola"}, mock.Sent)

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
	_, ok := <-svc.Responses()
	assert.False(t, ok)
	assert.ErrorIs(t, svc.SendMessage(ctx, "56912345678", "hola"), ErrServiceStopped)

	svc.handleIncomingMessage(textEvent("56912345678", "tarde", false, false))
}

func TestConsoleService(t *testing.T) {
	var out bytes.Buffer
	svc := NewConsoleService(strings.NewReader("hola\n\n  uso shopify  \n"), &out, "")
	require.NoError(t, svc.Start(context.Background()))

	var got []models.Inbound
	for in := range svc.Responses() {
		got = append(got, in)
	}
	require.Len(t, got, 2)
	assert.Equal(t, DefaultConsolePhone, got[0].From)
	assert.Equal(t, "hola", got[0].Body)
	assert.Equal(t, "uso shopify", got[1].Body)

	require.NoError(t, svc.SendMessage(context.Background(), DefaultConsolePhone, "¿Qué vendes?"))
	assert.Equal(t, "LeadPipe: ¿Qué vendes?\n", out.String())
}

// sign computes X-Twilio-Signature for a form POST.
func sign(token, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
