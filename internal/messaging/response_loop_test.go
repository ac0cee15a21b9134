package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/assistant"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/testutil"
	"github.com/BTreeMap/LeadPipe/internal/tools"
)

// chanService is a Service whose inbound side is fed by the test.
type chanService struct {
	in   chan models.Inbound
	mu   sync.Mutex
	sent map[string][]string
}

func newChanService() *chanService {
	return &chanService{in: make(chan models.Inbound, 64), sent: make(map[string][]string)}
}

func (s *chanService) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	return CanonicalizePhone(r)
}

func (s *chanService) SendMessage(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[to] = append(s.sent[to], body)
	return nil
}

func (s *chanService) Start(context.Context) error     { return nil }
func (s *chanService) Stop() error                     { close(s.in); return nil }
func (s *chanService) Responses() <-chan models.Inbound { return s.in }

func (s *chanService) Sent(to string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent[to]...)
}

// recordingHandler echoes each message and tracks concurrency.
type recordingHandler struct {
	mu        sync.Mutex
	active    int
	maxActive int
	perPhone  map[string]int
	maxPhone  int
	seen      map[string][]string
	fail      string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{perPhone: make(map[string]int), seen: make(map[string][]string)}
}

func (h *recordingHandler) HandleMessage(ctx context.Context, phone, text string) (agent.Reply, error) {
	h.mu.Lock()
	h.active++
	h.perPhone[phone]++
	h.maxActive = max(h.maxActive, h.active)
	h.maxPhone = max(h.maxPhone, h.perPhone[phone])
	h.seen[phone] = append(h.seen[phone], text)
	h.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	h.mu.Lock()
	h.active--
	h.perPhone[phone]--
	h.mu.Unlock()

	if text == h.fail {
		return agent.Reply{}, errors.New("store unavailable")
	}
	return agent.Reply{Messages: []string{"re: " + text}}, nil
}

func TestResponseLoopKeepsPerPhoneOrder(t *testing.T) {
	svc := newChanService()
	h := newRecordingHandler()
	phones := []string{"whatsapp:+56911111111", "+56922222222", "56933333333"}
	for i := 1; i <= 5; i++ {
		for _, p := range phones {
			svc.in <- models.Inbound{From: p, Body: fmt.Sprintf("m%d", i)}
		}
	}
	svc.Stop()

	require.NoError(t, NewResponseLoop(svc, h, 2).Run(context.Background()))

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, p := range []string{"+56911111111", "+56922222222", "+56933333333"} {
		assert.Equal(t, want, h.seen[p], p)
		assert.Equal(t, []string{"re: m1", "re: m2", "re: m3", "re: m4", "re: m5"}, svc.Sent(p), p)
	}
	assert.Equal(t, 1, h.maxPhone)
	assert.LessOrEqual(t, h.maxActive, 2)
}

func TestResponseLoopLimit(t *testing.T) {
	svc := newChanService()
	h := newRecordingHandler()
	for i := 0; i < 6; i++ {
		svc.in <- models.Inbound{From: fmt.Sprintf("+5691111000%d", i), Body: "hola"}
	}
	svc.Stop()

	require.NoError(t, NewResponseLoop(svc, h, 1).Run(context.Background()))
	assert.Equal(t, 1, h.maxActive)
	assert.Len(t, h.seen, 6)
}

func TestResponseLoopApologizesOnError(t *testing.T) {
	svc := newChanService()
	h := newRecordingHandler()
	h.fail = "boom"
	svc.in <- models.Inbound{From: "+56912345678", Body: "boom"}
	svc.in <- models.Inbound{From: "+56912345678", Body: "hola"}
	svc.in <- models.Inbound{From: "nadie", Body: "hola"}
	svc.Stop()

	require.NoError(t, NewResponseLoop(svc, h, 0).Run(context.Background()))
	assert.Equal(t, []string{agent.ErrorReply, "re: hola"}, svc.Sent("+56912345678"))
	assert.Len(t, h.seen, 1)
}

type blockingHandler struct {
	started chan struct{}
	once    sync.Once
}

func (h *blockingHandler) HandleMessage(ctx context.Context, phone, text string) (agent.Reply, error) {
	h.once.Do(func() { close(h.started) })
	<-ctx.Done()
	return agent.Reply{}, ctx.Err()
}

func TestResponseLoopCancel(t *testing.T) {
	svc := newChanService()
	h := &blockingHandler{started: make(chan struct{})}
	svc.in <- models.Inbound{From: "+56912345678", Body: "hola"}
	svc.in <- models.Inbound{From: "+56912345678", Body: "sigo aquí"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewResponseLoop(svc, h, 4).Run(ctx) }()

	<-h.started
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Empty(t, svc.Sent("+56912345678"))
}

func TestConsoleConversationWithAgent(t *testing.T) {
	st := store.NewInMemoryStore()
	provider := testutil.NewFakeProvider(testutil.Reply("¡Hola! ¿Cómo se llama tu **tienda**?"))
	d := assistant.NewDispatcher()
	tools.New(st).Register(d)
	locks := assistant.NewKeyedMutex()
	orch := assistant.NewOrchestrator(provider, st, d, assistant.Config{
		AssistantID:  "asst_main",
		PollInterval: time.Millisecond,
		MaxWait:      2 * time.Second,
	}, assistant.WithLocks(locks))
	a := agent.New(st, orch, agent.Config{}, agent.WithLocks(locks))

	var out bytes.Buffer
	svc := NewConsoleService(strings.NewReader("hola\nvendo ropa\n"), &out, "")
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, NewResponseLoop(svc, a, 1).Run(ctx))

	assert.Equal(t, strings.Repeat("LeadPipe: ¡Hola! ¿Cómo se llama tu tienda?\n", 2), out.String())
	history, err := st.History(ctx, DefaultConsolePhone)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}
