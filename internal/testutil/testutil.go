// Package testutil provides common test utilities and helpers for LeadPipe tests.
//
// FakeProvider is a scriptable, in-memory assistant.Provider used by the
// orchestrator, agent and messaging tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/assistant"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// RunCall describes a CreateRun request seen by the fake.
type RunCall struct {
	ThreadID string
	// Input is the newest user message on the thread.
	Input  string
	Params assistant.RunParams
	// Attempt counts runs created on the same thread, starting at 1.
	Attempt int
}

// Outcome scripts how a fake run behaves.
type Outcome struct {
	Reply string
	// ToolCalls are requested once before the run completes.
	ToolCalls []assistant.ToolCall
	// FailReason makes the run end as failed with this last error.
	FailReason string
	// Status forces a terminal status such as cancelled or expired.
	Status assistant.RunStatus
	// Polls is how many RetrieveRun calls report running before the outcome.
	Polls int
	// Hang keeps the run in progress forever.
	Hang bool
}

// Responder decides the outcome of each run.
type Responder func(ctx context.Context, call RunCall) Outcome

type fakeRun struct {
	threadID  string
	outcome   Outcome
	pollsLeft int
	submitted bool
	done      bool
}

// FakeProvider implements assistant.Provider in memory.
type FakeProvider struct {
	mu        sync.Mutex
	responder Responder
	nextID    int
	threads   map[string][]models.Message
	runs      map[string]*fakeRun
	attempts  map[string]int

	CreateThreadCalls   int
	RetrieveThreadCalls int
	PostMessageCalls    int
	CreateRunCalls      int
	// SubmittedOutputs records every tool output batch in order.
	SubmittedOutputs [][]assistant.ToolOutput
	// RunCalls records every CreateRun request in order.
	RunCalls []RunCall
}

var _ assistant.Provider = (*FakeProvider)(nil)

// NewFakeProvider builds a fake whose runs are decided by responder. A nil
// responder echoes the input.
func NewFakeProvider(responder Responder) *FakeProvider {
	if responder == nil {
		responder = func(_ context.Context, call RunCall) Outcome {
			return Outcome{Reply: "echo: " + call.Input}
		}
	}
	return &FakeProvider{
		responder: responder,
		threads:   make(map[string][]models.Message),
		runs:      make(map[string]*fakeRun),
		attempts:  make(map[string]int),
	}
}

// Reply returns a responder that always answers text.
func Reply(text string) Responder {
	return func(context.Context, RunCall) Outcome { return Outcome{Reply: text} }
}

// Sequence returns a responder that walks through outcomes, repeating the last one.
func Sequence(outcomes ...Outcome) Responder {
	var mu sync.Mutex
	i := 0
	return func(context.Context, RunCall) Outcome {
		mu.Lock()
		defer mu.Unlock()
		o := outcomes[i]
		if i < len(outcomes)-1 {
			i++
		}
		return o
	}
}

func (f *FakeProvider) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *FakeProvider) CreateThread(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateThreadCalls++
	id := f.id("thread")
	f.threads[id] = nil
	return id, nil
}

func (f *FakeProvider) RetrieveThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RetrieveThreadCalls++
	if _, ok := f.threads[threadID]; !ok {
		return fmt.Errorf("thread %s: %w", threadID, assistant.ErrThreadNotFound)
	}
	return nil
}

// DeleteThread simulates upstream expiry of a thread.
func (f *FakeProvider) DeleteThread(threadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.threads, threadID)
}

// SeedThread registers a thread id as existing upstream.
func (f *FakeProvider) SeedThread(threadID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[threadID]; !ok {
		f.threads[threadID] = nil
	}
}

// Messages returns the thread's messages.
func (f *FakeProvider) Messages(threadID string) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.threads[threadID]...)
}

func (f *FakeProvider) PostMessage(_ context.Context, threadID string, role models.Role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PostMessageCalls++
	msgs, ok := f.threads[threadID]
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, assistant.ErrThreadNotFound)
	}
	f.threads[threadID] = append(msgs, models.Message{Role: role, Content: content})
	return nil
}

func (f *FakeProvider) CreateRun(ctx context.Context, threadID string, params assistant.RunParams) (assistant.Run, error) {
	f.mu.Lock()
	msgs, ok := f.threads[threadID]
	if !ok {
		f.mu.Unlock()
		return assistant.Run{}, fmt.Errorf("thread %s: %w", threadID, assistant.ErrThreadNotFound)
	}
	f.CreateRunCalls++
	f.attempts[threadID]++
	call := RunCall{ThreadID: threadID, Params: params, Attempt: f.attempts[threadID]}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser() {
			call.Input = msgs[i].Content
			break
		}
	}
	f.RunCalls = append(f.RunCalls, call)
	f.mu.Unlock()

	// The responder runs unlocked so tests can block inside it.
	outcome := f.responder(ctx, call)
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRun{threadID: threadID, outcome: outcome, pollsLeft: outcome.Polls}
	id := f.id("run")
	f.runs[id] = r
	return f.snapshot(id, r), nil
}

func (f *FakeProvider) RetrieveRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok || r.threadID != threadID {
		return assistant.Run{}, fmt.Errorf("run %s not found", runID)
	}
	if r.pollsLeft > 0 {
		r.pollsLeft--
	}
	return f.snapshot(runID, r), nil
}

func (f *FakeProvider) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (assistant.Run, error) {
	if err := ctx.Err(); err != nil {
		return assistant.Run{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok || r.threadID != threadID {
		return assistant.Run{}, fmt.Errorf("run %s not found", runID)
	}
	if len(outputs) != len(r.outcome.ToolCalls) {
		return assistant.Run{}, fmt.Errorf("expected %d tool outputs, got %d", len(r.outcome.ToolCalls), len(outputs))
	}
	f.SubmittedOutputs = append(f.SubmittedOutputs, outputs)
	r.submitted = true
	return f.snapshot(runID, r), nil
}

// snapshot reports the run's current state. Callers hold f.mu.
func (f *FakeProvider) snapshot(id string, r *fakeRun) assistant.Run {
	run := assistant.Run{ID: id}
	o := r.outcome
	switch {
	case o.Hang || r.pollsLeft > 0:
		run.Status = assistant.StatusRunning
	case len(o.ToolCalls) > 0 && !r.submitted:
		run.Status = assistant.StatusAwaitingToolOutput
		run.ToolCalls = o.ToolCalls
	case o.FailReason != "":
		run.Status = assistant.StatusFailed
		run.LastError = o.FailReason
	case o.Status != "" && o.Status != assistant.StatusCompleted:
		run.Status = o.Status
	default:
		run.Status = assistant.StatusCompleted
		if !r.done {
			r.done = true
			f.threads[r.threadID] = append(f.threads[r.threadID], models.Message{Role: models.RoleAssistant, Content: o.Reply})
		}
	}
	return run
}

func (f *FakeProvider) LatestMessage(_ context.Context, threadID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.threads[threadID]
	if !ok {
		return "", fmt.Errorf("thread %s: %w", threadID, assistant.ErrThreadNotFound)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() {
			return msgs[i].Content, nil
		}
	}
	return "", nil
}

// Counts returns a consistent snapshot of the call counters.
func (f *FakeProvider) Counts() (createThread, postMessage, createRun int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CreateThreadCalls, f.PostMessageCalls, f.CreateRunCalls
}

// Outputs returns the recorded tool output batches.
func (f *FakeProvider) Outputs() [][]assistant.ToolOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]assistant.ToolOutput(nil), f.SubmittedOutputs...)
}

// Calls returns the recorded run requests.
func (f *FakeProvider) Calls() []RunCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RunCall(nil), f.RunCalls...)
}

// ToolCall builds a tool call with JSON-encoded arguments.
func ToolCall(t *testing.T, id, name string, args any) assistant.ToolCall {
	t.Helper()
	return assistant.ToolCall{ID: id, FunctionName: name, Arguments: MustMarshalJSON(t, args)}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
