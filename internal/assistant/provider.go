// Package assistant drives model runs on persistent conversation threads.
//
// An Orchestrator maps each conversation to a provider thread, posts the user's
// input, starts a run and polls it to a terminal state. Tool calls requested by
// the run are executed through a Dispatcher and submitted back as one batch.
package assistant

import (
	"context"
	"encoding/json"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// RunStatus is the provider-neutral lifecycle state of a run.
type RunStatus string

const (
	StatusQueued             RunStatus = "queued"
	StatusRunning            RunStatus = "running"
	StatusAwaitingToolOutput RunStatus = "awaiting_tool_output"
	StatusCancelling         RunStatus = "cancelling"
	StatusCompleted          RunStatus = "completed"
	StatusFailed             RunStatus = "failed"
	StatusCancelled          RunStatus = "cancelled"
	StatusExpired            RunStatus = "expired"
	StatusTimedOut           RunStatus = "timed_out"
)

// Terminal reports whether no further progress is possible for the run.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusTimedOut:
		return true
	}
	return false
}

// ToolCall is a function invocation requested by a run.
type ToolCall struct {
	ID           string
	FunctionName string
	Arguments    json.RawMessage
}

// ToolOutput answers a ToolCall. Output is a JSON document.
type ToolOutput struct {
	ID     string
	Output string
}

// Run is a snapshot of a provider run.
type Run struct {
	ID        string
	Status    RunStatus
	LastError string
	ToolCalls []ToolCall
}

// ToolDefinition describes a function the model may call. Parameters is a JSON schema.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// RunParams configures a single run.
type RunParams struct {
	AssistantID  string
	Instructions string
	Tools        []ToolDefinition
}

// Provider is the remote model service. Implementations must return
// ErrThreadNotFound (possibly wrapped) when a thread does not exist.
type Provider interface {
	CreateThread(ctx context.Context) (string, error)
	RetrieveThread(ctx context.Context, threadID string) error
	PostMessage(ctx context.Context, threadID string, role models.Role, content string) error
	CreateRun(ctx context.Context, threadID string, params RunParams) (Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	// LatestMessage returns the text of the newest assistant message on the thread.
	LatestMessage(ctx context.Context, threadID string) (string, error)
}

// ThreadKind selects which of a conversation's threads is addressed.
type ThreadKind string

const (
	ThreadMain   ThreadKind = "main"
	ThreadTagger ThreadKind = "tagger"
)

// ThreadStore persists conversation to thread mappings. An empty id with a nil
// error means no thread has been recorded yet.
type ThreadStore interface {
	GetThreadID(ctx context.Context, conversationID string) (string, error)
	SetThreadID(ctx context.Context, conversationID, threadID string) error
	GetTaggerThreadID(ctx context.Context, conversationID string) (string, error)
	SetTaggerThreadID(ctx context.Context, conversationID, threadID string) error
}

// Session records the outcome of one Process call.
type Session struct {
	ConversationID string
	ThreadID       string
	RunID          string
	Status         RunStatus
}
