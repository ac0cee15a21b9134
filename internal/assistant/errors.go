package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrThreadNotFound is returned by providers for unknown thread ids.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrRunTimeout is returned when a run does not finish before MaxWait.
	ErrRunTimeout = errors.New("run timed out")
	// ErrRateLimited marks a run that failed on a provider rate limit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmptyReply is returned when a completed run left no assistant text.
	ErrEmptyReply = errors.New("run completed without a reply")
)

// RunError reports a run that ended in failed, cancelled or expired.
type RunError struct {
	RunID  string
	Status RunStatus
	Reason string
	Err    error
}

func (e *RunError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
	}
	return fmt.Sprintf("run %s ended with status %s: %s", e.RunID, e.Status, e.Reason)
}

func (e *RunError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a failure inside a tool handler.
type ToolExecutionError struct {
	ToolCallID   string
	FunctionName string
	Err          error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (%s): %v", e.FunctionName, e.ToolCallID, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
