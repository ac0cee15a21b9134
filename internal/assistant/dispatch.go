package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/BTreeMap/LeadPipe/internal/logx"
)

// ToolHandler executes one tool call. The returned value is encoded as JSON.
type ToolHandler func(ctx context.Context, conversationID string, args json.RawMessage) (any, error)

type registeredTool struct {
	def     ToolDefinition
	handler ToolHandler
}

// Dispatcher routes tool calls to registered handlers. Register everything
// before the dispatcher is shared between goroutines.
type Dispatcher struct {
	tools map[string]registeredTool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{tools: make(map[string]registeredTool)}
}

// Register binds a handler to def.Name, replacing any earlier binding.
func (d *Dispatcher) Register(def ToolDefinition, handler ToolHandler) {
	d.tools[def.Name] = registeredTool{def: def, handler: handler}
}

// Definitions lists the registered tools sorted by name.
func (d *Dispatcher) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(d.tools))
	for _, t := range d.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch executes a batch of calls in order and returns one output per call.
// Failures are encoded in the output rather than returned.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, calls []ToolCall) []ToolOutput {
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, ToolOutput{ID: call.ID, Output: d.execute(ctx, conversationID, call)})
	}
	return outputs
}

func (d *Dispatcher) execute(ctx context.Context, conversationID string, call ToolCall) string {
	tool, ok := d.tools[call.FunctionName]
	if !ok {
		logx.Warn().Str("conversation_id", conversationID).Str("function", call.FunctionName).Msg("unknown tool requested")
		return failureOutput("unknown function")
	}

	result, err := invoke(ctx, tool.handler, conversationID, call.Arguments)
	if err != nil {
		terr := &ToolExecutionError{ToolCallID: call.ID, FunctionName: call.FunctionName, Err: err}
		logx.Error().Err(terr).Str("conversation_id", conversationID).Msg("tool execution failed")
		return failureOutput(err.Error())
	}

	if s, ok := result.(string); ok {
		return s
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return failureOutput(fmt.Sprintf("encode result: %v", err))
	}
	return string(encoded)
}

func invoke(ctx context.Context, h ToolHandler, conversationID string, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, conversationID, args)
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func failureOutput(msg string) string {
	b, _ := json.Marshal(failure{Error: msg})
	return string(b)
}
