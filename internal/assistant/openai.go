package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// OpenAIProvider implements Provider over the OpenAI Assistants threads API.
type OpenAIProvider struct {
	client openai.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider authenticated with apiKey.
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{client: openai.NewClient(opts...)}, nil
}

func (p *OpenAIProvider) CreateThread(ctx context.Context) (string, error) {
	thread, err := p.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (p *OpenAIProvider) RetrieveThread(ctx context.Context, threadID string) error {
	_, err := p.client.Beta.Threads.Get(ctx, threadID)
	return threadError(err)
}

func (p *OpenAIProvider) PostMessage(ctx context.Context, threadID string, role models.Role, content string) error {
	msgRole := openai.BetaThreadMessageNewParamsRoleUser
	if role == models.RoleAssistant {
		msgRole = openai.BetaThreadMessageNewParamsRoleAssistant
	}
	_, err := p.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: msgRole,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: param.NewOpt(content),
		},
	})
	return threadError(err)
}

func (p *OpenAIProvider) CreateRun(ctx context.Context, threadID string, params RunParams) (Run, error) {
	body := openai.BetaThreadRunNewParams{
		AssistantID: params.AssistantID,
		Tools:       toolParams(params.Tools),
	}
	if params.Instructions != "" {
		body.AdditionalInstructions = param.NewOpt(params.Instructions)
	}
	run, err := p.client.Beta.Threads.Runs.New(ctx, threadID, body)
	if err != nil {
		return Run{}, err
	}
	return fromOpenAIRun(run), nil
}

func (p *OpenAIProvider) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := p.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, err
	}
	return fromOpenAIRun(run), nil
}

func (p *OpenAIProvider) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	body := openai.BetaThreadRunSubmitToolOutputsParams{}
	for _, out := range outputs {
		body.ToolOutputs = append(body.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: param.NewOpt(out.ID),
			Output:     param.NewOpt(out.Output),
		})
	}
	run, err := p.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, body)
	if err != nil {
		return Run{}, err
	}
	return fromOpenAIRun(run), nil
}

func (p *OpenAIProvider) LatestMessage(ctx context.Context, threadID string) (string, error) {
	page, err := p.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Limit: param.NewOpt(int64(10)),
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return "", err
	}
	for _, msg := range page.Data {
		if msg.Role != openai.MessageRoleAssistant {
			continue
		}
		var parts []string
		for _, c := range msg.Content {
			if c.Type == "text" {
				parts = append(parts, c.Text.Value)
			}
		}
		return strings.Join(parts, "\n"), nil
	}
	return "", nil
}

func toolParams(defs []ToolDefinition) []openai.AssistantToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.AssistantToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  shared.FunctionParameters(def.Parameters),
				},
			},
		})
	}
	return tools
}

func fromOpenAIRun(r *openai.Run) Run {
	run := Run{
		ID:        r.ID,
		Status:    statusFromOpenAI(r.Status),
		LastError: r.LastError.Message,
	}
	for _, call := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
		run.ToolCalls = append(run.ToolCalls, ToolCall{
			ID:           call.ID,
			FunctionName: call.Function.Name,
			Arguments:    json.RawMessage(call.Function.Arguments),
		})
	}
	return run
}

func statusFromOpenAI(s openai.RunStatus) RunStatus {
	switch s {
	case openai.RunStatusQueued:
		return StatusQueued
	case openai.RunStatusInProgress:
		return StatusRunning
	case openai.RunStatusRequiresAction:
		return StatusAwaitingToolOutput
	case openai.RunStatusCancelling:
		return StatusCancelling
	case openai.RunStatusCancelled:
		return StatusCancelled
	case openai.RunStatusFailed, openai.RunStatusIncomplete:
		return StatusFailed
	case openai.RunStatusCompleted:
		return StatusCompleted
	case openai.RunStatusExpired:
		return StatusExpired
	}
	return RunStatus(s)
}

// threadError maps a 404 to ErrThreadNotFound. Only calls addressing the thread itself
// use it: a 404 from a run call means a bad assistant or run id, not a lost thread.
func threadError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrThreadNotFound, err)
	}
	return err
}
