// Package bedrock implements agentruntime.Runtime as a direct call to the
// AWS Bedrock Converse API, grounded on
// features/model/bedrock/client.go's RuntimeClient abstraction (a narrow
// interface matching *bedrockruntime.Client so callers can substitute a
// fake) and its ConverseOutput -> assistant-message/usage translation.
// Tool configuration, thinking, and the ledger-backed transcript rehydration
// that client supports belong to a multi-turn tool-using agent loop; a step
// here is one Converse call with a single user message.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/sprintfoundry/orchestrator/internal/agentruntime/resulttext"
	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client this
// package needs, matching *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the model identifier and generation defaults this
// runtime falls back to.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32

	PromptCostPer1K     map[string]float64
	CompletionCostPer1K map[string]float64
}

// Runtime invokes the AWS Bedrock Converse API once per step.
type Runtime struct {
	runtime RuntimeClient
	opts    Options
}

// New builds a Runtime from a Bedrock runtime client and Options.
func New(client *bedrockruntime.Client, opts Options) (*Runtime, error) {
	if client == nil {
		return nil, errors.New("bedrock runtime: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock runtime: default model identifier is required")
	}
	return &Runtime{runtime: client, opts: opts}, nil
}

// RunStep sends the step's task as a single user turn and extracts an
// AgentResult from the model's fenced ```result block.
func (r *Runtime) RunStep(ctx context.Context, in agentruntime.StepInput) (agentruntime.StepOutput, error) {
	modelID := in.ModelConfig
	if modelID == "" {
		modelID = r.opts.DefaultModel
	}

	prompt := in.Task + resulttext.Prompt
	if in.ResumeSessionID != "" {
		prompt = fmt.Sprintf("(resuming prior session %s, reason: %s)\n\n", in.ResumeSessionID, in.ResumeReason) + prompt
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: &modelID,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
	}
	if r.opts.MaxTokens > 0 || r.opts.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if r.opts.MaxTokens > 0 {
			maxTokens := int32(r.opts.MaxTokens)
			cfg.MaxTokens = &maxTokens
		}
		if r.opts.Temperature > 0 {
			temp := r.opts.Temperature
			cfg.Temperature = &temp
		}
		input.InferenceConfig = cfg
	}

	output, err := r.runtime.Converse(ctx, input)
	if err != nil {
		if strings.Contains(err.Error(), "ThrottlingException") {
			return agentruntime.StepOutput{}, fmt.Errorf("bedrock runtime: rate limited: %w", err)
		}
		return agentruntime.StepOutput{}, fmt.Errorf("bedrock runtime: converse: %w", err)
	}

	var text strings.Builder
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if v, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text.WriteString(v.Value)
			}
		}
	}
	result := resulttext.Extract(text.String())

	var promptTokens, completionTokens int
	if output.Usage != nil {
		promptTokens = int(ptrValue(output.Usage.InputTokens))
		completionTokens = int(ptrValue(output.Usage.OutputTokens))
	}

	return agentruntime.StepOutput{
		TokensUsed: promptTokens + completionTokens,
		RuntimeID:  fmt.Sprintf("local-bedrock-%s-%d", in.Agent, in.StepNumber),
		CostUSD:    r.cost(modelID, promptTokens, completionTokens),
		Usage:           agentruntime.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens},
		RuntimeMetadata: map[string]any{"result": result},
	}, nil
}

func (r *Runtime) cost(modelID string, promptTokens, completionTokens int) float64 {
	promptRate, ok1 := r.opts.PromptCostPer1K[modelID]
	completionRate, ok2 := r.opts.CompletionCostPer1K[modelID]
	if !ok1 || !ok2 {
		return 0
	}
	return (float64(promptTokens)/1000)*promptRate + (float64(completionTokens)/1000)*completionRate
}

func ptrValue(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}
