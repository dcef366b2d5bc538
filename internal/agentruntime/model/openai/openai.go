// Package openai implements agentruntime.Runtime as a direct call to the
// OpenAI Chat Completions API via github.com/openai/openai-go, the official
// SDK module this project's go.mod carries, keeping the same
// ChatClient/Options/New/NewFromAPIKey shape as the Anthropic adapter. As
// with internal/agentruntime/model/anthropic, a step here is one user-turn
// completion rather than a multi-turn tool-using loop.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sprintfoundry/orchestrator/internal/agentruntime/resulttext"
	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
)

// ChatClient captures the subset of the OpenAI SDK used here, satisfied by
// the Chat.Completions service on *openai.Client.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the model identifier and generation defaults this
// runtime falls back to when a step doesn't name one explicitly.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64

	PromptCostPer1K     map[string]float64
	CompletionCostPer1K map[string]float64
}

// Runtime invokes the OpenAI Chat Completions API once per step.
type Runtime struct {
	chat ChatClient
	opts Options
}

// New builds a Runtime from a ChatClient and Options.
func New(chat ChatClient, opts Options) (*Runtime, error) {
	if chat == nil {
		return nil, errors.New("openai runtime: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai runtime: default model identifier is required")
	}
	return &Runtime{chat: chat, opts: opts}, nil
}

// NewFromAPIKey constructs a Runtime using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Runtime, error) {
	if apiKey == "" {
		return nil, errors.New("openai runtime: api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Chat.Completions, opts)
}

// RunStep sends the step's task as a single user message and extracts an
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

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	if r.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(r.opts.MaxTokens))
	}
	if r.opts.Temperature > 0 {
		params.Temperature = openai.Float(r.opts.Temperature)
	}

	resp, err := r.chat.New(ctx, params)
	if err != nil {
		if strings.Contains(err.Error(), "429") {
			return agentruntime.StepOutput{}, fmt.Errorf("openai runtime: rate limited: %w", err)
		}
		return agentruntime.StepOutput{}, fmt.Errorf("openai runtime: chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return agentruntime.StepOutput{}, errors.New("openai runtime: response had no choices")
	}

	text := resp.Choices[0].Message.Content
	result := resulttext.Extract(text)

	promptTokens := int(resp.Usage.PromptTokens)
	completionTokens := int(resp.Usage.CompletionTokens)

	return agentruntime.StepOutput{
		TokensUsed: promptTokens + completionTokens,
		// Chat Completions is stateless; see the analogous comment in
		// internal/agentruntime/model/anthropic.
		RuntimeID: fmt.Sprintf("local-openai-%s", resp.ID),
		CostUSD:   r.cost(modelID, promptTokens, completionTokens),
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
