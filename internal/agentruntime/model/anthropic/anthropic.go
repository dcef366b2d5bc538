// Package anthropic implements agentruntime.Runtime as a direct call to the
// Anthropic Messages API, for steps the catalog assigns a model identifier
// rather than a CLI binary. It is grounded on
// features/model/anthropic/client.go's MessagesClient abstraction and
// Options shape (DefaultModel/HighModel/SmallModel/MaxTokens/Temperature),
// stripped of the tool-calling and streaming machinery that client exists
// for: a step here is one user-turn completion, not a multi-turn tool-using
// agent loop, so encodeTools/encodeMessages/translateResponse collapse into
// a single request/response pair.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/agentruntime/resulttext"
)

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the model identifiers and generation defaults this
// runtime falls back to when a step doesn't name one explicitly via
// StepInput.ModelConfig.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64

	// PromptCostPer1K and CompletionCostPer1K price one step's usage in
	// USD, keyed by model identifier. A model absent from either map
	// reports CostUSD as zero rather than guessing.
	PromptCostPer1K     map[string]float64
	CompletionCostPer1K map[string]float64
}

// Runtime invokes the Anthropic Messages API once per step.
type Runtime struct {
	msg  MessagesClient
	opts Options
}

// New builds a Runtime from an Anthropic Messages client and Options.
func New(msg MessagesClient, opts Options) (*Runtime, error) {
	if msg == nil {
		return nil, errors.New("anthropic runtime: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic runtime: default model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &Runtime{msg: msg, opts: opts}, nil
}

// NewFromAPIKey constructs a Runtime using the default Anthropic HTTP
// client, a convenience constructor for the common case of a single API key
// and no custom transport.
func NewFromAPIKey(apiKey string, opts Options) (*Runtime, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic runtime: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, opts)
}

// RunStep sends the step's task as a single user turn and extracts an
// AgentResult from the model's fenced ```result block.
func (r *Runtime) RunStep(ctx context.Context, in agentruntime.StepInput) (agentruntime.StepOutput, error) {
	modelID := r.resolveModel(in.ModelConfig)

	resumePrefix := ""
	if in.ResumeSessionID != "" {
		// The Messages API has no server-side session concept; a resumed
		// step replays the prior session id as context instead.
		resumePrefix = fmt.Sprintf("(resuming prior session %s, reason: %s)\n\n", in.ResumeSessionID, in.ResumeReason)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(r.opts.MaxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(resumePrefix + in.Task + resulttext.Prompt)),
		},
	}
	if r.opts.Temperature > 0 {
		params.Temperature = sdk.Float(r.opts.Temperature)
	}

	msg, err := r.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return agentruntime.StepOutput{}, fmt.Errorf("anthropic runtime: rate limited: %w", err)
		}
		return agentruntime.StepOutput{}, fmt.Errorf("anthropic runtime: messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	result := resulttext.Extract(text.String())

	promptTokens := int(msg.Usage.InputTokens)
	completionTokens := int(msg.Usage.OutputTokens)
	cost := r.cost(modelID, promptTokens, completionTokens)

	return agentruntime.StepOutput{
		TokensUsed: promptTokens + completionTokens,
		// Not a resumable server-side session: the Messages API is
		// stateless, so a "resume" here only ever means replaying the
		// prior session id as text context (see resumePrefix above).
		// Prefixing with "local-" keeps agentruntime.LooksLikeRealSession
		// from treating this id as something runtimesession can resume.
		RuntimeID: fmt.Sprintf("local-anthropic-%s", msg.ID),
		CostUSD:   cost,
		Usage:      agentruntime.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens},
		RuntimeMetadata: map[string]any{
			"result": result,
		},
	}, nil
}

func (r *Runtime) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return r.opts.DefaultModel
}

func (r *Runtime) cost(modelID string, promptTokens, completionTokens int) float64 {
	promptRate, ok1 := r.opts.PromptCostPer1K[modelID]
	completionRate, ok2 := r.opts.CompletionCostPer1K[modelID]
	if !ok1 || !ok2 {
		return 0
	}
	return (float64(promptTokens)/1000)*promptRate + (float64(completionTokens)/1000)*completionRate
}

func isRateLimited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}
