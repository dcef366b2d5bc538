package plannerllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openaisdk "github.com/openai/openai-go"

	"github.com/sprintfoundry/orchestrator/internal/agentruntime/model/anthropic"
	"github.com/sprintfoundry/orchestrator/internal/agentruntime/model/bedrock"
	openaimodel "github.com/sprintfoundry/orchestrator/internal/agentruntime/model/openai"
)

// anthropicClient adapts anthropic.MessagesClient (the same narrow
// interface internal/agentruntime/model/anthropic exercises) to ModelClient,
// for callers who want a planning model backed by the Anthropic Messages
// API without going through the AgentResult/result-fence protocol.
type anthropicClient struct {
	msg         anthropic.MessagesClient
	model       string
	maxTokens   int
	temperature float64
}

// NewAnthropicClient returns a ModelClient backed by the Anthropic Messages
// API.
func NewAnthropicClient(msg anthropic.MessagesClient, model string, maxTokens int, temperature float64) (ModelClient, error) {
	if msg == nil {
		return nil, errors.New("plannerllm: anthropic messages client is required")
	}
	if model == "" {
		return nil, errors.New("plannerllm: anthropic model id is required")
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &anthropicClient{msg: msg, model: model, maxTokens: maxTokens, temperature: temperature}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// openaiClient adapts openaimodel.ChatClient to ModelClient.
type openaiClient struct {
	chat        openaimodel.ChatClient
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAIClient returns a ModelClient backed by the OpenAI Chat
// Completions API.
func NewOpenAIClient(chat openaimodel.ChatClient, model string, maxTokens int, temperature float64) (ModelClient, error) {
	if chat == nil {
		return nil, errors.New("plannerllm: openai chat client is required")
	}
	if model == "" {
		return nil, errors.New("plannerllm: openai model id is required")
	}
	return &openaiClient{chat: chat, model: model, maxTokens: maxTokens, temperature: temperature}, nil
}

func (c *openaiClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    c.model,
		Messages: []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage(prompt)},
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(c.maxTokens))
	}
	if c.temperature > 0 {
		params.Temperature = openaisdk.Float(c.temperature)
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// bedrockClient adapts bedrock.RuntimeClient to ModelClient.
type bedrockClient struct {
	runtime     bedrock.RuntimeClient
	model       string
	maxTokens   int
	temperature float32
}

// NewBedrockClient returns a ModelClient backed by the AWS Bedrock Converse
// API.
func NewBedrockClient(runtime bedrock.RuntimeClient, model string, maxTokens int, temperature float32) (ModelClient, error) {
	if runtime == nil {
		return nil, errors.New("plannerllm: bedrock runtime client is required")
	}
	if model == "" {
		return nil, errors.New("plannerllm: bedrock model id is required")
	}
	return &bedrockClient{runtime: runtime, model: model, maxTokens: maxTokens, temperature: temperature}, nil
}

func (c *bedrockClient) Complete(ctx context.Context, prompt string) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: &c.model,
		Messages: []brtypes.Message{
			{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}}},
		},
	}
	if c.maxTokens > 0 || c.temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if c.maxTokens > 0 {
			maxTokens := int32(c.maxTokens)
			cfg.MaxTokens = &maxTokens
		}
		if c.temperature > 0 {
			temp := c.temperature
			cfg.Temperature = &temp
		}
		input.InferenceConfig = cfg
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock converse: unexpected output type")
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(tb.Value)
		}
	}
	return text.String(), nil
}
