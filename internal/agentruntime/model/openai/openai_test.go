package openai

import (
	"context"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
)

type fakeChat struct {
	resp *openai.ChatCompletion
	err  error
}

func (f *fakeChat) New(context.Context, openai.ChatCompletionNewParams, ...option.RequestOption) (*openai.ChatCompletion, error) {
	return f.resp, f.err
}

func TestRunStepParsesFencedResult(t *testing.T) {
	resp := &openai.ChatCompletion{
		ID: "chatcmpl-1",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "done\n\n```result\n{\"status\":\"complete\",\"summary\":\"shipped\"}\n```"}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 8},
	}
	rt, err := New(&fakeChat{resp: resp}, Options{DefaultModel: "gpt-4.1"})
	require.NoError(t, err)

	out, err := rt.RunStep(context.Background(), agentruntime.StepInput{Task: "build the widget"})
	require.NoError(t, err)
	require.Equal(t, "local-openai-chatcmpl-1", out.RuntimeID)
	require.Equal(t, 20, out.TokensUsed)
	result := out.RuntimeMetadata["result"].(plan.AgentResult)
	require.Equal(t, plan.AgentResultComplete, result.Status)
	require.Equal(t, "shipped", result.Summary)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeChat{}, Options{})
	require.Error(t, err)
}
