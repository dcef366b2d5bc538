package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
)

type fakeMessages struct {
	resp *sdk.Message
	err  error
}

func (f *fakeMessages) New(context.Context, sdk.MessageNewParams, ...option.RequestOption) (*sdk.Message, error) {
	return f.resp, f.err
}

func textMessage(id, text string, in, out int64) *sdk.Message {
	return &sdk.Message{
		ID:      id,
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   sdk.Usage{InputTokens: in, OutputTokens: out},
	}
}

func TestRunStepParsesFencedResult(t *testing.T) {
	fake := &fakeMessages{resp: textMessage("msg_1", "work done\n\n```result\n{\"status\":\"complete\",\"summary\":\"shipped it\"}\n```", 20, 10)}
	rt, err := New(fake, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	out, err := rt.RunStep(context.Background(), agentruntime.StepInput{Task: "build the widget"})
	require.NoError(t, err)
	require.Equal(t, "local-anthropic-msg_1", out.RuntimeID)
	require.Equal(t, 30, out.TokensUsed)
	result := out.RuntimeMetadata["result"].(plan.AgentResult)
	require.Equal(t, plan.AgentResultComplete, result.Status)
	require.Equal(t, "shipped it", result.Summary)
}

func TestRunStepFallsBackToPlainTextWithoutFence(t *testing.T) {
	fake := &fakeMessages{resp: textMessage("msg_2", "just did the thing, no fence here", 5, 5)}
	rt, err := New(fake, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	out, err := rt.RunStep(context.Background(), agentruntime.StepInput{Task: "build the widget"})
	require.NoError(t, err)
	result := out.RuntimeMetadata["result"].(plan.AgentResult)
	require.Equal(t, plan.AgentResultComplete, result.Status)
	require.Equal(t, "just did the thing, no fence here", result.Summary)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeMessages{}, Options{})
	require.Error(t, err)
}
