// Package resulttext extracts an AgentResult from a model's free-text
// completion. Direct model-backed runtimes (as opposed to the cli runtime,
// which gets a structured result file) only have a text transcript to work
// with, so every model/* runtime in this tree prompts its model to close
// with a fenced ```result json block and uses this package to parse it,
// falling back to treating the whole completion as a plain "complete"
// summary when the model doesn't comply.
package resulttext

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sprintfoundry/orchestrator/internal/core/plan"
)

var fence = regexp.MustCompile("(?s)```result\\s*\\n(.*?)\\n```")

type payload struct {
	Status            plan.AgentResultStatus `json:"status"`
	Summary           string                 `json:"summary"`
	ArtifactsCreated  []string               `json:"artifacts_created"`
	ArtifactsModified []string               `json:"artifacts_modified"`
	Issues            []string               `json:"issues"`
	ReworkReason      string                 `json:"rework_reason"`
	ReworkTarget      string                 `json:"rework_target"`
}

// Extract looks for a ```result fenced JSON block in text and decodes it
// into an AgentResult. If no fenced block is found or it fails to parse,
// the full text becomes the Summary of an AgentResultComplete result, since
// a model that forgets the closing protocol has still done the work.
func Extract(text string) plan.AgentResult {
	m := fence.FindStringSubmatch(text)
	if m == nil {
		return plan.AgentResult{Status: plan.AgentResultComplete, Summary: strings.TrimSpace(text)}
	}
	var p payload
	if err := json.Unmarshal([]byte(m[1]), &p); err != nil || p.Status == "" {
		return plan.AgentResult{Status: plan.AgentResultComplete, Summary: strings.TrimSpace(text)}
	}
	return plan.AgentResult{
		Status:            p.Status,
		Summary:           p.Summary,
		ArtifactsCreated:  p.ArtifactsCreated,
		ArtifactsModified: p.ArtifactsModified,
		Issues:            p.Issues,
		ReworkReason:      p.ReworkReason,
		ReworkTarget:      p.ReworkTarget,
	}
}

// Prompt returns the protocol instruction appended to every task prompt a
// model-backed runtime sends, so the model knows to close with a parseable
// block.
const Prompt = "\n\nWhen you are finished, end your reply with a fenced block " +
	"labeled ```result containing a single JSON object with fields: " +
	"status (one of \"complete\", \"needs_rework\", \"blocked\", \"failed\"), " +
	"summary, artifacts_created, artifacts_modified, issues, rework_reason, rework_target."
