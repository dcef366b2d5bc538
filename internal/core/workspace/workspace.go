// Package workspace centralizes the fixed directory layout a run's git
// checkout follows, so every component that reads or writes into it agrees
// on paths without string literals scattered across the codebase.
package workspace

import (
	"fmt"
	"path/filepath"
)

// Layout resolves every path a run's workspace uses, rooted at Root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) Layout { return Layout{Root: root} }

func (l Layout) path(parts ...string) string {
	return filepath.Join(append([]string{l.Root}, parts...)...)
}

// AgentProfile is the copy of CLAUDE.md/AGENTS.md prepared externally.
func (l Layout) AgentProfile() string { return l.path(".agent-profile.md") }

// AgentTask is the task prompt file written for the current step.
func (l Layout) AgentTask() string { return l.path(".agent-task.md") }

// AgentContextDir holds per-dependency JSON dumps of previous step results.
func (l Layout) AgentContextDir() string { return l.path(".agent-context") }

// AgentContextFile names one dependency's context dump inside AgentContextDir.
func (l Layout) AgentContextFile(stepNumber int) string {
	return filepath.Join(l.AgentContextDir(), fmt.Sprintf("step-%d.json", stepNumber))
}

// AgentResult is the terminal agent output file for the current step.
func (l Layout) AgentResult() string { return l.path(".agent-result.json") }

// EventLog is the per-run JSONL event log.
func (l Layout) EventLog() string { return l.path(".events.jsonl") }

// SprintfoundryDir is the root of this engine's private per-workspace state.
func (l Layout) SprintfoundryDir() string { return l.path(".sprintfoundry") }

// SessionsFile is the RuntimeSessionStore's backing file.
func (l Layout) SessionsFile() string { return l.path(".sprintfoundry", "sessions.json") }

// ReviewsDir holds the human-gate rendezvous files.
func (l Layout) ReviewsDir() string { return l.path(".sprintfoundry", "reviews") }

// ReviewPendingFile names the pending-review marker for reviewID.
func (l Layout) ReviewPendingFile(reviewID string) string {
	return filepath.Join(l.ReviewsDir(), reviewID+".pending.json")
}

// ReviewDecisionFile names the decision file an external operator writes for reviewID.
func (l Layout) ReviewDecisionFile(reviewID string) string {
	return filepath.Join(l.ReviewsDir(), reviewID+".decision.json")
}

// StepResultsDir holds the per-attempt step result archive.
func (l Layout) StepResultsDir() string { return l.path(".sprintfoundry", "step-results") }

// StepResultFile names one step attempt's archived result.
func (l Layout) StepResultFile(stepNumber, attempt int, agent string) string {
	return filepath.Join(l.StepResultsDir(), fmt.Sprintf("step-%d.attempt-%d.%s.json", stepNumber, attempt, agent))
}

// ArtifactsHandoffDir holds inter-agent handoff notes.
func (l Layout) ArtifactsHandoffDir() string { return l.path("artifacts", "handoff") }

// RuntimeLogFile names a runtime's stdout/stderr/debug log for one step attempt.
// kind is one of "stdout.log", "stderr.log", "debug.json".
func (l Layout) RuntimeLogFile(runtimeName string, stepNumber, attempt int, kind string) string {
	return l.path(fmt.Sprintf(".%s-runtime.step-%d.attempt-%d.%s", runtimeName, stepNumber, attempt, kind))
}

// CommitDenylist is the fixed set of bot-owned paths that must never be
// committed into run history, regardless of runtime/agent naming.
var CommitDenylist = []string{
	"CLAUDE.md",
	"AGENTS.md",
	".agent-profile.md",
	".agent-task.md",
	".agent-result.json",
	".agent-context",
	".events.jsonl",
	".sprintfoundry",
	"artifacts",
	".codex-home",
}

// CommitDenylistGlobs holds pathspec globs for bot-owned files whose name
// varies per step/attempt/runtime and so can't be listed as literal
// CommitDenylist entries. RuntimeLogFile's output (e.g.
// ".cli-runtime.step-3.attempt-2.debug.json") is the only such case today.
var CommitDenylistGlobs = []string{
	".*-runtime.step-*.attempt-*.*",
}
