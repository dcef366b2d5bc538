// Package cli implements agentruntime.Runtime by shelling out to an external
// agent CLI binary (any program honoring the task-in/result-out file
// convention below) once per step. Unlike a persistent JSON-RPC session that
// stays open across many tool calls, a step here is a single subprocess
// lifetime: write the task prompt to workspace.Layout.AgentTask, run the
// binary to completion, and read its terminal answer back from
// workspace.Layout.AgentResult. The command/args/env/dir plumbing and the
// context-bound process lifetime reuse exec.CommandContext the same way a
// long-lived stdio session would set up its subprocess, just without the
// framed JSON-RPC, pending-request map, and read loop a multi-call session
// needs.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/workspace"
)

// Options configures one named CLI binary's invocation shape. A catalog
// typically registers one Options value per agent ID (the "developer" agent
// might run "claude", the "qa" agent might run "codex").
type Options struct {
	// Command is the binary to execute, resolved via exec.LookPath.
	Command string
	// Args are placed before the fixed flags this runtime always passes
	// (the task and result file paths and, when resuming, the session id).
	Args []string
	// Env is appended to the current process environment for the child.
	Env []string
	// ResumeFlag, if non-empty, is the flag name used to pass
	// StepInput.ResumeSessionID (e.g. "--resume"). Left empty for binaries
	// that don't support session resume at all.
	ResumeFlag string
	// SessionIDEnv, if non-empty, names an environment variable the child
	// process is expected to read its own generated session id from after
	// exit is not possible over env; instead the runtime looks for a
	// "session_id" field in the result file. This field exists so callers
	// can document the convention per binary; it is not read directly.
	SessionIDEnv string
}

// Runtime invokes an external CLI binary once per step.
type Runtime struct {
	name string
	opts Options
}

// New returns a Runtime named name (used only for log/runtime-id prefixing)
// that invokes the binary described by opts.
func New(name string, opts Options) *Runtime {
	return &Runtime{name: name, opts: opts}
}

// resultFile is the JSON shape a CLI binary is expected to leave at
// workspace.Layout.AgentResult once it exits. The scheduler never parses
// this file directly: RunStep reads it and folds it into
// agentruntime.StepOutput.RuntimeMetadata["result"], which is the
// documented convention internal/core/scheduler.attemptStep relies on.
type resultFile struct {
	Status            plan.AgentResultStatus `json:"status"`
	Summary           string                 `json:"summary"`
	ArtifactsCreated  []string               `json:"artifacts_created"`
	ArtifactsModified []string               `json:"artifacts_modified"`
	Issues            []string               `json:"issues"`
	ReworkReason      string                 `json:"rework_reason"`
	ReworkTarget      string                 `json:"rework_target"`
	Metadata          map[string]any         `json:"metadata"`
	SessionID         string                 `json:"session_id"`
	PromptTokens      int                    `json:"prompt_tokens"`
	CompletionTokens  int                    `json:"completion_tokens"`
	CostUSD           float64                `json:"cost_usd"`
}

// RunStep writes the task prompt, runs the configured binary to completion
// under in's timeout, and translates its result file into a StepOutput.
func (r *Runtime) RunStep(ctx context.Context, in agentruntime.StepInput) (agentruntime.StepOutput, error) {
	layout := workspace.New(in.WorkspacePath)

	if err := os.WriteFile(layout.AgentTask(), []byte(in.Task), 0o644); err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("cli runtime: write task file: %w", err)
	}
	// Stale results from a previous attempt must never be mistaken for this
	// one's output if the binary crashes before writing its own.
	_ = os.Remove(layout.AgentResult())

	runCtx, cancel := context.WithTimeout(ctx, in.EffectiveTimeout(30))
	defer cancel()

	args := append([]string{}, r.opts.Args...)
	args = append(args, "--task-file", layout.AgentTask(), "--result-file", layout.AgentResult())

	resumeUsed := false
	if in.ResumeSessionID != "" && r.opts.ResumeFlag != "" {
		args = append(args, r.opts.ResumeFlag, in.ResumeSessionID)
		resumeUsed = true
	}

	cmd := exec.CommandContext(runCtx, r.opts.Command, args...)
	cmd.Dir = in.WorkspacePath
	cmd.Env = append(os.Environ(), r.opts.Env...)
	if in.ModelConfig != "" {
		cmd.Env = append(cmd.Env, "SPRINTFOUNDRY_MODEL="+in.ModelConfig)
	}
	if in.TokenBudget > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("SPRINTFOUNDRY_TOKEN_BUDGET=%d", in.TokenBudget))
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	runErr := cmd.Run()

	logPath := layout.RuntimeLogFile(r.name, in.StepNumber, attemptFromResumeReason(in.ResumeReason), "debug.json")
	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)
	_ = os.WriteFile(logPath, stderr.Bytes(), 0o644)

	resumeFailed := false
	if runErr != nil {
		if resumeUsed && isSessionInvalid(stderr.String()) {
			// Resume contract: fall back once to a fresh session on a
			// session-invalid error, never on any other failure class.
			resumeFailed = true
			out, fallbackErr := r.runFresh(runCtx, in, layout)
			if fallbackErr != nil {
				return agentruntime.StepOutput{}, fallbackErr
			}
			out.ResumeUsed = true
			out.ResumeFailed = true
			out.ResumeFallback = true
			return out, nil
		}
		if runCtx.Err() != nil {
			return agentruntime.StepOutput{}, fmt.Errorf("cli runtime: step timed out after %s: %w", in.EffectiveTimeout(30), runCtx.Err())
		}
		return agentruntime.StepOutput{}, fmt.Errorf("cli runtime: %s exited with error: %w (output: %s)", r.opts.Command, runErr, truncate(stderr.String(), 2000))
	}

	res, err := readResultFile(layout.AgentResult())
	if err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("cli runtime: %w", err)
	}

	out := toStepOutput(r.name, in, res)
	out.ResumeUsed = resumeUsed
	out.ResumeFailed = resumeFailed
	return out, nil
}

// runFresh re-invokes the binary without a resume flag, used exactly once
// as the fallback path when a resumed session turns out to be invalid.
func (r *Runtime) runFresh(ctx context.Context, in agentruntime.StepInput, layout workspace.Layout) (agentruntime.StepOutput, error) {
	fresh := in
	fresh.ResumeSessionID = ""
	fresh.ResumeReason = ""
	// Borrow ctx's remaining deadline rather than granting a second full
	// timeout window for the fallback attempt.
	args := append([]string{}, r.opts.Args...)
	args = append(args, "--task-file", layout.AgentTask(), "--result-file", layout.AgentResult())
	_ = os.Remove(layout.AgentResult())

	cmd := exec.CommandContext(ctx, r.opts.Command, args...)
	cmd.Dir = fresh.WorkspacePath
	if len(r.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), r.opts.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("cli runtime: fallback run failed: %w (output: %s)", err, truncate(stderr.String(), 2000))
	}
	res, err := readResultFile(layout.AgentResult())
	if err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("cli runtime: %w", err)
	}
	return toStepOutput(r.name, fresh, res), nil
}

func readResultFile(path string) (resultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return resultFile{}, fmt.Errorf("read result file: %w", err)
	}
	var res resultFile
	if err := json.Unmarshal(data, &res); err != nil {
		return resultFile{}, fmt.Errorf("decode result file: %w", err)
	}
	if res.Status == "" {
		return resultFile{}, errors.New("result file missing status")
	}
	return res, nil
}

func toStepOutput(runtimeName string, in agentruntime.StepInput, res resultFile) agentruntime.StepOutput {
	runtimeID := res.SessionID
	if runtimeID == "" {
		runtimeID = fmt.Sprintf("local-%s-%s-%d", runtimeName, in.Agent, in.StepNumber)
	}
	return agentruntime.StepOutput{
		TokensUsed: res.PromptTokens + res.CompletionTokens,
		RuntimeID:  runtimeID,
		CostUSD:    res.CostUSD,
		Usage:      agentruntime.Usage{PromptTokens: res.PromptTokens, CompletionTokens: res.CompletionTokens},
		RuntimeMetadata: map[string]any{
			"result": plan.AgentResult{
				Status:            res.Status,
				Summary:           res.Summary,
				ArtifactsCreated:  res.ArtifactsCreated,
				ArtifactsModified: res.ArtifactsModified,
				Issues:            res.Issues,
				ReworkReason:      res.ReworkReason,
				ReworkTarget:      res.ReworkTarget,
				Metadata:          res.Metadata,
			},
		},
	}
}

func isSessionInvalid(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "session not found") || strings.Contains(lower, "invalid session") || strings.Contains(lower, "session expired")
}

func attemptFromResumeReason(reason string) int {
	if reason == "" {
		return 1
	}
	return 2
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
