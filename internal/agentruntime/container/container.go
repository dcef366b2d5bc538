// Package container implements agentruntime.Runtime by running one step
// inside a fresh Docker container per invocation, for deployments that
// isolate agent execution from the orchestrator host entirely (the
// "containers" runtime case alongside cli and model). The task-file/
// result-file handoff convention is identical to the cli runtime's: the
// workspace is bind-mounted into the container so the agent image can read
// .agent-task.md and write .agent-result.json exactly as a local CLI
// binary would, but the process lifetime is a container lifecycle
// (create, start, wait, stop-on-timeout) driven through the Docker Engine
// API instead of exec.CommandContext. No example in the corpus talks to
// the Docker Engine API directly, so the create/start/wait/logs sequence
// below is grounded on cli.go's own step-execution skeleton (write task,
// run to completion under a context timeout, capture combined output to
// the runtime log file, read the result file back), translated one stage
// at a time onto github.com/docker/docker/client's container calls.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/plan"
	"github.com/sprintfoundry/orchestrator/internal/core/workspace"
)

// Docker is the subset of *dockerclient.Client this runtime depends on,
// matching that client's method signatures exactly so *dockerclient.Client
// satisfies it directly; narrowed so tests can substitute a fake without
// pulling in a real daemon connection for every unit test. The
// testcontainers-backed integration test below exercises the real client.
type Docker interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Options configures the image and mount shape one named agent runs under.
type Options struct {
	// Image is the container image to run, expected to honor the same
	// task-file/result-file convention as the cli runtime's binaries.
	Image string
	// WorkspaceMountPath is where the run workspace is bind-mounted inside
	// the container (e.g. "/workspace").
	WorkspaceMountPath string
	// Env is appended to the container's environment alongside the
	// SPRINTFOUNDRY_MODEL/SPRINTFOUNDRY_TOKEN_BUDGET variables every
	// runtime sets.
	Env []string
	// NetworkMode sets the container's network, honoring
	// StepInput.Guardrails.NetworkPolicy when non-empty (e.g. "none" to
	// enforce an offline guardrail).
	NetworkMode string
}

// Runtime runs one step per container, created fresh for every attempt.
type Runtime struct {
	name   string
	docker Docker
	opts   Options
}

// New returns a Runtime named name that runs each step in opts.Image,
// talking to the Docker Engine through docker.
func New(name string, docker Docker, opts Options) *Runtime {
	return &Runtime{name: name, docker: docker, opts: opts}
}

// NewDockerClient returns a *dockerclient.Client configured from the
// standard DOCKER_HOST/DOCKER_TLS_VERIFY/DOCKER_CERT_PATH environment
// variables, satisfying the Docker interface above.
func NewDockerClient() (*dockerclient.Client, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("container runtime: connect to docker engine: %w", err)
	}
	return cli, nil
}

// resultFile mirrors the cli runtime's result file shape; the two runtimes
// share the same on-disk contract so an agent image and a local CLI binary
// are interchangeable from the scheduler's point of view.
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

// RunStep creates a fresh container bind-mounting in.WorkspacePath, lets it
// run to completion under in's timeout, and translates the result file it
// leaves behind into a StepOutput. A container still running when the
// timeout fires is sent SIGTERM (via ContainerStop's grace period) rather
// than SIGKILL; the cli runtime, by contrast, kills its subprocess outright
// when its context is cancelled.
func (r *Runtime) RunStep(ctx context.Context, in agentruntime.StepInput) (agentruntime.StepOutput, error) {
	layout := workspace.New(in.WorkspacePath)

	if err := os.WriteFile(layout.AgentTask(), []byte(in.Task), 0o644); err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("container runtime: write task file: %w", err)
	}
	_ = os.Remove(layout.AgentResult())

	runCtx, cancel := context.WithTimeout(ctx, in.EffectiveTimeout(30))
	defer cancel()

	env := append([]string{}, r.opts.Env...)
	if in.ModelConfig != "" {
		env = append(env, "SPRINTFOUNDRY_MODEL="+in.ModelConfig)
	}
	if in.TokenBudget > 0 {
		env = append(env, fmt.Sprintf("SPRINTFOUNDRY_TOKEN_BUDGET=%d", in.TokenBudget))
	}
	if in.ResumeSessionID != "" {
		env = append(env, "SPRINTFOUNDRY_RESUME_SESSION_ID="+in.ResumeSessionID)
	}

	networkMode := r.opts.NetworkMode
	if in.Guardrails.NetworkPolicy == "none" {
		networkMode = "none"
	}

	mountPath := r.opts.WorkspaceMountPath
	if mountPath == "" {
		mountPath = "/workspace"
	}

	created, err := r.docker.ContainerCreate(runCtx,
		&container.Config{
			Image:      r.opts.Image,
			Env:        env,
			WorkingDir: mountPath,
		},
		&container.HostConfig{
			Binds:       []string{in.WorkspacePath + ":" + mountPath},
			NetworkMode: container.NetworkMode(networkMode),
		},
		nil, nil, "",
	)
	if err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("container runtime: create container: %w", err)
	}
	containerID := created.ID
	defer func() {
		_ = r.docker.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.docker.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("container runtime: start container: %w", err)
	}

	waitC, errC := r.docker.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)

	var waitErr error
	select {
	case err := <-errC:
		waitErr = err
	case <-waitC:
	case <-runCtx.Done():
		waitErr = runCtx.Err()
	}
	// The deadline can surface on either channel (ContainerWait reports its
	// own context expiry on errC), so stop the container in both cases.
	if runCtx.Err() != nil || errors.Is(waitErr, context.DeadlineExceeded) {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = r.docker.ContainerStop(stopCtx, containerID, container.StopOptions{})
		stopCancel()
	}

	output := r.captureLogs(containerID)
	logPath := layout.RuntimeLogFile(r.name, in.StepNumber, attemptFromResumeReason(in.ResumeReason), "debug.json")
	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)
	_ = os.WriteFile(logPath, output, 0o644)

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) {
			return agentruntime.StepOutput{}, fmt.Errorf("container runtime: step timed out after %s: %w", in.EffectiveTimeout(30), waitErr)
		}
		return agentruntime.StepOutput{}, fmt.Errorf("container runtime: wait for container: %w (output: %s)", waitErr, truncate(string(output), 2000))
	}

	res, err := readResultFile(layout.AgentResult())
	if err != nil {
		return agentruntime.StepOutput{}, fmt.Errorf("container runtime: %w", err)
	}
	return toStepOutput(r.name, in, res), nil
}

// captureLogs pulls the container's combined stdout/stderr for the runtime
// log file, demultiplexing the Docker log stream's framing.
func (r *Runtime) captureLogs(containerID string) []byte {
	rc, err := r.docker.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil
	}
	defer rc.Close()

	var out, errOut bytes.Buffer
	_, _ = stdcopy.StdCopy(&out, &errOut, rc)
	combined := out.Bytes()
	if errOut.Len() > 0 {
		combined = append(combined, errOut.Bytes()...)
	}
	return combined
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
