// Command sprintfoundry runs one orchestration task end to end: fetch (or
// synthesize) a ticket, generate and validate a plan, execute it against the
// configured agent runtimes, then push a branch and open a pull request.
// Each invocation handles exactly one task and exits; a deployment wanting a
// queue worker runs this binary once per dequeued task.
//
// # Configuration
//
// Platform defaults (budgets, timeouts, telemetry backend) load from the
// environment via internal/core/config; see that package's doc comment for
// the full list. This command additionally reads:
//
//	ORCH_PROJECT_CONFIG       - path to a YAML file of agents/rules (see internal/projectconfig). Optional; an empty catalog/ruleset is used if unset.
//	ORCH_DEFAULT_REPO_URL     - git remote cloned for tasks whose ticket carries no repo_url
//	ORCH_GIT_BASE_BRANCH      - branch point for run branches (default: "main")
//	ORCH_GIT_AUTHOR_NAME      - commit author name for checkpoint commits
//	ORCH_GIT_AUTHOR_EMAIL     - commit author email for checkpoint commits
//	GITHUB_TOKEN              - GitHub token used to open pull requests
//	ORCH_DEFAULT_RUNTIME      - runtime name used for agents the catalog doesn't name a DefaultRuntime for (default: "cli")
//	ORCH_CLI_COMMAND          - binary invoked by the "cli" runtime (default: "claude")
//	ANTHROPIC_API_KEY         - enables the "anthropic" runtime
//	ORCH_ANTHROPIC_MODEL      - model id for the "anthropic" runtime (default: "claude-sonnet-4-5")
//	OPENAI_API_KEY            - enables the "openai" runtime
//	ORCH_OPENAI_MODEL         - model id for the "openai" runtime (default: "gpt-4o")
//	ORCH_BEDROCK_MODEL        - set to enable the "bedrock" runtime (uses the default AWS credential chain)
//	SPRINTFOUNDRY_USE_CONTAINERS - set to enable the "container" runtime (talks to the Docker Engine via DOCKER_HOST)
//	SPRINTFOUNDRY_CONTAINER_IMAGE - image the "container" runtime runs each step in (default: "sprintfoundry/agent:latest")
//	ORCH_PLANNER_MODEL        - which enabled model runtime backs the planner: "anthropic", "openai", or "bedrock" (default: first enabled, preferring anthropic)
//	ORCH_WEBHOOK_URL          - notification webhook URL. Notifications are skipped if unset.
//	ORCH_WEBHOOK_RATE         - notifications/sec allowed to the webhook (default: 5)
//
// # Task input
//
// Exactly one of -ticket with -source, or -prompt, selects the task:
//
//	sprintfoundry -project demo -ticket ENG-123 -source github
//	sprintfoundry -project demo -prompt "Fix the flaky checkout test"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sprintfoundry/orchestrator/internal/agentruntime/cli"
	"github.com/sprintfoundry/orchestrator/internal/agentruntime/container"
	"github.com/sprintfoundry/orchestrator/internal/agentruntime/model/anthropic"
	"github.com/sprintfoundry/orchestrator/internal/agentruntime/model/bedrock"
	"github.com/sprintfoundry/orchestrator/internal/agentruntime/model/openai"
	"github.com/sprintfoundry/orchestrator/internal/core/agentruntime"
	"github.com/sprintfoundry/orchestrator/internal/core/catalog"
	"github.com/sprintfoundry/orchestrator/internal/core/config"
	"github.com/sprintfoundry/orchestrator/internal/core/event"
	"github.com/sprintfoundry/orchestrator/internal/core/humangate"
	"github.com/sprintfoundry/orchestrator/internal/core/notify"
	"github.com/sprintfoundry/orchestrator/internal/core/runtimesession"
	"github.com/sprintfoundry/orchestrator/internal/core/telemetry"
	"github.com/sprintfoundry/orchestrator/internal/core/ticket"
	"github.com/sprintfoundry/orchestrator/internal/eventstore/mongoarchive"
	"github.com/sprintfoundry/orchestrator/internal/eventstore/redisstream"
	"github.com/sprintfoundry/orchestrator/internal/gitops"
	"github.com/sprintfoundry/orchestrator/internal/orchestrator"
	"github.com/sprintfoundry/orchestrator/internal/plannerllm"
	"github.com/sprintfoundry/orchestrator/internal/projectconfig"
	"github.com/sprintfoundry/orchestrator/internal/runtimeresolver"
	"github.com/sprintfoundry/orchestrator/internal/ticketfetch"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	projectID := flag.String("project", "", "project identifier attached to the run")
	ticketID := flag.String("ticket", "", "ticket id to fetch (requires -source)")
	ticketSource := flag.String("source", "", "ticket source: linear, github, or jira")
	prompt := flag.String("prompt", "", "free-text task description, synthesized into a ticket")
	flag.Parse()

	in, err := taskInput(*projectID, *ticketID, *ticketSource, *prompt)
	if err != nil {
		return err
	}

	defaults := config.Load()

	logger, metrics, err := buildTelemetry(defaults.TelemetryBackend)
	if err != nil {
		return err
	}

	project, err := loadProject()
	if err != nil {
		return err
	}

	runtimes, defaultRuntime, err := buildRuntimes(ctx)
	if err != nil {
		return err
	}

	planner, err := buildPlanner(runtimes)
	if err != nil {
		return err
	}

	sinks, closeSinks, err := buildEventSinks(ctx, defaults, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	o := orchestrator.New(orchestrator.Orchestrator{
		Tickets:  ticketfetch.New(nil, nil, nil),
		Catalog:  project.Catalog,
		Rules:    project.Rules,
		Defaults: defaults,
		Planner:  planner,
		Runtime:  runtimeresolver.New(project.Catalog, runtimes, defaultRuntime),
		Git: gitops.New(gitops.Git{
			DefaultRepoURL: os.Getenv("ORCH_DEFAULT_REPO_URL"),
			BaseBranch:     envOr("ORCH_GIT_BASE_BRANCH", "main"),
			AuthorName:     os.Getenv("ORCH_GIT_AUTHOR_NAME"),
			AuthorEmail:    os.Getenv("ORCH_GIT_AUTHOR_EMAIL"),
			GitHubToken:    os.Getenv("GITHUB_TOKEN"),
		}),
		Events:   event.NewFileStore(logger, sinks...),
		Sessions: runtimesession.New(defaults.SessionStorePath),
		Gates:    humangate.NewFileChannel(),
		Notifier: buildNotifier(),
		Log:      logger,
		Metrics:  metrics,
	})

	r, err := o.HandleTask(ctx, in)
	if r != nil {
		fmt.Printf("run %s: status=%s", r.RunID, r.Status)
		if r.PRURL != "" {
			fmt.Printf(" pr=%s", r.PRURL)
		}
		fmt.Println()
	}
	return err
}

func taskInput(projectID, ticketID, ticketSource, prompt string) (orchestrator.TaskInput, error) {
	if prompt != "" {
		return orchestrator.TaskInput{ProjectID: projectID, Source: ticket.SourcePrompt, Prompt: prompt}, nil
	}
	if ticketID == "" {
		return orchestrator.TaskInput{}, errors.New("sprintfoundry: either -prompt or -ticket (with -source) is required")
	}
	src, err := parseSource(ticketSource)
	if err != nil {
		return orchestrator.TaskInput{}, err
	}
	return orchestrator.TaskInput{ProjectID: projectID, ID: ticketID, Source: src}, nil
}

func parseSource(s string) (ticket.Source, error) {
	switch s {
	case "linear":
		return ticket.SourceLinear, nil
	case "github":
		return ticket.SourceGitHub, nil
	case "jira":
		return ticket.SourceJira, nil
	default:
		return "", fmt.Errorf("sprintfoundry: unknown -source %q (want linear, github, or jira)", s)
	}
}

func loadProject() (projectconfig.Project, error) {
	path := os.Getenv("ORCH_PROJECT_CONFIG")
	if path == "" {
		return projectconfig.Project{Catalog: catalog.New(nil)}, nil
	}
	return projectconfig.Load(path)
}

func buildTelemetry(backend string) (telemetry.Logger, telemetry.Metrics, error) {
	switch backend {
	case "noop":
		return telemetry.NoopLogger{}, telemetry.NoopMetrics{}, nil
	case "standard", "":
		l := slog.Default()
		return telemetry.NewStandardLogger(l), telemetry.NewStandardMetrics(l), nil
	case "otel":
		return telemetry.NewOTelLogger(), telemetry.NewOTelMetrics("sprintfoundry"), nil
	default:
		return nil, nil, fmt.Errorf("sprintfoundry: unknown ORCH_TELEMETRY_BACKEND %q", backend)
	}
}

// buildRuntimes registers every AgentRuntime this process can reach given
// its environment: the "cli" runtime is always available, the model-backed
// runtimes register only when their credentials are present.
func buildRuntimes(ctx context.Context) (map[string]agentruntime.Runtime, string, error) {
	runtimes := map[string]agentruntime.Runtime{
		"cli": cli.New("cli", cli.Options{
			Command:    envOr("ORCH_CLI_COMMAND", "claude"),
			ResumeFlag: "--resume",
		}),
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		rt, err := anthropic.NewFromAPIKey(apiKey, anthropic.Options{
			DefaultModel: envOr("ORCH_ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		})
		if err != nil {
			return nil, "", fmt.Errorf("sprintfoundry: configure anthropic runtime: %w", err)
		}
		runtimes["anthropic"] = rt
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		rt, err := openai.NewFromAPIKey(apiKey, openai.Options{
			DefaultModel: envOr("ORCH_OPENAI_MODEL", "gpt-4o"),
		})
		if err != nil {
			return nil, "", fmt.Errorf("sprintfoundry: configure openai runtime: %w", err)
		}
		runtimes["openai"] = rt
	}

	if model := os.Getenv("ORCH_BEDROCK_MODEL"); model != "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("sprintfoundry: load aws config for bedrock runtime: %w", err)
		}
		rt, err := bedrock.New(bedrockruntime.NewFromConfig(cfg), bedrock.Options{DefaultModel: model})
		if err != nil {
			return nil, "", fmt.Errorf("sprintfoundry: configure bedrock runtime: %w", err)
		}
		runtimes["bedrock"] = rt
	}

	if v, _ := strconv.ParseBool(os.Getenv("SPRINTFOUNDRY_USE_CONTAINERS")); v {
		docker, err := container.NewDockerClient()
		if err != nil {
			return nil, "", fmt.Errorf("sprintfoundry: configure container runtime: %w", err)
		}
		runtimes["container"] = container.New("container", docker, container.Options{
			Image:              envOr("SPRINTFOUNDRY_CONTAINER_IMAGE", "sprintfoundry/agent:latest"),
			WorkspaceMountPath: "/workspace",
		})
	}

	return runtimes, envOr("ORCH_DEFAULT_RUNTIME", "cli"), nil
}

// buildPlanner picks a plannerllm.ModelClient from whichever model-backed
// runtime credentials are present, preferring ORCH_PLANNER_MODEL's choice
// and falling back to anthropic, then openai, then bedrock. Planning always
// goes through a direct model call (internal/plannerllm), never the "cli"
// runtime, since planning exchanges raw plan JSON rather than the
// fenced-result-block protocol agent steps use.
func buildPlanner(runtimes map[string]agentruntime.Runtime) (*plannerllm.Planner, error) {
	preferred := os.Getenv("ORCH_PLANNER_MODEL")
	order := []string{"anthropic", "openai", "bedrock"}
	if preferred != "" {
		order = append([]string{preferred}, order...)
	}

	for _, name := range order {
		if _, ok := runtimes[name]; !ok {
			continue
		}
		switch name {
		case "anthropic":
			sdkClient := anthropicsdk.NewClient(anthropicoption.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
			model, err := plannerllm.NewAnthropicClient(&sdkClient.Messages, envOr("ORCH_ANTHROPIC_MODEL", "claude-sonnet-4-5"), 8192, 0)
			if err != nil {
				return nil, err
			}
			return plannerllm.New(model), nil
		case "openai":
			sdkClient := openaisdk.NewClient(openaioption.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
			model, err := plannerllm.NewOpenAIClient(&sdkClient.Chat.Completions, envOr("ORCH_OPENAI_MODEL", "gpt-4o"), 4096, 0)
			if err != nil {
				return nil, err
			}
			return plannerllm.New(model), nil
		case "bedrock":
			// Reuses the same AWS default credential chain buildRuntimes
			// already validated; LoadDefaultConfig is idempotent and cheap.
			cfg, err := awsconfig.LoadDefaultConfig(context.Background())
			if err != nil {
				return nil, fmt.Errorf("sprintfoundry: load aws config for planner: %w", err)
			}
			model, err := plannerllm.NewBedrockClient(bedrockruntime.NewFromConfig(cfg), os.Getenv("ORCH_BEDROCK_MODEL"), 4096, 0)
			if err != nil {
				return nil, err
			}
			return plannerllm.New(model), nil
		}
	}

	return nil, errors.New("sprintfoundry: no planner model configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or ORCH_BEDROCK_MODEL")
}

func buildNotifier() notify.Notifier {
	url := os.Getenv("ORCH_WEBHOOK_URL")
	if url == "" {
		return nil
	}
	rate := 5.0
	if v := os.Getenv("ORCH_WEBHOOK_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rate = f
		}
	}
	return notify.NewWebhookNotifier(url, rate)
}

// buildEventSinks wires the optional live-tail (Redis) and analytics
// (MongoDB) event mirrors. Either or both may be absent; the returned close
// function always closes whichever connections were actually opened.
func buildEventSinks(ctx context.Context, defaults config.Defaults, logger telemetry.Logger) ([]event.Sink, func(), error) {
	var sinks []event.Sink
	var closers []func() error

	if defaults.RedisURL != "" {
		client := redis.NewClient(&redis.Options{Addr: defaults.RedisURL})
		sink, err := redisstream.New(redisstream.Options{Client: client, Log: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("sprintfoundry: configure redis event sink: %w", err)
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink.Close)
	}

	if defaults.MongoURI != "" {
		client, err := mongodriver.Connect(options.Client().ApplyURI(defaults.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("sprintfoundry: connect mongo event sink: %w", err)
		}
		sink, err := mongoarchive.New(ctx, mongoarchive.Options{
			Client:   client,
			Database: envOr("ORCH_MONGO_DATABASE", "sprintfoundry"),
			Log:      logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("sprintfoundry: configure mongo event sink: %w", err)
		}
		sinks = append(sinks, sink)
		closers = append(closers, func() error { return client.Disconnect(ctx) })
	}

	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn(ctx, "event sink close failed", "error", err)
			}
		}
	}, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
