// Command safe-coder is the multi-command entry point for the execution
// core: chat drives an interactive tool-call loop against the configured
// model, orchestrate runs a multi-step plan through the worker fan-out
// non-interactively, and config/login/logout/init manage the on-disk state
// every other command depends on.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/safe-coder/safe-coder/config"
	"github.com/safe-coder/safe-coder/corerrors"
	"github.com/safe-coder/safe-coder/eventbus"
	"github.com/safe-coder/safe-coder/loopdetector"
	"github.com/safe-coder/safe-coder/model"
	"github.com/safe-coder/safe-coder/orchestrator"
	"github.com/safe-coder/safe-coder/permission"
	"github.com/safe-coder/safe-coder/planner"
	"github.com/safe-coder/safe-coder/planrunner"
	"github.com/safe-coder/safe-coder/session"
	"github.com/safe-coder/safe-coder/telemetry"
	"github.com/safe-coder/safe-coder/tools"
	"github.com/safe-coder/safe-coder/toolregistry"
	"github.com/safe-coder/safe-coder/worker"
	"github.com/safe-coder/safe-coder/workspace"
)

// Exit codes per the core's external contract: 0 success, 1 generic error,
// 2 configuration error, 130 user-cancelled.
const (
	exitOK        = 0
	exitGeneric   = 1
	exitConfig    = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCodeFor(err)
	}
	return exitOK
}

// exitCodeFor maps the core's structured error taxonomy (corerrors) onto the
// CLI's documented exit codes. Errors the core never returns at this
// boundary (PermissionError, LoopDetectedError, WorkerFailureError,
// WorkspaceFailureError) are always reified into ToolResult/TaskResult
// before reaching here; if one somehow escapes, it falls through to the
// generic code like any other unclassified error.
func exitCodeFor(err error) int {
	var cfgErr *corerrors.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	var cancelErr *corerrors.CancellationError
	if errors.As(err, &cancelErr) {
		return exitCancelled
	}
	if errors.Is(err, context.Canceled) {
		return exitCancelled
	}
	return exitGeneric
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "safe-coder",
		Short:         "An interactive AI coding assistant with a safe, observable execution core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newChatCommand(),
		newConfigCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newInitCommand(),
		newOrchestrateCommand(),
	)
	return root
}

// buildClient constructs the model.Client the CLI wires into every command
// that talks to a language model, from the configured provider and the
// provider's stored token.
func buildClient(cfg *config.Config) (model.Client, error) {
	if cfg.ModelProvider != "anthropic" {
		return nil, &corerrors.ConfigError{Reason: fmt.Sprintf("unsupported model_provider %q", cfg.ModelProvider)}
	}
	tok, ok, err := config.LoadToken(cfg.ModelProvider)
	if err != nil {
		return nil, &corerrors.ConfigError{Reason: err.Error()}
	}
	if !ok || tok.APIKey == "" {
		if env := os.Getenv("ANTHROPIC_API_KEY"); env != "" {
			tok.APIKey = env
		} else {
			return nil, &corerrors.ConfigError{Reason: "not logged in to anthropic; run `safe-coder login anthropic`"}
		}
	}
	client, err := model.NewAnthropicClientFromAPIKey(tok.APIKey, cfg.ModelID)
	if err != nil {
		return nil, &corerrors.ConfigError{Reason: err.Error()}
	}
	return client, nil
}

// cliPaths projects a config's worker table into the CLIPaths map the
// orchestrator resolves a worker kind's binary from.
func cliPaths(cfg *config.Config) orchestrator.CLIPaths {
	paths := orchestrator.CLIPaths{}
	for _, kind := range []worker.Kind{worker.ClaudeCode, worker.GeminiCli, worker.SafeCoder, worker.GitHubCopilot} {
		paths[kind] = cfg.CLIPath(kind)
	}
	return paths
}

// newChatCommand implements the interactive tool-call loop: one line of
// stdin per turn, fed to session.Session.Turn, with the response printed to
// stdout. ^C cancels the in-flight turn rather than the whole process.
func newChatCommand() *cobra.Command {
	var (
		path    string
		mode    string
		yolo    bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against the configured model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			client, err := buildClient(cfg)
			if err != nil {
				return err
			}

			perm := permission.New()
			preset := cfg.PermissionPreset
			if yolo {
				preset = "yolo"
			}
			perm.ApplyPreset(preset)

			bus := eventbus.New()
			sub := bus.Subscribe(eventbus.Broadcast, 64)
			defer sub.Close()
			go printEvents(sub)

			sess := session.New(uuid.NewString(), session.Config{
				Client:     client,
				ModelID:    cfg.ModelID,
				Registry:   toolregistry.New(),
				Loop:       loopdetector.New(loopdetector.Options{}),
				Permission: perm,
				Bus:        bus,
				StepCap:    cfg.StepCap,
				ToolCtx:    tools.Context{SessionID: uuid.NewString(), WorkspacePath: path},
				Logger:     telemetry.NewClueLogger(),
				Metrics:    telemetry.NewClueMetrics(),
			})
			if mode == "act" || mode == "build" {
				sess.SetMode(session.Build)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprintln(os.Stdout, "safe-coder chat — mode:", sess.Mode(), "(Ctrl-D to exit)")
			for {
				fmt.Fprint(os.Stdout, "> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if ctx.Err() != nil {
					return &corerrors.CancellationError{Reason: "interrupted"}
				}
				reply, err := sess.Turn(ctx, line)
				if err != nil {
					if ctx.Err() != nil {
						return &corerrors.CancellationError{Reason: "interrupted"}
					}
					fmt.Fprintln(os.Stderr, "turn error:", err)
					continue
				}
				fmt.Fprintln(os.Stdout, reply)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", ".", "project path the session operates on")
	cmd.Flags().StringVar(&mode, "mode", "plan", "starting agent mode: plan or act")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "auto-approve every tool call")
	return cmd
}

// printEvents renders a subset of the event bus's stream to stdout for the
// interactive chat command; a TUI consumer would subscribe the same way and
// render richer output.
func printEvents(sub *eventbus.Subscription) {
	for ev := range sub.Events() {
		switch e := ev.(type) {
		case eventbus.TextChunk:
			fmt.Print(e.Text)
		case eventbus.ToolStart:
			fmt.Fprintf(os.Stdout, "\n[tool] %s\n", e.ToolName)
		case eventbus.Error:
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", e.Message)
		}
	}
}

func newConfigCommand() *cobra.Command {
	var (
		show bool
		set  string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or set configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			if set != "" {
				if err := applyConfigSet(cfg, set); err != nil {
					return &corerrors.ConfigError{Reason: err.Error()}
				}
				if err := config.Save(cfg); err != nil {
					return &corerrors.ConfigError{Reason: err.Error()}
				}
				fmt.Fprintln(os.Stdout, "saved")
				return nil
			}
			if show || set == "" {
				path, _ := config.Path()
				fmt.Fprintln(os.Stdout, "config file:", path)
				fmt.Fprintln(os.Stdout, "default_mode:", cfg.DefaultMode)
				fmt.Fprintln(os.Stdout, "permission_preset:", cfg.PermissionPreset)
				fmt.Fprintln(os.Stdout, "model_provider:", cfg.ModelProvider)
				fmt.Fprintln(os.Stdout, "model_id:", cfg.ModelID)
				fmt.Fprintln(os.Stdout, "step_cap:", cfg.StepCap)
				fmt.Fprintln(os.Stdout, "use_worktrees:", cfg.UseWorktrees)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "print the effective configuration")
	cmd.Flags().StringVar(&set, "set", "", "set a single key=value pair (e.g. permission_preset=dev)")
	return cmd
}

// applyConfigSet applies one "key=value" override to cfg. Only the small
// set of scalar fields a human is likely to toggle from the CLI are
// supported; anything finer-grained belongs in config.toml directly.
func applyConfigSet(cfg *config.Config, kv string) error {
	parts := strings.SplitN(kv, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", kv)
	}
	key, value := parts[0], parts[1]
	switch key {
	case "default_mode":
		cfg.DefaultMode = config.Mode(value)
	case "permission_preset":
		cfg.PermissionPreset = value
	case "model_provider":
		cfg.ModelProvider = value
	case "model_id":
		cfg.ModelID = value
	case "use_worktrees":
		cfg.UseWorktrees = value == "true"
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func newLoginCommand() *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Store a model provider's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if apiKey == "" {
				apiKey = os.Getenv(strings.ToUpper(provider) + "_API_KEY")
			}
			if apiKey == "" {
				return &corerrors.ConfigError{Reason: "no API key provided; pass --api-key or set " + strings.ToUpper(provider) + "_API_KEY"}
			}
			if err := config.SaveToken(provider, config.Token{APIKey: apiKey}); err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			fmt.Fprintln(os.Stdout, "logged in to", provider)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to store (otherwise read from <PROVIDER>_API_KEY)")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <provider>",
		Short: "Remove a model provider's stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteToken(args[0]); err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			fmt.Fprintln(os.Stdout, "logged out of", args[0])
			return nil
		},
	}
}

func newInitCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the project for safe-coder: record the parent git branch and write a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			if err := config.Save(cfg); err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			mgr := workspace.New(path, cfg.UseWorktrees)
			if err := mgr.Init(context.Background()); err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			cfgPath, _ := config.Path()
			fmt.Fprintln(os.Stdout, "initialized safe-coder; config at", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", ".", "project path to initialize")
	return cmd
}

// newOrchestrateCommand drives a request through the full Planner → Plan
// Runner → Orchestrator pipeline non-interactively, printing each step's
// outcome and exiting once the plan reaches a terminal status.
func newOrchestrateCommand() *cobra.Command {
	var (
		path string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "orchestrate <request>",
		Short: "Plan and execute a request across isolated workers, non-interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.Join(args, " ")
			cfg, err := config.Load()
			if err != nil {
				return &corerrors.ConfigError{Reason: err.Error()}
			}
			client, err := buildClient(cfg)
			if err != nil {
				return err
			}

			execMode := planner.Direct
			switch mode {
			case "subagent":
				execMode = planner.Subagent
			case "orchestration":
				execMode = planner.Orchestration
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := eventbus.New()
			sub := bus.Subscribe(eventbus.Broadcast, 256)
			defer sub.Close()
			go printEvents(sub)

			mgr := workspace.New(path, cfg.UseWorktrees)
			if err := mgr.Init(ctx); err != nil {
				return &corerrors.WorkspaceFailureError{Reason: err.Error()}
			}

			limiter := worker.NewKindLimiter(cfg.Concurrency.MaxPerKind, cfg.SpawnInterval())
			p := planner.NewLLMPlanner(client, cfg.ModelID)
			orch := orchestrator.New(mgr, bus, limiter,
				orchestrator.KindSelector{Default: worker.ClaudeCode},
				cliPaths(cfg),
				worker.Options{
					HeartbeatInterval: cfg.HeartbeatInterval(),
					Timeout:           cfg.WorkerTimeout(),
					RecursionDepth:    worker.RecursionDepthFromEnv(),
				},
				p, execMode,
			)
			defer orch.CancelAll()

			resp, err := orch.ProcessRequest(ctx, planner.Request{Text: request})
			if err != nil {
				if ctx.Err() != nil {
					return &corerrors.CancellationError{Reason: "interrupted"}
				}
				return fmt.Errorf("process request: %w", err)
			}
			status, outcomes := resp.Status, resp.Outcomes

			fmt.Fprintln(os.Stdout, "plan status:", status)
			for _, o := range outcomes {
				switch {
				case o.Skipped:
					fmt.Fprintf(os.Stdout, "  step %s/%s: skipped\n", o.GroupID, o.StepID)
				case o.Success:
					fmt.Fprintf(os.Stdout, "  step %s/%s: succeeded\n", o.GroupID, o.StepID)
				default:
					fmt.Fprintf(os.Stdout, "  step %s/%s: failed: %v\n", o.GroupID, o.StepID, o.Err)
				}
			}
			if status != planrunner.Completed {
				return fmt.Errorf("plan did not complete (status %s)", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", ".", "project path to run against")
	cmd.Flags().StringVar(&mode, "exec-mode", "orchestration", "planner execution mode: direct, subagent, or orchestration")
	return cmd
}
