package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	gmcp "github.com/ormasoftchile/playbook/pkg/ecosystem/mcp"
	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/llm"
	"github.com/ormasoftchile/playbook/pkg/repl"
	"github.com/ormasoftchile/playbook/pkg/schedule"
	"github.com/ormasoftchile/playbook/pkg/serve"
	"github.com/ormasoftchile/playbook/pkg/session"
)

// --- chat ---

var (
	chatProvider     string
	chatModel        string
	chatBaseURL      string
	chatInstructions string
	chatReact        bool
	chatMaxSteps     int
	chatTools        []string
	chatHistoryFile  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a model in an interactive REPL, optionally with actions as tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		llmArgs := map[string]any{}
		if chatModel != "" {
			llmArgs["model"] = chatModel
		}
		if chatBaseURL != "" {
			llmArgs["base_url"] = chatBaseURL
		}
		model, err := llm.New(chatProvider, llmArgs, llm.WithLogger(a.logger))
		if err != nil {
			return err
		}
		tools, err := lookupActions(a.registry, chatTools)
		if err != nil {
			return err
		}
		s := session.New(model, tools,
			session.WithLogger(a.logger),
			session.WithExecutor(engine.New(a.engineOptions()...)),
			session.WithToolHook(a.metrics.ToolCall),
		)
		r, err := repl.New(s, repl.Config{
			Instructions: chatInstructions,
			React:        chatReact,
			MaxSteps:     chatMaxSteps,
			HistoryFile:  chatHistoryFile,
			Stdin:        os.Stdin,
			Stdout:       cmd.OutOrStdout(),
		})
		if err != nil {
			return err
		}
		return r.Run(cmd.Context())
	},
}

func lookupActions(r *action.Registry, names []string) ([]action.Action, error) {
	out := make([]action.Action, 0, len(names))
	for _, name := range names {
		a, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("no action found: %s", name)
		}
		out = append(out, a)
	}
	return out, nil
}

// --- serve ---

var (
	serveAddr     string
	servePoolSize int
	serveRoot     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API: list actions, run and validate playbooks, metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		pool := engine.NewPool(servePoolSize, a.engineOptions()...)
		defer pool.Wait()
		s := serve.New(a.registry, pool,
			serve.WithLogger(a.logger),
			serve.WithMetrics(a.metrics.Handler()),
			serve.WithRoot(serveRoot),
		)
		return s.ListenAndServe(cmd.Context(), serveAddr)
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve actions and playbook tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		s := gmcp.NewServer(version, &gmcp.Handlers{
			Registry: a.registry,
			Options:  a.engineOptions(),
			Exclude:  []string{"shell.prompt"},
		})
		return server.ServeStdio(s)
	},
}

// --- schedule ---

var (
	scheduleCron     string
	scheduleSeconds  bool
	schedulePoolSize int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [playbook.yaml]",
	Short: "Run a playbook on a cron schedule until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if scheduleCron == "" {
			return fmt.Errorf("--cron is required")
		}
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()
		vars, err := parseKwargs(runKwargs)
		if err != nil {
			return err
		}

		pool := engine.NewPool(schedulePoolSize, a.engineOptions()...)
		opts := []schedule.Option{schedule.WithLogger(a.logger)}
		if scheduleSeconds {
			opts = append(opts, schedule.WithSeconds())
		}
		s := schedule.New(pool, opts...)
		id, err := s.AddFile(scheduleCron, args[0], vars)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "scheduled %s (%s), entry %d\n", filepath.Base(args[0]), scheduleCron, id)
		return s.Run(cmd.Context())
	},
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func init() {
	chatCmd.Flags().StringVar(&chatProvider, "provider", "openai", "LLM provider")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model name (overrides OPENAI_MODEL)")
	chatCmd.Flags().StringVar(&chatBaseURL, "base-url", "", "API base URL (overrides OPENAI_BASE_URL)")
	chatCmd.Flags().StringVar(&chatInstructions, "instructions", "", "System instructions for every turn")
	chatCmd.Flags().BoolVar(&chatReact, "react", false, "Start in ReAct mode")
	chatCmd.Flags().IntVar(&chatMaxSteps, "max-steps", session.DefaultMaxSteps, "Step budget of a ReAct turn")
	chatCmd.Flags().StringSliceVar(&chatTools, "tools", nil, "Actions exposed to the model as tools")
	chatCmd.Flags().StringVar(&chatHistoryFile, "history-file", "", "Persist prompt history to this file")

	serveCmd.Flags().StringVar(&serveAddr, "addr", envOrDefault("PLAYBOOK_ADDR", ":8080"), "Listen address (env PLAYBOOK_ADDR)")
	serveCmd.Flags().IntVar(&servePoolSize, "pool-size", envInt("PLAYBOOK_POOL_SIZE", 0), "Concurrent runs; 0 uses the CPU count (env PLAYBOOK_POOL_SIZE)")
	serveCmd.Flags().StringVar(&serveRoot, "root", ".", "Directory file runs are resolved against")

	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "Cron spec, e.g. '*/5 * * * *' or '@every 1m'")
	scheduleCmd.Flags().BoolVar(&scheduleSeconds, "seconds", false, "Cron spec has a leading seconds field")
	scheduleCmd.Flags().IntVar(&schedulePoolSize, "pool-size", envInt("PLAYBOOK_POOL_SIZE", 0), "Concurrent runs; 0 uses the CPU count (env PLAYBOOK_POOL_SIZE)")
	scheduleCmd.Flags().StringArrayVar(&runKwargs, "kwargs", nil, "Set a playbook variable (key=value), repeatable")
}
