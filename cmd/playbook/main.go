// Command playbook runs declarative YAML/JSON automation playbooks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/playbook/internal/logging"
	"github.com/ormasoftchile/playbook/internal/metrics"
	"github.com/ormasoftchile/playbook/pkg/actions/builtin"
	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/trace"
	"github.com/ormasoftchile/playbook/pkg/plugin/lua"
	"github.com/ormasoftchile/playbook/pkg/session"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err, traceback)
		stop()
		os.Exit(1)
	}
}

// --- global flags ---

var (
	logLevel    string
	loadPlugins []string
	listActions bool
	specName    string
	traceback   bool
	runKwargs   []string
	runTrace    string
	runIsolated bool
)

var rootCmd = &cobra.Command{
	Use:           "playbook [playbook.yaml]",
	Short:         "Declarative task automation",
	Long:          "playbook runs YAML/JSON playbooks: trees of actions with variables, control flow and LLM sessions.",
	Args:          cobra.MaximumNArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()
		switch {
		case listActions:
			printActions(cmd.OutOrStdout(), a.registry)
			return nil
		case specName != "":
			return printSpec(cmd.OutOrStdout(), a.registry, specName)
		case len(args) == 1:
			return a.runFile(cmd.Context(), cmd.OutOrStdout(), args[0])
		}
		return cmd.Help()
	},
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run [playbook.yaml]",
	Short: "Execute a playbook and print its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.runFile(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

// app is the wiring shared by every subcommand: one logger, the action
// registry (built-ins, llm actions and plugins) and the metrics observer.
type app struct {
	logger   *slog.Logger
	registry *action.Registry
	metrics  *metrics.Observer
	plugins  []*lua.Plugin
}

// newApp builds the registry. out receives what shell.print writes; the
// stdio servers pass stderr to keep stdout for their protocol.
func newApp(out io.Writer) (*app, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	a := &app{
		logger:   logging.New(os.Stderr, level),
		registry: action.Global(),
		metrics:  metrics.New(),
	}
	builtin.Register(a.registry, builtin.WithLogger(a.logger), builtin.WithOutput(out))
	session.Register(a.registry, nil, session.WithLogger(a.logger), session.WithToolHook(a.metrics.ToolCall))

	for _, path := range loadPlugins {
		p, err := lua.Load(path, a.registry)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load plugin: %w", err)
		}
		a.logger.Debug("plugin loaded", "path", p.Path(), "actions", len(p.Actions()))
		a.plugins = append(a.plugins, p)
	}
	return a, nil
}

// Close releases plugin interpreters.
func (a *app) Close() {
	for _, p := range a.plugins {
		p.Close()
	}
}

// engineOptions configures executors to resolve against the registry.
func (a *app) engineOptions(extra ...engine.Option) []engine.Option {
	opts := []engine.Option{
		engine.WithGlobal(a.registry),
		engine.WithLogger(a.logger),
		engine.WithObserver(a.metrics),
	}
	return append(opts, extra...)
}

func (a *app) runFile(ctx context.Context, out io.Writer, file string) error {
	path, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return fmt.Errorf("invalid playbook file: %s", path)
	}
	vars, err := parseKwargs(runKwargs)
	if err != nil {
		return err
	}

	var result any
	start := time.Now()
	if runIsolated {
		result, err = a.runIsolated(ctx, path, vars)
	} else {
		var opts []engine.Option
		var tw *trace.Writer
		if runTrace != "" {
			if tw, err = trace.NewFileWriter(runTrace, uuid.NewString()); err != nil {
				return err
			}
			defer tw.Close()
			tw.SetSecrets([]string{"OPENAI_API_KEY", trace.SigningKeyEnv})
			_ = tw.EmitRunStart(path, sortedKeys(vars))
			opts = append(opts, engine.WithObserver(tw))
		}
		result, err = engine.ExecuteFile(ctx, path, vars, a.engineOptions(opts...)...)
		if tw != nil {
			status := trace.StatusSuccess
			if err != nil {
				status = trace.StatusError
			}
			_ = tw.EmitRunComplete(status, time.Since(start), err)
		}
	}
	if err != nil {
		return err
	}
	a.logger.Debug("run finished", "playbook", path, "elapsed", time.Since(start))
	return printResult(out, result)
}

// runIsolated executes the playbook in a worker child process.
func (a *app) runIsolated(ctx context.Context, path string, vars map[string]any) (any, error) {
	args := []string{"worker", "--log-level", logLevel}
	for _, p := range loadPlugins {
		args = append(args, "--load", p)
	}
	runner := &engine.ProcessRunner{Args: args, Stderr: os.Stderr}
	fut, err := runner.Start(ctx, engine.Request{File: path, Vars: vars})
	if err != nil {
		return nil, err
	}
	return fut.Result()
}

// parseKwargs turns k=v pairs into variables. Values stay strings.
func parseKwargs(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --kwargs %q: expected key=value", kv)
		}
		vars[k] = v
	}
	return vars, nil
}

// printResult prints non-nil results: lists and mappings as indented
// JSON, anything else in its natural text form.
func printResult(w io.Writer, result any) error {
	switch result.(type) {
	case nil:
		return nil
	case []any, map[string]any:
		data, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			_, err = fmt.Fprintln(w, string(data))
			return err
		}
	}
	_, err := fmt.Fprintln(w, eval.Stringify(result))
	return err
}

// printActions lists "name : first description line", sorted, with names
// padded to a column.
func printActions(w io.Writer, r *action.Registry) {
	actions := r.List()
	width := 0
	for _, a := range actions {
		width = max(width, runewidth.StringWidth(a.Spec().Name))
	}
	for _, a := range actions {
		spec := a.Spec()
		fmt.Fprintf(w, "%s : %s\n", runewidth.FillRight(spec.Name, width), firstLine(spec.Description))
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func printSpec(w io.Writer, r *action.Registry, name string) error {
	a, ok := r.Get(name)
	if !ok {
		_, err := fmt.Fprintf(w, "No action found: %s\n", name)
		return err
	}
	data, err := json.MarshalIndent(a.Spec(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printError prints "Error: ..." or, with --traceback, every wrapped cause
// on its own line, outermost first.
func printError(w io.Writer, err error, full bool) {
	if !full {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, "Traceback (outermost cause first):")
	for i, e := range engine.Chain(err) {
		fmt.Fprintf(w, "  %d. %s\n", i+1, describe(e))
	}
}

func describe(err error) string {
	var he *engine.HandlerError
	if errors.As(err, &he) && he == err {
		return fmt.Sprintf("%T in action %s", err, he.Action)
	}
	return fmt.Sprintf("%T: %v", err, err)
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

// envOrDefault returns the environment value of key, or def when unset.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", envOrDefault("PLAYBOOK_LOG_LEVEL", "info"), "Log level: debug, info, warn or error (env PLAYBOOK_LOG_LEVEL)")
	pf.StringArrayVarP(&loadPlugins, "load", "l", nil, "Load a Lua action plugin, repeatable")
	pf.BoolVar(&traceback, "traceback", false, "Print the full error chain on failure")
	rootCmd.Flags().BoolVar(&listActions, "list-actions", false, "List registered actions")
	rootCmd.Flags().StringVar(&specName, "spec", "", "Print the spec of an action as JSON")

	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().StringArrayVar(&runKwargs, "kwargs", nil, "Set a playbook variable (key=value), repeatable")
		c.Flags().StringVar(&runTrace, "trace", "", "Append a hash-chained JSONL trace of the run to this file")
		c.Flags().BoolVar(&runIsolated, "isolated", false, "Execute in a separate worker process")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(diagramCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(traceCmd)
}
