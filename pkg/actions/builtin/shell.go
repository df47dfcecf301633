package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

var printColors = map[string]lipgloss.Color{
	"red":    lipgloss.Color("1"),
	"green":  lipgloss.Color("2"),
	"yellow": lipgloss.Color("3"),
	"blue":   lipgloss.Color("4"),
	"purple": lipgloss.Color("5"),
}

type cmdArgs struct {
	Command string `mapstructure:"command"`
}

type printArgs struct {
	Message string  `mapstructure:"message"`
	End     *string `mapstructure:"end"`
	Color   string  `mapstructure:"color"`
}

func shellActions(cfg *config) map[string]action.Action {
	env, _ := json.Marshal(map[string]string{
		"SHELL": os.Getenv("SHELL"),
		"USER":  os.Getenv("USER"),
		"HOME":  os.Getenv("HOME"),
		"PWD":   os.Getenv("PWD"),
	})
	prompt := &promptAction{in: cfg.in, out: cfg.out}

	return map[string]action.Action{
		"shell.cmd": typed("shell.cmd", schema.ActionSpec{
			Description: fmt.Sprintf("Use this tool to execute Linux, macOS, and DOS commands and output the execution results. "+
				"Current OS: %s. System Environments: %s", runtime.GOOS, env),
			Arguments: []schema.ArgSpec{
				{Name: "command", Type: "string", Description: "The command to execute, along with any arguments.", Required: true},
			},
		}, func(ctx context.Context, _ action.Call, a cmdArgs) (any, error) {
			return runCommand(ctx, a.Command), nil
		}),
		"shell.print": fn("shell.print", schema.ActionSpec{
			Description: "Output a message to the terminal with optional color formatting.",
			Arguments: []schema.ArgSpec{
				{Name: "message", Type: "string", Description: "The message to be printed."},
				{Name: "end", Type: "string", Description: "The end character to append after the message."},
				{Name: "color", Type: "string", Description: "The color in which the message should be printed. Supported colors: red, green, yellow, blue, purple."},
			},
		}, func(_ context.Context, c action.Call) (any, error) {
			var a printArgs
			if err := decode(action.Call{Kwargs: c.Kwargs}, schema.ActionSpec{Name: "shell.print"}, &a); err != nil {
				return nil, err
			}
			end := "\n"
			if a.End != nil {
				end = *a.End
			}
			msg := a.Message
			if msg == "" {
				parts := make([]string, len(c.Args))
				for i, v := range c.Args {
					parts[i] = eval.Stringify(v)
				}
				msg = strings.Join(parts, end)
			}
			text := msg + end
			if color, ok := printColors[strings.ToLower(a.Color)]; ok {
				text = lipgloss.NewStyle().Foreground(color).Bold(true).Render(msg) + end
			}
			_, err := io.WriteString(cfg.out, text)
			return nil, err
		}),
		"shell.prompt": prompt,
	}
}

// runCommand runs command under sh -c and returns its standard output.
// Failing to start, or being cancelled, is reported as text so a model
// calling the action as a tool can read it.
func runCommand(ctx context.Context, command string) string {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).Output()
	var exit *exec.ExitError
	if err != nil && (!errors.As(err, &exit) || ctx.Err() != nil) {
		return fmt.Sprintf("Execute `%s` failed: %v", command, err)
	}
	return string(out)
}

// promptAction reads a line from the terminal. It keeps one readline
// instance so input history carries across prompts.
type promptAction struct {
	in  io.ReadCloser
	out io.Writer

	mu sync.Mutex
	rl *readline.Instance
}

func (p *promptAction) Spec() schema.ActionSpec {
	return schema.ActionSpec{
		Name:        "shell.prompt",
		Description: "Prompt the user for input in the terminal and provide suggestions based on input history.",
		Arguments: []schema.ArgSpec{
			{Name: "prompt", Type: "string", Description: "The prompt message to display to the user."},
		},
	}
}

func (p *promptAction) Perform(_ context.Context, c action.Call) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rl == nil {
		rl, err := readline.NewEx(&readline.Config{
			Stdin:           p.in,
			Stdout:          p.out,
			InterruptPrompt: "^C",
		})
		if err != nil {
			return nil, fmt.Errorf("init readline: %w", err)
		}
		p.rl = rl
	}
	prompt := ""
	if v, ok := c.Arg(0, "prompt"); ok {
		prompt = eval.Stringify(v)
	}
	p.rl.SetPrompt(prompt)
	line, err := p.rl.Readline()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return nil, err
	}
	return line, nil
}
