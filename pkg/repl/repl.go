// Package repl implements the interactive chat loop over a session.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"

	"github.com/ormasoftchile/playbook/pkg/llm"
	"github.com/ormasoftchile/playbook/pkg/session"
)

var commands = []string{"/react", "/history", "/clear", "/help", "/quit"}

// Config configures a REPL. Zero values are usable.
type Config struct {
	// Instructions is sent as the system message of every turn.
	Instructions string
	// React starts the loop in ReAct mode.
	React bool
	// MaxSteps bounds a ReAct turn.
	MaxSteps int
	// History is the number of trailing messages sent per turn.
	History int
	// HistoryFile persists readline history when set.
	HistoryFile string
	// Style is a glamour standard style ("dark", "light", "notty"); empty
	// picks one from the terminal.
	Style string
	// WordWrap wraps rendered answers; zero means 80 columns.
	WordWrap int

	Stdin  io.ReadCloser
	Stdout io.Writer
}

// REPL reads prompts, runs them through a session and renders answers as
// markdown.
type REPL struct {
	session  *session.Session
	cfg      Config
	out      io.Writer
	renderer *glamour.TermRenderer
	react    bool
	// offset is the index of the first message shown by /history after
	// a /clear.
	offset int
}

// New creates a REPL over s.
func New(s *session.Session, cfg Config) (*REPL, error) {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.WordWrap == 0 {
		cfg.WordWrap = 80
	}
	style := glamour.WithAutoStyle()
	if cfg.Style != "" {
		style = glamour.WithStandardStyle(cfg.Style)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(cfg.WordWrap))
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}
	return &REPL{
		session:  s,
		cfg:      cfg,
		out:      cfg.Stdout,
		renderer: r,
		react:    cfg.React,
	}, nil
}

// Run reads lines until /quit, EOF or interrupt.
func (r *REPL) Run(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          r.prompt(),
		AutoComplete:    completer,
		HistoryFile:     r.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
		Stdin:           r.cfg.Stdin,
		Stdout:          r.cfg.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(r.out, "chatting with %s. Type /help for commands.\n\n", r.session.LLM().Model())
	for {
		rl.SetPrompt(r.prompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		quit, err := r.Eval(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) prompt() string {
	if r.react {
		return "react> "
	}
	return "> "
}

// Eval handles one input line and reports whether the loop should end.
func (r *REPL) Eval(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if strings.HasPrefix(line, "/") {
		return r.command(line)
	}

	r.session.Add(llm.ChatMessage{Role: llm.RoleUser, Content: line})
	var answer llm.ChatMessage
	var err error
	if r.react {
		answer, err = r.session.React(ctx, session.ReactOptions{
			Instructions: r.cfg.Instructions,
			History:      r.cfg.History,
			MaxSteps:     r.cfg.MaxSteps,
		})
	} else {
		var res session.RunResult
		res, err = r.session.Run(ctx, session.RunOptions{
			Instructions: r.cfg.Instructions,
			History:      r.cfg.History,
		})
		answer = res.Message
	}
	if err != nil {
		return false, err
	}
	fmt.Fprintln(r.out, r.render(answer.Content))
	return false, nil
}

func (r *REPL) command(line string) (bool, error) {
	switch cmd := strings.Fields(line)[0]; cmd {
	case "/quit", "/exit":
		return true, nil
	case "/react":
		r.react = !r.react
		state := "off"
		if r.react {
			state = "on"
		}
		fmt.Fprintf(r.out, "react mode %s\n", state)
	case "/history":
		msgs := r.session.Messages()
		if r.offset < len(msgs) {
			msgs = msgs[r.offset:]
		} else {
			msgs = nil
		}
		if len(msgs) == 0 {
			fmt.Fprintln(r.out, "(no messages)")
			break
		}
		fmt.Fprintln(r.out, session.PlainMessages(msgs, false, true))
	case "/clear":
		r.offset = len(r.session.Messages())
	case "/help":
		fmt.Fprintln(r.out, "Commands:")
		fmt.Fprintln(r.out, "  /react     toggle ReAct mode (Thought / Action / Observation)")
		fmt.Fprintln(r.out, "  /history   print the conversation")
		fmt.Fprintln(r.out, "  /clear     hide earlier messages from /history")
		fmt.Fprintln(r.out, "  /quit      leave")
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

// render formats an answer as markdown. Rendering failures fall back to
// the raw text.
func (r *REPL) render(md string) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	out, err := r.renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
