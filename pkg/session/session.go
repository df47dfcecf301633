// Package session runs conversations with a language model on top of the
// action registry: registered actions are offered to the model as tools
// and at most one requested tool call is executed per turn.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
	"github.com/ormasoftchile/playbook/pkg/llm"
)

// DefaultHistory is the number of trailing messages sent to the model.
const DefaultHistory = 5

// ErrToolCallID is returned when the model asks for a tool call without an id.
var ErrToolCallID = errors.New("tool_call_id required")

// ToolHook is told about every tool invocation.
type ToolHook func(tool string, err error)

// Session holds a conversation history and the actions it may call.
// A Session is not safe for concurrent use.
type Session struct {
	llm      llm.LLM
	actions  []action.Action
	messages []llm.ChatMessage
	executor action.Executor
	logger   *slog.Logger
	hooks    []ToolHook
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for tool failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithExecutor sets the executor handed to actions invoked as tools.
func WithExecutor(e action.Executor) Option {
	return func(s *Session) { s.executor = e }
}

// WithToolHook adds a hook called after each tool invocation.
func WithToolHook(h ToolHook) Option {
	return func(s *Session) { s.hooks = append(s.hooks, h) }
}

// New creates a session over model exposing actions as tools.
func New(model llm.LLM, actions []action.Action, opts ...Option) *Session {
	s := &Session{
		llm:     model,
		actions: actions,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("logger", "LLM")
	return s
}

// Add appends m to the history.
func (s *Session) Add(m llm.ChatMessage) {
	s.messages = append(s.messages, m)
}

// Messages returns a copy of the history.
func (s *Session) Messages() []llm.ChatMessage {
	return append([]llm.ChatMessage(nil), s.messages...)
}

// LLM returns the model backend.
func (s *Session) LLM() llm.LLM { return s.llm }

// Actions returns the actions exposed as tools.
func (s *Session) Actions() []action.Action { return s.actions }

// tail copies the last n messages of the history.
func (s *Session) tail(n int) []llm.ChatMessage {
	start := max(len(s.messages)-n, 0)
	return append([]llm.ChatMessage(nil), s.messages[start:]...)
}

// RunOptions configure a single Run.
type RunOptions struct {
	// Instructions is sent as a leading system message.
	Instructions string
	// Messages replaces the trailing history window when set.
	Messages []llm.ChatMessage
	// History is the window size; zero means DefaultHistory.
	History int
	// Rewrite restates the last user message before running.
	Rewrite bool
	// ExpectJSON is how many times to re-ask for a JSON answer.
	ExpectJSON int
	// Tools overrides the session's actions for this run.
	Tools []action.Action
	// NoTools hides tool specs from the model.
	NoTools bool
	// NoAutoExec leaves requested tool calls unexecuted.
	NoAutoExec bool
	ChatOptions []llm.ChatOption
}

// RunResult is the outcome of Run. JSON holds the decoded answer when
// ExpectJSON was set and the model produced valid JSON.
type RunResult struct {
	Message llm.ChatMessage
	JSON    any
}

func (o RunOptions) history() int {
	if o.History <= 0 {
		return DefaultHistory
	}
	return o.History
}

func (s *Session) tools(override []action.Action) []action.Action {
	if len(override) > 0 {
		return override
	}
	return s.actions
}

func specs(tools []action.Action) []schema.ActionSpec {
	if len(tools) == 0 {
		return nil
	}
	out := make([]schema.ActionSpec, len(tools))
	for i, t := range tools {
		out[i] = t.Spec()
	}
	return out
}

// Run sends the recent history to the model and executes the first tool
// call of the reply. After a tool call the model is asked again with the
// call and its result appended; the history then grows by exactly the call
// and its result, and the follow-up is only returned. A reply without a
// tool call is added to the history.
func (s *Session) Run(ctx context.Context, o RunOptions) (RunResult, error) {
	history := o.history()
	if o.Rewrite {
		if err := s.Rewrite(ctx, history, o.ChatOptions...); err != nil {
			return RunResult{}, err
		}
	}

	messages := append([]llm.ChatMessage(nil), o.Messages...)
	if len(messages) == 0 {
		messages = s.tail(history)
	}
	if o.Instructions != "" {
		messages = append([]llm.ChatMessage{{Role: llm.RoleSystem, Content: o.Instructions}}, messages...)
	}

	tools := s.tools(o.Tools)
	var toolSpecs []schema.ActionSpec
	if !o.NoTools {
		toolSpecs = specs(tools)
	}

	ask := func() (llm.ChatMessage, error) {
		m, err := s.llm.Chat(ctx, messages, toolSpecs, o.ChatOptions...)
		if err != nil || o.NoAutoExec {
			return m, err
		}
		return s.executeTool(ctx, m, tools, true)
	}

	m, err := ask()
	if err != nil {
		return RunResult{}, err
	}
	followUp := m.Role == llm.RoleTool
	if followUp {
		messages = append(messages, s.tail(2)...)
		if m, err = s.llm.Chat(ctx, messages, nil, o.ChatOptions...); err != nil {
			return RunResult{}, err
		}
	}

	var res RunResult
	if o.ExpectJSON > 0 {
		found := false
		for range o.ExpectJSON {
			if v, err := decodeJSON(m.Content); err == nil {
				res.JSON, found = v, true
				break
			}
			if m, err = ask(); err != nil {
				return RunResult{}, err
			}
			followUp = m.Role == llm.RoleTool
		}
		if !found {
			m.Content = "{}"
		}
	}

	if !followUp {
		s.Add(m)
	}
	res.Message = m
	return res, nil
}

// executeTool runs the first tool call of m. It returns m unchanged when
// there is no call or the tool is unknown, otherwise the tool-role result
// message. Tool failures become the result text. With save, the call and
// the result are added to the history.
func (s *Session) executeTool(ctx context.Context, m llm.ChatMessage, tools []action.Action, save bool) (llm.ChatMessage, error) {
	if len(m.ToolCalls) == 0 {
		return m, nil
	}
	// only the first call of a turn is executed
	call := m.ToolCalls[0]
	if call.Function == nil {
		return m, fmt.Errorf("invalid function in tool call %q", call.ID)
	}
	name := call.Function.Name
	fn, ok := action.ToolIndex(tools)[name]
	if !ok {
		return m, nil
	}

	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}
	result, err := s.invoke(ctx, fn, args)
	for _, h := range s.hooks {
		h(name, err)
	}

	var content string
	if err != nil {
		s.logger.WarnContext(ctx, "function call failed", "func_name", name, "args", args, "error", err)
		content = err.Error()
	} else {
		content = s.render(ctx, result)
	}
	if content == "" {
		content = name + " return nothing."
	}

	if call.ID == "" {
		return m, ErrToolCallID
	}
	out := llm.ChatMessage{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       name,
	}
	if save {
		s.Add(m)
		s.Add(out)
	}
	return out, nil
}

func (s *Session) invoke(ctx context.Context, fn action.Action, args string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	v, err := decodeJSON(args)
	if err != nil {
		return nil, err
	}
	kwargs, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tool arguments must be an object, got %T", v)
	}
	spec := fn.Spec()
	return fn.Perform(ctx, action.Call{
		Kwargs:   kwargs,
		Executor: s.executor,
		Playbook: &schema.Playbook{Name: spec.Name, Args: schema.Named(kwargs)},
	})
}

// render turns a tool result into message text. Strings pass through and
// other values are indented JSON, empty ones as {}.
func (s *Session) render(ctx context.Context, result any) string {
	switch t := result.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	if !eval.Truthy(result) {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(result); err != nil {
		s.logger.WarnContext(ctx, "function return value cannot be encoded as JSON", "error", err)
		return eval.Stringify(result)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func decodeJSON(s string) (any, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return schema.Normalize(v), nil
}

// PlainMessages renders messages one per line as "role: content".
func PlainMessages(messages []llm.ChatMessage, noRole, noWrap bool) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		content := m.Content
		if noWrap {
			content = strings.ReplaceAll(content, "\n", `\n`)
		}
		if noRole {
			lines[i] = content
		} else {
			lines[i] = m.Role + ": " + content
		}
	}
	return strings.Join(lines, "\n")
}
