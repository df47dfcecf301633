package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/playbook/pkg/llm"
)

const (
	// Terminate ends an agent conversation when it appears in a reply,
	// compared case-insensitively.
	Terminate = "TERMINATE"

	// DefaultMaxAutoReply bounds the model replies of one AgentExecutor.Run.
	DefaultMaxAutoReply = 10

	// ProxyName is the speaker of the opening message and of the executor's
	// own replies.
	ProxyName = "UserProxy"

	terminateHint = `Reply "TERMINATE" in the end when everything is done.`

	defaultAgentInstructions = "You are a helpful AI assistant. Solve tasks step by step, " +
		"using the tools you are given when they help. " + terminateHint

	summaryPrompt = "Summarize the takeaway from the conversation. Do not add any introductory phrases."
)

// Agent is a named participant of an agent conversation backed by a session.
type Agent struct {
	Name         string
	Description  string
	Instructions string
	Session      *Session
	React        bool
	ChatOptions  []llm.ChatOption
}

// NewAgent creates an assistant agent. Empty instructions get a default
// system message; others are told to reply TERMINATE when done.
func NewAgent(name string, s *Session, instructions string) *Agent {
	if name == "" {
		name = "assistant"
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = defaultAgentInstructions
	} else {
		instructions += "\n" + terminateHint
	}
	return &Agent{Name: name, Instructions: instructions, Session: s}
}

// turn is one transcript entry and who produced it.
type turn struct {
	speaker string
	msg     llm.ChatMessage
}

// AgentExecutor drives a conversation between agents in round-robin order.
// A single agent alternates with the executor's own session. Tool calls in
// a reply are executed with the executor session's actions, falling back to
// the speaker's, and the speaker then continues.
type AgentExecutor struct {
	session      *Session
	agents       []*Agent
	instructions string
	maxAutoReply int
	react        bool
	chatOptions  []llm.ChatOption
	transcript   []turn
}

// AgentRunOptions configure AgentExecutor.Run.
type AgentRunOptions struct {
	// ClearHistory drops the previous transcript first.
	ClearHistory bool
	// Silent suppresses the per-reply log lines.
	Silent bool
}

// AgentRun is the outcome of AgentExecutor.Run.
type AgentRun struct {
	History []llm.ChatMessage
	Summary string
}

// NewAgentExecutor checks that agent names are unique. Empty instructions
// and a non-positive maxAutoReply take the defaults.
func NewAgentExecutor(s *Session, agents []*Agent, instructions string, maxAutoReply int) (*AgentExecutor, error) {
	if s == nil {
		return nil, errors.New("agent executor needs a session")
	}
	if len(agents) == 0 {
		return nil, errors.New("agent executor needs at least one agent")
	}
	seen := map[string]bool{ProxyName: true}
	for i, a := range agents {
		if a == nil || a.Session == nil {
			return nil, fmt.Errorf("agents[%d] has no session", i)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = terminateHint
	}
	if maxAutoReply <= 0 {
		maxAutoReply = DefaultMaxAutoReply
	}
	return &AgentExecutor{
		session:      s,
		agents:       agents,
		instructions: instructions,
		maxAutoReply: maxAutoReply,
	}, nil
}

// Agents returns the participants in speaking order.
func (e *AgentExecutor) Agents() []*Agent { return e.agents }

// Reset drops the transcript.
func (e *AgentExecutor) Reset() { e.transcript = nil }

func (e *AgentExecutor) speakers() []*Agent {
	if len(e.agents) > 1 {
		return e.agents
	}
	proxy := &Agent{
		Name:         ProxyName,
		Instructions: e.instructions,
		Session:      e.session,
		React:        e.react,
		ChatOptions:  e.chatOptions,
	}
	return []*Agent{e.agents[0], proxy}
}

// Run opens the conversation with message and lets the agents reply until
// one says TERMINATE or the reply budget is spent, then summarizes the
// transcript with the executor's session.
func (e *AgentExecutor) Run(ctx context.Context, message string, o AgentRunOptions) (AgentRun, error) {
	if o.ClearHistory {
		e.Reset()
	}
	e.transcript = append(e.transcript, turn{ProxyName, llm.ChatMessage{Role: llm.RoleUser, Content: message}})

	speakers := e.speakers()
	next := 0
	for replies := 0; replies < e.maxAutoReply; {
		if err := ctx.Err(); err != nil {
			return AgentRun{}, err
		}
		a := speakers[next%len(speakers)]
		m, err := e.reply(ctx, a)
		if err != nil {
			return AgentRun{}, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		replies++
		e.transcript = append(e.transcript, turn{a.Name, m})
		if !o.Silent {
			e.session.logger.InfoContext(ctx, "agent reply", "agent", a.Name, "content", m.Content, "tool_calls", len(m.ToolCalls))
		}

		if len(m.ToolCalls) > 0 {
			out, err := e.callTool(ctx, a, m)
			if err != nil {
				return AgentRun{}, fmt.Errorf("agent %s: %w", a.Name, err)
			}
			if out.Role == llm.RoleTool {
				e.transcript = append(e.transcript, turn{a.Name, out})
				continue
			}
		}
		if strings.Contains(strings.ToUpper(m.Content), Terminate) {
			break
		}
		next++
	}

	summary, err := e.summarize(ctx)
	if err != nil {
		return AgentRun{}, err
	}
	return AgentRun{History: e.History(), Summary: summary}, nil
}

func (e *AgentExecutor) reply(ctx context.Context, a *Agent) (llm.ChatMessage, error) {
	view := e.view(a.Name)
	if a.React {
		return a.Session.React(ctx, ReactOptions{
			Instructions: a.Instructions,
			Messages:     view,
			ChatOptions:  a.ChatOptions,
		})
	}
	res, err := a.Session.Run(ctx, RunOptions{
		Instructions: a.Instructions,
		Messages:     view,
		NoAutoExec:   true,
		ChatOptions:  a.ChatOptions,
	})
	return res.Message, err
}

func (e *AgentExecutor) callTool(ctx context.Context, a *Agent, m llm.ChatMessage) (llm.ChatMessage, error) {
	tools := e.session.Actions()
	if len(tools) == 0 {
		tools = a.Session.Actions()
	}
	return e.session.executeTool(ctx, m, tools, false)
}

// view renders the transcript for one speaker: its own messages, tool
// exchanges included, are the assistant side; everyone else's replies and
// tool results are user messages.
func (e *AgentExecutor) view(name string) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(e.transcript))
	for _, t := range e.transcript {
		m := t.msg
		switch {
		case t.speaker == name:
			if m.Role != llm.RoleTool {
				m.Role = llm.RoleAssistant
			}
		case len(m.ToolCalls) > 0:
			continue
		default:
			m = llm.ChatMessage{Role: llm.RoleUser, Content: m.Content, Name: t.speaker}
		}
		out = append(out, m)
	}
	return out
}

func (e *AgentExecutor) summarize(ctx context.Context) (string, error) {
	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: e.instructions}}
	messages = append(messages, e.view(ProxyName)...)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: summaryPrompt})
	m, err := e.session.LLM().Chat(ctx, messages, nil, e.chatOptions...)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return m.Content, nil
}

// History returns the transcript with each message named after its speaker.
func (e *AgentExecutor) History() []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(e.transcript))
	for i, t := range e.transcript {
		out[i] = t.msg
		if out[i].Role != llm.RoleTool {
			out[i].Name = t.speaker
		}
	}
	return out
}

// chatOptions maps llm_args settings that apply per call.
func chatOptions(args map[string]any) []llm.ChatOption {
	var opts []llm.ChatOption
	switch t := args["temperature"].(type) {
	case float64:
		opts = append(opts, llm.WithTemperature(t))
	case int:
		opts = append(opts, llm.WithTemperature(float64(t)))
	}
	switch s := args["stop"].(type) {
	case string:
		opts = append(opts, llm.WithStop(s))
	case []any:
		var stop []string
		for _, v := range s {
			stop = append(stop, fmt.Sprint(v))
		}
		opts = append(opts, llm.WithStop(stop...))
	}
	return opts
}
