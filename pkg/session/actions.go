package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
	"github.com/ormasoftchile/playbook/pkg/llm"
)

// Factory creates a model backend for llm.session.
type Factory func(provider string, args map[string]any) (llm.LLM, error)

func defaultFactory(provider string, args map[string]any) (llm.LLM, error) {
	return llm.New(provider, args)
}

type sessionArgs struct {
	Provider  string         `mapstructure:"provider"`
	LLMArgs   map[string]any `mapstructure:"llm_args"`
	Functions any            `mapstructure:"functions"`
}

type chatArgs struct {
	Session      any    `mapstructure:"session"`
	Prompt       string `mapstructure:"prompt"`
	History      int    `mapstructure:"history"`
	Instructions string `mapstructure:"instructions"`
	ExpectJSON   int    `mapstructure:"expect_json"`
	MaxSteps     int    `mapstructure:"max_steps"`
	Rewrite      bool   `mapstructure:"rewrite"`
}

func (a chatArgs) session() (*Session, error) {
	return asSession(a.Session)
}

func asSession(v any) (*Session, error) {
	s, ok := v.(*Session)
	if !ok {
		return nil, fmt.Errorf("session is not an llm session: %T", v)
	}
	return s, nil
}

type agentArgs struct {
	Type         string         `mapstructure:"type"`
	Session      any            `mapstructure:"session"`
	LLMArgs      map[string]any `mapstructure:"llm_args"`
	React        bool           `mapstructure:"react"`
	Name         string         `mapstructure:"name"`
	Description  string         `mapstructure:"description"`
	Instructions string         `mapstructure:"instructions"`
}

type executorArgs struct {
	Session      any            `mapstructure:"session"`
	LLMArgs      map[string]any `mapstructure:"llm_args"`
	React        bool           `mapstructure:"react"`
	Agents       []any          `mapstructure:"agents"`
	Instructions string         `mapstructure:"instructions"`
	MaxAutoReply int            `mapstructure:"max_consecutive_auto_reply"`
}

type agentRunArgs struct {
	Executor     any    `mapstructure:"agent_executor"`
	Message      string `mapstructure:"message"`
	ClearHistory bool   `mapstructure:"clear_history"`
	Silent       bool   `mapstructure:"silent"`
}

// Register adds the llm.* and agents.* actions to r. A nil factory
// uses llm.New. Sessions created by llm.session get opts and the calling
// executor.
func Register(r *action.Registry, factory Factory, opts ...Option) {
	r.Register(Actions(factory, opts...))
}

// Actions builds the llm.* and agents.* actions.
func Actions(factory Factory, opts ...Option) map[string]action.Action {
	if factory == nil {
		factory = defaultFactory
	}
	return map[string]action.Action{
		"llm.session": action.NewFunc(schema.ActionSpec{
			Name:        "llm.session",
			Description: "Create a new LLM chat session.",
			Arguments: []schema.ArgSpec{
				{Name: "provider", Type: "string", Description: "LLM provider, defaults to openai."},
				{Name: "llm_args", Type: "dict", Description: "Backend settings such as model, api_key and base_url."},
				{Name: "functions", Type: "array", Description: "Actions exposed to the model as tools."},
			},
		}, func(_ context.Context, c action.Call) (any, error) {
			var a sessionArgs
			if err := decode(c.Kwargs, &a); err != nil {
				return nil, fmt.Errorf("llm.session: %w", err)
			}
			model, err := factory(a.Provider, a.LLMArgs)
			if err != nil {
				return nil, err
			}
			tools, err := toActions(a.Functions)
			if err != nil {
				return nil, fmt.Errorf("llm.session: %w", err)
			}
			sessionOpts := append([]Option{WithExecutor(c.Executor)}, opts...)
			return New(model, tools, sessionOpts...), nil
		}),
		"llm.chat": action.NewFunc(schema.ActionSpec{
			Name:        "llm.chat",
			Description: "Send a prompt in a chat session and return the reply.",
			Arguments: []schema.ArgSpec{
				{Name: "session", Type: "object", Description: "Session created by llm.session.", Required: true},
				{Name: "prompt", Type: "string", Description: "User message added to the history."},
				{Name: "history", Type: "int", Description: "Number of trailing messages sent to the model."},
				{Name: "instructions", Type: "string", Description: "System instructions."},
				{Name: "expect_json", Type: "int", Description: "Retries for a JSON answer. The decoded value is returned."},
				{Name: "rewrite", Type: "bool", Description: "Restate the prompt before answering."},
			},
		}, func(ctx context.Context, c action.Call) (any, error) {
			a, s, err := chatCall(c)
			if err != nil {
				return nil, fmt.Errorf("llm.chat: %w", err)
			}
			res, err := s.Run(ctx, RunOptions{
				Instructions: a.Instructions,
				History:      a.History,
				ExpectJSON:   a.ExpectJSON,
				Rewrite:      a.Rewrite,
			})
			if err != nil {
				return nil, err
			}
			if a.ExpectJSON > 0 && res.JSON != nil {
				return res.JSON, nil
			}
			return res.Message.Content, nil
		}),
		"llm.react": action.NewFunc(schema.ActionSpec{
			Name:        "llm.react",
			Description: "Answer a prompt with a Thought/Action/Observation loop.",
			Arguments: []schema.ArgSpec{
				{Name: "session", Type: "object", Description: "Session created by llm.session.", Required: true},
				{Name: "prompt", Type: "string", Description: "User message added to the history."},
				{Name: "max_steps", Type: "int", Description: "Step budget, defaults to 3."},
				{Name: "history", Type: "int", Description: "Number of trailing messages sent to the model."},
				{Name: "instructions", Type: "string", Description: "Extra instructions put before the task."},
				{Name: "rewrite", Type: "bool", Description: "Restate the prompt before answering."},
			},
		}, func(ctx context.Context, c action.Call) (any, error) {
			a, s, err := chatCall(c)
			if err != nil {
				return nil, fmt.Errorf("llm.react: %w", err)
			}
			m, err := s.React(ctx, ReactOptions{
				Instructions: a.Instructions,
				History:      a.History,
				MaxSteps:     a.MaxSteps,
				Rewrite:      a.Rewrite,
			})
			if err != nil {
				return nil, err
			}
			return m.Content, nil
		}),
		"agents.create": action.NewFunc(schema.ActionSpec{
			Name:        "agents.create",
			Description: "Create a new agent instance.",
			Arguments: []schema.ArgSpec{
				{Name: "type", Type: "string", Description: "The type of agent to create, only assistant is supported."},
				{Name: "session", Type: "object", Description: "Session created by llm.session.", Required: true},
				{Name: "llm_args", Type: "dict", Description: "Per-call model settings such as temperature and stop."},
				{Name: "react", Type: "bool", Description: "Whether the agent answers with react reasoning."},
				{Name: "name", Type: "string", Description: "The name of the agent, defaults to assistant."},
				{Name: "description", Type: "string", Description: "A brief description of the agent's purpose."},
				{Name: "instructions", Type: "string", Description: "Instructions for the agent."},
			},
		}, func(_ context.Context, c action.Call) (any, error) {
			var a agentArgs
			if err := decode(positional(c, "session"), &a); err != nil {
				return nil, fmt.Errorf("agents.create: %w", err)
			}
			if a.Type != "" && a.Type != "assistant" {
				return nil, fmt.Errorf("agents.create: invalid agent type: %s", a.Type)
			}
			s, err := asSession(a.Session)
			if err != nil {
				return nil, fmt.Errorf("agents.create: %w", err)
			}
			agent := NewAgent(a.Name, s, a.Instructions)
			agent.Description = strings.TrimSpace(a.Description)
			agent.React = a.React
			agent.ChatOptions = chatOptions(a.LLMArgs)
			return agent, nil
		}),
		"agents.executor": action.NewFunc(schema.ActionSpec{
			Name:        "agents.executor",
			Description: "Instantiate a new agent executor.",
			Arguments: []schema.ArgSpec{
				{Name: "session", Type: "object", Description: "Session used for the executor's own replies, tool calls and the summary.", Required: true},
				{Name: "llm_args", Type: "dict", Description: "Per-call model settings such as temperature and stop."},
				{Name: "react", Type: "bool", Description: "Whether the executor answers with react reasoning."},
				{Name: "agents", Type: "array", Description: "Agents created by agents.create, in speaking order.", Required: true},
				{Name: "instructions", Type: "string", Description: "Instructions for the agent executor."},
				{Name: "max_consecutive_auto_reply", Type: "int", Description: "The maximum number of replies in one run, defaults to 10."},
			},
		}, func(_ context.Context, c action.Call) (any, error) {
			var a executorArgs
			if err := decode(positional(c, "session", "agents"), &a); err != nil {
				return nil, fmt.Errorf("agents.executor: %w", err)
			}
			s, err := asSession(a.Session)
			if err != nil {
				return nil, fmt.Errorf("agents.executor: %w", err)
			}
			agents := make([]*Agent, 0, len(a.Agents))
			for i, v := range a.Agents {
				agent, ok := v.(*Agent)
				if !ok {
					return nil, fmt.Errorf("agents.executor: agents[%d] is not an agent: %T", i, v)
				}
				agents = append(agents, agent)
			}
			ex, err := NewAgentExecutor(s, agents, a.Instructions, a.MaxAutoReply)
			if err != nil {
				return nil, fmt.Errorf("agents.executor: %w", err)
			}
			ex.react = a.React
			ex.chatOptions = chatOptions(a.LLMArgs)
			return ex, nil
		}),
		"agents.run": action.NewFunc(schema.ActionSpec{
			Name:        "agents.run",
			Description: "Run the specified agent executor with a given message.",
			Arguments: []schema.ArgSpec{
				{Name: "agent_executor", Type: "object", Description: "Executor created by agents.executor.", Required: true},
				{Name: "message", Type: "string", Description: "The message to process.", Required: true},
				{Name: "clear_history", Type: "bool", Description: "Whether to clear the conversation history before running, defaults to true."},
				{Name: "silent", Type: "bool", Description: "Whether to suppress per-reply logging."},
			},
		}, func(ctx context.Context, c action.Call) (any, error) {
			a := agentRunArgs{ClearHistory: true}
			if err := decode(positional(c, "agent_executor", "message"), &a); err != nil {
				return nil, fmt.Errorf("agents.run: %w", err)
			}
			ex, ok := a.Executor.(*AgentExecutor)
			if !ok {
				return nil, fmt.Errorf("agents.run: agent_executor is not an agent executor: %T", a.Executor)
			}
			res, err := ex.Run(ctx, a.Message, AgentRunOptions{ClearHistory: a.ClearHistory, Silent: a.Silent})
			if err != nil {
				return nil, err
			}
			return res.Summary, nil
		}),
	}
}

// positional names the leading positional arguments of c; named
// arguments win.
func positional(c action.Call, names ...string) map[string]any {
	in := make(map[string]any, len(c.Kwargs)+len(names))
	for i, name := range names {
		if i < len(c.Args) {
			in[name] = c.Args[i]
		}
	}
	for k, v := range c.Kwargs {
		in[k] = v
	}
	return in
}

// chatCall decodes the arguments of llm.chat and llm.react, taking the
// session from the first positional argument when it is not named, and
// adds the prompt to the history.
func chatCall(c action.Call) (chatArgs, *Session, error) {
	var a chatArgs
	if err := decode(positional(c, "session", "prompt"), &a); err != nil {
		return a, nil, err
	}
	s, err := a.session()
	if err != nil {
		return a, nil, err
	}
	if a.Prompt != "" {
		s.Add(llm.ChatMessage{Role: llm.RoleUser, Content: a.Prompt})
	}
	return a, s, nil
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func toActions(v any) ([]action.Action, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case action.Action:
		return []action.Action{t}, nil
	case []action.Action:
		return t, nil
	case []any:
		out := make([]action.Action, 0, len(t))
		for i, e := range t {
			a, ok := e.(action.Action)
			if !ok {
				return nil, fmt.Errorf("functions[%d] is not an action: %T", i, e)
			}
			out = append(out, a)
		}
		return out, nil
	}
	return nil, fmt.Errorf("functions must be a list of actions, got %T", v)
}
