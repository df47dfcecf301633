package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
	"github.com/ormasoftchile/playbook/pkg/llm"
)

// DefaultMaxSteps bounds a React loop.
const DefaultMaxSteps = 3

// ReAct markers.
const (
	markerThought     = "Thought: "
	markerAction      = "Action: "
	markerObservation = "Observation: "
	markerFinished    = "Finished: "
)

const (
	askQuestion   = "Ask me a question."
	notEnoughInfo = "NOT ENOUGH INFO"
)

const reactPrompt = `%s
Solve a task with interleaving Thought, Action, Observation steps.

Thought can reason about the current situation.
Action is the decision to act, use available tools, functions, or APIs as needed.

Use the following format:

Task: the task you must solve
Thought: you should always think about what to do
Action: action you make to act or tools/functions/APIs to call
Action Input: parameters to tools/functions/APIs
Observation: the result of the action
Thought: I now know the final answer
Finished: the final answer to the task if the task solved

Refer to the conversation hisotry to help you understand the task.

Begin!

Task: %s
`

const rewritePrompt = `
Rewrite the following user question into a clearer and more complete question based on the context of the conversation.

Conversation:
` + "```" + `
%s
` + "```" + `

Question: %s
Rewrite as:
        `

// ReactOptions configure a React loop.
type ReactOptions struct {
	Instructions string
	Messages     []llm.ChatMessage
	// History is the window size; zero means DefaultHistory.
	History int
	Rewrite bool
	// MaxSteps is the step budget; zero means DefaultMaxSteps.
	MaxSteps    int
	Tools       []action.Action
	NoTools     bool
	ChatOptions []llm.ChatOption
}

// React answers the last user message with a Thought / Action /
// Observation loop of at most MaxSteps model calls. A reply containing
// "Finished: " ends the loop with the text after the last marker; a reply
// with neither "Thought: " nor "Action: " is taken as the answer. When the
// budget runs out the answer is "NOT ENOUGH INFO". Only the answer is added
// to the history.
func (s *Session) React(ctx context.Context, o ReactOptions) (llm.ChatMessage, error) {
	history := o.History
	if history <= 0 {
		history = DefaultHistory
	}
	maxSteps := o.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	fromHistory := len(o.Messages) == 0
	messages := append([]llm.ChatMessage(nil), o.Messages...)
	if fromHistory {
		messages = s.tail(history)
	}
	if len(messages) == 0 || messages[len(messages)-1].Role != llm.RoleUser {
		return llm.ChatMessage{Role: llm.RoleAssistant, Content: askQuestion}, nil
	}

	tools := s.tools(o.Tools)
	var toolSpecs []schema.ActionSpec
	if !o.NoTools {
		toolSpecs = specs(tools)
	}

	question := messages[len(messages)-1].Content
	if o.Rewrite {
		if err := s.Rewrite(ctx, history, o.ChatOptions...); err != nil {
			return llm.ChatMessage{}, err
		}
		if fromHistory {
			messages[len(messages)-1] = s.messages[len(s.messages)-1]
			question = messages[len(messages)-1].Content
		}
	}

	messages = append(messages, llm.ChatMessage{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(reactPrompt, o.Instructions, question),
	})

	opts := o.ChatOptions
	if toolSpecs != nil {
		opts = append(append([]llm.ChatOption(nil), opts...), llm.WithStop(markerObservation))
	}

	s.logger.DebugContext(ctx, "react", "task", question, "max_steps", maxSteps)

	answer := llm.ChatMessage{Role: llm.RoleAssistant, Content: notEnoughInfo}
	for step := 0; step < maxSteps; step++ {
		m, err := s.llm.Chat(ctx, messages, toolSpecs, opts...)
		if err != nil {
			return llm.ChatMessage{}, err
		}
		messages = append(messages, m)

		content := m.Content
		if z := strings.LastIndex(content, markerFinished); z >= 0 {
			answer.Content = content[z+len(markerFinished):]
			break
		}
		if !strings.Contains(content, markerAction) && !strings.Contains(content, markerThought) {
			answer.Content = content
			break
		}

		observed, err := s.executeTool(ctx, m, tools, false)
		if err != nil {
			return llm.ChatMessage{}, err
		}
		if observed.Role == llm.RoleTool {
			observed.Content = markerObservation + observed.Content
			messages = append(messages, observed)
		}
	}

	answer.Content = strings.TrimSpace(answer.Content)
	s.Add(answer)
	return answer, nil
}

// Rewrite asks the model to restate the last user message using up to
// history prior turns as context, and replaces it in place. It does
// nothing unless the history ends with a user message.
func (s *Session) Rewrite(ctx context.Context, history int, opts ...llm.ChatOption) error {
	n := len(s.messages)
	if n == 0 || s.messages[n-1].Role != llm.RoleUser {
		return nil
	}
	if history <= 0 {
		history = DefaultHistory
	}
	prior := s.messages[max(n-history, 0) : n-1]
	prompt := fmt.Sprintf(rewritePrompt, PlainMessages(prior, false, false), s.messages[n-1].Content)

	m, err := s.llm.Chat(ctx, []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}}, nil, opts...)
	if err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}
	s.messages[n-1].Content = m.Content
	return nil
}
