// Package llm models one conversation turn with a language model and
// provides an OpenAI-compatible chat completions backend.
package llm

import (
	"context"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Function is the function part of a tool call. Arguments is the JSON
// encoded argument object as produced by the model.
type Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Function *Function `json:"function,omitempty"`
}

// Usage counts the tokens of one exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
}

// Message is a plain completion.
type Message struct {
	Content string `json:"content"`
}

// ChatOptions are per-call settings.
type ChatOptions struct {
	Stop        []string
	Temperature *float64
}

// ChatOption configures a single Chat call.
type ChatOption func(*ChatOptions)

// WithStop sets stop sequences.
func WithStop(stop ...string) ChatOption {
	return func(o *ChatOptions) { o.Stop = stop }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(o *ChatOptions) { o.Temperature = &t }
}

// LLM is a chat model backend.
type LLM interface {
	// Generate completes a plain prompt.
	Generate(ctx context.Context, instructions string, opts ...ChatOption) (Message, error)
	// Chat sends the conversation and returns the model's reply. When
	// tools are given the reply may carry tool calls.
	Chat(ctx context.Context, messages []ChatMessage, tools []schema.ActionSpec, opts ...ChatOption) (ChatMessage, error)
	// Model names the model in use.
	Model() string
}

func applyOptions(opts []ChatOption) ChatOptions {
	var o ChatOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
