package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

const (
	openAIDefaultBaseURL  = "https://api.openai.com/v1"
	openAIDefaultModel    = "gpt-3.5-turbo"
	openAIChatPath        = "/chat/completions"
	openAICompletionsPath = "/completions"
)

// nativeToolModels lists the model prefixes that accept the tools field.
var nativeToolModels = []string{"gpt-3.5", "gpt-4", "qwen"}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	model   string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// OpenAIOption configures an OpenAI client.
type OpenAIOption func(*OpenAI)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAI) { p.client = c }
}

// WithLogger sets the logger for request and response dumps.
func WithLogger(l *slog.Logger) OpenAIOption {
	return func(p *OpenAI) { p.logger = l }
}

// NewOpenAI creates a client. Empty values fall back to the defaults.
func NewOpenAI(model, baseURL, apiKey string, opts ...OpenAIOption) *OpenAI {
	if model == "" {
		model = openAIDefaultModel
	}
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	p := &OpenAI{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("logger", "OpenAI")
	return p
}

// Model implements LLM.
func (p *OpenAI) Model() string { return p.model }

// NativeToolCall reports whether the model takes tool specs natively.
// Other models are taught tool calling through the prompt.
func (p *OpenAI) NativeToolCall() bool {
	m := strings.ToLower(p.model)
	for _, prefix := range nativeToolModels {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// -- OpenAI wire types --

type oaiRequest struct {
	Model       string           `json:"model"`
	Messages    []oaiMessage     `json:"messages,omitempty"`
	Prompt      string           `json:"prompt,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream"`
}

type oaiMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type oaiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   *oaiUsage   `json:"usage,omitempty"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiChoice struct {
	Index   int        `json:"index"`
	Message oaiMessage `json:"message"`
	Text    string     `json:"text"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Generate implements LLM using the legacy completions endpoint.
func (p *OpenAI) Generate(ctx context.Context, instructions string, opts ...ChatOption) (Message, error) {
	o := applyOptions(opts)
	resp, err := p.post(ctx, openAICompletionsPath, oaiRequest{
		Model:       p.model,
		Prompt:      instructions,
		Stop:        o.Stop,
		Temperature: o.Temperature,
	})
	if err != nil {
		return Message{}, err
	}
	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("openai: empty completion")
	}
	return Message{Content: resp.Choices[0].Text}, nil
}

// Chat implements LLM.
func (p *OpenAI) Chat(ctx context.Context, messages []ChatMessage, tools []schema.ActionSpec, opts ...ChatOption) (ChatMessage, error) {
	o := applyOptions(opts)
	native := p.NativeToolCall()
	promptTools := len(tools) > 0 && !native

	msgs := make([]oaiMessage, 0, len(messages)+1)
	for _, m := range messages {
		msg := oaiMessage{Role: m.Role, Content: m.Content, Name: m.Name}
		if native {
			msg.ToolCalls = m.ToolCalls
			msg.ToolCallID = m.ToolCallID
		} else if m.Role == RoleTool {
			msg.Role = RoleUser
		}
		msgs = append(msgs, msg)
	}

	var toolSpecs []map[string]any
	for _, t := range tools {
		toolSpecs = append(toolSpecs, t.ToolSchema())
	}

	req := oaiRequest{
		Model:       p.model,
		Stop:        o.Stop,
		Temperature: o.Temperature,
	}
	if promptTools {
		// the instructions go right before the latest message
		at := max(len(msgs)-1, 0)
		msgs = append(msgs[:at], append([]oaiMessage{{Role: RoleUser, Content: ToolCallPrompt(tools)}}, msgs[at:]...)...)
	} else if len(toolSpecs) > 0 {
		req.Tools = toolSpecs
		req.ToolChoice = "auto"
	}
	req.Messages = msgs

	resp, err := p.post(ctx, openAIChatPath, req)
	if err != nil {
		return ChatMessage{}, err
	}
	if len(resp.Choices) == 0 {
		return ChatMessage{}, fmt.Errorf("openai: response has no choices")
	}

	m := resp.Choices[0].Message
	out := ChatMessage{Role: m.Role, Content: m.Content}
	if out.Role == "" {
		out.Role = RoleAssistant
	}
	if resp.Usage != nil {
		out.Usage = &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	toolCalls := m.ToolCalls
	if promptTools {
		if tc, ok := ParseToolCall(m.Content); ok {
			toolCalls = []ToolCall{tc}
		}
	}
	if len(toolCalls) > 0 {
		out.ToolCalls = toolCalls
	}
	return out, nil
}

func (p *OpenAI) post(ctx context.Context, path string, req oaiRequest) (*oaiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	p.logger.DebugContext(ctx, "request", "path", path, "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	p.logger.DebugContext(ctx, "response", "status", httpResp.StatusCode, "body", string(respBody))

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai api error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if oaiResp.Error != nil {
		return nil, fmt.Errorf("openai error [%s]: %s", oaiResp.Error.Type, oaiResp.Error.Message)
	}
	return &oaiResp, nil
}

func (p *OpenAI) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
