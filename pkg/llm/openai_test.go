package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

var echoSpec = schema.ActionSpec{
	Name:        "text.echo",
	Description: "Echoes text.",
	Arguments:   []schema.ArgSpec{{Name: "text", Type: "string", Description: "what to echo", Required: true}},
}

func fakeServer(t *testing.T, check func(req oaiRequest), resp oaiResponse) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestChat_NativeTools(t *testing.T) {
	server := fakeServer(t, func(req oaiRequest) {
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Tools) != 1 || req.ToolChoice != "auto" {
			t.Errorf("tools = %v, choice = %q", req.Tools, req.ToolChoice)
			return
		}
		fn, _ := req.Tools[0]["function"].(map[string]any)
		if fn["name"] != "text_echo" {
			t.Errorf("tool name = %v", fn["name"])
		}
		if len(req.Messages) != 3 || req.Messages[2].Role != RoleTool || req.Messages[2].ToolCallID != "c0" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if len(req.Stop) != 1 || req.Stop[0] != "Observation: " {
			t.Errorf("stop = %v", req.Stop)
		}
	}, oaiResponse{
		Choices: []oaiChoice{{Message: oaiMessage{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				ID: "c1", Type: "function",
				Function: &Function{Name: "text_echo", Arguments: `{"text":"hi"}`},
			}},
		}}},
		Usage: &oaiUsage{PromptTokens: 10, CompletionTokens: 5},
	})

	p := NewOpenAI("gpt-4o", server.URL, "test-key")
	if !p.NativeToolCall() {
		t.Fatal("gpt-4o should call tools natively")
	}
	m, err := p.Chat(context.Background(), []ChatMessage{
		{Role: RoleUser, Content: "say hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c0", Type: "function", Function: &Function{Name: "text_echo"}}}},
		{Role: RoleTool, Content: "hi", ToolCallID: "c0", Name: "text_echo"},
	}, []schema.ActionSpec{echoSpec}, WithStop("Observation: "))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.ToolCalls) != 1 || m.ToolCalls[0].Function.Arguments != `{"text":"hi"}` {
		t.Errorf("tool calls = %+v", m.ToolCalls)
	}
	if m.Usage == nil || m.Usage.InputTokens != 10 || m.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", m.Usage)
	}
}

func TestChat_PromptTools(t *testing.T) {
	server := fakeServer(t, func(req oaiRequest) {
		if len(req.Tools) != 0 {
			t.Errorf("tools sent to a prompt-only model: %v", req.Tools)
		}
		if len(req.Messages) != 3 {
			t.Errorf("messages = %+v", req.Messages)
			return
		}
		if !strings.Contains(req.Messages[1].Content, "name: `text_echo`") {
			t.Errorf("tool prompt not inserted before the last message: %+v", req.Messages)
		}
		if req.Messages[2].Role != RoleUser || req.Messages[2].ToolCallID != "" {
			t.Errorf("tool message = %+v", req.Messages[2])
		}
	}, oaiResponse{
		Choices: []oaiChoice{{Message: oaiMessage{
			Role:    RoleAssistant,
			Content: "Sure.\n```json\n{\"name\": \"text_echo\", \"parameters\": {\"text\": \"hi\"}}\n```",
		}}},
	})

	p := NewOpenAI("llama-3", server.URL, "test-key")
	m, err := p.Chat(context.Background(), []ChatMessage{
		{Role: RoleUser, Content: "say hi"},
		{Role: RoleTool, Content: "earlier", ToolCallID: "x"},
	}, []schema.ActionSpec{echoSpec})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", m.ToolCalls)
	}
	tc := m.ToolCalls[0]
	if tc.Function.Name != "text_echo" || tc.Function.Arguments != `{"text": "hi"}` || tc.ID == "" {
		t.Errorf("tool call = %+v %+v", tc, tc.Function)
	}
}

func TestChat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	p := NewOpenAI("gpt-4", server.URL, "nope")
	_, err := p.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Errorf("err = %v", err)
	}
}

func TestGenerate(t *testing.T) {
	server := fakeServer(t, func(req oaiRequest) {
		if req.Prompt != "complete me" || len(req.Messages) != 0 {
			t.Errorf("request = %+v", req)
		}
	}, oaiResponse{Choices: []oaiChoice{{Text: "done"}}})

	p := NewOpenAI("", server.URL, "test-key")
	if p.Model() != "gpt-3.5-turbo" {
		t.Errorf("default model = %q", p.Model())
	}
	m, err := p.Generate(context.Background(), "complete me")
	if err != nil {
		t.Fatal(err)
	}
	if m.Content != "done" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ok      bool
		fn      string
		args    string
	}{
		{"whole content", `{"name": "a", "parameters": {"x": 1}}`, true, "a", `{"x": 1}`},
		{"fenced block", "text\n```json\n{\"name\": \"b\"}\n```\nmore", true, "b", ""},
		{"non-object parameters", `{"name": "c", "parameters": [1]}`, true, "c", ""},
		{"no name", `{"parameters": {}}`, false, "", ""},
		{"no json", "just words", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := ParseToolCall(tt.content)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if tc.Function.Name != tt.fn || tc.Function.Arguments != tt.args || tc.Type != "function" {
				t.Errorf("got %+v %+v", tc, tc.Function)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "qwen-max")
	t.Setenv("OPENAI_API_KEY", "env-key")
	m, err := New("openai", nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Model() != "qwen-max" || !m.(*OpenAI).NativeToolCall() {
		t.Errorf("model = %q", m.Model())
	}

	m, err = New("OpenAI", map[string]any{"model": "mistral", "base_url": "http://localhost:1/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	o := m.(*OpenAI)
	if o.Model() != "mistral" || o.baseURL != "http://localhost:1/v1" || o.apiKey != "env-key" {
		t.Errorf("client = %+v", o)
	}

	if _, err := New("llama", nil); err == nil || !strings.Contains(err.Error(), "invalid LLM provider") {
		t.Errorf("err = %v", err)
	}
}
