package session

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
	"github.com/ormasoftchile/playbook/pkg/llm"
)

func speakers(history []llm.ChatMessage) []string {
	out := make([]string, len(history))
	for i, m := range history {
		out[i] = m.Name
	}
	return out
}

func TestNewAgent_Instructions(t *testing.T) {
	a := NewAgent("", New(&fakeLLM{}, nil), "")
	if a.Name != "assistant" || a.Instructions != defaultAgentInstructions {
		t.Errorf("default agent = %+v", a)
	}
	a = NewAgent("writer", New(&fakeLLM{}, nil), "Write haiku.")
	if a.Instructions != "Write haiku.\n"+terminateHint {
		t.Errorf("instructions = %q", a.Instructions)
	}
}

func TestAgentExecutor_SingleAgentAlternatesWithProxy(t *testing.T) {
	agentLLM := &fakeLLM{replies: []llm.ChatMessage{assistant("draft"), assistant("final. terminate")}}
	proxyLLM := &fakeLLM{replies: []llm.ChatMessage{assistant("please finish"), assistant("summary text")}}
	agent := NewAgent("writer", New(agentLLM, nil), "Write.")
	ex, err := NewAgentExecutor(New(proxyLLM, nil), []*Agent{agent}, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	res, err := ex.Run(context.Background(), "task", AgentRunOptions{ClearHistory: true, Silent: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary != "summary text" {
		t.Errorf("summary = %q", res.Summary)
	}
	want := []string{ProxyName, "writer", ProxyName, "writer"}
	if got := speakers(res.History); !reflect.DeepEqual(got, want) {
		t.Errorf("speakers = %v, want %v", got, want)
	}

	first := agentLLM.calls[0]
	if first[0].Role != llm.RoleSystem || !strings.HasSuffix(first[0].Content, terminateHint) {
		t.Errorf("agent system message = %+v", first[0])
	}
	var roles []string
	for _, m := range agentLLM.calls[1][1:] {
		roles = append(roles, m.Role)
	}
	if !reflect.DeepEqual(roles, []string{"user", "assistant", "user"}) {
		t.Errorf("agent view roles = %v", roles)
	}

	summary := proxyLLM.calls[len(proxyLLM.calls)-1]
	if summary[0].Content != terminateHint || summary[len(summary)-1].Content != summaryPrompt {
		t.Errorf("summary request = %+v", summary)
	}
	if len(summary) != 6 {
		t.Errorf("summary request has %d messages, want 6", len(summary))
	}
}

func TestAgentExecutor_RoundRobinBudget(t *testing.T) {
	a1 := NewAgent("a1", New(&fakeLLM{replies: []llm.ChatMessage{assistant("one")}}, nil), "")
	a2 := NewAgent("a2", New(&fakeLLM{replies: []llm.ChatMessage{assistant("two")}}, nil), "")
	ex, err := NewAgentExecutor(New(&fakeLLM{replies: []llm.ChatMessage{assistant("sum")}}, nil), []*Agent{a1, a2}, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	res, err := ex.Run(context.Background(), "go", AgentRunOptions{ClearHistory: true, Silent: true})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{ProxyName, "a1", "a2", "a1"}
	if got := speakers(res.History); !reflect.DeepEqual(got, want) {
		t.Errorf("speakers = %v, want %v", got, want)
	}

	// without clearing, the next run continues the transcript
	res, err = ex.Run(context.Background(), "again", AgentRunOptions{Silent: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.History) != 8 {
		t.Errorf("history = %d messages, want 8", len(res.History))
	}
}

func TestAgentExecutor_ToolCallRunsOnExecutorSession(t *testing.T) {
	agentLLM := &fakeLLM{replies: []llm.ChatMessage{
		toolCall("c1", "echo", `{"text":"hi"}`),
		assistant("done TERMINATE"),
	}}
	agent := NewAgent("worker", New(agentLLM, nil), "")
	ex, err := NewAgentExecutor(New(&fakeLLM{replies: []llm.ChatMessage{assistant("sum")}}, []action.Action{echoAction}), []*Agent{agent}, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	res, err := ex.Run(context.Background(), "echo hi", AgentRunOptions{ClearHistory: true, Silent: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.History) != 4 {
		t.Fatalf("history = %+v", res.History)
	}
	if tr := res.History[2]; tr.Role != llm.RoleTool || tr.Content != "hi" || tr.ToolCallID != "c1" {
		t.Errorf("tool result = %+v", tr)
	}
	// the caller speaks again and sees its own call and the result
	view := agentLLM.calls[1]
	if last := view[len(view)-1]; last.Role != llm.RoleTool || last.Content != "hi" {
		t.Errorf("agent view ends with %+v", last)
	}
	if len(view[len(view)-2].ToolCalls) != 1 {
		t.Errorf("agent view lost its tool call: %+v", view)
	}
}

func TestNewAgentExecutor_Rejects(t *testing.T) {
	s := New(&fakeLLM{}, nil)
	if _, err := NewAgentExecutor(s, nil, "", 0); err == nil {
		t.Error("expected error for no agents")
	}
	dup := []*Agent{NewAgent("x", s, ""), NewAgent("x", s, "")}
	if _, err := NewAgentExecutor(s, dup, "", 0); err == nil {
		t.Error("expected error for duplicate names")
	}
	if _, err := NewAgentExecutor(s, []*Agent{NewAgent(ProxyName, s, "")}, "", 0); err == nil {
		t.Error("expected error for an agent named like the proxy")
	}
}

func TestChatOptions(t *testing.T) {
	var o llm.ChatOptions
	for _, fn := range chatOptions(map[string]any{"temperature": 0.2, "stop": []any{"END"}}) {
		fn(&o)
	}
	if o.Temperature == nil || *o.Temperature != 0.2 || !reflect.DeepEqual(o.Stop, []string{"END"}) {
		t.Errorf("options = %+v", o)
	}
}

func TestActions_Agents(t *testing.T) {
	f := &fakeLLM{replies: []llm.ChatMessage{assistant("ok TERMINATE"), assistant("the summary")}}
	r := action.NewRegistry()
	Register(r, func(string, map[string]any) (llm.LLM, error) { return f, nil })
	e := engine.New(engine.WithRegistry(r), engine.WithGlobal(action.NewRegistry()))

	steps := []any{
		map[string]any{"llm.session": map[string]any{"result": "$s"}},
		map[string]any{"agents.create": map[string]any{
			"args":   map[string]any{"session": "$s", "name": "helper", "instructions": "Help."},
			"result": "$helper",
		}},
		map[string]any{"agents.executor": map[string]any{
			"args":   map[string]any{"session": "$s", "agents": []any{"$helper"}},
			"result": "$ex",
		}},
		map[string]any{"agents.run": map[string]any{"args": []any{"$ex", "do it"}, "result": "$summary"}},
	}
	for _, step := range steps {
		pb, err := schema.FromMap(step.(map[string]any))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.Perform(context.Background(), pb); err != nil {
			t.Fatal(err)
		}
	}
	if got, _ := e.Lookup("$summary"); got != "the summary" {
		t.Errorf("summary = %v", got)
	}
	hv, _ := e.Lookup("$helper")
	if a, ok := hv.(*Agent); !ok || a.Name != "helper" {
		t.Errorf("agent = %#v", hv)
	}

	bad, _ := schema.FromMap(map[string]any{"agents.create": map[string]any{"args": map[string]any{"session": "$s", "type": "critic"}}})
	if _, err := e.Perform(context.Background(), bad); err == nil || !strings.Contains(err.Error(), "invalid agent type") {
		t.Errorf("err = %v", err)
	}
}
