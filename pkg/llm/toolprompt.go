package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

const toolCallInstruction = `You have access to the following APIs:

%s

You need to decide whether to call an API to generate response based on the conversation.

If you choose to call an API, follow this steps:
1. Evaluate the actual parameters of the API as a JSON dict according to your needs.
2. Generate API call in the format within markdown code block without any additional Notes or Explanations.

If there is no API that match the conversation, you will skip API selection.

API call like this:

` + "```json" + `
{
    "name": "<name of the selected API>",
    "parameters": <parameters for the API calling>
}
` + "```" + `

If there is no API that match the conversation, you will skip API selection.
`

// ToolCallPrompt describes tools to a model without native tool calling.
func ToolCallPrompt(tools []schema.ActionSpec) string {
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		fn, _ := t.ToolSchema()["function"].(map[string]any)
		params, _ := json.Marshal(fn["parameters"])
		lines = append(lines, fmt.Sprintf("name: `%v`; Description: `%v`; Parameters: %s", fn["name"], fn["description"], params))
	}
	return fmt.Sprintf(toolCallInstruction, strings.Join(lines, "\n"))
}

// ParseToolCall extracts a {"name", "parameters"} call from model output.
// The whole content is tried first, then the span between the first { and
// the last }.
func ParseToolCall(content string) (ToolCall, bool) {
	if tc, ok := parseCall(content); ok {
		return tc, true
	}
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ToolCall{}, false
	}
	return parseCall(content[start : end+1])
}

func parseCall(s string) (ToolCall, bool) {
	var call struct {
		Name       *string         `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &call); err != nil || call.Name == nil {
		return ToolCall{}, false
	}
	fn := &Function{Name: *call.Name}
	var params map[string]any
	if len(call.Parameters) > 0 && json.Unmarshal(call.Parameters, &params) == nil && params != nil {
		fn.Arguments = string(call.Parameters)
	}
	return ToolCall{ID: "call_" + uuid.NewString(), Type: "function", Function: fn}, true
}
