package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// NodeBody is the mapping body of a playbook node, as seen by schema
// generation and strict validation. The executor never decodes into it.
type NodeBody struct {
	Name        string           `json:"name,omitempty"        jsonschema_description:"Action name; only in the extended form"`
	Description string           `json:"description,omitempty" jsonschema_description:"Human readable description of the step"`
	Args        any              `json:"args,omitempty"        jsonschema_description:"A list binds positional arguments and a mapping binds named arguments"`
	Actions     []map[string]any `json:"actions,omitempty"     jsonschema_description:"Child steps"`
	Result      any              `json:"result,omitempty"      jsonschema_description:"Variables to bind from the action result"`
	Spec        *ActionSpec      `json:"spec,omitempty"        jsonschema_description:"Self-description used when the node is exposed as a tool"`
}

// GeneratePlaybookJSONSchema produces a JSON Schema document for a playbook
// node body.
func GeneratePlaybookJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&NodeBody{})
	s.ID = "https://github.com/ormasoftchile/playbook/schemas/node-v1.json"
	s.Title = "Playbook node body"
	s.Description = "Body of a playbook step: {<action>: <body>} (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal playbook schema: %w", err)
	}
	return data, nil
}

// GenerateActionSpecJSONSchema produces a JSON Schema document for an
// action specification.
func GenerateActionSpecJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&ActionSpec{})
	s.ID = "https://github.com/ormasoftchile/playbook/schemas/action-spec-v1.json"
	s.Title = "Action specification"
	s.Description = "Name, description and arguments of an action (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal action spec schema: %w", err)
	}
	return data, nil
}
