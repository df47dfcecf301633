package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

const nodeSchemaURL = "node-v1.json"

var (
	compileOnce sync.Once
	nodeSchema  *sjsonschema.Schema
	compileErr  error
)

// bodySchema compiles the generated node body schema once.
func bodySchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		data, err := schema.GeneratePlaybookJSONSchema()
		if err != nil {
			compileErr = fmt.Errorf("generate schema: %w", err)
			return
		}
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(nodeSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		nodeSchema, compileErr = c.Compile(nodeSchemaURL)
	})
	return nodeSchema, compileErr
}

// validateSemantic checks every mapping body in the raw document against
// the node body schema. Unknown body keys fail here.
func validateSemantic(doc map[string]any) []*ValidationError {
	sch, err := bodySchema()
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "%s", err)}
	}
	var errs []*ValidationError
	walkRaw(doc, "", func(path string, body map[string]any) {
		errs = append(errs, validateBody(sch, path, body)...)
	})
	return errs
}

func validateBody(sch *sjsonschema.Schema, path string, body map[string]any) []*ValidationError {
	data, err := json.Marshal(body)
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, path, "marshal for schema validation: %v", err)}
	}
	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, path, "unmarshal document: %v", err)}
	}
	err = sch.Validate(inst)
	if err == nil {
		return nil
	}

	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []*ValidationError{errorf(PhaseSemantic, path, "%s", err)}
	}
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		p := path
		if len(cause.InstanceLocation) > 0 {
			p += "." + strings.Join(cause.InstanceLocation, ".")
		}
		errs = append(errs, errorf(PhaseSemantic, p, "%v", cause.ErrorKind))
	}
	return errs
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// walkRaw visits every node of a raw document that has a mapping body,
// following the same single-key / extended split as schema.FromMap.
func walkRaw(node map[string]any, parent string, fn func(path string, body map[string]any)) {
	name, body := splitNode(node)
	path := name
	if parent != "" {
		path = parent + "." + name
	}
	m, ok := body.(map[string]any)
	if !ok {
		return
	}
	fn(path, m)
	children, _ := m[schema.KeyActions].([]any)
	for i, c := range children {
		if cm, ok := c.(map[string]any); ok {
			walkRaw(cm, fmt.Sprintf("%s.actions[%d]", path, i), fn)
		}
	}
}

func splitNode(node map[string]any) (string, any) {
	if len(node) == 1 {
		for k, v := range node {
			return k, v
		}
	}
	name, _ := node[schema.KeyName].(string)
	return name, node
}
