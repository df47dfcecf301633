// Package validate implements the strict playbook validation pipeline:
// structural → semantic → domain. The loader itself is lenient; this is
// where unknown keys, unknown actions and malformed conditions surface.
package validate

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Phases.
const (
	PhaseStructural = "structural"
	PhaseSemantic   = "semantic"
	PhaseDomain     = "domain"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents one error or warning from the pipeline.
type ValidationError struct {
	Phase    string `json:"phase"`
	Path     string `json:"path"` // e.g. playbook.actions[1].repeat
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// Resolver answers whether an action name is registered. *action.Registry
// satisfies it; Registries layers several.
type Resolver interface {
	Get(name string) (action.Action, bool)
}

// Registries resolves a name against each registry in order.
type Registries []*action.Registry

// Get implements Resolver.
func (rs Registries) Get(name string) (action.Action, bool) {
	for _, r := range rs {
		if r == nil {
			continue
		}
		if a, ok := r.Get(name); ok {
			return a, true
		}
	}
	return nil, false
}

// ValidateFile runs the full pipeline on a playbook file. actions may be
// nil, in which case unknown-action checks are skipped.
func ValidateFile(path string, actions Resolver) (*schema.Playbook, []*ValidationError) {
	format, err := schema.FormatOf(path)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "%s", err)}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to open: %s", err)}
	}
	defer f.Close()

	doc, err := schema.Decode(f, format)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to decode: %s", err)}
	}
	pb, errs := ValidateDocument(doc, actions)
	if pb != nil {
		if root, err := absDir(path); err == nil {
			schema.SetRoot(pb, root)
		}
	}
	if !HasErrors(errs) && pb != nil {
		errs = append(errs, validateReferences(pb)...)
	}
	return pb, errs
}

// ValidateDocument runs the pipeline on an already decoded document.
func ValidateDocument(doc any, actions Resolver) (*schema.Playbook, []*ValidationError) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "document must be a mapping, got %T", doc)}
	}
	if len(m) == 0 {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "document is empty")}
	}

	// Phase 1: structural (the lenient parser)
	pb, err := schema.FromMap(m)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "%s", err)}
	}

	// Phase 2: semantic (JSON Schema per node body)
	errs := validateSemantic(m)
	if HasErrors(errs) {
		return pb, errs
	}

	// Phase 3: domain
	errs = append(errs, validateDomain(pb, actions)...)
	return pb, errs
}

// HasErrors reports whether errs holds at least one error-severity entry.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}
