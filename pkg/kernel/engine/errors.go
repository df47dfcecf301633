package engine

import (
	"errors"
	"fmt"

	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Error taxonomy. Unresolved variables are deliberately absent: they
// degrade to their literal text and never fail.
var (
	ErrMalformedPlaybook  = schema.ErrMalformed
	ErrActionNotFound     = errors.New("action not found")
	ErrInvalidCondition   = eval.ErrInvalidCondition
	ErrHandlerFailure     = errors.New("handler failure")
	ErrMissingResultField = errors.New("missing result field")
	ErrCancelled          = errors.New("cancelled")
)

// HandlerError wraps an error returned by an action's Perform. It matches
// ErrHandlerFailure and unwraps to the handler's own error.
type HandlerError struct {
	Action string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("action %s: %v", e.Action, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Is reports ErrHandlerFailure as a match.
func (e *HandlerError) Is(target error) bool { return target == ErrHandlerFailure }

// Chain flattens an error into its wrapped causes, outermost first.
func Chain(err error) []error {
	var out []error
	for err != nil {
		out = append(out, err)
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range j.Unwrap() {
				out = append(out, Chain(e)...)
			}
			return out
		}
		err = errors.Unwrap(err)
	}
	return out
}
