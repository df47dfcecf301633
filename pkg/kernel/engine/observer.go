package engine

import (
	"time"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Observer receives a callback around every action dispatch. Observers run
// on the executing goroutine and must not call back into the Executor.
type Observer interface {
	ActionStart(pb *schema.Playbook, depth int)
	ActionEnd(pb *schema.Playbook, depth int, result any, err error, elapsed time.Duration)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStart func(pb *schema.Playbook, depth int)
	OnEnd   func(pb *schema.Playbook, depth int, result any, err error, elapsed time.Duration)
}

func (o ObserverFuncs) ActionStart(pb *schema.Playbook, depth int) {
	if o.OnStart != nil {
		o.OnStart(pb, depth)
	}
}

func (o ObserverFuncs) ActionEnd(pb *schema.Playbook, depth int, result any, err error, elapsed time.Duration) {
	if o.OnEnd != nil {
		o.OnEnd(pb, depth, result, err, elapsed)
	}
}
