package builtin

import (
	"context"
	"errors"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

type modArgs struct {
	L int `mapstructure:"l"`
	R int `mapstructure:"r"`
}

func mathActions() map[string]action.Action {
	return map[string]action.Action{
		"math.mod": typed("math.mod", schema.ActionSpec{
			Description: "Calculates the remainder of the division of two numbers.",
			Arguments: []schema.ArgSpec{
				{Name: "l", Type: "int", Description: "The dividend in the division operation.", Required: true},
				{Name: "r", Type: "int", Description: "The divisor in the division operation.", Required: true},
			},
		}, func(_ context.Context, _ action.Call, a modArgs) (any, error) {
			if a.R == 0 {
				return nil, errors.New("math.mod: integer division by zero")
			}
			// the result takes the sign of the divisor
			m := a.L % a.R
			if m != 0 && (m < 0) != (a.R < 0) {
				m += a.R
			}
			return m, nil
		}),
	}
}
