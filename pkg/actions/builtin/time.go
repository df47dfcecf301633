package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

type waitArgs struct {
	Seconds float64 `mapstructure:"seconds"`
}

type nowArgs struct {
	Format string `mapstructure:"format"`
}

// now is replaced in tests.
var now = time.Now

func timeActions() map[string]action.Action {
	return map[string]action.Action{
		"time.wait": typed("time.wait", schema.ActionSpec{
			Description: "Waits for a specified number of seconds.",
			Arguments: []schema.ArgSpec{
				{Name: "seconds", Type: "float", Description: "The number of seconds to wait.", Required: true},
			},
		}, func(ctx context.Context, _ action.Call, a waitArgs) (any, error) {
			if a.Seconds <= 0 {
				return nil, nil
			}
			t := time.NewTimer(time.Duration(a.Seconds * float64(time.Second)))
			defer t.Stop()
			select {
			case <-t.C:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
		"time.now": typed("time.now", schema.ActionSpec{
			Description: "Returns the current date and time.",
			Arguments: []schema.ArgSpec{
				{Name: "format", Type: "string", Description: "strftime-style format, e.g. %Y-%m-%d. If not provided, returns timestamp in milliseconds."},
			},
		}, func(_ context.Context, _ action.Call, a nowArgs) (any, error) {
			t := now()
			if a.Format == "" {
				return int(t.UnixMilli()), nil
			}
			return formatTime(t, a.Format)
		}),
	}
}

// timeSpecs is the default strftime set plus %f for microseconds.
var timeSpecs = func() strftime.SpecificationSet {
	ss := strftime.NewSpecificationSet()
	_ = ss.Set('%', strftime.Verbatim("%"))
	_ = ss.Set('f', strftime.AppendFunc(func(b []byte, t time.Time) []byte {
		return fmt.Appendf(b, "%06d", t.Nanosecond()/1000)
	}))
	return ss
}()

func formatTime(t time.Time, format string) (string, error) {
	return strftime.Format(passUnknown(format), t, strftime.WithSpecificationSet(timeSpecs))
}

// passUnknown escapes directives outside timeSpecs so they are written
// through unchanged.
func passUnknown(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		if i+1 == len(format) {
			b.WriteString("%%")
			continue
		}
		i++
		if _, err := timeSpecs.Lookup(format[i]); err != nil {
			b.WriteString("%%")
		} else {
			b.WriteByte('%')
		}
		b.WriteByte(format[i])
	}
	return b.String()
}
