package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Future is the handle of an out-of-band execution.
type Future interface {
	// Done reports whether the result is available.
	Done() bool
	// Result blocks until the execution finishes.
	Result() (any, error)
	// Cancel requests termination. It does not wait.
	Cancel()
}

// Pool runs whole playbooks on a bounded set of goroutines. Every job gets
// its own Executor; variable stores are never shared.
type Pool struct {
	sem  chan struct{}
	opts []Option
	wg   sync.WaitGroup
}

// NewPool creates a pool running at most size jobs at once. A size below 1
// uses the number of CPUs. opts apply to every Executor the pool creates.
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: make(chan struct{}, size), opts: opts}
}

// Submit queues pb for execution with the given variables.
func (p *Pool) Submit(ctx context.Context, pb *schema.Playbook, file string, vars map[string]any) Future {
	return p.Go(ctx, func(ctx context.Context) (any, error) {
		return Execute(ctx, pb, file, vars, p.opts...)
	})
}

// SubmitFile queues the playbook at path.
func (p *Pool) SubmitFile(ctx context.Context, path string, vars map[string]any) Future {
	return p.Go(ctx, func(ctx context.Context) (any, error) {
		return ExecuteFile(ctx, path, vars, p.opts...)
	})
}

// Go queues an arbitrary job on the pool.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) (any, error)) Future {
	ctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer close(t.done)

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			t.err = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			return
		}
		defer func() { <-p.sem }()

		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("%w: panic: %v", ErrHandlerFailure, r)
			}
		}()
		t.result, t.err = fn(ctx)
		if t.err != nil && ctx.Err() != nil && !errors.Is(t.err, ErrCancelled) {
			t.err = fmt.Errorf("%w: %w", ErrCancelled, t.err)
		}
	}()
	return t
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	result any
	err    error
}

func (t *task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *task) Result() (any, error) {
	<-t.done
	return t.result, t.err
}

func (t *task) Cancel() { t.cancel() }
