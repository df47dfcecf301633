package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Request is the worker protocol input: either a playbook file or an inline
// document, plus seed variables.
type Request struct {
	File     string         `json:"file,omitempty"`
	Playbook map[string]any `json:"playbook,omitempty"`
	Vars     map[string]any `json:"vars,omitempty"`
}

// Response is the single JSON line a worker writes on stdout.
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ProcessRunner executes playbooks in a child process speaking the worker
// protocol: one Request on stdin, one Response line on stdout.
type ProcessRunner struct {
	Path   string   // executable; defaults to the running binary
	Args   []string // e.g. ["worker"]
	Env    []string // appended to the parent environment
	Stderr io.Writer
}

// Start launches the worker and returns immediately.
func (r *ProcessRunner) Start(ctx context.Context, req Request) (Future, error) {
	path := r.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	cmd := exec.Command(path, r.Args...)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	f := &procFuture{cmd: cmd, done: make(chan struct{})}
	go f.wait(&stdout)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				f.Cancel()
			case <-f.done:
			}
		}()
	}
	return f, nil
}

type procFuture struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	canceled bool

	result any
	err    error
}

func (f *procFuture) wait(stdout *bytes.Buffer) {
	defer close(f.done)
	werr := f.cmd.Wait()

	f.mu.Lock()
	canceled := f.canceled
	f.mu.Unlock()
	if canceled {
		f.err = fmt.Errorf("%w: worker killed", ErrCancelled)
		return
	}

	var resp Response
	dec := json.NewDecoder(stdout)
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		if werr != nil {
			f.err = fmt.Errorf("worker: %w", werr)
		} else {
			f.err = fmt.Errorf("decode worker response: %w", err)
		}
		return
	}
	if resp.Error != "" {
		f.err = errors.New(resp.Error)
		return
	}
	f.result = schema.Normalize(resp.Result)
}

func (f *procFuture) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *procFuture) Result() (any, error) {
	<-f.done
	return f.result, f.err
}

// Cancel kills the worker process.
func (f *procFuture) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.canceled || f.Done() {
		return
	}
	f.canceled = true
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
}

// ServeWorker is the worker side of the protocol: it reads one Request from
// r, executes it and writes one Response to w. Execution failures are
// reported in the Response; the returned error covers protocol failures.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, opts ...Option) error {
	var req Request
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("decode worker request: %w", err)
	}
	vars, _ := schema.Normalize(map[string]any(req.Vars)).(map[string]any)

	var result any
	var err error
	switch {
	case req.File != "":
		result, err = ExecuteFile(ctx, req.File, vars, opts...)
	case req.Playbook != nil:
		doc, _ := schema.Normalize(req.Playbook).(map[string]any)
		var pb *schema.Playbook
		if pb, err = schema.FromMap(doc); err == nil {
			result, err = Execute(ctx, pb, "", vars, opts...)
		}
	default:
		err = fmt.Errorf("%w: worker request names no playbook", ErrMalformedPlaybook)
	}

	resp := Response{Result: result}
	if err != nil {
		resp.Result = nil
		resp.Error = err.Error()
	}
	data, merr := json.Marshal(resp)
	if merr != nil {
		// results that do not encode (opaque handles) are reported as text
		data, _ = json.Marshal(Response{Result: fmt.Sprint(result), Error: resp.Error})
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write worker response: %w", err)
	}
	return nil
}
