// Package serve exposes the action registry and playbook execution over
// HTTP. Runs are executed on an engine.Pool, so a busy server queues
// requests instead of oversubscribing.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
	"github.com/ormasoftchile/playbook/pkg/kernel/validate"
)

// maxBody caps request bodies.
const maxBody = 4 << 20

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRoot sets the directory file runs are resolved against. Paths that
// escape it are rejected. Inline documents also resolve their relative
// references against it.
func WithRoot(dir string) Option {
	return func(s *Server) { s.root = dir }
}

// Server serves the playbook HTTP API.
type Server struct {
	registry *action.Registry
	pool     *engine.Pool
	logger   *slog.Logger
	metrics  http.Handler
	root     string
}

// New creates a server listing actions from registry and running
// playbooks on pool. The pool's executors must resolve against the same
// registry.
func New(registry *action.Registry, pool *engine.Pool, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		pool:     pool,
		logger:   slog.New(slog.DiscardHandler),
		root:     ".",
	}
	for _, o := range opts {
		o(s)
	}
	if abs, err := filepath.Abs(s.root); err == nil {
		s.root = abs
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/actions", s.listActions)
		r.Get("/actions/{name}", s.getAction)
		r.Post("/playbooks/run", s.runPlaybook)
		r.Post("/playbooks/validate", s.validatePlaybook)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) listActions(w http.ResponseWriter, _ *http.Request) {
	specs := make([]schema.ActionSpec, 0, s.registry.Len())
	for _, a := range s.registry.List() {
		specs = append(specs, a.Spec())
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("No action found: %s", name))
		return
	}
	writeJSON(w, http.StatusOK, a.Spec())
}

// RunRequest is the body of POST /api/v1/playbooks/run. Exactly one of
// Playbook and File is set.
type RunRequest struct {
	Playbook map[string]any `json:"playbook,omitempty"`
	File     string         `json:"file,omitempty"`
	Vars     map[string]any `json:"vars,omitempty"`
	// Timeout is a Go duration string such as "30s".
	Timeout string `json:"timeout,omitempty"`
}

// RunResponse is the reply of a run. Results that cannot be encoded as
// JSON are rendered as text.
type RunResponse struct {
	Result  any    `json:"result"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

func (s *Server) runPlaybook(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if (req.Playbook == nil) == (req.File == "") {
		writeError(w, http.StatusBadRequest, errors.New("exactly one of playbook and file is required"))
		return
	}
	vars, _ := schema.Normalize(req.Vars).(map[string]any)

	ctx := r.Context()
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("timeout: %w", err))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var fut engine.Future
	if req.File != "" {
		path, err := s.resolve(req.File)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		fut = s.pool.SubmitFile(ctx, path, vars)
	} else {
		pb, err := schema.FromMap(schema.Normalize(req.Playbook).(map[string]any))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		schema.SetRoot(pb, s.root)
		fut = s.pool.Submit(ctx, pb, "", vars)
	}

	start := time.Now()
	result, err := fut.Result()
	resp := RunResponse{Result: encodable(result), Elapsed: time.Since(start).String()}
	if err != nil {
		resp.Error = err.Error()
		s.logger.Warn("run failed", "file", req.File, "error", err)
		writeJSON(w, runStatus(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ValidateResponse is the reply of POST /api/v1/playbooks/validate.
type ValidateResponse struct {
	Valid  bool                        `json:"valid"`
	Issues []*validate.ValidationError `json:"issues,omitempty"`
}

func (s *Server) validatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var issues []*validate.ValidationError
	switch {
	case req.File != "":
		path, err := s.resolve(req.File)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		_, issues = validate.ValidateFile(path, s.registry)
	case req.Playbook != nil:
		_, issues = validate.ValidateDocument(schema.Normalize(req.Playbook), s.registry)
	default:
		writeError(w, http.StatusBadRequest, errors.New("playbook or file is required"))
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: !validate.HasErrors(issues), Issues: issues})
}

// resolve maps a requested file onto the server root.
func (s *Server) resolve(file string) (string, error) {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file %s is outside the server root", file)
	}
	return path, nil
}

func runStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrMalformedPlaybook):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrCancelled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// encodable returns v when it marshals, its text otherwise. Handles such
// as database connections end up as results of whole playbooks.
func encodable(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return eval.Stringify(v)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
