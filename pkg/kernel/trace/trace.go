// Package trace writes an append-only JSONL record of a playbook run. Each
// event carries the SHA-256 of the previous line so tampering is detectable
// (see Verify); the closing run_complete event may be HMAC-signed.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/playbook/pkg/kernel/eval"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// SigningKeyEnv names the environment variable holding the HMAC key used to
// sign run_complete events.
const SigningKeyEnv = "PLAYBOOK_TRACE_SIGNING_KEY"

// EventType enumerates trace event types.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventRunComplete EventType = "run_complete"
	EventActionStart EventType = "action_start"
	EventActionEnd   EventType = "action_end"
)

// Status is the outcome recorded on action_end and run_complete.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// maxResultLen bounds the rendered result stored per action_end.
const maxResultLen = 256

var genesis = strings.Repeat("0", 64)

// Event is a single trace line.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events. It is safe for concurrent use and satisfies
// the engine's Observer interface.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	secrets  []string
}

// NewWriter creates a trace writer on w.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesis}
}

// NewFileWriter creates a trace writer appending to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// SetSecrets configures the environment variables whose values are
// redacted from rendered results.
func (tw *Writer) SetSecrets(envVars []string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secrets = envVars
}

// RedactSecrets replaces secret values in s with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	for _, name := range tw.secrets {
		if val := os.Getenv(name); val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

// Emit writes a single event and advances the hash chain.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, data)
}

func (tw *Writer) emitLocked(eventType EventType, data map[string]any) error {
	line, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	return nil
}

// EmitRunStart records the start of a run.
func (tw *Writer) EmitRunStart(playbook string, vars []string) error {
	data := map[string]any{"playbook": playbook}
	if len(vars) > 0 {
		data["vars"] = vars
	}
	return tw.Emit(EventRunStart, data)
}

// EmitRunComplete records the end of a run together with the chain hash,
// signed when SigningKeyEnv is set.
func (tw *Writer) EmitRunComplete(status Status, duration time.Duration, runErr error) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data := map[string]any{
		"status":     string(status),
		"duration":   duration.String(),
		"chain_hash": tw.prevHash,
	}
	if runErr != nil {
		data["error"] = tw.RedactSecrets(runErr.Error())
	}
	if key := os.Getenv(SigningKeyEnv); key != "" {
		data["signature"] = sign(key, tw.prevHash)
		data["signing_key_id"] = SigningKeyEnv
	}
	return tw.emitLocked(EventRunComplete, data)
}

// ActionStart implements the engine observer hook.
func (tw *Writer) ActionStart(pb *schema.Playbook, depth int) {
	data := map[string]any{"action": pb.Name, "depth": depth}
	if pb.Description != "" {
		data["description"] = pb.Description
	}
	_ = tw.Emit(EventActionStart, data)
}

// ActionEnd implements the engine observer hook.
func (tw *Writer) ActionEnd(pb *schema.Playbook, depth int, result any, err error, elapsed time.Duration) {
	data := map[string]any{
		"action":   pb.Name,
		"depth":    depth,
		"duration": elapsed.String(),
		"status":   string(StatusSuccess),
	}
	if err != nil {
		data["status"] = string(StatusError)
		data["error"] = tw.RedactSecrets(err.Error())
	} else if result != nil {
		s := tw.RedactSecrets(eval.Stringify(result))
		if len(s) > maxResultLen {
			s = s[:maxResultLen] + "..."
		}
		data["result"] = s
	}
	_ = tw.Emit(EventActionEnd, data)
}

func sign(key, chainHash string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}
