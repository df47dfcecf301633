package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount     int
	Actions        int // action_start/action_end pairs closed
	Failed         int // closed actions whose status is error
	Open           int // action_start events never closed
	Valid          bool
	BrokenAt       int // -1 if no break
	SignatureOK    bool
	SignatureNoKey bool // signature present but no key to verify
	SigningKeyID   string
	ChainHash      string
	Error          string
}

var errBroken = errors.New("trace broken")

// frame identifies an action_start waiting for its action_end.
type frame struct {
	action string
	depth  int
}

func frameOf(evt *Event) frame {
	name, _ := evt.Data["action"].(string)
	depth, _ := evt.Data["depth"].(float64)
	return frame{action: name, depth: int(depth)}
}

// verifier replays a trace one line at a time. Besides the hash chain it
// checks that the run id never changes, that action events nest the way
// the executor emits them and that nothing follows run_complete.
type verifier struct {
	res   VerifyResult
	next  string // prev_hash the next line must carry
	runID string
	stack []frame
	done  *Event
}

func (v *verifier) fail(format string, args ...any) error {
	v.res.Valid = false
	v.res.BrokenAt = v.res.EventCount
	v.res.Error = fmt.Sprintf("event %d: ", v.res.EventCount) + fmt.Sprintf(format, args...)
	return errBroken
}

func (v *verifier) step(line []byte) error {
	v.res.EventCount++
	var evt Event
	if err := json.Unmarshal(line, &evt); err != nil {
		return v.fail("invalid JSON: %v", err)
	}
	if v.done != nil {
		return v.fail("%s after run_complete", evt.Type)
	}
	if evt.PrevHash != v.next {
		return v.fail("prev_hash mismatch (expected %s, got %s)", short(v.next), short(evt.PrevHash))
	}
	if v.runID == "" {
		v.runID = evt.RunID
	} else if evt.RunID != v.runID {
		return v.fail("run_id %q differs from %q", evt.RunID, v.runID)
	}

	switch evt.Type {
	case EventActionStart:
		v.stack = append(v.stack, frameOf(&evt))
	case EventActionEnd:
		f := frameOf(&evt)
		if n := len(v.stack); n == 0 || v.stack[n-1] != f {
			return v.fail("action_end %s at depth %d has no matching action_start", f.action, f.depth)
		}
		v.stack = v.stack[:len(v.stack)-1]
		v.res.Actions++
		if evt.Data["status"] == string(StatusError) {
			v.res.Failed++
		}
	case EventRunComplete:
		// chain_hash covers every line before run_complete
		if h, _ := evt.Data["chain_hash"].(string); h != "" && h != evt.PrevHash {
			return v.fail("run_complete chain_hash does not match the chain")
		}
		v.done = &evt
	}

	sum := sha256.Sum256(line)
	v.next = hex.EncodeToString(sum[:])
	return nil
}

// checkSignature fills the chain hash and signature fields from the
// run_complete event, if one was seen.
func (v *verifier) checkSignature() {
	if v.done == nil {
		return
	}
	data := v.done.Data
	v.res.ChainHash, _ = data["chain_hash"].(string)
	sig, ok := data["signature"].(string)
	if !ok {
		return
	}
	v.res.SigningKeyID, _ = data["signing_key_id"].(string)
	switch key := os.Getenv(SigningKeyEnv); {
	case key == "":
		v.res.SignatureNoKey = true
	case v.res.ChainHash != "":
		v.res.SignatureOK = hmac.Equal([]byte(sig), []byte(sign(key, v.res.ChainHash)))
	}
}

// VerifyFile verifies the trace file at path.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify replays a trace and reports whether it is intact. A broken trace
// is a result, not an error; errors are reserved for read failures.
func Verify(r io.Reader) (*VerifyResult, error) {
	v := &verifier{next: genesis, res: VerifyResult{Valid: true, BrokenAt: -1}}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := v.step(sc.Bytes()); err != nil {
			return &v.res, nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	v.res.Open = len(v.stack)
	v.checkSignature()
	return &v.res, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
