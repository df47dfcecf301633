package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	for i, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("line %d: invalid JSON: %v", i, err)
		}
		events = append(events, evt)
	}
	return events
}

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	if err := tw.Emit(EventActionStart, map[string]any{"action": "echo"}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	evt := decodeLines(t, &buf)[0]
	if evt.Type != EventActionStart {
		t.Errorf("type = %q, want action_start", evt.Type)
	}
	if evt.RunID != "test-run-1" {
		t.Errorf("run_id = %q", evt.RunID)
	}
	if evt.PrevHash != strings.Repeat("0", 64) {
		t.Errorf("first prev_hash = %q, want genesis", evt.PrevHash)
	}
}

func TestWriter_Observer(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	pb := &schema.Playbook{Name: "math.mod", Description: "remainder"}

	tw.ActionStart(pb, 1)
	tw.ActionEnd(pb, 1, 2, nil, 5*time.Millisecond)
	tw.ActionEnd(pb, 1, nil, errors.New("division by zero"), time.Millisecond)

	events := decodeLines(t, &buf)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if events[0].Data["action"] != "math.mod" || events[0].Data["description"] != "remainder" {
		t.Errorf("start data = %v", events[0].Data)
	}
	if events[1].Data["status"] != "success" || events[1].Data["result"] != "2" {
		t.Errorf("end data = %v", events[1].Data)
	}
	if events[2].Data["status"] != "error" || events[2].Data["error"] != "division by zero" {
		t.Errorf("error data = %v", events[2].Data)
	}
}

func TestWriter_RedactsSecrets(t *testing.T) {
	t.Setenv("PLAYBOOK_TEST_TOKEN", "s3cr3t")
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.SetSecrets([]string{"PLAYBOOK_TEST_TOKEN"})

	tw.ActionEnd(&schema.Playbook{Name: "echo"}, 0, "token=s3cr3t", nil, 0)
	if strings.Contains(buf.String(), "s3cr3t") {
		t.Errorf("secret leaked: %s", buf.String())
	}
}

func TestWriter_TruncatesResult(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.ActionEnd(&schema.Playbook{Name: "echo"}, 0, strings.Repeat("x", 1000), nil, 0)
	got := decodeLines(t, &buf)[0].Data["result"].(string)
	if len(got) != maxResultLen+3 {
		t.Errorf("result length = %d", len(got))
	}
}

func TestWriter_HashChaining(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	pb := &schema.Playbook{Name: "echo"}

	tw.EmitRunStart("main.yaml", nil)
	tw.ActionStart(pb, 0)
	tw.ActionEnd(pb, 0, "hi", nil, 0)
	tw.EmitRunComplete(StatusSuccess, time.Second, nil)

	events := decodeLines(t, &buf)
	seen := map[string]bool{}
	for i, evt := range events {
		if evt.PrevHash == "" {
			t.Errorf("event %d: empty prev_hash", i)
		}
		if seen[evt.PrevHash] {
			t.Errorf("event %d: repeated prev_hash", i)
		}
		seen[evt.PrevHash] = true
	}
	last := events[len(events)-1]
	if h, _ := last.Data["chain_hash"].(string); len(h) != 64 || h != last.PrevHash {
		t.Errorf("chain_hash = %q, prev_hash = %q", h, last.PrevHash)
	}
}

func TestVerify(t *testing.T) {
	t.Setenv(SigningKeyEnv, "k")
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	pb := &schema.Playbook{Name: "echo"}
	tw.EmitRunStart("main.yaml", []string{"$who"})
	tw.ActionStart(pb, 0)
	tw.ActionEnd(pb, 0, "hi", nil, 0)
	tw.EmitRunComplete(StatusSuccess, time.Second, nil)

	raw := buf.String()
	res, err := Verify(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EventCount != 4 || !res.SignatureOK {
		t.Errorf("verify = %+v", res)
	}
	if res.Actions != 1 || res.Failed != 0 || res.Open != 0 {
		t.Errorf("actions = %d failed = %d open = %d", res.Actions, res.Failed, res.Open)
	}

	tampered := strings.Replace(raw, `"result":"hi"`, `"result":"ho"`, 1)
	res, err = Verify(strings.NewReader(tampered))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.BrokenAt != 4 {
		t.Errorf("tampered verify = %+v, want broken at 4", res)
	}

	t.Setenv(SigningKeyEnv, "other")
	res, _ = Verify(strings.NewReader(raw))
	if res.SignatureOK {
		t.Error("signature must not verify with another key")
	}
}

func TestVerify_ActionNesting(t *testing.T) {
	outer, inner := &schema.Playbook{Name: "playbook"}, &schema.Playbook{Name: "echo"}

	var ok bytes.Buffer
	tw := NewWriter(&ok, "run-1")
	tw.ActionStart(outer, 0)
	tw.ActionStart(inner, 1)
	tw.ActionEnd(inner, 1, nil, errors.New("boom"), 0)
	tw.ActionEnd(outer, 0, nil, errors.New("boom"), 0)
	tw.ActionStart(inner, 0)
	res, err := Verify(&ok)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Actions != 2 || res.Failed != 2 || res.Open != 1 {
		t.Errorf("verify = %+v", res)
	}

	var crossed bytes.Buffer
	tw = NewWriter(&crossed, "run-1")
	tw.ActionStart(outer, 0)
	tw.ActionEnd(inner, 0, "x", nil, 0)
	res, _ = Verify(&crossed)
	if res.Valid || res.BrokenAt != 2 || !strings.Contains(res.Error, "no matching action_start") {
		t.Errorf("crossed verify = %+v", res)
	}
}

func TestVerify_RunBoundaries(t *testing.T) {
	var mixed bytes.Buffer
	tw := NewWriter(&mixed, "run-1")
	tw.EmitRunStart("main.yaml", nil)
	tw.runID = "run-2"
	tw.ActionStart(&schema.Playbook{Name: "echo"}, 0)
	res, _ := Verify(&mixed)
	if res.Valid || res.BrokenAt != 2 || !strings.Contains(res.Error, "run_id") {
		t.Errorf("mixed run ids = %+v", res)
	}

	var trailing bytes.Buffer
	tw = NewWriter(&trailing, "run-1")
	tw.EmitRunComplete(StatusSuccess, 0, nil)
	tw.Emit(EventActionStart, map[string]any{"action": "echo", "depth": 0})
	res, _ = Verify(&trailing)
	if res.Valid || res.BrokenAt != 2 || !strings.Contains(res.Error, "after run_complete") {
		t.Errorf("event after run_complete = %+v", res)
	}
}
