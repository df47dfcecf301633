package diagram

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

func mustParse(t *testing.T, doc map[string]any) *schema.Playbook {
	t.Helper()
	pb, err := schema.FromMap(doc)
	if err != nil {
		t.Fatal(err)
	}
	return pb
}

func greet(t *testing.T) *schema.Playbook {
	return mustParse(t, map[string]any{
		"playbook": map[string]any{
			"description": "greet\nand count",
			"actions": []any{
				map[string]any{"setvar": []any{"greeting", "hello"}},
				map[string]any{"len": map[string]any{"args": []any{"$greeting"}, "result": "$n"}},
				map[string]any{"when": map[string]any{
					"args":    map[string]any{"gt": []any{"$n", 3}},
					"actions": []any{map[string]any{"log": "long"}},
				}},
				map[string]any{"echo": []any{"$n"}},
			},
		},
	})
}

func TestGenerateMermaid_Sequence(t *testing.T) {
	out, err := Generate(greet(t), FormatMermaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"flowchart TD\n",
		"START([Start]) --> n0",
		`n0["playbook"]`,
		"n0 --> n1",
		"n1 --> n2",
		`n2["len<br/>→ $n"]`,
		`n3{"when"}`,
		`n3 -->|"if {#quot;gt#quot;:[#quot;$n#quot;,3]}"| n4`,
		"n3 --> n5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestGenerateMermaid_LoopBackEdge(t *testing.T) {
	pb := mustParse(t, map[string]any{
		"repeat": map[string]any{
			"args": 3,
			"actions": []any{
				map[string]any{"log": "a"},
				map[string]any{"log": "b"},
			},
		},
	})
	out, err := Generate(pb, FormatMermaid)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `n0 -->|"repeat 3"| n1`) {
		t.Errorf("missing loop entry edge:\n%s", out)
	}
	if !strings.Contains(out, `n2 -.->|"next"| n0`) {
		t.Errorf("missing back edge:\n%s", out)
	}
}

func TestGenerateASCII(t *testing.T) {
	out, err := Generate(greet(t), FormatASCII)
	if err != nil {
		t.Fatal(err)
	}
	want := `playbook  greet
├── setvar ["greeting","hello"]
├── len ["$greeting"] → $n
├── when {"gt":["$n",3]}
│   └── log ["long"]
└── echo ["$n"]
`
	if out != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestSummarize_Truncates(t *testing.T) {
	s := summarize(strings.Repeat("x", 100), 10)
	if s != "xxxxxxxxx…" {
		t.Errorf("summarize = %q", s)
	}
}

func TestGenerate_Errors(t *testing.T) {
	if _, err := Generate(nil, FormatMermaid); err == nil {
		t.Error("expected error for nil playbook")
	}
	if _, err := Generate(greet(t), Format("svg")); err == nil {
		t.Error("expected error for unsupported format")
	}
}
