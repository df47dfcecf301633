// Package diagram renders the step tree of a playbook as a Mermaid
// flowchart or a plain text tree.
package diagram

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// argsWidth bounds the argument summary shown next to a step.
const argsWidth = 48

// Generate produces a diagram of pb in the given format.
func Generate(pb *schema.Playbook, format Format) (string, error) {
	if pb == nil {
		return "", fmt.Errorf("nil playbook")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(pb), nil
	case FormatASCII:
		return generateASCII(pb), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

type mermaid struct {
	b    strings.Builder
	next int
}

func generateMermaid(pb *schema.Playbook) string {
	m := &mermaid{}
	m.b.WriteString("flowchart TD\n")
	m.b.WriteString("    START([Start]) --> n0\n")
	m.node(pb)
	return m.b.String()
}

// node writes p and its children and returns p's id. Children run in
// sequence; loops get a dotted edge back to their head.
func (m *mermaid) node(p *schema.Playbook) string {
	id := fmt.Sprintf("n%d", m.next)
	m.next++

	label := escape(p.Name)
	if r := resultLabel(p.Result); r != "" {
		label += "<br/>→ " + escape(r)
	}
	if isFlow(p.Name) {
		fmt.Fprintf(&m.b, "    %s{\"%s\"}\n", id, label)
	} else {
		fmt.Fprintf(&m.b, "    %s[\"%s\"]\n", id, label)
	}

	prev := id
	for i, child := range p.Actions {
		cid := m.node(child)
		if i == 0 && isFlow(p.Name) {
			fmt.Fprintf(&m.b, "    %s -->|\"%s\"| %s\n", prev, escape(edgeLabel(p)), cid)
		} else {
			fmt.Fprintf(&m.b, "    %s --> %s\n", prev, cid)
		}
		prev = m.exit(child, cid)
	}
	if isLoop(p.Name) && len(p.Actions) > 0 {
		fmt.Fprintf(&m.b, "    %s -.->|\"next\"| %s\n", prev, id)
	}
	return id
}

// exit returns the node control leaves the subtree rooted at p from:
// the head for conditionals and loops, else the last node written.
// Ids are allocated depth first.
func (m *mermaid) exit(p *schema.Playbook, id string) string {
	if isFlow(p.Name) || len(p.Actions) == 0 {
		return id
	}
	return fmt.Sprintf("n%d", m.next-1)
}

func edgeLabel(p *schema.Playbook) string {
	cond := summarize(p.Args.Value(), 30)
	switch p.Name {
	case "when":
		return "if " + cond
	case "repeat":
		return "repeat " + cond
	default:
		return "for " + cond
	}
}

func isFlow(name string) bool {
	return name == "when" || isLoop(name)
}

func isLoop(name string) bool {
	return name == "repeat" || name == "each"
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// --- ASCII ---

func generateASCII(pb *schema.Playbook) string {
	var b strings.Builder
	b.WriteString(line(pb))
	b.WriteString("\n")
	writeChildren(&b, pb.Actions, "")
	return b.String()
}

func writeChildren(b *strings.Builder, children []*schema.Playbook, prefix string) {
	for i, child := range children {
		branch, indent := "├── ", "│   "
		if i == len(children)-1 {
			branch, indent = "└── ", "    "
		}
		b.WriteString(prefix + branch + line(child) + "\n")
		writeChildren(b, child.Actions, prefix+indent)
	}
}

// line renders "name args → result", or "name  description" for nodes
// without arguments.
func line(p *schema.Playbook) string {
	s := p.Name
	if args := summarize(p.Args.Value(), argsWidth); args != "" {
		s += " " + args
	} else if p.Description != "" {
		s += "  " + runewidth.Truncate(firstLine(p.Description), argsWidth, "…")
	}
	if r := resultLabel(p.Result); r != "" {
		s += " → " + r
	}
	return s
}

func resultLabel(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return summarize(v, argsWidth)
}

// summarize renders v compactly on one line, truncated to width display
// columns.
func summarize(v any, width int) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			s = string(data)
		}
	}
	return runewidth.Truncate(s, width, "…")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
