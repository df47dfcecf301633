package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// FormatOf picks the document format from a file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported file extension: %q", filepath.Ext(path))
	}
}

// LoadFile reads a playbook from disk. The format is selected by extension
// and every node's metadata receives the file's directory as __root__.
func LoadFile(path string) (*Playbook, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playbook: %w", err)
	}
	defer f.Close()

	pb, err := Load(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve playbook path: %w", err)
	}
	SetRoot(pb, filepath.Dir(abs))
	return pb, nil
}

// Load decodes a playbook document of the given format.
func Load(r io.Reader, format string) (*Playbook, error) {
	doc, err := Decode(r, format)
	if err != nil {
		return nil, err
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document must be a mapping, got %T", ErrMalformed, doc)
	}
	return FromMap(m)
}

// Decode reads a raw document. Numbers are normalized so that integral
// values are int regardless of format, and mapping keys are strings.
func Decode(r io.Reader, format string) (any, error) {
	var doc any
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: empty document", ErrMalformed)
			}
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return Normalize(doc), nil
}

// Normalize converts decoder output into the value model used by the
// executor: map[string]any, []any, int, float64, string, bool and nil.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = Normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = Normalize(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = Normalize(e)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int64:
		return int(t)
	case uint64:
		return int(t)
	default:
		return v
	}
}

// SetRoot records root as the __root__ of p and every descendant.
func SetRoot(p *Playbook, root string) {
	p.Walk(func(n *Playbook) {
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		n.Metadata[MetaRoot] = root
	})
}

// Dump writes p in single-key form.
func Dump(w io.Writer, p *Playbook, format string) error {
	doc := p.ToMap()
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "    ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		return fmt.Errorf("invalid format: %q", format)
	}
}

// DumpFile writes p to path, choosing the format by extension.
func DumpFile(path string, p *Playbook) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return Dump(f, p, format)
}
