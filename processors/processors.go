// Package processors provides the general-purpose processor types every
// pipeline document can use. They accept any argument struct: path and text
// parameters are Go templates rendered against the run's args, and
// expressions see the args as their JSON form.
package processors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/GoCodeAlone/provision/pipeline"
)

// Register adds every built-in processor type to r.
func Register(r *pipeline.ProcessorRegistry) {
	registerControl(r)
	registerFiles(r)
	registerArchive(r)
	registerChecksum(r)
	registerReport(r)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"trim":  strings.TrimSpace,
		"join":  strings.Join,
		"base":  filepath.Base,
		"dir":   filepath.Dir,
		"env":   os.Getenv,
		"default": func(def, v any) any {
			if v == nil || v == "" {
				return def
			}
			return v
		},
	}
}

// Text is a parameter value that may contain {{ }} expressions.
type Text struct {
	raw  string
	tmpl *template.Template
}

// ParseText compiles s. Strings without {{ are kept literal.
func ParseText(name, s string) (Text, error) {
	if !strings.Contains(s, "{{") {
		return Text{raw: s}, nil
	}
	t, err := template.New(name).Funcs(templateFuncs()).Option("missingkey=zero").Parse(s)
	if err != nil {
		return Text{}, fmt.Errorf("template parse error in %s: %w", name, err)
	}
	return Text{raw: s, tmpl: t}, nil
}

// TemplateDataProvider is implemented by args whose template data is not
// their exported fields.
type TemplateDataProvider interface {
	TemplateData() any
}

// Render evaluates the text against data, usually the run's args.
func (t Text) Render(data any) (string, error) {
	if t.tmpl == nil {
		return t.raw, nil
	}
	if p, ok := data.(TemplateDataProvider); ok {
		data = p.TemplateData()
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template exec error: %w", err)
	}
	return buf.String(), nil
}

// String returns the unrendered text.
func (t Text) String() string { return t.raw }

// parseTexts compiles the named string parameters of v.
func parseTexts(v pipeline.Values, names ...string) (map[string]Text, error) {
	out := make(map[string]Text, len(names))
	for _, name := range names {
		if !v.Has(name) {
			continue
		}
		t, err := ParseText(name, v.String(name))
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// ArgsData converts args into JSON-compatible values (maps, slices, strings,
// float64, bool) by round-tripping through encoding/json.
func ArgsData(args any) (map[string]any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
