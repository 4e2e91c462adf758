package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// PipelinesConfig is the root of a pipeline definition document.
type PipelinesConfig struct {
	Pipelines map[string]PipelineDefinition `json:"pipelines" yaml:"pipelines"`
}

// PipelineDefinition describes a named, ordered sequence of steps.
// Name is filled from the map key when the document is loaded.
type PipelineDefinition struct {
	Name  string           `json:"name,omitempty" yaml:"name,omitempty"`
	Title string           `json:"title,omitempty" yaml:"title,omitempty"`
	Steps []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition is an ordered group of processors. Args optionally names an
// alternate argument object from the run's execution context.
type StepDefinition struct {
	Args       string                `json:"args,omitempty" yaml:"args,omitempty"`
	Processors []ProcessorDefinition `json:"processors" yaml:"processors"`
}

// ProcessorDefinition names a processor type and its raw parameters.
type ProcessorDefinition struct {
	Type   string `json:"type" yaml:"type"`
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param is a single named raw configuration value.
type Param struct {
	Name  string
	Value any
}

// Params is an ordered list of raw parameters. Declaration order from the
// source document is preserved.
type Params []Param

// Get returns the raw value for name.
func (p Params) Get(name string) (any, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return nil, false
}

// Names returns parameter names in declaration order.
func (p Params) Names() []string {
	names := make([]string, len(p))
	for i, param := range p {
		names[i] = param.Name
	}
	return names
}

// UnmarshalYAML decodes a mapping node while keeping key order.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: params must be a mapping", node.Line)
	}
	out := make(Params, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("line %d: param name: %w", node.Content[i].Line, err)
		}
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("line %d: param %q: %w", node.Content[i+1].Line, name, err)
		}
		for _, existing := range out {
			if existing.Name == name {
				return fmt.Errorf("line %d: duplicate param %q", node.Content[i].Line, name)
			}
		}
		out = append(out, Param{Name: name, Value: value})
	}
	*p = out
	return nil
}

// MarshalYAML encodes the params as an ordered mapping.
func (p Params) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, param := range p {
		var value yaml.Node
		if err := value.Encode(param.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: param.Name},
			&value,
		)
	}
	return node, nil
}

// UnmarshalJSON decodes a JSON object while keeping key order.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("params must be an object")
	}

	var out Params
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("params: expected key, got %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		if _, dup := out.Get(name); dup {
			return fmt.Errorf("duplicate param %q", name)
		}
		out = append(out, Param{Name: name, Value: normalizeJSON(value)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// MarshalJSON encodes the params as an object in declaration order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(param.Value)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", param.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// normalizeJSON converts json.Number values into int or float64 so that
// JSONC and YAML sources produce the same raw value shapes.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeJSON(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeJSON(item)
		}
		return val
	default:
		return v
	}
}
