// Package config loads pipeline definition documents and user profiles.
//
// Definition documents are authored as YAML or as JSONC (JSON with comments
// and trailing commas). Both formats decode into the same PipelinesConfig tree.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a definition document.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSONC Format = "jsonc"
)

// FormatFromPath picks a format from the file extension. Unknown extensions
// are treated as YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// Parse decodes a definition document and fills each pipeline's Name from
// its key.
func Parse(data []byte, format Format) (*PipelinesConfig, error) {
	var cfg PipelinesConfig
	switch format {
	case FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse pipelines document: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse pipelines document: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	for name, def := range cfg.Pipelines {
		if def.Name != "" && def.Name != name {
			return nil, fmt.Errorf("pipeline %q declares mismatched name %q", name, def.Name)
		}
		def.Name = name
		cfg.Pipelines[name] = def
	}
	return &cfg, nil
}

// LoadFromFile reads and parses a definition document from disk.
func LoadFromFile(path string) (*PipelinesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Names returns the pipeline names in sorted order.
func (c *PipelinesConfig) Names() []string {
	names := make([]string, 0, len(c.Pipelines))
	for name := range c.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a new config containing the pipelines of c overlaid with
// those of other. Pipelines in other replace same-named ones in c.
func (c *PipelinesConfig) Merge(other *PipelinesConfig) *PipelinesConfig {
	out := &PipelinesConfig{Pipelines: make(map[string]PipelineDefinition)}
	if c != nil {
		for name, def := range c.Pipelines {
			out.Pipelines[name] = def
		}
	}
	if other != nil {
		for name, def := range other.Pipelines {
			out.Pipelines[name] = def
		}
	}
	return out
}
