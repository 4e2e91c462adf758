package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CompositeSource layers multiple ConfigSources. Pipelines from later
// sources replace same-named pipelines from earlier ones.
type CompositeSource struct {
	sources []ConfigSource
}

// NewCompositeSource creates a CompositeSource. sources[0] is the base and
// each subsequent source overlays the result.
func NewCompositeSource(sources ...ConfigSource) *CompositeSource {
	return &CompositeSource{sources: sources}
}

// Load loads every source and merges them in order.
func (s *CompositeSource) Load(ctx context.Context) (*PipelinesConfig, error) {
	if len(s.sources) == 0 {
		return nil, errors.New("composite source: no sources configured")
	}
	var merged *PipelinesConfig
	for _, src := range s.sources {
		cfg, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("composite source %s: %w", src.Name(), err)
		}
		merged = merged.Merge(cfg)
	}
	return merged, nil
}

// Hash combines the hashes of every source, so a change in any layer
// changes the result without parsing.
func (s *CompositeSource) Hash(ctx context.Context) (string, error) {
	parts := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		h, err := src.Hash(ctx)
		if err != nil {
			return "", fmt.Errorf("composite source %s: %w", src.Name(), err)
		}
		parts = append(parts, h)
	}
	return HashBytes([]byte(strings.Join(parts, "\n"))), nil
}

// Name lists the layered sources.
func (s *CompositeSource) Name() string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return "composite(" + strings.Join(names, ", ") + ")"
}

var _ ConfigSource = (*CompositeSource)(nil)
