package config

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ConfigSource provides pipeline definitions from an arbitrary backend.
// Implementations must be safe for concurrent use.
type ConfigSource interface {
	// Load retrieves the current definitions.
	Load(ctx context.Context) (*PipelinesConfig, error)

	// Hash returns a content-addressable hash of the current document.
	// Used for change detection without full deserialization.
	Hash(ctx context.Context) (string, error)

	// Name returns a human-readable identifier for this source.
	Name() string
}

// ConfigChangeEvent is emitted when a ConfigSource detects a change.
type ConfigChangeEvent struct {
	Source  string
	OldHash string
	NewHash string
	Config  *PipelinesConfig
	Time    time.Time
}

// HashBytes returns the BLAKE3 hex digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashConfig returns the BLAKE3 hex digest of the YAML-serialized config.
func HashConfig(cfg *PipelinesConfig) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}
