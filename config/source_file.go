package config

import (
	"context"
	"fmt"
	"os"
)

// FileSource loads definitions from a YAML or JSONC file on disk.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource that reads from the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads the file and returns the parsed definitions.
func (s *FileSource) Load(_ context.Context) (*PipelinesConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("file source: read %s: %w", s.path, err)
	}
	cfg, err := Parse(data, FormatFromPath(s.path))
	if err != nil {
		return nil, fmt.Errorf("file source: %s: %w", s.path, err)
	}
	return cfg, nil
}

// Hash returns the BLAKE3 hex digest of the raw file bytes.
func (s *FileSource) Hash(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("file source: read %s: %w", s.path, err)
	}
	return HashBytes(data), nil
}

// Name returns a human-readable identifier for this source.
func (s *FileSource) Name() string {
	return "file:" + s.path
}

// Path returns the filesystem path this source reads from.
func (s *FileSource) Path() string { return s.path }

// BytesSource serves a fixed in-memory document, such as one embedded in the
// binary.
type BytesSource struct {
	name   string
	data   []byte
	format Format
}

// NewBytesSource creates a BytesSource.
func NewBytesSource(name string, data []byte, format Format) *BytesSource {
	return &BytesSource{name: name, data: data, format: format}
}

// Load parses the embedded document.
func (s *BytesSource) Load(_ context.Context) (*PipelinesConfig, error) {
	return Parse(s.data, s.format)
}

// Hash returns the BLAKE3 hex digest of the document.
func (s *BytesSource) Hash(_ context.Context) (string, error) {
	return HashBytes(s.data), nil
}

// Name returns a human-readable identifier for this source.
func (s *BytesSource) Name() string { return "bytes:" + s.name }

var (
	_ ConfigSource = (*FileSource)(nil)
	_ ConfigSource = (*BytesSource)(nil)
)
