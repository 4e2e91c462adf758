package processors

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/GoCodeAlone/provision/pipeline"
)

func registerChecksum(r *pipeline.ProcessorRegistry) {
	pipeline.RegisterProcessor[pipeline.Args](r, "checksum", pipeline.Schema{
		{Name: "path", Kind: pipeline.KindString, Required: true},
		{Name: "expected", Kind: pipeline.KindString, Description: "hex BLAKE3 digest; when empty the digest is only reported"},
	}, newChecksum, pipeline.WithDescription("Verify a file's BLAKE3 digest"))
}

// FileChecksum returns the hex BLAKE3 digest of the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type checksum struct {
	path     Text
	expected Text
}

func newChecksum(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	texts, err := parseTexts(v, "path", "expected")
	if err != nil {
		return nil, err
	}
	return &checksum{path: texts["path"], expected: texts["expected"]}, nil
}

func (p *checksum) Process(_ context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	path, err := p.path.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	expected, err := p.expected.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	sum, err := FileChecksum(path)
	if err != nil {
		return pipeline.Continue, err
	}
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		c.ReportMessage(fmt.Sprintf("%s  %s", sum, path))
		return pipeline.Continue, nil
	}
	if sum != expected {
		return pipeline.Continue, fmt.Errorf("checksum mismatch for %s: got %s, want %s", path, sum, expected)
	}
	c.ReportMessage("Checksum verified for " + path)
	return pipeline.Continue, nil
}
