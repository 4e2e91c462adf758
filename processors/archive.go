package processors

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/GoCodeAlone/provision/pipeline"
)

func registerArchive(r *pipeline.ProcessorRegistry) {
	pipeline.RegisterProcessor[pipeline.Args](r, "archive.extract", pipeline.Schema{
		{Name: "archive", Kind: pipeline.KindString, Required: true},
		{Name: "target", Kind: pipeline.KindString, Required: true},
		{Name: "stripRoot", Kind: pipeline.KindBool, Description: "drop the single top-level folder of the archive"},
		{Name: "exclude", Kind: pipeline.KindStrings},
	}, newArchiveExtract, pipeline.WithDescription("Extract a zip archive"))
}

// ExtractOptions controls ExtractZip.
type ExtractOptions struct {
	// StripRoot removes the leading folder shared by every entry.
	StripRoot bool
	// Exclude skips matching entries, matched after StripRoot is applied.
	Exclude *ignore.GitIgnore
}

// ExtractZip unpacks archive into target and returns the number of files
// written. Entries that would land outside target are rejected.
func ExtractZip(ctx context.Context, archive, target string, opts ExtractOptions) (int, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	prefix := ""
	if opts.StripRoot {
		prefix = commonRoot(zr.File)
	}

	root, err := filepath.Abs(target)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, fmt.Errorf("create target: %w", err)
	}

	count := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		name := strings.TrimPrefix(f.Name, prefix)
		if name == "" {
			continue
		}
		if opts.Exclude != nil && opts.Exclude.MatchesPath(name) {
			continue
		}
		dest := filepath.Join(root, filepath.FromSlash(name))
		if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
			return count, fmt.Errorf("archive entry %q escapes target", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return count, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		count++
	}
	return count, nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// commonRoot returns "dir/" when every entry lives under the same top-level
// folder, or "".
func commonRoot(files []*zip.File) string {
	root := ""
	for _, f := range files {
		first, _, found := strings.Cut(path.Clean(f.Name), "/")
		if !found && !f.FileInfo().IsDir() {
			return ""
		}
		if root == "" {
			root = first
		} else if first != root {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	return root + "/"
}

type archiveExtract struct {
	archive Text
	target  Text
	opts    ExtractOptions
}

func newArchiveExtract(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	texts, err := parseTexts(v, "archive", "target")
	if err != nil {
		return nil, err
	}
	p := &archiveExtract{archive: texts["archive"], target: texts["target"]}
	p.opts.StripRoot = v.Bool("stripRoot")
	if excl := v.Strings("exclude"); len(excl) > 0 {
		p.opts.Exclude = ignore.CompileIgnoreLines(excl...)
	}
	return p, nil
}

func (p *archiveExtract) Process(ctx context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	archive, err := p.archive.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	target, err := p.target.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	n, err := ExtractZip(ctx, archive, target, p.opts)
	if err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage(fmt.Sprintf("Extracted %d files from %s", n, filepath.Base(archive)))
	return pipeline.Continue, nil
}
