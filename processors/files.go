package processors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/GoCodeAlone/provision/pipeline"
)

func registerFiles(r *pipeline.ProcessorRegistry) {
	pipeline.RegisterProcessor[pipeline.Args](r, "folder.create", pipeline.Schema{
		{Name: "path", Kind: pipeline.KindString, Required: true},
		{Name: "mustNotExist", Kind: pipeline.KindBool, Description: "fail when the folder is already there"},
	}, newFolderCreate, pipeline.WithDescription("Create a folder and its parents"))

	pipeline.RegisterProcessor[pipeline.Args](r, "folder.delete", pipeline.Schema{
		{Name: "path", Kind: pipeline.KindString, Required: true},
		{Name: "missingOk", Kind: pipeline.KindBool, Default: true},
	}, newFolderDelete, pipeline.WithDescription("Delete a folder recursively"))

	pipeline.RegisterProcessor[pipeline.Args](r, "file.write", pipeline.Schema{
		{Name: "path", Kind: pipeline.KindString, Required: true},
		{Name: "content", Kind: pipeline.KindString, Required: true},
		{Name: "mode", Kind: pipeline.KindString, Default: "0644"},
	}, newFileWrite, pipeline.WithDescription("Write a templated file"))

	pipeline.RegisterProcessor[pipeline.Args](r, "files.copy", pipeline.Schema{
		{Name: "source", Kind: pipeline.KindString, Required: true},
		{Name: "target", Kind: pipeline.KindString, Required: true},
		{Name: "exclude", Kind: pipeline.KindStrings, Description: "gitignore-style patterns"},
	}, newFilesCopy, pipeline.WithDescription("Copy a folder tree"))
}

type folderCreate struct {
	path         Text
	mustNotExist bool
}

func newFolderCreate(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	path, err := ParseText("path", v.String("path"))
	if err != nil {
		return nil, err
	}
	return &folderCreate{path: path, mustNotExist: v.Bool("mustNotExist")}, nil
}

func (p *folderCreate) Process(_ context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	path, err := p.path.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	if p.mustNotExist {
		if _, err := os.Stat(path); err == nil {
			return pipeline.Continue, fmt.Errorf("folder %s already exists", path)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return pipeline.Continue, fmt.Errorf("create folder: %w", err)
	}
	c.ReportMessage("Created folder " + path)
	return pipeline.Continue, nil
}

type folderDelete struct {
	path      Text
	missingOk bool
}

func newFolderDelete(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	path, err := ParseText("path", v.String("path"))
	if err != nil {
		return nil, err
	}
	return &folderDelete{path: path, missingOk: v.Bool("missingOk")}, nil
}

func (p *folderDelete) Process(_ context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	path, err := p.path.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	if path == "" || filepath.Clean(path) == string(filepath.Separator) {
		return pipeline.Continue, fmt.Errorf("refusing to delete %q", path)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if p.missingOk {
			return pipeline.Continue, nil
		}
		return pipeline.Continue, fmt.Errorf("folder %s does not exist", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return pipeline.Continue, fmt.Errorf("delete folder: %w", err)
	}
	c.ReportMessage("Deleted folder " + path)
	return pipeline.Continue, nil
}

type fileWrite struct {
	path    Text
	content Text
	mode    fs.FileMode
}

func newFileWrite(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	texts, err := parseTexts(v, "path", "content")
	if err != nil {
		return nil, err
	}
	mode, err := strconv.ParseUint(v.String("mode"), 8, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid mode %q", v.String("mode"))
	}
	return &fileWrite{path: texts["path"], content: texts["content"], mode: fs.FileMode(mode)}, nil
}

func (p *fileWrite) Process(_ context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	path, err := p.path.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	content, err := p.content.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipeline.Continue, fmt.Errorf("create parent folder: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), p.mode); err != nil {
		return pipeline.Continue, fmt.Errorf("write file: %w", err)
	}
	c.ReportMessage("Wrote " + path)
	return pipeline.Continue, nil
}

type filesCopy struct {
	source  Text
	target  Text
	exclude *ignore.GitIgnore
}

func newFilesCopy(v pipeline.Values) (pipeline.TypedProcessor[pipeline.Args], error) {
	texts, err := parseTexts(v, "source", "target")
	if err != nil {
		return nil, err
	}
	return &filesCopy{
		source:  texts["source"],
		target:  texts["target"],
		exclude: ignore.CompileIgnoreLines(v.Strings("exclude")...),
	}, nil
}

func (p *filesCopy) Process(ctx context.Context, args pipeline.Args, c pipeline.Controller) (pipeline.Result, error) {
	source, err := p.source.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	target, err := p.target.Render(args)
	if err != nil {
		return pipeline.Continue, err
	}
	n, err := CopyTree(ctx, source, target, p.exclude)
	if err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage(fmt.Sprintf("Copied %d files to %s", n, target))
	return pipeline.Continue, nil
}

// CopyTree copies the regular files under source into target, skipping paths
// matched by exclude (which may be nil). It returns the number of files
// copied.
func CopyTree(ctx context.Context, source, target string, exclude *ignore.GitIgnore) (int, error) {
	count := 0
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(target, 0o755)
		}
		if exclude != nil && exclude.MatchesPath(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		dest := filepath.Join(target, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := copyFile(path, dest, info.Mode().Perm()); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("copy %s: %w", source, err)
	}
	return count, nil
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
