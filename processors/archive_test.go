package processors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/GoCodeAlone/provision/pipeline"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractZip_StripRootAndExclude(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "product.zip")
	writeZip(t, archive, map[string]string{
		"Product 1.0 rev. 5/Website/web.config": "cfg",
		"Product 1.0 rev. 5/Data/readme.txt":    "data",
		"Product 1.0 rev. 5/Databases/core.mdf": "db",
	})
	target := filepath.Join(dir, "out")

	n, err := ExtractZip(context.Background(), archive, target, ExtractOptions{
		StripRoot: true,
		Exclude:   ignore.CompileIgnoreLines("Databases/"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("extracted %d files, want 2", n)
	}
	data, err := os.ReadFile(filepath.Join(target, "Website", "web.config"))
	if err != nil || string(data) != "cfg" {
		t.Errorf("web.config = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(target, "Databases", "core.mdf")); err == nil {
		t.Error("excluded entry extracted")
	}
}

func TestExtractZip_NoCommonRoot(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	writeZip(t, archive, map[string]string{"a/x.txt": "x", "b.txt": "b"})

	target := filepath.Join(dir, "out")
	if _, err := ExtractZip(context.Background(), archive, target, ExtractOptions{StripRoot: true}); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"a/x.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(target, p)); err != nil {
			t.Errorf("expected %s", p)
		}
	}
}

func TestExtractZip_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{"../escape.txt": "x"})

	if _, err := ExtractZip(context.Background(), archive, filepath.Join(dir, "out"), ExtractOptions{}); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err == nil {
		t.Fatal("file escaped the target")
	}
}

func TestArchiveExtractProcessor(t *testing.T) {
	dir := t.TempDir()
	writeZip(t, filepath.Join(dir, "site.zip"), map[string]string{"root/index.html": "hi"})
	args := &siteArgs{Name: "site", Root: dir}
	ctrl := pipeline.NewAggregateController()

	_, err := run(t, "archive.extract", params(
		"archive", "{{ .Root }}/{{ .Name }}.zip",
		"target", "{{ .Root }}/{{ .Name }}",
		"stripRoot", true,
	), args, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "site", "index.html")); err != nil {
		t.Fatal("expected extracted file")
	}
	if ctrl.Message() != "Extracted 1 files from site.zip" {
		t.Errorf("message = %q", ctrl.Message())
	}
}

func TestArchiveExtract_MissingArchive(t *testing.T) {
	_, err := run(t, "archive.extract", params("archive", "/nonexistent.zip", "target", t.TempDir()), &siteArgs{}, pipeline.NewAggregateController())
	if err == nil {
		t.Fatal("expected error")
	}
}
