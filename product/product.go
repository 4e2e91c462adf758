// Package product finds installable product archives in a local repository.
//
// Archives are named <name>-<version>[-r<revision>].zip, for example
// "platform-10.2.0-r7.zip". Versions are compared as semantic versions.
package product

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrNotFound is returned when no archive matches a lookup.
var ErrNotFound = errors.New("product not found")

var archiveName = regexp.MustCompile(`^(.+?)-(\d+(?:\.\d+){0,2})(?:-r(\d+))?\.zip$`)

// Product is one archive in the repository.
type Product struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
	Path     string `json:"path"`
}

// String returns the display name, e.g. "platform 10.2.0 rev. 7".
func (p Product) String() string {
	s := p.Name + " " + p.Version
	if p.Revision != "" {
		s += " rev. " + p.Revision
	}
	return s
}

// ParseFileName extracts a product from an archive file name.
func ParseFileName(name string) (Product, bool) {
	m := archiveName.FindStringSubmatch(name)
	if m == nil {
		return Product{}, false
	}
	return Product{Name: m[1], Version: m[2], Revision: m[3]}, true
}

func canonical(version string) string {
	return semver.Canonical("v" + version)
}

// compare orders by version, then numeric revision.
func compare(a, b Product) int {
	if c := semver.Compare(canonical(a.Version), canonical(b.Version)); c != 0 {
		return c
	}
	ra, _ := strconv.Atoi(a.Revision)
	rb, _ := strconv.Atoi(b.Revision)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

// Catalog is a snapshot of the archives under a repository folder.
type Catalog struct {
	root     string
	products []Product
}

// Scan reads the repository folder and its immediate subfolders.
func Scan(root string) (*Catalog, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan repository: %s is not a folder", root)
	}

	c := &Catalog{root: root}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && filepath.Dir(path) != root {
				return filepath.SkipDir
			}
			return nil
		}
		if p, ok := ParseFileName(d.Name()); ok {
			p.Path = path
			c.products = append(c.products, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}

	sort.SliceStable(c.products, func(i, j int) bool {
		a, b := c.products[i], c.products[j]
		if !strings.EqualFold(a.Name, b.Name) {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
		return compare(a, b) > 0
	})
	return c, nil
}

// Root returns the scanned folder.
func (c *Catalog) Root() string { return c.root }

// Products returns every archive, grouped by name with the newest first.
func (c *Catalog) Products() []Product {
	return append([]Product(nil), c.products...)
}

// FindProduct returns the newest archive whose name equals name
// (case-insensitive). A non-empty version matches exactly or as a dotted
// prefix ("10.2" matches "10.2.1"); a non-empty revision must match exactly.
func (c *Catalog) FindProduct(name, version, revision string) (Product, error) {
	var best *Product
	for i := range c.products {
		p := &c.products[i]
		if name != "" && !strings.EqualFold(p.Name, name) {
			continue
		}
		if version != "" && p.Version != version && !strings.HasPrefix(p.Version, version+".") {
			continue
		}
		if revision != "" && p.Revision != revision {
			continue
		}
		if best == nil || compare(*p, *best) > 0 {
			best = p
		}
	}
	if best == nil {
		return Product{}, fmt.Errorf("%w: name=%q version=%q revision=%q", ErrNotFound, name, version, revision)
	}
	return *best, nil
}
