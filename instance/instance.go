// Package instance reads and lists installed instances. Every install writes
// an instance.json manifest at the root of the instance folder.
package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ManifestFile is the name of the manifest inside an instance root.
const ManifestFile = "instance.json"

// ErrNotFound is returned when no instance matches a name.
var ErrNotFound = errors.New("instance not found")

// Instance describes one installed instance.
type Instance struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Product     string            `json:"product"`
	HostNames   []string          `json:"hostNames,omitempty"`
	RootPath    string            `json:"rootPath"`
	WebRootPath string            `json:"webRootPath"`
	DataFolder  string            `json:"dataFolder"`
	Databases   map[string]string `json:"databases,omitempty"`
	InstalledAt time.Time         `json:"installedAt"`
}

// ManifestPath returns the manifest location for an instance root.
func ManifestPath(rootPath string) string {
	return filepath.Join(rootPath, ManifestFile)
}

// WriteManifest stores inst under inst.RootPath.
func WriteManifest(inst *Instance) error {
	if inst.RootPath == "" {
		return fmt.Errorf("write manifest: instance %q has no root path", inst.Name)
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(inst.RootPath, 0o755); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.WriteFile(ManifestPath(inst.RootPath), append(data, '\n'), 0o644)
}

// ReadManifest loads the manifest of the instance rooted at rootPath.
func ReadManifest(rootPath string) (*Instance, error) {
	data, err := os.ReadFile(ManifestPath(rootPath))
	if err != nil {
		return nil, err
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("parse manifest in %s: %w", rootPath, err)
	}
	// The folder may have been moved since install.
	inst.RootPath = rootPath
	return &inst, nil
}

// Listing is the result of scanning an instances folder.
type Listing struct {
	Instances []*Instance
	// Unreadable maps instance folders whose manifest could not be read to
	// the error.
	Unreadable map[string]error
}

// Scan reads the instances directly under folder whose name contains filter,
// compared case-insensitively. An empty filter matches everything. Folders
// without a manifest are skipped; folders with a broken manifest are put in
// Unreadable, filtered by folder name, and do not stop the scan.
func Scan(folder, filter string) (*Listing, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	filter = strings.ToLower(filter)
	matches := func(name string) bool {
		return filter == "" || strings.Contains(strings.ToLower(name), filter)
	}

	l := &Listing{Unreadable: make(map[string]error)}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(folder, e.Name())
		inst, err := ReadManifest(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			if matches(e.Name()) {
				l.Unreadable[dir] = err
			}
			continue
		}
		if matches(inst.Name) {
			l.Instances = append(l.Instances, inst)
		}
	}
	sort.Slice(l.Instances, func(i, j int) bool {
		return strings.ToLower(l.Instances[i].Name) < strings.ToLower(l.Instances[j].Name)
	})
	return l, nil
}

// List returns the readable instances Scan finds.
func List(folder, filter string) ([]*Instance, error) {
	l, err := Scan(folder, filter)
	if err != nil {
		return nil, err
	}
	return l.Instances, nil
}

// Find returns the instance under folder named name, ignoring case.
func Find(folder, name string) (*Instance, error) {
	all, err := List(folder, name)
	if err != nil {
		return nil, err
	}
	for _, inst := range all {
		if strings.EqualFold(inst.Name, name) {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}
