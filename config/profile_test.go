package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadProfile_JSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.jsonc")
	doc := `{
  // where instances live
  "instancesFolder": "/srv/instances",
  "license": "/srv/license.xml",
  "localRepository": "/srv/repo",
  "connectionString": "Server=.;User=sa",
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := ReadProfile(path)
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if p.InstancesFolder != "/srv/instances" || p.ConnectionString != "Server=.;User=sa" {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestProfile_SaveAndClone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.jsonc")
	p := &Profile{InstancesFolder: "a", License: "b"}
	if err := p.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := ReadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if *back != *p {
		t.Errorf("round trip mismatch: %+v vs %+v", back, p)
	}
	c := p.Clone()
	c.License = "changed"
	if p.License != "b" {
		t.Error("Clone must copy")
	}
}

func TestProfile_ValidateForInstall(t *testing.T) {
	dir := t.TempDir()
	license := filepath.Join(dir, "license.xml")
	if err := os.WriteFile(license, []byte("<license/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	valid := &Profile{
		InstancesFolder:  dir,
		License:          license,
		LocalRepository:  dir,
		ConnectionString: "Server=.",
	}
	if err := valid.ValidateForInstall(); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *Profile)
	}{
		{"missing instances folder", func(p *Profile) { p.InstancesFolder = "" }},
		{"instances folder not found", func(p *Profile) { p.InstancesFolder = filepath.Join(dir, "nope") }},
		{"license is a directory", func(p *Profile) { p.License = dir }},
		{"missing repository", func(p *Profile) { p.LocalRepository = "" }},
		{"missing connection string", func(p *Profile) { p.ConnectionString = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid.Clone()
			tt.mutate(p)
			err := p.ValidateForInstall()
			if !errors.Is(err, ErrProfileInvalid) {
				t.Errorf("expected ErrProfileInvalid, got %v", err)
			}
		})
	}
}

func TestDefaultProfilePath_Env(t *testing.T) {
	t.Setenv("PROVCTL_PROFILE", "/tmp/custom.jsonc")
	if got := DefaultProfilePath(); got != "/tmp/custom.jsonc" {
		t.Errorf("DefaultProfilePath() = %q", got)
	}
}
