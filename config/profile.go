package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// ErrProfileInvalid is returned by the Profile validation helpers.
var ErrProfileInvalid = errors.New("invalid profile")

// Profile holds the per-user settings that installation commands read before
// building their pipeline arguments.
type Profile struct {
	InstancesFolder   string `json:"instancesFolder"`
	License           string `json:"license"`
	LocalRepository   string `json:"localRepository"`
	ConnectionString  string `json:"connectionString"`
	WebServerIdentity string `json:"webServerIdentity,omitempty"`
	AdvancedSettings  string `json:"advancedSettings,omitempty"`
}

// DefaultProfilePath returns $PROVCTL_PROFILE, or profile.jsonc under
// ~/.provctl.
func DefaultProfilePath() string {
	if p := os.Getenv("PROVCTL_PROFILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".provctl", "profile.jsonc")
	}
	return filepath.Join(home, ".provctl", "profile.jsonc")
}

// ReadProfile loads a JSONC profile from path.
func ReadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the profile as indented JSON.
func (p *Profile) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// Clone returns a copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}

// ValidateInstancesFolder checks that InstancesFolder is set and exists.
func (p *Profile) ValidateInstancesFolder() error {
	return requireDir("instancesFolder", p.InstancesFolder)
}

// ValidateRepository checks that LocalRepository is set and exists.
func (p *Profile) ValidateRepository() error {
	return requireDir("localRepository", p.LocalRepository)
}

// ValidateLicense checks that License points to an existing file.
func (p *Profile) ValidateLicense() error {
	if p.License == "" {
		return fmt.Errorf("%w: license is not specified", ErrProfileInvalid)
	}
	info, err := os.Stat(p.License)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: license points to missing file %s", ErrProfileInvalid, p.License)
	}
	return nil
}

// ValidateConnectionString checks that a database connection string is set.
func (p *Profile) ValidateConnectionString() error {
	if p.ConnectionString == "" {
		return fmt.Errorf("%w: connectionString is not specified", ErrProfileInvalid)
	}
	return nil
}

// ValidateForInstall runs every check an installation depends on.
func (p *Profile) ValidateForInstall() error {
	return errors.Join(
		p.ValidateRepository(),
		p.ValidateLicense(),
		p.ValidateConnectionString(),
		p.ValidateInstancesFolder(),
	)
}

func requireDir(field, path string) error {
	if path == "" {
		return fmt.Errorf("%w: %s is not specified", ErrProfileInvalid, field)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s points to missing folder %s", ErrProfileInvalid, field, path)
	}
	return nil
}
