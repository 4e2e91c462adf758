// Package install provides the argument types, processors and default
// pipeline definitions for installing and deleting instances.
package install

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/GoCodeAlone/provision/config"
	"github.com/GoCodeAlone/provision/pipeline"
	"github.com/GoCodeAlone/provision/product"
)

// DatabaseArgsName is the args name database steps declare.
const DatabaseArgsName = "database"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Options are the caller's choices for one installation.
type Options struct {
	Name      string
	HostNames []string
	SQLPrefix string
	Product   product.Product
}

// InstallArgs is the root argument struct of the install pipeline.
type InstallArgs struct {
	pipeline.BaseArgs

	InstanceName        string          `json:"instanceName"`
	HostNames           []string        `json:"hostNames"`
	SQLPrefix           string          `json:"sqlPrefix"`
	Product             product.Product `json:"product"`
	RootPath            string          `json:"rootPath"`
	WebRootPath         string          `json:"webRootPath"`
	DataFolderPath      string          `json:"dataFolderPath"`
	DatabasesFolderPath string          `json:"databasesFolderPath"`
	ConnectionString    string          `json:"connectionString"`
	LicenseFile         string          `json:"licenseFile"`
	WebServerIdentity   string          `json:"webServerIdentity,omitempty"`
	InstanceID          string          `json:"instanceId,omitempty"`

	Database *DatabaseArgs `json:"-"`
}

// NewInstallArgs derives the install arguments from the profile. Host names
// and SQL prefix default to the instance name.
func NewInstallArgs(profile *config.Profile, opts Options) (*InstallArgs, error) {
	name := strings.TrimSpace(opts.Name)
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid instance name %q", opts.Name)
	}
	hosts := opts.HostNames
	if len(hosts) == 0 {
		hosts = []string{name}
	}
	prefix := opts.SQLPrefix
	if prefix == "" {
		prefix = name
	}

	root := filepath.Join(profile.InstancesFolder, name)
	a := &InstallArgs{
		InstanceName:        name,
		HostNames:           hosts,
		SQLPrefix:           prefix,
		Product:             opts.Product,
		RootPath:            root,
		WebRootPath:         filepath.Join(root, "Website"),
		DataFolderPath:      filepath.Join(root, "Data"),
		DatabasesFolderPath: filepath.Join(root, "Databases"),
		ConnectionString:    profile.ConnectionString,
		LicenseFile:         profile.License,
		WebServerIdentity:   profile.WebServerIdentity,
	}
	a.Database = &DatabaseArgs{
		InstanceName:     name,
		SQLPrefix:        prefix,
		ConnectionString: profile.ConnectionString,
		DatabasesFolder:  a.DatabasesFolderPath,
		ConfigPath:       filepath.Join(a.WebRootPath, "App_Config", "connectionstrings.yaml"),
	}
	return a, nil
}

// NamedArgs exposes the database args to steps declaring args: database.
func (a *InstallArgs) NamedArgs() map[string]pipeline.Args {
	if a.Database == nil {
		return nil
	}
	return map[string]pipeline.Args{DatabaseArgsName: a.Database}
}

// DatabaseArgs is the argument struct of database steps.
type DatabaseArgs struct {
	pipeline.BaseArgs

	InstanceName     string `json:"instanceName"`
	SQLPrefix        string `json:"sqlPrefix"`
	ConnectionString string `json:"connectionString"`
	DatabasesFolder  string `json:"databasesFolder"`
	ConfigPath       string `json:"configPath"`
	// Databases maps logical names (core, master, web) to physical names.
	Databases map[string]string `json:"databases,omitempty"`
}

// DeleteArgs is the root argument struct of the delete pipeline.
type DeleteArgs struct {
	pipeline.BaseArgs

	InstanceName string `json:"instanceName"`
	RootPath     string `json:"rootPath"`
}

// NewDeleteArgs builds delete arguments for the instance rooted at rootPath.
func NewDeleteArgs(name, rootPath string) *DeleteArgs {
	return &DeleteArgs{InstanceName: name, RootPath: rootPath}
}
