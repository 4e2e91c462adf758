package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	ignore "github.com/sabhiram/go-gitignore"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/provision/instance"
	"github.com/GoCodeAlone/provision/pipeline"
	"github.com/GoCodeAlone/provision/processors"
)

// Register adds the install and delete processor types to r.
func Register(r *pipeline.ProcessorRegistry) {
	pipeline.RegisterProcessor[*InstallArgs](r, "install.validate", nil,
		func(pipeline.Values) (pipeline.TypedProcessor[*InstallArgs], error) {
			return pipeline.ProcessorFunc[*InstallArgs](validate), nil
		}, pipeline.WithDescription("Check install inputs before anything is written"))

	pipeline.RegisterProcessor[*InstallArgs](r, "install.extract", pipeline.Schema{
		{Name: "exclude", Kind: pipeline.KindStrings, Description: "gitignore-style patterns skipped during extraction"},
	}, newExtract, pipeline.WithDescription("Extract the product archive into the instance folder"))

	pipeline.RegisterProcessor[*InstallArgs](r, "install.license", pipeline.Schema{
		{Name: "fileName", Kind: pipeline.KindString, Default: "license.xml"},
	}, newLicense, pipeline.WithDescription("Copy the license file into the data folder"))

	pipeline.RegisterProcessor[*InstallArgs](r, "install.manifest", nil,
		func(pipeline.Values) (pipeline.TypedProcessor[*InstallArgs], error) {
			return pipeline.ProcessorFunc[*InstallArgs](writeManifest), nil
		}, pipeline.WithDescription("Record the instance manifest"))

	pipeline.RegisterProcessor[*DatabaseArgs](r, "database.connection-strings", pipeline.Schema{
		{Name: "databases", Kind: pipeline.KindStrings, Default: []string{"core", "master", "web"}},
	}, newConnectionStrings, pipeline.WithDescription("Name the instance databases and write the connection strings file"))

	pipeline.RegisterProcessor[*DeleteArgs](r, "instance.delete", pipeline.Schema{
		{Name: "keepFolder", Kind: pipeline.KindBool, Description: "remove only the manifest"},
	}, newDelete, pipeline.WithDescription("Delete an installed instance"))
}

func validate(_ context.Context, a *InstallArgs, c pipeline.Controller) (pipeline.Result, error) {
	var errs []error
	if _, err := os.Stat(a.RootPath); err == nil {
		errs = append(errs, fmt.Errorf("folder already exists: %s", a.RootPath))
	}
	if a.Product.Path == "" {
		errs = append(errs, errors.New("no product archive selected"))
	} else if _, err := os.Stat(a.Product.Path); err != nil {
		errs = append(errs, fmt.Errorf("product archive missing: %s", a.Product.Path))
	}
	if info, err := os.Stat(a.LicenseFile); err != nil || info.IsDir() {
		errs = append(errs, fmt.Errorf("license file missing: %s", a.LicenseFile))
	}
	if a.ConnectionString == "" {
		errs = append(errs, errors.New("connection string is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage(fmt.Sprintf("Installing %s as %s", a.Product, a.InstanceName))
	return pipeline.Continue, nil
}

type extract struct {
	exclude *ignore.GitIgnore
}

func newExtract(v pipeline.Values) (pipeline.TypedProcessor[*InstallArgs], error) {
	p := &extract{}
	if excl := v.Strings("exclude"); len(excl) > 0 {
		p.exclude = ignore.CompileIgnoreLines(excl...)
	}
	return p, nil
}

func (p *extract) Process(ctx context.Context, a *InstallArgs, c pipeline.Controller) (pipeline.Result, error) {
	n, err := processors.ExtractZip(ctx, a.Product.Path, a.RootPath, processors.ExtractOptions{
		StripRoot: true,
		Exclude:   p.exclude,
	})
	if err != nil {
		return pipeline.Continue, err
	}
	for _, dir := range []string{a.WebRootPath, a.DataFolderPath, a.DatabasesFolderPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return pipeline.Continue, err
		}
	}
	c.ReportMessage(fmt.Sprintf("Extracted %d files from %s", n, filepath.Base(a.Product.Path)))
	return pipeline.Continue, nil
}

type license struct {
	fileName string
}

func newLicense(v pipeline.Values) (pipeline.TypedProcessor[*InstallArgs], error) {
	name := v.String("fileName")
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("fileName must be a plain file name, got %q", name)
	}
	return &license{fileName: name}, nil
}

func (p *license) Process(_ context.Context, a *InstallArgs, c pipeline.Controller) (pipeline.Result, error) {
	data, err := os.ReadFile(a.LicenseFile)
	if err != nil {
		return pipeline.Continue, fmt.Errorf("read license: %w", err)
	}
	if err := os.MkdirAll(a.DataFolderPath, 0o755); err != nil {
		return pipeline.Continue, err
	}
	dest := filepath.Join(a.DataFolderPath, p.fileName)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return pipeline.Continue, fmt.Errorf("write license: %w", err)
	}
	sum, err := processors.FileChecksum(dest)
	if err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage(fmt.Sprintf("License installed (fingerprint %s)", sum[:12]))
	return pipeline.Continue, nil
}

type connectionStrings struct {
	databases []string
}

func newConnectionStrings(v pipeline.Values) (pipeline.TypedProcessor[*DatabaseArgs], error) {
	dbs := v.Strings("databases")
	if len(dbs) == 0 {
		return nil, errors.New("databases must not be empty")
	}
	return &connectionStrings{databases: dbs}, nil
}

// connectionStringsFile is the document written to DatabaseArgs.ConfigPath.
type connectionStringsFile struct {
	ConnectionStrings map[string]string `yaml:"connectionStrings"`
}

func (p *connectionStrings) Process(_ context.Context, a *DatabaseArgs, c pipeline.Controller) (pipeline.Result, error) {
	if a.Databases == nil {
		a.Databases = make(map[string]string, len(p.databases))
	}
	doc := connectionStringsFile{ConnectionStrings: make(map[string]string, len(p.databases))}
	for _, logical := range p.databases {
		physical := a.SQLPrefix + "_" + logical
		a.Databases[logical] = physical
		doc.ConnectionStrings[logical] = withDatabase(a.ConnectionString, physical)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return pipeline.Continue, err
	}
	if err := os.MkdirAll(filepath.Dir(a.ConfigPath), 0o755); err != nil {
		return pipeline.Continue, err
	}
	if err := os.WriteFile(a.ConfigPath, data, 0o600); err != nil {
		return pipeline.Continue, fmt.Errorf("write connection strings: %w", err)
	}

	names := make([]string, 0, len(a.Databases))
	for _, physical := range a.Databases {
		names = append(names, physical)
	}
	sort.Strings(names)
	c.ReportMessage("Databases: " + strings.Join(names, ", "))
	return pipeline.Continue, nil
}

// withDatabase replaces or appends the Database key of a
// key=value;key=value connection string.
func withDatabase(conn, database string) string {
	parts := strings.Split(conn, ";")
	out := make([]string, 0, len(parts)+1)
	for _, part := range parts {
		key, _, _ := strings.Cut(part, "=")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "database", "initial catalog":
			continue
		case "":
			if strings.TrimSpace(part) == "" {
				continue
			}
		}
		out = append(out, part)
	}
	out = append(out, "Database="+database)
	return strings.Join(out, ";")
}

func writeManifest(_ context.Context, a *InstallArgs, c pipeline.Controller) (pipeline.Result, error) {
	if a.InstanceID == "" {
		a.InstanceID = uuid.NewString()
	}
	inst := &instance.Instance{
		ID:          a.InstanceID,
		Name:        a.InstanceName,
		Product:     a.Product.String(),
		HostNames:   a.HostNames,
		RootPath:    a.RootPath,
		WebRootPath: a.WebRootPath,
		DataFolder:  a.DataFolderPath,
		InstalledAt: time.Now().UTC(),
	}
	if a.Database != nil {
		inst.Databases = a.Database.Databases
	}
	if err := instance.WriteManifest(inst); err != nil {
		return pipeline.Continue, err
	}
	c.ReportMessage("Manifest written to " + instance.ManifestPath(a.RootPath))
	return pipeline.Continue, nil
}

type deleteInstance struct {
	keepFolder bool
}

func newDelete(v pipeline.Values) (pipeline.TypedProcessor[*DeleteArgs], error) {
	return &deleteInstance{keepFolder: v.Bool("keepFolder")}, nil
}

func (p *deleteInstance) Process(_ context.Context, a *DeleteArgs, c pipeline.Controller) (pipeline.Result, error) {
	if _, err := os.Stat(instance.ManifestPath(a.RootPath)); errors.Is(err, fs.ErrNotExist) {
		return pipeline.Continue, fmt.Errorf("%s is not an instance folder", a.RootPath)
	}
	var err error
	if p.keepFolder {
		err = os.Remove(instance.ManifestPath(a.RootPath))
	} else {
		err = os.RemoveAll(a.RootPath)
	}
	if err != nil {
		return pipeline.Continue, fmt.Errorf("delete instance: %w", err)
	}
	c.ReportMessage(fmt.Sprintf("Instance %s deleted", a.InstanceName))
	return pipeline.Continue, nil
}
