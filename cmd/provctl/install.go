package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/GoCodeAlone/provision/config"
	"github.com/GoCodeAlone/provision/install"
	"github.com/GoCodeAlone/provision/instance"
	"github.com/GoCodeAlone/provision/product"
)

func runInstall(args []string) error {
	fs := pflag.NewFlagSet("install", pflag.ContinueOnError)
	g := addGlobalFlags(fs)
	productName := fs.StringP("product", "p", "", "Product name in the local repository (required)")
	productVersion := fs.String("version", "", "Product version or version prefix (default newest)")
	revision := fs.String("revision", "", "Product revision (default newest)")
	hosts := fs.StringSlice("host", nil, "Host name bound to the instance (repeatable, default the instance name)")
	sqlPrefix := fs.String("sql-prefix", "", "Database name prefix (default the instance name)")
	yes := fs.BoolP("yes", "y", false, "Answer yes to every confirmation")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: provctl install <name> --product <name> [options]\n\nInstall a product from the local repository as a new instance.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("instance name is required")
	}
	if *productName == "" {
		fs.Usage()
		return errors.New("--product is required")
	}

	ctx := context.Background()
	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadPipelines(); err != nil {
		return err
	}

	profile, err := a.profile()
	if err != nil {
		return err
	}
	if err := profile.ValidateRepository(); err != nil {
		return err
	}
	catalog, err := product.Scan(profile.LocalRepository)
	if err != nil {
		return err
	}
	prod, err := catalog.FindProduct(*productName, *productVersion, *revision)
	if err != nil {
		return err
	}

	installArgs, err := install.NewInstallArgs(profile, install.Options{
		Name:      fs.Arg(0),
		HostNames: *hosts,
		SQLPrefix: *sqlPrefix,
		Product:   prod,
	})
	if err != nil {
		return err
	}

	c, done := a.controller(*yes)
	defer done()
	return a.run(ctx, "install", installArgs, c)
}

func runDelete(args []string) error {
	fs := pflag.NewFlagSet("delete", pflag.ContinueOnError)
	g := addGlobalFlags(fs)
	yes := fs.BoolP("yes", "y", false, "Delete without asking for confirmation")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: provctl delete <name> [options]\n\nDelete an installed instance and its folder.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("instance name is required")
	}

	ctx := context.Background()
	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.loadPipelines(); err != nil {
		return err
	}

	profile, err := a.profile()
	if err != nil {
		return err
	}
	if err := profile.ValidateInstancesFolder(); err != nil {
		return err
	}
	inst, err := instance.Find(profile.InstancesFolder, fs.Arg(0))
	if err != nil {
		return err
	}

	c, done := a.controller(*yes)
	defer done()
	return a.run(ctx, "delete", install.NewDeleteArgs(inst.Name, inst.RootPath), c)
}

func runList(args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	profilePath := fs.String("profile", config.DefaultProfilePath(), "Profile file")
	detailed := fs.BoolP("detailed", "d", false, "Show product, folders, host names and databases")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: provctl list [filter] [options]\n\nList installed instances whose name contains filter.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	profile, err := config.ReadProfile(*profilePath)
	if err != nil {
		return err
	}
	listing, err := instance.Scan(profile.InstancesFolder, fs.Arg(0))
	if err != nil {
		return err
	}
	if len(listing.Instances) == 0 {
		fmt.Fprintln(stdout, "No instances found.")
	}
	for _, inst := range listing.Instances {
		if !*detailed {
			fmt.Fprintln(stdout, inst.Name)
			continue
		}
		fmt.Fprintf(stdout, "%s\n  product:   %s\n  location:  %s\n  data:      %s\n  hosts:     %s\n  databases: %s\n  installed: %s\n",
			inst.Name, inst.Product, inst.RootPath, inst.DataFolder, strings.Join(inst.HostNames, ", "),
			formatDatabases(inst.Databases), inst.InstalledAt.Local().Format("2006-01-02 15:04"))
	}
	if len(listing.Unreadable) > 0 {
		dirs := make([]string, 0, len(listing.Unreadable))
		for dir := range listing.Unreadable {
			dirs = append(dirs, dir)
		}
		sort.Strings(dirs)
		fmt.Fprintln(stdout, "\nSkipped folders with unreadable manifests:")
		for _, dir := range dirs {
			fmt.Fprintf(stdout, "  %s: %v\n", dir, listing.Unreadable[dir])
		}
	}
	return nil
}

// formatDatabases renders logical=physical pairs sorted by logical name.
func formatDatabases(dbs map[string]string) string {
	if len(dbs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(dbs))
	for k := range dbs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+dbs[k])
	}
	return strings.Join(pairs, ", ")
}
