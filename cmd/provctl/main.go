package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

var version = "dev"

var commands = map[string]func([]string) error{
	"install":  runInstall,
	"delete":   runDelete,
	"list":     runList,
	"pipeline": runPipeline,
	"history":  runHistory,
}

func usage() {
	fmt.Fprintf(os.Stderr, `provctl - instance provisioning CLI (version %s)

Usage:
  provctl <command> [options]

Commands:
  install    Install a product as a new instance
  delete     Delete an installed instance
  list       List installed instances
  pipeline   Pipeline definitions (list, show, run, validate, watch)
  history    Run history (list, show)
  version    Print the version

Run 'provctl <command> -h' for command-specific help.
`, version)
}

// exitCode maps a command result to the process exit status: 0 on success,
// 2 when a pipeline was aborted and 1 for any other error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errAborted):
		return 2
	default:
		return 1
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		if errors.Is(err, errAborted) {
			fmt.Fprintf(os.Stderr, "aborted: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}
