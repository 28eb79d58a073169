// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/chanrelay/internal/config"
	"github.com/ManuGH/chanrelay/internal/version"
)

func runConfigCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stderr)
		return 0
	}

	switch args[0] {
	case "init":
		return runConfigInit(args[1:], stdout, stderr)
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  chanrelay config init [--force] <path>")
	fmt.Fprintln(w, "  chanrelay config validate <path>")
	fmt.Fprintln(w, "  chanrelay config dump <path>")
}

// pathArg parses flags and returns the single positional path.
func pathArg(fs *flag.FlagSet, args []string, stderr io.Writer) (string, bool) {
	if err := fs.Parse(args); err != nil {
		return "", false
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintf(stderr, "Error: %s needs exactly one config path\n", fs.Name())
		return "", false
	}
	return strings.TrimSpace(fs.Arg(0)), true
}

func runConfigInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chanrelay config init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	force := fs.Bool("force", false, "overwrite an existing file")

	path, ok := pathArg(fs, args, stderr)
	if !ok {
		return 2
	}
	if err := config.WriteDefault(path, *force); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			fmt.Fprintf(stderr, "%s already exists (use --force to overwrite)\n", path)
			return 1
		}
		fmt.Fprintf(stderr, "Failed to write %s: %v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return 0
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chanrelay config validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	path, ok := pathArg(fs, args, stderr)
	if !ok {
		return 2
	}
	if _, err := config.NewLoader(path, version.Version).Load(); err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "%s is valid\n", path)
	return 0
}

// runConfigDump prints the effective configuration (defaults + file + env)
// with the transport key redacted.
func runConfigDump(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chanrelay config dump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	path, ok := pathArg(fs, args, stderr)
	if !ok {
		return 2
	}
	cfg, err := config.NewLoader(path, version.Version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}
	if cfg.Transport.Key != "" {
		cfg.Transport.Key = "***"
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
		return 1
	}
	_ = enc.Close()
	return 0
}
