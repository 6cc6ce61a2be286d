package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/coldsnap/coldsnap/internal/domain-adapters/gateways"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

func runScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var (
		excludes         = fs.StringSlice("exclude", nil, "Glob pattern to exclude (repeatable)")
		includeVCS       = fs.Bool("include-vcs", false, "Include version-control directories (.git, .hg, ...)")
		respectGitignore = fs.Bool("respect-gitignore", false, "Also exclude paths matched by the source's top-level .gitignore")
		list             = fs.Bool("list", false, "Print every entry that would be archived")
		verbose          = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: coldsnap scan <source-dir> [options]

Preview what an archive of a directory would contain, without writing
anything.

Examples:
  coldsnap scan ./run-2026-08-12
  coldsnap scan ./results --exclude '*.tmp' --list

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("source directory is required")
	}

	var logger interfaces.Logger
	if *verbose {
		logger = &interfaces.StdoutLogger{}
	}

	scanner, err := gateways.NewScanner(gateways.ScannerConfig{
		Root:             fs.Arg(0),
		ExcludePatterns:  *excludes,
		ExcludeVCS:       !*includeVCS,
		RespectGitignore: *respectGitignore,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if err := printDryRun(ctx, scanner); err != nil {
		return err
	}

	if *list {
		entries, err := scanner.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		for _, e := range entries {
			fmt.Printf("%-8s %s\n", e.Kind, e.RelPath)
		}
	}
	return nil
}
