package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/coldsnap/coldsnap/internal/domain-adapters/gateways"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	var (
		listing = fs.Bool("listing", false, "Print every file recorded in the embedded file listing")
		asYAML  = fs.Bool("yaml", false, "Print the full manifest as YAML")
		verbose = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: coldsnap inspect <archive.tar.gz> [options]

Summarize an archive from its manifest and embedded metadata without
extracting it.

Examples:
  coldsnap inspect run.tar.gz
  coldsnap inspect run.tar.gz --listing
  coldsnap inspect run.tar.gz --yaml

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("archive path is required")
	}

	var logger interfaces.Logger
	if *verbose {
		logger = &interfaces.StdoutLogger{}
	}

	inspector, err := gateways.NewInspector(fs.Arg(0), logger)
	if err != nil {
		return err
	}

	if *asYAML {
		manifest, err := inspector.Manifest(ctx)
		if err != nil {
			return err
		}
		if manifest == nil {
			return fmt.Errorf("no manifest found for archive")
		}
		data, err := manifest.EncodeYAML()
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	}

	summary, err := inspector.Summary(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("📦 %s\n", summary.Filename)
	fmt.Printf("   size: %s\n", formatSize(summary.SizeBytes))
	fmt.Printf("   members: %d files, %d dirs, %d symlinks\n",
		summary.MemberCount.Files, summary.MemberCount.Dirs, summary.MemberCount.Symlinks)
	if m := summary.Manifest; m != nil {
		fmt.Printf("   created: %s\n", m.CreatedUTC)
		fmt.Printf("   tool: coldsnap v%s\n", m.Environment.Tools.ColdsnapVersion)
		if m.Archive.SHA256 != nil {
			fmt.Printf("   sha256: %s\n", *m.Archive.SHA256)
		}
		if m.Git.Present {
			dirty := ""
			if m.Git.Dirty != nil && *m.Git.Dirty {
				dirty = " (dirty)"
			}
			fmt.Printf("   git: %s%s\n", m.Git.Commit, dirty)
		}
		for _, note := range m.Event.Notes {
			fmt.Printf("   note: %s\n", note)
		}
	} else {
		fmt.Println("⚠️  No manifest found; summary derived from archive contents")
	}
	if !summary.HasFileList {
		fmt.Println("⚠️  Archive has no embedded file listing")
	}

	if *listing {
		records, err := inspector.FileListing(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		for _, r := range records {
			size := "-"
			if r.Size != nil {
				size = formatSize(*r.Size)
			}
			fmt.Printf("%-8s %10s  %s\n", r.Kind, size, r.Path)
		}
	}
	return nil
}
