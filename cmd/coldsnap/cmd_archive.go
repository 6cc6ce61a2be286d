// Package main provides the coldsnap CLI for creating verifiable cold-storage archives.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/coldsnap/coldsnap/internal/domain-adapters/gateways"
	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
	gitcollector "github.com/coldsnap/coldsnap/internal/external-adapters/git"
	"github.com/coldsnap/coldsnap/internal/external-adapters/rclone"
	"github.com/coldsnap/coldsnap/internal/external-adapters/sysinfo"
)

func runArchive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	var (
		outputDir        = fs.String("output-dir", ".", "Directory where the archive and sidecars are written")
		name             = fs.String("name", "", "Archive base name (default: derived from source directory and timestamp)")
		notes            = fs.StringSlice("note", nil, "Free-form note recorded in the manifest (repeatable)")
		contacts         = fs.StringSlice("contact", nil, "Contact recorded in the manifest (repeatable)")
		eventType        = fs.String("event-type", "", "Event classification recorded in the manifest (e.g. experiment, release)")
		eventName        = fs.String("event-name", "", "Event name recorded in the manifest")
		compressionLevel = fs.Int("compression-level", gateways.DefaultCompressionLevel, "Gzip compression level (0-9)")
		excludes         = fs.StringSlice("exclude", nil, "Glob pattern to exclude (repeatable)")
		includeVCS       = fs.Bool("include-vcs", false, "Include version-control directories (.git, .hg, ...)")
		respectGitignore = fs.Bool("respect-gitignore", false, "Also exclude paths matched by the source's top-level .gitignore")
		splitSize        = fs.String("split-size", "", "Split into parts no larger than this size (e.g. 2GB); disables manifest generation")
		remote           = fs.String("remote", "", "rclone destination to upload the finished artifacts to (e.g. b2:bucket/path)")
		dryRun           = fs.Bool("dry-run", false, "Report what would be archived without writing anything")
		verbose          = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: coldsnap archive <source-dir> [options]

Create an immutable tar.gz snapshot of a directory with a checksum
sidecar and a metadata manifest.

Examples:
  coldsnap archive ./run-2026-08-12
  coldsnap archive ./dataset --name dataset-v3 --note "post-cleanup"
  coldsnap archive ./results --exclude '*.pyc' --exclude '__pycache__'
  coldsnap archive ./bigdata --split-size 2GB
  coldsnap archive ./run --remote b2:lab-coldstore/2026

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
	sourceDir := fs.Arg(0)

	var logger interfaces.Logger
	if *verbose {
		logger = &interfaces.StdoutLogger{}
	}

	scanner, err := gateways.NewScanner(gateways.ScannerConfig{
		Root:             sourceDir,
		ExcludePatterns:  *excludes,
		ExcludeVCS:       !*includeVCS,
		RespectGitignore: *respectGitignore,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if *dryRun {
		return printDryRun(ctx, scanner)
	}

	archiveRoot := *name
	if archiveRoot == "" {
		archiveRoot = defaultArchiveName(scanner.Root())
	}

	if *splitSize != "" {
		return archiveSplit(ctx, scanner, archiveRoot, *outputDir, *splitSize, *compressionLevel, *remote, logger)
	}

	// Collect provenance before the build so the manifest records the
	// state of the source as it was archived.
	env := sysinfo.NewCollector(version).Collect()
	git := gitcollector.NewCollector(logger).Collect(ctx, scanner.Root())

	outputPath := filepath.Join(*outputDir, archiveRoot+".tar.gz")
	builder, err := gateways.NewArchiveBuilder(gateways.BuilderConfig{
		OutputPath:       outputPath,
		CompressionLevel: *compressionLevel,
		ComputeSHA256:    true,
		GenerateFileList: true,
		GenerateManifest: true,
		Event: entities.EventMetadata{
			Type:     *eventType,
			Name:     *eventName,
			Notes:    *notes,
			Contacts: *contacts,
		},
		Environment: env,
		Git:         git,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("📦 Archiving %s\n", scanner.Root())
	start := time.Now()
	result, err := builder.Create(ctx, scanner, archiveRoot)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Archive created in %.1fs\n", time.Since(start).Seconds())
	fmt.Printf("   %s (%s)\n", result.Path, formatSize(result.SizeBytes))
	fmt.Printf("   sha256: %s\n", result.SHA256)
	fmt.Printf("   files: %d  dirs: %d  symlinks: %d\n", result.FilesAdded, result.DirsAdded, result.SymlinksAdded)
	if result.ManifestPath != "" {
		fmt.Printf("   manifest: %s\n", result.ManifestPath)
	}

	if *remote != "" {
		artifacts := []string{result.Path}
		if result.ChecksumPath != "" {
			artifacts = append(artifacts, result.ChecksumPath)
		}
		if result.ManifestPath != "" {
			artifacts = append(artifacts, result.ManifestPath)
		}
		return uploadArtifacts(ctx, artifacts, *remote, logger)
	}
	return nil
}

func archiveSplit(ctx context.Context, scanner *gateways.Scanner, archiveRoot, outputDir, splitSize string, level int, remote string, logger interfaces.Logger) error {
	maxSize, err := gateways.ParseSize(splitSize)
	if err != nil {
		return err
	}

	splitter, err := gateways.NewSplitter(gateways.SplitterConfig{
		BaseOutputPath:   filepath.Join(outputDir, archiveRoot+".tar.gz"),
		MaxPartSize:      maxSize,
		CompressionLevel: level,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("📦 Archiving %s into parts of at most %s\n", scanner.Root(), splitSize)
	parts, master, err := splitter.Create(ctx, scanner, archiveRoot)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Created %d part(s)\n", len(parts))
	var artifacts []string
	for _, p := range parts {
		fmt.Printf("   %s (%s)\n", p.Path, formatSize(p.SizeBytes))
		artifacts = append(artifacts, p.Path)
	}
	if master != "" {
		fmt.Printf("   master sha256: %s\n", master)
	}
	checksumPath := filepath.Join(outputDir, archiveRoot+".tar.gz.sha256")
	if _, err := os.Stat(checksumPath); err == nil {
		artifacts = append(artifacts, checksumPath)
	}

	if remote != "" {
		return uploadArtifacts(ctx, artifacts, remote, logger)
	}
	return nil
}

func printDryRun(ctx context.Context, scanner *gateways.Scanner) error {
	counts, err := scanner.Count(ctx)
	if err != nil {
		return err
	}
	size, err := scanner.EstimateSize(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("🔍 Dry run for %s\n", scanner.Root())
	fmt.Printf("   files: %d  dirs: %d  symlinks: %d\n", counts.Files, counts.Dirs, counts.Symlinks)
	fmt.Printf("   uncompressed size: %s\n", formatSize(size))
	return nil
}

func uploadArtifacts(ctx context.Context, paths []string, destination string, logger interfaces.Logger) error {
	fmt.Printf("☁️  Uploading %d file(s) to %s\n", len(paths), destination)
	results := rclone.NewUploader(logger).Upload(ctx, paths, destination)

	failed := 0
	for _, p := range paths {
		r := results[p]
		if r.Success {
			fmt.Printf("   ✓ %s\n", filepath.Base(p))
		} else {
			failed++
			fmt.Printf("   ✗ %s - %s\n", filepath.Base(p), r.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("upload failed for %d of %d file(s)", failed, len(paths))
	}
	fmt.Println("✅ Upload complete")
	return nil
}

// defaultArchiveName derives an archive base name from the source
// directory and the current UTC time.
func defaultArchiveName(root string) string {
	base := filepath.Base(root)
	if base == "/" || base == "." {
		base = "archive"
	}
	return fmt.Sprintf("%s_%s", base, time.Now().UTC().Format("2006-01-02_15-04-05"))
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	units := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < len(units)-1; m /= unit {
		div *= unit
		exp++
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/float64(div)), ".0") + " " + units[exp]
}
