package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/coldsnap/coldsnap/internal/domain-adapters/gateways"
	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
	"github.com/coldsnap/coldsnap/internal/external-adapters/gpg"
)

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	var (
		deep     = fs.Bool("deep", false, "Stream the archive and check every member against the stored file listing")
		failFast = fs.Bool("fail-fast", false, "Stop the deep pass at the first mismatch")
		manifest = fs.String("manifest", "", "Manifest sidecar path (default: <archive>.MANIFEST.json)")
		keyring  = fs.String("keyring", "", "GPG public keyring for verifying a detached .asc signature")
		verbose  = fs.Bool("verbose", false, "Verbose logging")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: coldsnap verify <archive.tar.gz> [options]

Check an archive against its checksum sidecar and manifest. A quick
verification reads only the metadata; --deep re-hashes every member.

Examples:
  coldsnap verify run.tar.gz
  coldsnap verify run.tar.gz --deep
  coldsnap verify run.tar.gz --deep --fail-fast
  coldsnap verify run.tar.gz --keyring release-keys.gpg

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
	archivePath := fs.Arg(0)

	var logger interfaces.Logger
	if *verbose {
		logger = &interfaces.StdoutLogger{}
	}

	var signature interfaces.SignatureVerifier
	if *keyring != "" {
		v := gpg.NewVerifier()
		if err := v.LoadKeyringFile(*keyring); err != nil {
			return fmt.Errorf("loading keyring: %w", err)
		}
		signature = v
	}

	verifier, err := gateways.NewVerifier(gateways.VerifierConfig{
		ArchivePath:  archivePath,
		ManifestPath: *manifest,
		Signature:    signature,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var result *entities.VerificationResult
	if *deep {
		fmt.Printf("🔍 Deep verification of %s\n", archivePath)
		result = verifier.VerifyDeep(ctx, gateways.DeepOptions{
			FailFast: *failFast,
			Progress: func(filesVerified, totalFiles int, currentPath string) {
				if *verbose {
					fmt.Printf("   [%d/%d] %s\n", filesVerified, totalFiles, currentPath)
				}
			},
		})
	} else {
		fmt.Printf("🔍 Quick verification of %s\n", archivePath)
		result = verifier.VerifyQuick(ctx)
	}

	printVerification(result)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !result.Passed {
		return fmt.Errorf("verification failed")
	}
	return nil
}

func printVerification(result *entities.VerificationResult) {
	fmt.Printf("   checks: %d/%d passed\n", result.ChecksPassed, result.ChecksPerformed)
	if result.FilesVerified != nil {
		fmt.Printf("   files verified: %d\n", *result.FilesVerified)
	}
	if result.BytesVerified != nil {
		fmt.Printf("   bytes verified: %s\n", formatSize(*result.BytesVerified))
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Printf("❌ %s\n", e)
	}

	if result.Passed {
		fmt.Printf("✅ Verification passed (%.2fs)\n", result.ElapsedSeconds)
	} else {
		fmt.Printf("❌ Verification failed (%.2fs)\n", result.ElapsedSeconds)
	}
}
