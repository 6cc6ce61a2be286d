package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

// version is stamped into manifests as the tool version.
const version = "1.0.0"

// exitInterrupted is the exit code for a user interrupt, distinct from
// ordinary failure.
const exitInterrupted = 130

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		printUsage()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "archive":
		err = runArchive(ctx, args)
	case "verify":
		err = runVerify(ctx, args)
	case "inspect":
		err = runInspect(ctx, args)
	case "scan":
		err = runScan(ctx, args)
	case "version", "--version":
		fmt.Println("coldsnap v" + version)
		return 0
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		return 1
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted.")
			return exitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println(`coldsnap - Immutable, verifiable cold-storage snapshots

Usage:
  coldsnap <command> [options]

Commands:
  archive   Create a verifiable tar.gz snapshot of a directory tree
  verify    Check an archive against its stored metadata
  inspect   Summarize an archive from its metadata
  scan      Preview what an archive of a directory would contain
  version   Print the tool version

Use "coldsnap <command> --help" for more information about a command.`)
}
