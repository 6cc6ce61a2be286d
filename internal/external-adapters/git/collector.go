// Package git captures the git state of a source tree by shelling out
// to the git binary.
package git

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// commandTimeout bounds each git invocation so a hung git (network
// filesystem, stale lock) cannot stall an archive run.
const commandTimeout = 5 * time.Second

// Collector implements interfaces.GitCollector. A missing git binary,
// a timeout, or a directory that is not a repository all yield
// {Present: false}; collection never fails.
type Collector struct {
	log interfaces.Logger
}

var _ interfaces.GitCollector = (*Collector)(nil)

// NewCollector returns a Collector logging through the given logger.
func NewCollector(logger interfaces.Logger) *Collector {
	return &Collector{log: interfaces.OrNoOp(logger)}
}

// Collect captures the git snapshot for dir.
func (c *Collector) Collect(ctx context.Context, dir string) entities.GitMetadata {
	inside, ok := c.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if !ok || inside != "true" {
		return entities.GitMetadata{Present: false}
	}

	meta := entities.GitMetadata{Present: true}
	if commit, ok := c.run(ctx, dir, "rev-parse", "HEAD"); ok {
		meta.Commit = commit
	}
	if branch, ok := c.run(ctx, dir, "branch", "--show-current"); ok {
		meta.Branch = branch
	}
	// Fails unless HEAD is exactly at a tag; that is not an error.
	if tag, ok := c.run(ctx, dir, "describe", "--tags", "--exact-match"); ok {
		meta.Tag = tag
	}
	if status, ok := c.run(ctx, dir, "status", "--porcelain"); ok {
		dirty := status != ""
		meta.Dirty = &dirty
	}
	if remote, ok := c.run(ctx, dir, "remote", "get-url", "origin"); ok {
		meta.RemoteURL = remote
	}
	return meta
}

// run executes one git command in dir with a timeout, returning trimmed
// stdout and whether it succeeded.
func (c *Collector) run(ctx context.Context, dir string, args ...string) (string, bool) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	full := append([]string{"-C", dir}, args...)
	out, err := exec.CommandContext(cmdCtx, "git", full...).Output()
	if err != nil {
		c.log.Debug("git command failed", interfaces.F("args", strings.Join(args, " ")), interfaces.F("error", err))
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}
