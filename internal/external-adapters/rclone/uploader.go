// Package rclone transfers produced artifacts to remote storage via the
// rclone binary.
package rclone

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// Uploader implements interfaces.Uploader. Each file is copied with its
// own rclone invocation so one failure never aborts the batch.
type Uploader struct {
	binary string
	log    interfaces.Logger
}

var _ interfaces.Uploader = (*Uploader)(nil)

// NewUploader returns an Uploader using the rclone binary on PATH.
func NewUploader(logger interfaces.Logger) *Uploader {
	return &Uploader{binary: "rclone", log: interfaces.OrNoOp(logger)}
}

// Upload copies each local path to the destination, returning one
// result per attempted path.
func (u *Uploader) Upload(ctx context.Context, paths []string, destination string) map[string]interfaces.UploadResult {
	results := make(map[string]interfaces.UploadResult, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			results[p] = interfaces.UploadResult{Success: false, Error: fmt.Sprintf("file not found: %s", p)}
			continue
		}
		results[p] = u.copy(ctx, p, destination)
		if results[p].Success {
			u.log.Info("uploaded", interfaces.F("path", p), interfaces.F("destination", destination))
		} else {
			u.log.Error("upload failed", interfaces.F("path", p), interfaces.F("error", results[p].Error))
		}
	}
	return results
}

func (u *Uploader) copy(ctx context.Context, path, destination string) interfaces.UploadResult {
	cmd := exec.CommandContext(ctx, u.binary, "copy", path, destination)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return interfaces.UploadResult{Success: false, Error: msg}
	}
	return interfaces.UploadResult{Success: true}
}
