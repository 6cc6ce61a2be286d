package interfaces

import (
	"context"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
)

// EnvironmentCollector captures a snapshot of the host and tool
// environment. Implementations never fail; unknowable values fall back
// to "Unknown".
type EnvironmentCollector interface {
	Collect() entities.EnvironmentMetadata
}

// GitCollector captures the git state of a source tree. Implementations
// never fail: a missing tool, a timeout, or a directory that is not a
// repository all yield {Present: false}.
type GitCollector interface {
	Collect(ctx context.Context, dir string) entities.GitMetadata
}

// UploadResult reports the outcome of transferring one file.
type UploadResult struct {
	Success bool
	Error   string
}

// Uploader transfers local files to a remote destination. One file's
// failure never aborts the batch; the returned map has one entry per
// attempted path.
type Uploader interface {
	Upload(ctx context.Context, paths []string, destination string) map[string]UploadResult
}

// SignatureVerifier checks a detached signature over a file. The
// verifier gateway uses it, when configured, to authenticate the
// checksum sidecar.
type SignatureVerifier interface {
	VerifyDetached(targetPath, signaturePath string) error
}
