// Package sysinfo collects the host environment snapshot recorded in
// archive manifests.
package sysinfo

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/coldsnap/coldsnap/internal/domain/entities"
	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// unknown is the fallback for any value the host refuses to reveal.
// Collection never fails: an archive with "Unknown" environment fields
// is better than no archive.
const unknown = "Unknown"

// Collector implements interfaces.EnvironmentCollector.
type Collector struct {
	toolVersion string
}

var _ interfaces.EnvironmentCollector = (*Collector)(nil)

// NewCollector records the tool version to embed in snapshots.
func NewCollector(toolVersion string) *Collector {
	if toolVersion == "" {
		toolVersion = unknown
	}
	return &Collector{toolVersion: toolVersion}
}

// Collect captures the environment snapshot.
func (c *Collector) Collect() entities.EnvironmentMetadata {
	return entities.EnvironmentMetadata{
		System: entities.SystemMetadata{
			OS:        osName(),
			OSVersion: osVersion(),
			Hostname:  hostname(),
		},
		Tools: entities.ToolsMetadata{
			ColdsnapVersion: c.toolVersion,
			GoVersion:       runtime.Version(),
		},
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return unknown
	}
	return name
}

func osName() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	default:
		return runtime.GOOS
	}
}

// osVersion asks uname for the kernel release. Anything going wrong
// degrades to Unknown.
func osVersion() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "uname", "-r").Output()
	if err != nil {
		return unknown
	}
	version := strings.TrimSpace(string(out))
	if version == "" {
		return unknown
	}
	return version
}
