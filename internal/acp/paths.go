// Package acp manages locally installed ACP (Agent Client Protocol) agents:
// the registry of available agents, binary download and extraction, the
// persisted installation state, and the stdio bridge used to drive a running
// agent process.
package acp

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths computes the on-disk layout for agent installs under a base
// directory. It holds no state beyond the base path:
//
//	<base>/<agentId>/<version>/   extracted agent binaries
//	<base>/.downloads/            archive staging
//	<base>/.runtimes/             shared runtimes (node, uv)
//	<base>/.icons/                cached agent icons
//	<base>/registry.json          cached registry document
//	<base>/installed.json         installation state
type Paths struct {
	base string
}

// NewPaths returns a Paths rooted at baseDir.
func NewPaths(baseDir string) Paths {
	return Paths{base: baseDir}
}

func (p Paths) BaseDir() string { return p.base }

func (p Paths) AgentDir(agentID string) string {
	return filepath.Join(p.base, agentID)
}

func (p Paths) AgentVersionDir(agentID, version string) string {
	return filepath.Join(p.base, agentID, version)
}

func (p Paths) DownloadsDir() string {
	return filepath.Join(p.base, ".downloads")
}

func (p Paths) AgentDownloadDir(agentID, version string) string {
	return filepath.Join(p.DownloadsDir(), agentID, version)
}

func (p Paths) RuntimesDir() string {
	return filepath.Join(p.base, ".runtimes")
}

func (p Paths) RuntimeDir(runtimeName, version string) string {
	return filepath.Join(p.RuntimesDir(), runtimeName, version)
}

func (p Paths) IconsDir() string {
	return filepath.Join(p.base, ".icons")
}

func (p Paths) RegistryCachePath() string {
	return filepath.Join(p.base, "registry.json")
}

func (p Paths) InstalledStatePath() string {
	return filepath.Join(p.base, "installed.json")
}

// EnsureDirectories creates the base layout.
func (p Paths) EnsureDirectories() error {
	for _, d := range []string{p.base, p.DownloadsDir(), p.RuntimesDir(), p.IconsDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// CurrentPlatform returns the registry platform key for this host, e.g.
// "darwin-aarch64" or "linux-x86_64".
func CurrentPlatform() string {
	osName := runtime.GOOS
	arch := runtime.GOARCH
	switch arch {
	case "arm64":
		arch = "aarch64"
	case "amd64":
		arch = "x86_64"
	case "386":
		arch = "x86"
	}
	return osName + "-" + arch
}
