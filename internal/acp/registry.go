package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Registry is the remote catalog of installable agents. It is refreshed
// wholesale; entries are never mutated in place.
type Registry struct {
	Version string          `json:"version,omitempty"`
	Agents  []RegistryEntry `json:"agents"`
}

// RegistryEntry describes one agent and how to obtain it.
type RegistryEntry struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version,omitempty"`
	Description  string       `json:"description,omitempty"`
	Icon         string       `json:"icon,omitempty"`
	Homepage     string       `json:"homepage,omitempty"`
	Repository   string       `json:"repository,omitempty"`
	Authors      []string     `json:"authors,omitempty"`
	License      string       `json:"license,omitempty"`
	Distribution Distribution `json:"distribution"`
}

// Distribution carries at most one of the three supported channels.
type Distribution struct {
	Npx    *PackageDist          `json:"npx,omitempty"`
	Uvx    *PackageDist          `json:"uvx,omitempty"`
	Binary map[string]BinaryInfo `json:"binary,omitempty"`
}

// PackageDist is a package-manager invocation (npx or uvx).
type PackageDist struct {
	Package string            `json:"package"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// BinaryInfo is a per-platform downloadable archive.
type BinaryInfo struct {
	Archive string `json:"archive"`
	Cmd     string `json:"cmd,omitempty"`
	Sha256  string `json:"sha256,omitempty"`
}

// DistType identifies how an agent is distributed.
type DistType string

const (
	DistNpx    DistType = "npx"
	DistUvx    DistType = "uvx"
	DistBinary DistType = "binary"
)

// DistType returns the distribution channel for the entry, or "" when the
// entry declares none.
func (e *RegistryEntry) DistType() DistType {
	switch {
	case e.Distribution.Npx != nil:
		return DistNpx
	case e.Distribution.Uvx != nil:
		return DistUvx
	case e.Distribution.Binary != nil:
		return DistBinary
	}
	return ""
}

// BinaryFor returns the binary info for a platform key, if any.
func (e *RegistryEntry) BinaryFor(platform string) (BinaryInfo, bool) {
	info, ok := e.Distribution.Binary[platform]
	return info, ok
}

// Package returns the package name for npx/uvx entries.
func (e *RegistryEntry) Package() string {
	if e.Distribution.Npx != nil {
		return e.Distribution.Npx.Package
	}
	if e.Distribution.Uvx != nil {
		return e.Distribution.Uvx.Package
	}
	return ""
}

// Command resolves the invocation that runs this agent. binaryPath is
// required for binary distributions and ignored otherwise.
func (e *RegistryEntry) Command(binaryPath string) (string, []string, error) {
	if npx := e.Distribution.Npx; npx != nil {
		return "npx", append([]string{"-y", npx.Package}, npx.Args...), nil
	}
	if uvx := e.Distribution.Uvx; uvx != nil {
		return "uvx", append([]string{uvx.Package}, uvx.Args...), nil
	}
	if e.Distribution.Binary != nil {
		if binaryPath == "" {
			return "", nil, fmt.Errorf("agent %s: binary distribution but no installed binary", e.ID)
		}
		return binaryPath, nil, nil
	}
	return "", nil, fmt.Errorf("agent %s: no usable distribution", e.ID)
}

// RegistryClient fetches the remote registry document and keeps a cached
// copy on disk so the catalog survives offline starts. Remote fetches are
// rate limited; callers that refresh too eagerly get the cached copy.
type RegistryClient struct {
	url     string
	paths   Paths
	client  *http.Client
	limiter *rate.Limiter
}

const registryRefreshInterval = 5 * time.Minute

func NewRegistryClient(url string, paths Paths) *RegistryClient {
	return &RegistryClient{
		url:     url,
		paths:   paths,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(registryRefreshInterval), 1),
	}
}

// Fetch returns the registry, preferring a fresh remote copy. When the
// limiter denies a refresh, or the fetch fails and a cache exists, the
// cached document is returned instead.
func (c *RegistryClient) Fetch(ctx context.Context) (*Registry, error) {
	if !c.limiter.Allow() {
		if reg, err := c.LoadCache(); err == nil {
			return reg, nil
		}
		// No cache yet; fall through to a real fetch.
	}

	reg, err := c.fetchRemote(ctx)
	if err != nil {
		logger.Warn("registry fetch failed, trying cache", "error", err)
		if cached, cacheErr := c.LoadCache(); cacheErr == nil {
			return cached, nil
		}
		return nil, err
	}

	if err := c.saveCache(reg); err != nil {
		logger.Warn("registry cache write failed", "error", err)
	}
	return reg, nil
}

func (c *RegistryClient) fetchRemote(ctx context.Context) (*Registry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch registry: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return &reg, nil
}

// LoadCache reads the on-disk registry copy.
func (c *RegistryClient) LoadCache() (*Registry, error) {
	data, err := os.ReadFile(c.paths.RegistryCachePath())
	if err != nil {
		return nil, err
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse cached registry: %w", err)
	}
	return &reg, nil
}

func (c *RegistryClient) saveCache(reg *Registry) error {
	if err := c.paths.EnsureDirectories(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.paths.RegistryCachePath(), data, 0644)
}

// Entry finds a registry entry by agent id.
func (r *Registry) Entry(agentID string) (*RegistryEntry, bool) {
	for i := range r.Agents {
		if r.Agents[i].ID == agentID {
			return &r.Agents[i], true
		}
	}
	return nil, false
}
