package acp

import (
	"context"
	"fmt"
)

// Installer ties the registry, binary manager and state store together:
// resolving a registry entry to an installed, runnable agent and keeping
// installed.json as the single source of truth.
type Installer struct {
	paths    Paths
	binaries *BinaryManager
	state    *StateStore
}

func NewInstaller(paths Paths, binaries *BinaryManager, state *StateStore) *Installer {
	return &Installer{paths: paths, binaries: binaries, state: state}
}

// Install makes the registry entry runnable and records it. Binary
// distributions download and extract; npx/uvx distributions only record the
// package (the package manager fetches on first run). A failed install
// leaves no state record.
func (in *Installer) Install(ctx context.Context, entry *RegistryEntry) (InstalledAgentInfo, error) {
	switch entry.DistType() {
	case DistBinary:
		info, ok := entry.BinaryFor(CurrentPlatform())
		if !ok {
			return InstalledAgentInfo{}, fmt.Errorf("agent %s: no binary for platform %s", entry.ID, CurrentPlatform())
		}
		exe, err := in.binaries.Install(ctx, entry.ID, entry.Version, info)
		if err != nil {
			return InstalledAgentInfo{}, err
		}
		if err := in.state.MarkInstalled(entry.ID, entry.Version, DistBinary, exe, ""); err != nil {
			return InstalledAgentInfo{}, err
		}

	case DistNpx, DistUvx:
		if err := in.state.MarkInstalled(entry.ID, entry.Version, entry.DistType(), "", entry.Package()); err != nil {
			return InstalledAgentInfo{}, err
		}

	default:
		return InstalledAgentInfo{}, fmt.Errorf("agent %s: no usable distribution", entry.ID)
	}

	rec, _ := in.state.Info(entry.ID)
	return rec, nil
}

// Uninstall removes both the on-disk tree and the state record. Either
// being absent already is not an error.
func (in *Installer) Uninstall(agentID string) error {
	if err := in.binaries.Uninstall(agentID); err != nil {
		return err
	}
	return in.state.Uninstall(agentID)
}

// Command resolves the invocation for an installed agent.
func (in *Installer) Command(entry *RegistryEntry) (string, []string, error) {
	rec, _ := in.state.Info(entry.ID)
	return entry.Command(rec.BinaryPath)
}

// State exposes the underlying store for read-side queries.
func (in *Installer) State() *StateStore { return in.state }
