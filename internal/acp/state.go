package acp

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// InstalledAgentInfo records one installed agent. binaryPath is set for
// binary distributions, package for npx/uvx.
type InstalledAgentInfo struct {
	AgentID     string   `json:"agentId"`
	Version     string   `json:"version"`
	DistType    DistType `json:"distType"`
	InstalledAt string   `json:"installedAt"`
	BinaryPath  string   `json:"binaryPath,omitempty"`
	Package     string   `json:"package,omitempty"`
}

type installedAgentsState struct {
	Agents map[string]InstalledAgentInfo `json:"agents"`
}

// StateStore is the durable agent-id -> InstalledAgentInfo mapping backed by
// installed.json. Every mutation writes through to disk before returning.
type StateStore struct {
	paths Paths

	mu    sync.RWMutex
	state installedAgentsState
}

func NewStateStore(paths Paths) *StateStore {
	return &StateStore{
		paths: paths,
		state: installedAgentsState{Agents: map[string]InstalledAgentInfo{}},
	}
}

// Load reads installed.json. A missing file is not an error: fresh installs
// start empty.
func (s *StateStore) Load() error {
	data, err := os.ReadFile(s.paths.InstalledStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read installed.json: %w", err)
	}

	var loaded installedAgentsState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse installed.json: %w", err)
	}
	if loaded.Agents == nil {
		loaded.Agents = map[string]InstalledAgentInfo{}
	}

	s.mu.Lock()
	s.state = loaded
	s.mu.Unlock()
	return nil
}

func (s *StateStore) save() error {
	if err := s.paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create state dirs: %w", err)
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(&s.state, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	if err := os.WriteFile(s.paths.InstalledStatePath(), data, 0644); err != nil {
		return fmt.Errorf("write installed.json: %w", err)
	}
	return nil
}

// IsInstalled reports whether agentID has a state record.
func (s *StateStore) IsInstalled(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.Agents[agentID]
	return ok
}

// InstalledVersion returns the recorded version for agentID.
func (s *StateStore) InstalledVersion(agentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.state.Agents[agentID]
	return info.Version, ok
}

// Info returns the full record for agentID.
func (s *StateStore) Info(agentID string) (InstalledAgentInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.state.Agents[agentID]
	return info, ok
}

// All returns every installed agent record, order unspecified.
func (s *StateStore) All() []InstalledAgentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InstalledAgentInfo, 0, len(s.state.Agents))
	for _, info := range s.state.Agents {
		out = append(out, info)
	}
	return out
}

// MarkInstalled records an install and flushes to disk.
func (s *StateStore) MarkInstalled(agentID, version string, distType DistType, binaryPath, pkg string) error {
	info := InstalledAgentInfo{
		AgentID:     agentID,
		Version:     version,
		DistType:    distType,
		InstalledAt: time.Now().UTC().Format(time.RFC3339),
		BinaryPath:  binaryPath,
		Package:     pkg,
	}

	s.mu.Lock()
	s.state.Agents[agentID] = info
	s.mu.Unlock()

	return s.save()
}

// Uninstall removes the record and flushes to disk. Removing an absent
// record is not an error.
func (s *StateStore) Uninstall(agentID string) error {
	s.mu.Lock()
	delete(s.state.Agents, agentID)
	s.mu.Unlock()

	return s.save()
}

// HasUpdate reports whether agentID is installed at a version different from
// latestVersion. An uninstalled agent never has an update; callers check
// installed-ness separately.
func (s *StateStore) HasUpdate(agentID, latestVersion string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.state.Agents[agentID]
	return ok && info.Version != latestVersion
}
