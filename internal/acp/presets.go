package acp

import (
	"os/exec"
	"sort"
)

// ProviderPreset is a known ACP-capable coding agent the gateway can drive
// directly, independent of the download registry.
type ProviderPreset struct {
	Name        string
	Description string
	Command     string
	Args        []string
}

// Presets returns the built-in provider catalog.
func Presets() []ProviderPreset {
	return []ProviderPreset{
		{
			Name:        "opencode",
			Description: "OpenCode terminal coding agent",
			Command:     "opencode",
			Args:        []string{"acp"},
		},
		{
			Name:        "claude",
			Description: "Claude Code CLI",
			Command:     "claude-code-acp",
		},
		{
			Name:        "gemini",
			Description: "Gemini CLI",
			Command:     "gemini",
			Args:        []string{"--experimental-acp"},
		},
		{
			Name:        "codex",
			Description: "Codex CLI ACP adapter",
			Command:     "codex-acp",
		},
	}
}

// FindPreset looks up a preset by provider name.
func FindPreset(name string) (ProviderPreset, bool) {
	for _, p := range Presets() {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderPreset{}, false
}

// ProviderStatus is one row of the _providers/list result.
type ProviderStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Command     string `json:"command"`
	Status      string `json:"status"`
}

// ProbeProviders resolves each preset command on PATH and returns the
// catalog sorted available-before-unavailable, then by name. A probe
// failure just marks the provider unavailable.
func ProbeProviders() []ProviderStatus {
	presets := Presets()
	out := make([]ProviderStatus, 0, len(presets))
	for _, p := range presets {
		status := "unavailable"
		if _, err := exec.LookPath(p.Command); err == nil {
			status = "available"
		}
		out = append(out, ProviderStatus{
			ID:          p.Name,
			Name:        p.Name,
			Description: p.Description,
			Command:     p.Command,
			Status:      status,
		})
	}

	sortProviders(out)
	return out
}

func sortProviders(providers []ProviderStatus) {
	sort.Slice(providers, func(i, j int) bool {
		if providers[i].Status != providers[j].Status {
			return providers[i].Status == "available"
		}
		return providers[i].Name < providers[j].Name
	})
}
