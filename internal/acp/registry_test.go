package acp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const testRegistryDoc = `{
  "version": "1",
  "agents": [
    {
      "id": "opencode",
      "name": "OpenCode",
      "version": "0.3.0",
      "distribution": {
        "binary": {
          "linux-x86_64": {"archive": "https://example.com/opencode.tar.gz", "cmd": "./opencode"}
        }
      }
    },
    {
      "id": "gemini",
      "name": "Gemini CLI",
      "version": "2.0.0",
      "distribution": {
        "npx": {"package": "@google/gemini-cli", "args": ["--experimental-acp"]}
      }
    },
    {
      "id": "pyagent",
      "name": "PyAgent",
      "version": "0.1.0",
      "distribution": {
        "uvx": {"package": "pyagent"}
      }
    }
  ]
}`

func TestRegistryDistTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testRegistryDoc))
	}))
	defer srv.Close()

	c := NewRegistryClient(srv.URL, NewPaths(t.TempDir()))
	reg, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	oc, ok := reg.Entry("opencode")
	if !ok || oc.DistType() != DistBinary {
		t.Fatalf("opencode entry: %+v", oc)
	}
	if info, ok := oc.BinaryFor("linux-x86_64"); !ok || info.Cmd != "./opencode" {
		t.Errorf("BinaryFor: %+v ok=%v", info, ok)
	}
	if _, ok := oc.BinaryFor("darwin-aarch64"); ok {
		t.Error("unexpected platform match")
	}

	gem, _ := reg.Entry("gemini")
	if gem.DistType() != DistNpx || gem.Package() != "@google/gemini-cli" {
		t.Errorf("gemini entry: %+v", gem)
	}

	py, _ := reg.Entry("pyagent")
	if py.DistType() != DistUvx {
		t.Errorf("pyagent entry: %+v", py)
	}

	if _, ok := reg.Entry("nope"); ok {
		t.Error("found entry that should not exist")
	}
}

func TestRegistryCommandResolution(t *testing.T) {
	npx := &RegistryEntry{ID: "n", Distribution: Distribution{Npx: &PackageDist{Package: "pkg", Args: []string{"--acp"}}}}
	cmd, args, err := npx.Command("")
	if err != nil || cmd != "npx" || len(args) != 3 || args[0] != "-y" || args[1] != "pkg" || args[2] != "--acp" {
		t.Errorf("npx command = %q %v (%v)", cmd, args, err)
	}

	uvx := &RegistryEntry{ID: "u", Distribution: Distribution{Uvx: &PackageDist{Package: "pkg"}}}
	cmd, args, err = uvx.Command("")
	if err != nil || cmd != "uvx" || len(args) != 1 || args[0] != "pkg" {
		t.Errorf("uvx command = %q %v (%v)", cmd, args, err)
	}

	bin := &RegistryEntry{ID: "b", Distribution: Distribution{Binary: map[string]BinaryInfo{"linux-x86_64": {}}}}
	cmd, _, err = bin.Command("/opt/agent")
	if err != nil || cmd != "/opt/agent" {
		t.Errorf("binary command = %q (%v)", cmd, err)
	}
	if _, _, err := bin.Command(""); err == nil {
		t.Error("binary without path should error")
	}

	empty := &RegistryEntry{ID: "e"}
	if _, _, err := empty.Command(""); err == nil {
		t.Error("empty distribution should error")
	}
}

func TestRegistryCacheFallback(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(testRegistryDoc))
	}))
	defer srv.Close()

	paths := NewPaths(t.TempDir())
	c := NewRegistryClient(srv.URL, paths)

	if _, err := c.Fetch(context.Background()); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	// Second fetch inside the refresh interval serves the cache.
	reg, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("remote hit %d times, want 1", hits.Load())
	}
	if len(reg.Agents) != 3 {
		t.Errorf("cached registry has %d agents, want 3", len(reg.Agents))
	}

	// A fresh client whose remote is down still serves the cache.
	srv.Close()
	offline := NewRegistryClient(srv.URL, paths)
	reg, err = offline.Fetch(context.Background())
	if err != nil {
		t.Fatalf("offline Fetch: %v", err)
	}
	if len(reg.Agents) != 3 {
		t.Errorf("offline registry has %d agents, want 3", len(reg.Agents))
	}
}
