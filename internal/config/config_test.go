package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "shipper.toml")
	os.WriteFile(configPath, []byte(`
[workspace]
projects_root = "/srv/projects"
artifact_dir = "/srv/artifacts"

[commands]
default_timeout = 30

[deploy.netlify]
api_url = "http://localhost:9999"

[agent]
model = "claude-3-5-sonnet"
max_turns = 5
`), 0644)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Workspace.ProjectsRoot != "/srv/projects" {
		t.Errorf("expected projects_root '/srv/projects', got %s", cfg.Workspace.ProjectsRoot)
	}
	if cfg.CommandTimeout() != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.CommandTimeout())
	}
	if cfg.Deploy.Netlify.APIURL != "http://localhost:9999" {
		t.Errorf("expected netlify override, got %s", cfg.Deploy.Netlify.APIURL)
	}
	// Untouched sections keep their defaults
	if cfg.Deploy.Vercel.APIURL != "https://api.vercel.com" {
		t.Errorf("expected vercel default, got %s", cfg.Deploy.Vercel.APIURL)
	}
	if cfg.Agent.MaxTurns != 5 {
		t.Errorf("expected max_turns 5, got %d", cfg.Agent.MaxTurns)
	}
	if cfg.Agent.MaxTokens != 4096 {
		t.Errorf("expected default max_tokens 4096, got %d", cfg.Agent.MaxTokens)
	}
}

func TestConfig_LoadDefaultMissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tmpDir)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if strings.HasPrefix(cfg.Storage.Path, "~") {
		t.Errorf("expected expanded storage path, got %s", cfg.Storage.Path)
	}
}

func TestConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipper.toml")
	os.WriteFile(path, []byte("[workspace\nprojects_root = "), 0644)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := New()
	cfg.Workspace.ProjectsRoot = "/srv/projects"
	cfg.Workspace.ArtifactDir = "/srv/artifacts"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Workspace.ArtifactDir = "/srv/projects/artifacts"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for artifact_dir inside projects_root")
	}

	cfg.Workspace.ArtifactDir = "/srv/artifacts"
	cfg.License.Provider = "paddle"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown license provider")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("expected %s, got %s", filepath.Join(home, "x"), got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("expected /abs unchanged, got %s", got)
	}
}
