// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// DefaultFile is the config file looked up in the current directory.
const DefaultFile = "shipper.toml"

// Config represents the shipper configuration.
type Config struct {
	Workspace WorkspaceConfig `toml:"workspace"`
	Commands  CommandsConfig  `toml:"commands"`
	Deploy    DeployConfig    `toml:"deploy"`
	Agent     AgentConfig     `toml:"agent"`
	Server    ServerConfig    `toml:"server"`
	License   LicenseConfig   `toml:"license"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Events    EventsConfig    `toml:"events"`
	Logging   LoggingConfig   `toml:"logging"`
}

// WorkspaceConfig locates session sandboxes and packaging scratch space.
type WorkspaceConfig struct {
	ProjectsRoot string `toml:"projects_root"`
	ArtifactDir  string `toml:"artifact_dir"` // Must live outside projects_root
}

// CommandsConfig controls run.command.
type CommandsConfig struct {
	Shell          string `toml:"shell"`
	DefaultTimeout int    `toml:"default_timeout"` // seconds, 0 = no timeout
	MaxOutputBytes int64  `toml:"max_output_bytes"`
}

// DeployConfig contains provider endpoints.
type DeployConfig struct {
	HTTPTimeout int            `toml:"http_timeout"` // seconds per provider request
	Netlify     ProviderConfig `toml:"netlify"`
	Vercel      ProviderConfig `toml:"vercel"`
	Render      ProviderConfig `toml:"render"`
}

// ProviderConfig overrides a provider's API base URL.
type ProviderConfig struct {
	APIURL string `toml:"api_url"`
}

// AgentConfig contains LLM settings for `shipper ask`.
type AgentConfig struct {
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	MaxTurns  int    `toml:"max_turns"`
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"`
	Parallel  int    `toml:"parallel"` // Concurrent tool calls per turn
}

// ServerConfig contains HTTP tool server settings.
type ServerConfig struct {
	Addr     string `toml:"addr"`
	TokenEnv string `toml:"token_env"` // Bearer token required by the server, if set
}

// LicenseConfig configures the license gate.
type LicenseConfig struct {
	Provider         string `toml:"provider"` // gumroad or none
	ProductPermalink string `toml:"product_permalink"`
	KeyEnv           string `toml:"key_env"`
	APIURL           string `toml:"api_url"`
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path string `toml:"path"` // Run records and session journals
}

// TelemetryConfig contains tracing settings.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	Output  string `toml:"output"` // File for span export, stderr if empty
}

// EventsConfig configures deploy stage event publishing.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // Empty disables publishing
	Subject string `toml:"subject"`
}

// LoggingConfig sets log level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			ProjectsRoot: "~/.local/shipper/user-projects",
			ArtifactDir:  filepath.Join(os.TempDir(), "shipper-artifacts"),
		},
		Commands: CommandsConfig{
			Shell:          "/bin/sh",
			DefaultTimeout: 0,
			MaxOutputBytes: 1 << 20,
		},
		Deploy: DeployConfig{
			HTTPTimeout: 120,
			Netlify:     ProviderConfig{APIURL: "https://api.netlify.com"},
			Vercel:      ProviderConfig{APIURL: "https://api.vercel.com"},
			Render:      ProviderConfig{APIURL: "https://api.render.com"},
		},
		Agent: AgentConfig{
			Model:     "claude-3-opus-20240229",
			MaxTokens: 4096,
			MaxTurns:  20,
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Parallel:  4,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:3001",
		},
		License: LicenseConfig{
			Provider:         "none",
			ProductPermalink: "otterf",
			KeyEnv:           "SHIPPER_LICENSE_KEY",
			APIURL:           "https://api.gumroad.com",
		},
		Storage: StorageConfig{
			Path: "~/.local/shipper",
		},
		Events: EventsConfig{
			Subject: "shipper.deploy",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.expandPaths()
	return cfg, nil
}

// LoadDefault loads shipper.toml from the current directory, falling back
// to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := New()
		cfg.expandPaths()
		return cfg, nil
	}
	return LoadFile(path)
}

func (c *Config) expandPaths() {
	c.Workspace.ProjectsRoot = ExpandHome(c.Workspace.ProjectsRoot)
	c.Workspace.ArtifactDir = ExpandHome(c.Workspace.ArtifactDir)
	c.Storage.Path = ExpandHome(c.Storage.Path)
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Workspace.ProjectsRoot == "" {
		return apperrors.New(apperrors.CodeConfigInvalid, "workspace.projects_root is required")
	}
	if c.Workspace.ArtifactDir == "" {
		return apperrors.New(apperrors.CodeConfigInvalid, "workspace.artifact_dir is required")
	}
	root := filepath.Clean(c.Workspace.ProjectsRoot)
	art := filepath.Clean(c.Workspace.ArtifactDir)
	if art == root || strings.HasPrefix(art, root+string(filepath.Separator)) {
		return apperrors.New(apperrors.CodeConfigInvalid, "workspace.artifact_dir must be outside projects_root").
			WithContext("artifact_dir", art)
	}
	if c.Commands.DefaultTimeout < 0 {
		return apperrors.New(apperrors.CodeConfigInvalid, "commands.default_timeout must not be negative")
	}
	switch c.License.Provider {
	case "", "none", "gumroad":
	default:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "unknown license provider %q", c.License.Provider)
	}
	return nil
}

// CommandTimeout returns the default command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Commands.DefaultTimeout) * time.Second
}

// HTTPTimeout returns the per-request provider timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.Deploy.HTTPTimeout <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Deploy.HTTPTimeout) * time.Second
}

// RunsDir returns where deployment run records are stored.
func (c *Config) RunsDir() string {
	return filepath.Join(c.Storage.Path, "runs")
}

// SessionsDir returns where session journals are stored.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Storage.Path, "sessions")
}

// GetAPIKey returns the LLM API key from the configured environment variable.
func (c *Config) GetAPIKey() string {
	envVar := c.Agent.APIKeyEnv
	if envVar == "" {
		envVar = "ANTHROPIC_API_KEY"
	}
	return os.Getenv(envVar)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
