// Package credentials loads provider tokens from standard locations.
//
// Lookups consult, in order: the process environment, a .env file, and
// credentials.toml. Nothing here writes to the process environment.
package credentials

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variable names understood by shipper.
const (
	NetlifyToken    = "NETLIFY_AUTH_TOKEN"
	VercelToken     = "VERCEL_AUTH_TOKEN"
	VercelTeamID    = "VERCEL_TEAM_ID"
	RenderToken     = "RENDER_AUTH_TOKEN"
	RenderServiceID = "RENDER_SERVICE_ID"
	AnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// Credentials holds tokens loaded from credentials.toml and .env.
type Credentials struct {
	Netlify   *TokenCreds    `toml:"netlify"`
	Vercel    *VercelCreds   `toml:"vercel"`
	Render    *RenderCreds   `toml:"render"`
	Anthropic *ProviderCreds `toml:"anthropic"`
	License   *LicenseCreds  `toml:"license"`

	dotenv map[string]string
	getenv func(string) string
}

// TokenCreds holds a single bearer token.
type TokenCreds struct {
	Token string `toml:"token"`
}

// VercelCreds holds Vercel credentials.
type VercelCreds struct {
	Token  string `toml:"token"`
	TeamID string `toml:"team_id"`
}

// RenderCreds holds Render credentials.
type RenderCreds struct {
	Token     string `toml:"token"`
	ServiceID string `toml:"service_id"`
}

// ProviderCreds holds credentials for an LLM provider.
type ProviderCreds struct {
	APIKey string `toml:"api_key"`
}

// LicenseCreds holds a stored license key.
type LicenseCreds struct {
	Key string `toml:"key"`
}

// StandardPaths returns the standard credential file locations in order of priority
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "shipper", "credentials.toml"))
	}
	return paths
}

// Load reads the first available credentials.toml and ./.env. Missing
// files are not an error. The returned path is the credentials file used.
func Load() (*Credentials, string, error) {
	var path string
	for _, p := range StandardPaths() {
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}
	creds, err := LoadFiles(path, ".env")
	return creds, path, err
}

// LoadFiles loads credentials from an explicit credentials.toml and .env.
// Empty or missing paths are skipped.
func LoadFiles(credPath, envPath string) (*Credentials, error) {
	creds := &Credentials{}
	if credPath != "" {
		if _, err := os.Stat(credPath); err == nil {
			loaded, err := LoadFile(credPath)
			if err != nil {
				return nil, err
			}
			creds = loaded
		}
	}
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			vars, err := godotenv.Read(envPath)
			if err != nil {
				return nil, err
			}
			creds.dotenv = vars
		}
	}
	return creds, nil
}

// LoadFile loads credentials from a specific file
func LoadFile(path string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// FromMap builds credentials that only consult vars. Used by tests and
// embedders that manage secrets themselves.
func FromMap(vars map[string]string) *Credentials {
	return &Credentials{
		dotenv: vars,
		getenv: func(string) string { return "" },
	}
}

// Get returns the value for an environment-style name, or "".
func (c *Credentials) Get(name string) string {
	if c == nil {
		return os.Getenv(name)
	}
	getenv := c.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(name); v != "" {
		return v
	}
	if v := c.dotenv[name]; v != "" {
		return v
	}
	return c.fileValue(name)
}

func (c *Credentials) fileValue(name string) string {
	switch name {
	case NetlifyToken:
		if c.Netlify != nil {
			return c.Netlify.Token
		}
	case VercelToken:
		if c.Vercel != nil {
			return c.Vercel.Token
		}
	case VercelTeamID:
		if c.Vercel != nil {
			return c.Vercel.TeamID
		}
	case RenderToken:
		if c.Render != nil {
			return c.Render.Token
		}
	case RenderServiceID:
		if c.Render != nil {
			return c.Render.ServiceID
		}
	case AnthropicAPIKey:
		if c.Anthropic != nil {
			return c.Anthropic.APIKey
		}
	}
	return ""
}

// LicenseKey returns the stored license key for envName, if any.
func (c *Credentials) LicenseKey(envName string) string {
	if v := c.Get(envName); v != "" {
		return v
	}
	if c != nil && c.License != nil {
		return c.License.Key
	}
	return ""
}

// SaveLicenseKey stores key under [license] in the credentials file at
// path, keeping the other sections. The file is created with mode 0600.
func SaveLicenseKey(path, key string) error {
	creds := &Credentials{}
	if _, err := os.Stat(path); err == nil {
		loaded, err := LoadFile(path)
		if err != nil {
			return err
		}
		creds = loaded
	}
	creds.License = &LicenseCreds{Key: key}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(creds); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
