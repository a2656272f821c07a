package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/kairo-dev/kairo/pkg/kairo/auth"
	"github.com/kairo-dev/kairo/pkg/kairo/client"
)

const (
	VersionV1 = "v1"

	DefaultServerURL = "http://localhost:3005"
)

type Config struct {
	Version               string   `yaml:"version"`
	ServerURL             string   `yaml:"server-url,omitempty"`
	ClientID              string   `yaml:"client-id,omitempty"`
	Scope                 string   `yaml:"scope,omitempty"`
	AuthBasePath          string   `yaml:"auth-base-path,omitempty"`
	CAFile                string   `yaml:"ca-file,omitempty"`
	InsecureSkipTLSVerify bool     `yaml:"insecure-skip-tls-verify,omitempty"`
	Settings              Settings `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat   string `yaml:"output-format,omitempty"`
	TokenStorage   string `yaml:"token-storage,omitempty"`
	NonInteractive bool   `yaml:"non-interactive,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version:      VersionV1,
		ServerURL:    DefaultServerURL,
		Scope:        auth.DefaultScope,
		AuthBasePath: client.DefaultBasePath,
		Settings: Settings{
			OutputFormat: "table",
			TokenStorage: string(auth.StorageFile),
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

// LoadOrDefault falls back to DefaultConfig when no file exists at path.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		def := DefaultConfig()
		return &def, nil
	}
	return cfg, err
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) Validate() error {
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	if c.ServerURL != "" {
		if _, err := client.ParseServerURL(c.ServerURL); err != nil {
			return fmt.Errorf("server-url: %w", err)
		}
	}
	if _, err := auth.ParseStorageMode(c.Settings.TokenStorage); err != nil {
		return err
	}
	return nil
}

// Overrides are values given on the command line. Empty fields fall through to
// the environment, then the config file, then built-in defaults.
type Overrides struct {
	ServerURL string
	ClientID  string
	Scope     string
}

type Resolved struct {
	ServerURL             string
	ClientID              string
	Scope                 string
	BasePath              string
	CAFile                string
	InsecureSkipTLSVerify bool
}

func (c *Config) Resolve(o Overrides) Resolved {
	r := Resolved{
		ServerURL:             firstNonEmpty(o.ServerURL, os.Getenv("KAIRO_SERVER_URL"), c.ServerURL, DefaultServerURL),
		ClientID:              firstNonEmpty(o.ClientID, os.Getenv("KAIRO_CLIENT_ID"), os.Getenv("GITHUB_CLIENT_ID"), c.ClientID),
		Scope:                 firstNonEmpty(o.Scope, c.Scope, auth.DefaultScope),
		BasePath:              firstNonEmpty(c.AuthBasePath, client.DefaultBasePath),
		CAFile:                c.CAFile,
		InsecureSkipTLSVerify: c.InsecureSkipTLSVerify,
	}
	r.ServerURL = strings.TrimRight(r.ServerURL, "/")
	return r
}

// ValidateLogin checks everything a device flow needs before any request.
func (r Resolved) ValidateLogin() error {
	if strings.TrimSpace(r.ClientID) == "" {
		return fmt.Errorf("%w: client id is not set", auth.ErrConfiguration)
	}
	return r.ValidateServer()
}

func (r Resolved) ValidateServer() error {
	if _, err := client.ParseServerURL(r.ServerURL); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrConfiguration, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
