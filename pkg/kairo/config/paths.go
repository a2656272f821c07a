package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = ".kairo"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "token.json"
)

// DefaultDir is ~/.kairo unless KAIRO_HOME points elsewhere.
func DefaultDir() string {
	if env := os.Getenv("KAIRO_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigDirName
	}
	return filepath.Join(home, defaultConfigDirName)
}

func DefaultConfigPath() string {
	if env := os.Getenv("KAIRO_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(DefaultDir(), defaultConfigFile)
}

func DefaultTokenPath() string {
	return filepath.Join(DefaultDir(), defaultTokenFile)
}
