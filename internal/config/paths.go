package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "DATALAYER_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "datalayer.yaml"
	// ConfigDirName is the directory under the user and system config roots
	ConfigDirName = "datalayer"

	jsoncFileName  = "datalayer.jsonc"
	userConfigName = "config.yaml"
)

// SearchPaths lists the config locations in priority order:
//
//  1. $DATALAYER_CONFIG
//  2. ./datalayer.yaml, ./datalayer.jsonc
//  3. $XDG_CONFIG_HOME/datalayer/config.yaml
//  4. ~/.config/datalayer/config.yaml
//  5. /etc/datalayer/config.yaml
func SearchPaths() []string {
	var paths []string
	if env := os.Getenv(EnvConfigPath); env != "" {
		paths = append(paths, env)
	}
	for _, name := range []string{ConfigFileName, jsoncFileName} {
		if abs, err := filepath.Abs(name); err == nil {
			name = abs
		}
		paths = append(paths, name)
	}
	for _, root := range userConfigRoots() {
		paths = append(paths, filepath.Join(root, ConfigDirName, userConfigName))
	}
	return append(paths, filepath.Join("/etc", ConfigDirName, userConfigName))
}

// FindConfigPath returns the first search path that exists, or ""
func FindConfigPath() string {
	for _, path := range SearchPaths() {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPath is where `datalayer init` writes a new config: the
// first user config root, or the working directory without one
func DefaultConfigPath() string {
	if roots := userConfigRoots(); len(roots) > 0 {
		return filepath.Join(roots[0], ConfigDirName, userConfigName)
	}
	return ConfigFileName
}

func userConfigRoots() []string {
	var roots []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		roots = append(roots, xdg)
	}
	if home := os.Getenv("HOME"); home != "" {
		roots = append(roots, filepath.Join(home, ".config"))
	}
	return roots
}

// EnsureConfigDir creates the directory holding configPath
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0o755)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
