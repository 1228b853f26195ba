// Package paths resolves where the entity CLI keeps its configuration,
// type definitions and database.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user configuration and data directories.
const AppName = "entity"

// CWD-relative directory names.
const (
	DefaultConfigDirName = ".entity"
	DefaultDataDirName   = ".entity-db"
	DefaultSchemaDirName = "schema"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "ENTITY_CONFIG_DIR"
	EnvDataDir   = "ENTITY_DATA_DIR"
	EnvSchemaDir = "ENTITY_SCHEMA_DIR"
)

// platform is swapped in tests.
var platform = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the per-user configuration directory:
// $XDG_CONFIG_HOME/entity or ~/.config/entity on Linux, os.UserConfigDir
// elsewhere.
func DefaultConfigDir() (string, error) {
	return userDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the per-user data directory:
// $XDG_DATA_HOME/entity or ~/.local/share/entity on Linux, the same
// directory as DefaultConfigDir elsewhere.
func DefaultDataDir() (string, error) {
	return userDir("XDG_DATA_HOME", ".local", "share")
}

func userDir(xdgVar string, homeRel ...string) (string, error) {
	if runtime.GOOS != "linux" {
		base, err := platform.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, AppName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platform.homeDir()
	if err != nil {
		return "", err
	}
	parts := append([]string{home}, homeRel...)
	return filepath.Join(append(parts, AppName)...), nil
}

// firstSet returns the absolute form of the first non-empty candidate.
func firstSet(candidates ...string) (string, bool, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		abs, err := filepath.Abs(c)
		return abs, true, err
	}
	return "", false, nil
}

// ResolveConfigDir picks the configuration directory:
// flag > ENTITY_CONFIG_DIR > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if dir, ok, err := firstSet(flag, os.Getenv(EnvConfigDir)); ok {
		return dir, err
	}
	return DefaultConfigDir()
}

// ResolveDataDir picks the data directory:
// flag > config.yaml data_dir > ENTITY_DATA_DIR > $(CWD)/.entity-db.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	if dir, ok, err := firstSet(flag, configYAMLValue, os.Getenv(EnvDataDir)); ok {
		return dir, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// ResolveSchemaDir picks the directory of type definition files:
// flag > config.yaml schema_dir > ENTITY_SCHEMA_DIR > <configDir>/schema.
func ResolveSchemaDir(flag, configYAMLValue, configDir string) (string, error) {
	if dir, ok, err := firstSet(flag, configYAMLValue, os.Getenv(EnvSchemaDir)); ok {
		return dir, err
	}
	return filepath.Join(configDir, DefaultSchemaDirName), nil
}
