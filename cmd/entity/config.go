package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "ENTITY"

	cfgKeyBackend        = "backend"
	cfgKeyDataDir        = "data_dir"
	cfgKeySchemaDir      = "schema_dir"
	cfgKeyTablePrefix    = "table_prefix"
	cfgKeyLogLevel       = "log_level"
	cfgKeyLogJSON        = "log_json"
	cfgKeyActor          = "actor"
	cfgKeyProject        = "project"
	cfgKeySuperUser      = "super_user"
	cfgKeyServerAddr     = "server.addr"
	cfgKeyServerBasePath = "server.base_path"
	cfgKeyJWTSecret      = "server.jwt_secret"
	cfgKeyAllowAnonymous = "server.allow_anonymous"

	defaultBackend    = "sqlite"
	defaultServerAddr = "127.0.0.1:8080"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# entity CLI configuration. Every key can be overridden with an
# ENTITY_ variable, e.g. ENTITY_DATA_DIR or ENTITY_SERVER_ADDR.

backend: sqlite

# data_dir:
# schema_dir:
# table_prefix: entity_

log_level: info
log_json: false

# Default caller scope for local commands.
# actor:
# project:

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  # jwt_secret:
  allow_anonymous: false
`

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"actor":           cfgKeyActor,
	"project":         cfgKeyProject,
	"log-level":       cfgKeyLogLevel,
	"addr":            cfgKeyServerAddr,
	"jwt-secret":      cfgKeyJWTSecret,
	"allow-anonymous": cfgKeyAllowAnonymous,
}

// loadConfig reads config.yaml from configDir, creating a default one on
// first run, and layers ENTITY_* environment variables on top.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, defaultBackend)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyServerAddr, defaultServerAddr)
	v.SetDefault(cfgKeyServerBasePath, "/v0")
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// bindFlags lets explicitly set flags override config and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile writes defaultConfigYAML unless config.yaml exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
