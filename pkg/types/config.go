package types

import "errors"

// Config holds backend selection and parameters for Backend.Attach.
type Config struct {
	Backend     string `json:"backend" yaml:"backend"`
	DataDir     string `json:"data_dir" yaml:"data_dir"`
	TablePrefix string `json:"table_prefix,omitempty" yaml:"table_prefix,omitempty"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Config and backend lifecycle errors.
var (
	ErrBackendEmpty    = errors.New("backend must not be empty")
	ErrBackendUnknown  = errors.New("unknown backend")
	ErrDetached        = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.TablePrefix != "" && !IsIdentifier(c.TablePrefix+"x") {
		return ErrInvalidIdentifier
	}
	return nil
}

// Prefix returns the configured table prefix or the default.
func (c Config) Prefix() string {
	if c.TablePrefix == "" {
		return DefaultTablePrefix
	}
	return c.TablePrefix
}
