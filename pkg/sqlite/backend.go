// Package sqlite is the public entry point to the SQLite-backed entity
// engine. It wires the storage backend, the type registry and the
// principal directory together.
//
// Example:
//
//	eng, err := sqlite.Open(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".entity-db",
//	}, "schema", nil)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//	rec, err := eng.Registry.New(ctx, "task")
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/susom/redcap-entity/internal/registry"
	"github.com/susom/redcap-entity/internal/sqlite"
	"github.com/susom/redcap-entity/pkg/types"
)

// Engine bundles an attached backend with its registry.
type Engine struct {
	Backend   *sqlite.Backend
	Registry  *registry.Registry
	Directory *sqlite.Directory
}

// Open attaches a backend for cfg, loads every definition file in
// schemaDir (skipped when empty or missing) and creates the tables of the
// registered types. Definition errors do not stop the types that did load;
// they are returned alongside a usable engine.
func Open(ctx context.Context, cfg types.Config, schemaDir string, logger hclog.Logger) (*Engine, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	backend := sqlite.NewBackend(logger)
	if err := backend.Attach(cfg); err != nil {
		return nil, err
	}
	eng := &Engine{
		Backend:   backend,
		Directory: backend.Directory(),
	}
	eng.Registry = registry.New(backend.Store(), eng.Directory, logger)

	var loadErr error
	if schemaDir != "" {
		if _, err := os.Stat(schemaDir); err == nil {
			names, err := eng.Registry.LoadDir(schemaDir)
			if err != nil {
				logger.Warn("schema errors", "dir", schemaDir, "error", err)
				loadErr = err
			}
			logger.Debug("schema loaded", "dir", schemaDir, "types", names)
		} else if !errors.Is(err, os.ErrNotExist) {
			backend.Detach()
			return nil, fmt.Errorf("schema dir: %w", err)
		}
	}
	if err := eng.Registry.EnsureTables(ctx); err != nil {
		backend.Detach()
		return nil, err
	}
	return eng, loadErr
}

// Close detaches the backend.
func (e *Engine) Close() error {
	return e.Backend.Detach()
}
