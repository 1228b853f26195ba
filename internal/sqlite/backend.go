// Package sqlite implements the SQLite storage backend for entity records:
// per-type tables, the user/project directory, parameterized queries, and
// JSONL export and import.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"

	"github.com/susom/redcap-entity/pkg/types"
)

// DatabaseFile is the SQLite file created inside Config.DataDir.
const DatabaseFile = "entities.db"

// Backend owns the SQLite connection. Stores and directories obtained from
// it fail with types.ErrDetached once Detach has been called.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	logger   hclog.Logger
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(logger hclog.Logger) *Backend {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Backend{logger: logger.Named("sqlite")}
}

// Attach opens (creating if needed) the database under config.DataDir,
// applies connection pragmas and creates the directory tables. Entity
// tables are created separately with Store.EnsureTable.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("connecting to %s: %w", dbPath, err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return err
	}

	b.db = db
	b.config = config
	b.attached = true
	b.logger.Debug("attached", "path", dbPath)
	return nil
}

// Detach closes the connection. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	b.logger.Debug("detached")
	return nil
}

// Config returns the configuration the backend was attached with.
func (b *Backend) Config() types.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// Store returns the entity row store backed by this connection.
func (b *Backend) Store() *Store {
	return &Store{backend: b}
}

// Directory returns the user/project/record directory backed by this
// connection.
func (b *Backend) Directory() *Directory {
	return &Directory{backend: b}
}

// conn returns the open database, or types.ErrDetached.
func (b *Backend) conn() (*sql.DB, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, "", types.ErrDetached
	}
	return b.db, b.config.Prefix(), nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	for _, stmt := range directoryDDL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("creating directory schema: %w", err)
		}
	}
	return nil
}
