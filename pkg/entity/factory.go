// Package entity implements the schema-driven record engine: the property
// validator, the Entity record lifecycle (construct, SetData, Create,
// Save, Load, Delete), and the narrow interfaces it needs from its
// collaborators (registry, storage, user/project directory, access
// control).
package entity

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/susom/redcap-entity/pkg/types"
)

// Factory resolves entity types and instantiates records. The registry
// implements it.
type Factory interface {
	// ResolveType returns the descriptor for name or an error wrapping
	// types.ErrInvalidType.
	ResolveType(name string) (*types.EntityType, error)

	// GetInstance loads the record of typeName with the given identity.
	// Returns an error wrapping types.ErrNotFound if no row matches.
	GetInstance(ctx context.Context, typeName string, id int64) (*Entity, error)

	// LoadInstances loads every existing record among ids. Missing ids
	// are absent from the result.
	LoadInstances(ctx context.Context, typeName string, ids []int64) (map[int64]*Entity, error)

	// BuildQuery returns a query over the records of typeName.
	BuildQuery(typeName string) (Query, error)
}

// Query selects records of one entity type.
type Query interface {
	Condition(field string, value any, op string) Query
	OrderBy(field string, desc bool) Query
	Limit(n, offset int) Query
	Execute(ctx context.Context) ([]*Entity, error)
	Count(ctx context.Context) (int, error)
}

// Store persists rows of entity types. Implementations must use
// parameterized statements and return types.ErrNotFound for missing
// rows, types.ErrConflict for version mismatches, and a
// *types.PersistenceError for storage failures.
type Store interface {
	Insert(ctx context.Context, t *types.EntityType, row types.Row) (int64, error)
	// Update writes row.Values plus row.Updated (and row.Version for
	// versioned types, guarded by expectVersion) to the row with row.ID.
	Update(ctx context.Context, t *types.EntityType, row types.Row, expectVersion int64) error
	Delete(ctx context.Context, t *types.EntityType, id int64) error
	Fetch(ctx context.Context, t *types.EntityType, id int64) (types.Row, error)
}

// Directory answers existence questions about users, projects and
// project records.
type Directory interface {
	UserExists(ctx context.Context, username string) (bool, error)
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	RecordExists(ctx context.Context, projectID, recordID string) (bool, error)
}

// AccessChecker decides whether an actor holds privileges on a project.
type AccessChecker interface {
	HasProjectAccess(ctx context.Context, actorID, projectID string) (bool, error)
}

// Env wires an Entity to its collaborators. Factory and Store are
// required; Directory and Access are needed only by types declaring
// record, user or project properties.
type Env struct {
	Factory   Factory
	Store     Store
	Directory Directory
	Access    AccessChecker
	Now       func() time.Time
	Logger    hclog.Logger
}

func (env *Env) now() time.Time {
	if env.Now != nil {
		return env.Now()
	}
	return time.Now()
}

func (env *Env) logger() hclog.Logger {
	if env.Logger != nil {
		return env.Logger
	}
	return hclog.NewNullLogger()
}

// Validator returns a property validator bound to env's collaborators.
func (env *Env) Validator() *Validator {
	return &Validator{
		Directory: env.Directory,
		Access:    env.Access,
		Factory:   env.Factory,
	}
}
