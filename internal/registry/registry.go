// Package registry holds the entity type descriptors known to a process
// and implements entity.Factory on top of the SQLite store: it resolves
// type names, instantiates and loads records, and builds queries.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/susom/redcap-entity/internal/sqlite"
	"github.com/susom/redcap-entity/pkg/entity"
	"github.com/susom/redcap-entity/pkg/types"
)

var _ entity.Factory = (*Registry)(nil)

// Registry maps type names to descriptors. It is safe for concurrent use;
// registration normally happens once at startup.
type Registry struct {
	mu        sync.RWMutex
	types     map[string]*types.EntityType
	providers map[string]types.ChoicesFunc

	store  *sqlite.Store
	env    *entity.Env
	logger hclog.Logger
}

// New returns an empty registry whose records persist through store and
// check user, project and record references against dir.
func New(store *sqlite.Store, dir *sqlite.Directory, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Registry{
		types:     make(map[string]*types.EntityType),
		providers: make(map[string]types.ChoicesFunc),
		store:     store,
		logger:    logger.Named("registry"),
	}
	r.env = &entity.Env{
		Factory: r,
		Store:   store,
		Logger:  logger.Named("entity"),
	}
	if dir != nil {
		r.env.Directory = dir
		r.env.Access = dir
	}
	return r
}

// Env returns the collaborator set records of this registry use.
func (r *Registry) Env() *entity.Env {
	return r.env
}

// Register validates t and adds it under t.Name. Missing labels are
// derived from names. A type that is already registered is an error.
func (r *Registry) Register(t *types.EntityType) error {
	if t == nil {
		return fmt.Errorf("%w: nil descriptor", types.ErrInvalidType)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if table := t.TableName(r.store.TablePrefix()); !types.IsIdentifier(table) {
		return fmt.Errorf("%w: table %q", types.ErrInvalidIdentifier, table)
	}
	c := cloneType(t)
	if c.Label == "" {
		c.Label = labelFor(c.Name)
	}
	for i := range c.Properties {
		p := &c.Properties[i]
		if p.Label == "" {
			p.Label = labelFor(p.Name)
		}
		p.Label = norm.NFC.String(p.Label)
	}
	c.Label = norm.NFC.String(c.Label)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[c.Name]; ok {
		return fmt.Errorf("%w: %s is already registered", types.ErrInvalidType, c.Name)
	}
	r.resolveProvidersLocked(c)
	r.types[c.Name] = c
	r.logger.Debug("registered type", "type", c.Name, "properties", len(c.Properties))
	return nil
}

// RegisterChoices makes fn available to properties naming it as their
// choices provider, including properties of already registered types.
// Affected types get a new descriptor; records instantiated before the
// call keep the descriptor they were created with.
func (r *Registry) RegisterChoices(name string, fn types.ChoicesFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = fn
	for key, t := range r.types {
		if !usesProvider(t, name) {
			continue
		}
		c := cloneType(t)
		r.resolveProvidersLocked(c)
		r.types[key] = c
	}
}

func usesProvider(t *types.EntityType, name string) bool {
	for _, p := range t.Properties {
		if p.ChoicesProvider == name {
			return true
		}
	}
	return false
}

func (r *Registry) resolveProvidersLocked(t *types.EntityType) {
	for i := range t.Properties {
		p := &t.Properties[i]
		if p.ChoicesProvider == "" {
			continue
		}
		if fn, ok := r.providers[p.ChoicesProvider]; ok {
			p.ChoicesFunc = fn
		}
	}
}

// ResolveType returns the descriptor registered under name.
func (r *Registry) ResolveType(name string) (*types.EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", types.ErrInvalidType, name)
	}
	return t, nil
}

// Types returns all registered descriptors ordered by name.
func (r *Registry) Types() []*types.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.EntityType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnsureTables checks cross-type references and creates or extends the
// table of every registered type.
func (r *Registry) EnsureTables(ctx context.Context) error {
	all := r.Types()
	for _, t := range all {
		for _, p := range t.Properties {
			if p.Type != types.PropertyEntityReference {
				continue
			}
			if _, err := r.ResolveType(p.EntityType); err != nil {
				return fmt.Errorf("%s.%s: %w", t.Name, p.Name, err)
			}
		}
	}
	for _, t := range all {
		if err := r.store.EnsureTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// New returns a blank, unpersisted record of typeName.
func (r *Registry) New(ctx context.Context, typeName string) (*entity.Entity, error) {
	return entity.New(ctx, r.env, typeName, 0)
}

// GetInstance loads the record of typeName with identity id.
func (r *Registry) GetInstance(ctx context.Context, typeName string, id int64) (*entity.Entity, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: %s %d", types.ErrNotFound, typeName, id)
	}
	return entity.New(ctx, r.env, typeName, id)
}

// LoadInstances loads the existing records of typeName among ids in one
// round trip. Missing ids are absent from the result.
func (r *Registry) LoadInstances(ctx context.Context, typeName string, ids []int64) (map[int64]*entity.Entity, error) {
	t, err := r.ResolveType(typeName)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.FetchMany(ctx, t, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*entity.Entity, len(rows))
	for id, row := range rows {
		out[id] = entity.Hydrate(r.env, t, row)
	}
	return out, nil
}

// BuildQuery starts a query over the records of typeName.
func (r *Registry) BuildQuery(typeName string) (entity.Query, error) {
	q, err := r.Query(typeName)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Query is BuildQuery returning the concrete query type.
func (r *Registry) Query(typeName string) (*Query, error) {
	t, err := r.ResolveType(typeName)
	if err != nil {
		return nil, err
	}
	return &Query{reg: r, typ: t}, nil
}

func cloneType(t *types.EntityType) *types.EntityType {
	c := *t
	c.Properties = make([]types.PropertyInfo, len(t.Properties))
	for i, p := range t.Properties {
		if p.Choices != nil {
			m := make(map[string]string, len(p.Choices))
			for k, v := range p.Choices {
				m[k] = v
			}
			p.Choices = m
		}
		c.Properties[i] = p
	}
	if t.SpecialKeys != nil {
		c.SpecialKeys = make(map[types.Role]string, len(t.SpecialKeys))
		for k, v := range t.SpecialKeys {
			c.SpecialKeys[k] = v
		}
	}
	return &c
}

// labelFor turns a snake_case identifier into a human label. Casers keep
// state, so each call gets its own.
func labelFor(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}
