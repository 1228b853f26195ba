package entity

import (
	"context"
	"fmt"

	"github.com/susom/redcap-entity/pkg/types"
)

// memStore is an in-memory Store that records the last write it saw.
type memStore struct {
	rows       map[string]map[int64]types.Row
	nextID     int64
	lastInsert *types.Row
	lastUpdate *types.Row
	writes     int
	fail       error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[int64]types.Row)}
}

func copyRow(r types.Row) types.Row {
	r.Values = cloneFields(r.Values)
	return r
}

func (s *memStore) Insert(_ context.Context, t *types.EntityType, row types.Row) (int64, error) {
	s.writes++
	if s.fail != nil {
		return 0, &types.PersistenceError{Op: "insert", Type: t.Name, Err: s.fail}
	}
	s.nextID++
	row.ID = s.nextID
	if s.rows[t.Name] == nil {
		s.rows[t.Name] = make(map[int64]types.Row)
	}
	s.rows[t.Name][row.ID] = copyRow(row)
	r := copyRow(row)
	s.lastInsert = &r
	return row.ID, nil
}

func (s *memStore) Update(_ context.Context, t *types.EntityType, row types.Row, expectVersion int64) error {
	s.writes++
	if s.fail != nil {
		return &types.PersistenceError{Op: "update", Type: t.Name, Err: s.fail}
	}
	cur, ok := s.rows[t.Name][row.ID]
	if !ok {
		return types.ErrNotFound
	}
	if t.Versioned {
		if cur.Version != expectVersion {
			return types.ErrConflict
		}
		cur.Version = row.Version
	}
	for k, v := range row.Values {
		cur.Values[k] = v
	}
	cur.Updated = row.Updated
	s.rows[t.Name][row.ID] = cur
	r := copyRow(row)
	s.lastUpdate = &r
	return nil
}

func (s *memStore) Delete(_ context.Context, t *types.EntityType, id int64) error {
	s.writes++
	if s.fail != nil {
		return &types.PersistenceError{Op: "delete", Type: t.Name, Err: s.fail}
	}
	if _, ok := s.rows[t.Name][id]; !ok {
		return types.ErrNotFound
	}
	delete(s.rows[t.Name], id)
	return nil
}

func (s *memStore) Fetch(_ context.Context, t *types.EntityType, id int64) (types.Row, error) {
	row, ok := s.rows[t.Name][id]
	if !ok {
		return types.Row{}, fmt.Errorf("%w: %s %d", types.ErrNotFound, t.Name, id)
	}
	return copyRow(row), nil
}

// memFactory resolves a fixed set of descriptors against a memStore.
type memFactory struct {
	types map[string]*types.EntityType
	env   *Env
}

func (f *memFactory) ResolveType(name string) (*types.EntityType, error) {
	t, ok := f.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidType, name)
	}
	return t, nil
}

func (f *memFactory) GetInstance(ctx context.Context, typeName string, id int64) (*Entity, error) {
	return New(ctx, f.env, typeName, id)
}

func (f *memFactory) LoadInstances(ctx context.Context, typeName string, ids []int64) (map[int64]*Entity, error) {
	out := make(map[int64]*Entity)
	for _, id := range ids {
		e, err := f.GetInstance(ctx, typeName, id)
		if err != nil {
			continue
		}
		out[id] = e
	}
	return out, nil
}

func (f *memFactory) BuildQuery(string) (Query, error) {
	return nil, fmt.Errorf("%w: queries are not supported in memory", types.ErrInvalidQuery)
}

// memDirectory is a fixed user/project/record directory.
type memDirectory struct {
	users    map[string]bool
	projects map[string]bool
	records  map[string]bool // "project/record"
	access   map[string]bool // "actor/project"
	err      error
}

func (d *memDirectory) UserExists(_ context.Context, username string) (bool, error) {
	return d.users[username], d.err
}

func (d *memDirectory) ProjectExists(_ context.Context, projectID string) (bool, error) {
	return d.projects[projectID], d.err
}

func (d *memDirectory) RecordExists(_ context.Context, projectID, recordID string) (bool, error) {
	return d.records[projectID+"/"+recordID], d.err
}

func (d *memDirectory) HasProjectAccess(_ context.Context, actorID, projectID string) (bool, error) {
	return d.access[actorID+"/"+projectID], d.err
}

var taskType = &types.EntityType{
	Name: "task",
	Properties: []types.PropertyInfo{
		{Name: "title", Type: types.PropertyText, Required: true},
		{Name: "done", Type: types.PropertyBoolean},
		{Name: "due", Type: types.PropertyDate},
		{Name: "meta", Type: types.PropertyJSON},
		{Name: "owner", Type: types.PropertyUser},
		{Name: "project_id", Type: types.PropertyProject},
		{Name: "parent", Type: types.PropertyEntityReference, EntityType: "task"},
	},
	SpecialKeys: map[types.Role]string{
		types.RoleLabel:   "title",
		types.RoleAuthor:  "owner",
		types.RoleProject: "project_id",
	},
}

var noteType = &types.EntityType{
	Name:      "note",
	Versioned: true,
	Properties: []types.PropertyInfo{
		{Name: "body", Type: types.PropertyLongText},
	},
}

func newTestEnv() (*Env, *memStore, *memDirectory) {
	store := newMemStore()
	dir := &memDirectory{
		users:    map[string]bool{"alice": true, "bob": true},
		projects: map[string]bool{"17": true, "18": true},
		records:  map[string]bool{"17/1001": true},
		access:   map[string]bool{"alice/17": true},
	}
	f := &memFactory{types: map[string]*types.EntityType{"task": taskType, "note": noteType}}
	env := &Env{Factory: f, Store: store, Directory: dir, Access: dir}
	f.env = env
	return env, store, dir
}
