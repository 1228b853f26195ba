package registry

import (
	"context"
	"fmt"

	"github.com/susom/redcap-entity/internal/sqlite"
	"github.com/susom/redcap-entity/pkg/entity"
	"github.com/susom/redcap-entity/pkg/types"
)

var _ entity.Query = (*Query)(nil)

// Query accumulates conditions over one entity type. Builder methods
// never fail; invalid fields or operators surface from Execute and Count
// as types.ErrInvalidQuery.
type Query struct {
	reg    *Registry
	typ    *types.EntityType
	filter sqlite.Filter
}

// Condition adds "field op value". An empty op means equality.
func (q *Query) Condition(field string, value any, op string) entity.Query {
	q.filter.Conditions = append(q.filter.Conditions, sqlite.Condition{Field: field, Op: op, Value: value})
	return q
}

// OrderBy appends a sort term. Without one, newest records come first.
func (q *Query) OrderBy(field string, desc bool) entity.Query {
	q.filter.Order = append(q.filter.Order, sqlite.Order{Field: field, Desc: desc})
	return q
}

// Limit pages the result. Zero n means no limit.
func (q *Query) Limit(n, offset int) entity.Query {
	q.filter.Limit = n
	q.filter.Offset = offset
	return q
}

// ScopeToProject restricts the query to records owned by the project in
// ctx's scope. Types without a project special key are not restricted.
// Calling it without a project in scope matches nothing.
func (q *Query) ScopeToProject(ctx context.Context) *Query {
	key, ok := q.typ.SpecialKey(types.RoleProject)
	if !ok {
		return q
	}
	project := types.ScopeFrom(ctx).ProjectID
	if project == "" {
		q.filter.Conditions = append(q.filter.Conditions, sqlite.Condition{Field: key, Op: sqlite.OpIn, Value: []any{}})
		return q
	}
	q.filter.Conditions = append(q.filter.Conditions, sqlite.Condition{Field: key, Op: sqlite.OpEq, Value: project})
	return q
}

// Execute runs the query and hydrates every matching row.
func (q *Query) Execute(ctx context.Context) ([]*entity.Entity, error) {
	rows, err := q.reg.store.Select(ctx, q.typ, q.filter)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.typ.Name, err)
	}
	out := make([]*entity.Entity, len(rows))
	for i, row := range rows {
		out[i] = entity.Hydrate(q.reg.env, q.typ, row)
	}
	return out, nil
}

// Count returns the number of matching records, ignoring paging.
func (q *Query) Count(ctx context.Context) (int, error) {
	n, err := q.reg.store.Count(ctx, q.typ, q.filter)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", q.typ.Name, err)
	}
	return n, nil
}
