package entity

import (
	"context"

	"github.com/google/go-cmp/cmp"

	"github.com/susom/redcap-entity/pkg/types"
)

// Save persists the record: a full-row insert when it has no identity
// yet, otherwise an update of the changed columns plus the refreshed
// update time. It requires a prior successful SetData. On failure the
// in-memory state is unchanged so the call can be retried.
func (e *Entity) Save(ctx context.Context) (int64, error) {
	if e.deleted {
		return 0, types.ErrDeleted
	}
	if e.errs == nil {
		return 0, types.ErrNotValidated
	}
	if len(e.errs) > 0 {
		return 0, &types.ValidationError{Fields: e.Errors()}
	}

	now := e.env.now().Unix()
	if e.id == 0 {
		return e.insert(ctx, now)
	}
	return e.id, e.update(ctx, now)
}

func (e *Entity) insert(ctx context.Context, now int64) (int64, error) {
	values := cloneFields(e.fields)
	scope := types.ScopeFrom(ctx)
	e.fillSpecialKey(values, types.RoleAuthor, scope.ActorID)
	e.fillSpecialKey(values, types.RoleProject, scope.ProjectID)

	row := types.Row{Created: now, Updated: now, Values: values}
	if e.typ.Versioned {
		row.Version = 1
	}
	id, err := e.env.Store.Insert(ctx, e.typ, row)
	if err != nil {
		e.env.logger().Warn("entity insert failed", "type", e.typ.Name, "error", err)
		return 0, err
	}

	e.id = id
	e.created = now
	e.updated = now
	e.version = row.Version
	e.fields = values
	e.snapshot = cloneFields(values)
	e.env.logger().Debug("entity inserted", "type", e.typ.Name, "id", id)
	return id, nil
}

// fillSpecialKey sets the property playing role to val when the type
// declares the role and the property is still empty.
func (e *Entity) fillSpecialKey(values map[string]any, role types.Role, val string) {
	if val == "" {
		return
	}
	key, ok := e.typ.SpecialKey(role)
	if !ok {
		return
	}
	if isEmpty(values[key]) {
		values[key] = val
	}
}

func (e *Entity) update(ctx context.Context, now int64) error {
	changed := e.changedProperties()
	values := make(map[string]any, len(changed))
	for _, name := range changed {
		values[name] = e.fields[name]
	}

	row := types.Row{ID: e.id, Updated: now, Values: values}
	if e.typ.Versioned {
		row.Version = e.version + 1
	}
	if err := e.env.Store.Update(ctx, e.typ, row, e.version); err != nil {
		e.env.logger().Warn("entity update failed", "type", e.typ.Name, "id", e.id, "error", err)
		return err
	}

	e.updated = now
	e.version = row.Version
	e.snapshot = cloneFields(e.fields)
	e.env.logger().Debug("entity updated", "type", e.typ.Name, "id", e.id, "columns", changed)
	return nil
}

// changedProperties lists, in declaration order, the properties whose
// value differs from the snapshot. Null and non-null always differ, as do
// equal-looking values of different types.
func (e *Entity) changedProperties() []string {
	var changed []string
	for _, p := range e.typ.Properties {
		cur := e.fields[p.Name]
		if e.snapshot == nil {
			if cur != nil {
				changed = append(changed, p.Name)
			}
			continue
		}
		if !cmp.Equal(cur, e.snapshot[p.Name]) {
			changed = append(changed, p.Name)
		}
	}
	return changed
}

// Delete removes the row and resets the record to a pristine, unpersisted
// shape. It fails with types.ErrNotPersisted, without touching storage,
// if the record has no identity. A deleted instance rejects further
// SetData, Create and Save calls.
func (e *Entity) Delete(ctx context.Context) error {
	if e.id == 0 {
		return types.ErrNotPersisted
	}
	if err := e.env.Store.Delete(ctx, e.typ, e.id); err != nil {
		e.env.logger().Warn("entity delete failed", "type", e.typ.Name, "id", e.id, "error", err)
		return err
	}
	e.env.logger().Debug("entity deleted", "type", e.typ.Name, "id", e.id)

	e.id = 0
	e.created = 0
	e.updated = 0
	e.version = 0
	e.errs = nil
	e.snapshot = nil
	e.fields = blankFields(e.typ)
	e.deleted = true
	return nil
}
