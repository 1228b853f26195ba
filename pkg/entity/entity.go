package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/susom/redcap-entity/pkg/types"
)

// Entity is one record of an entity type. It holds the current field
// values, the last-persisted snapshot used to compute updates, its
// identity and timestamps, and the outcome of the last validation pass.
//
// An Entity is not safe for concurrent use; independent callers should
// each work on their own instance.
type Entity struct {
	env *Env
	typ *types.EntityType

	id      int64 // 0 until the first successful save
	created int64
	updated int64
	version int64

	fields   map[string]any
	snapshot map[string]any    // nil until persisted
	errs     map[string]string // nil until SetData succeeds or fails

	deleted bool
}

// New resolves typeName and returns a blank record of that type. When id
// is non-zero the record is loaded, failing with types.ErrNotFound if no
// row matches.
func New(ctx context.Context, env *Env, typeName string, id int64) (*Entity, error) {
	t, err := env.Factory.ResolveType(typeName)
	if err != nil {
		if errors.Is(err, types.ErrInvalidType) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidType, typeName, err)
	}
	e := newEntity(env, t)
	if id != 0 {
		if err := e.Load(ctx, id); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Hydrate builds a persisted record from a row already fetched by the
// caller, such as a query result.
func Hydrate(env *Env, t *types.EntityType, row types.Row) *Entity {
	e := newEntity(env, t)
	e.apply(row)
	return e
}

func newEntity(env *Env, t *types.EntityType) *Entity {
	return &Entity{env: env, typ: t, fields: blankFields(t)}
}

func blankFields(t *types.EntityType) map[string]any {
	fields := make(map[string]any, len(t.Properties))
	for _, p := range t.Properties {
		fields[p.Name] = nil
	}
	return fields
}

// Load fetches the row with the given identity and replaces the record's
// state with it. A freshly loaded record is clean and must go through
// SetData before it can be saved again.
func (e *Entity) Load(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s %d", types.ErrNotFound, e.typ.Name, id)
	}
	row, err := e.env.Store.Fetch(ctx, e.typ, id)
	if err != nil {
		return err
	}
	e.apply(row)
	e.env.logger().Debug("entity loaded", "type", e.typ.Name, "id", id)
	return nil
}

func (e *Entity) apply(row types.Row) {
	fields := blankFields(e.typ)
	for name, v := range row.Values {
		p, ok := e.typ.Property(name)
		if !ok {
			continue
		}
		fields[name] = fromColumn(p, v)
	}
	e.id = row.ID
	e.created = row.Created
	e.updated = row.Updated
	e.version = row.Version
	e.fields = fields
	e.snapshot = cloneFields(fields)
	e.errs = nil
	e.deleted = false
}

// SetData validates every supplied value and, only if all of them are
// accepted, stores their normalized forms. On rejection the record's
// fields are left untouched and the returned *types.ValidationError lists
// every rejected property.
func (e *Entity) SetData(ctx context.Context, values map[string]any) error {
	return e.setData(ctx, values, false)
}

func (e *Entity) setData(ctx context.Context, values map[string]any, creating bool) error {
	if e.deleted {
		return types.ErrDeleted
	}
	v := e.env.Validator()
	errs := make(map[string]string)
	normalized := make(map[string]any, len(values))
	for key, raw := range values {
		p, ok := e.typ.Property(key)
		if !ok {
			errs[key] = ReasonUnknownProperty
			continue
		}
		val, err := v.Validate(ctx, p, raw)
		var rej *Rejection
		if errors.As(err, &rej) {
			errs[key] = rej.Reason
			continue
		}
		if err != nil {
			e.errs = nil
			return fmt.Errorf("validating %s.%s: %w", e.typ.Name, key, err)
		}
		normalized[key] = val
	}
	if creating {
		e.missingRequired(ctx, values, errs)
	}

	e.errs = errs
	if len(errs) > 0 {
		return &types.ValidationError{Fields: e.Errors()}
	}
	for k, val := range normalized {
		e.fields[k] = val
	}
	return nil
}

// Create validates values and inserts a new row. It fails with
// types.ErrAlreadyPersisted if the record already has an identity.
func (e *Entity) Create(ctx context.Context, values map[string]any) (int64, error) {
	if e.deleted {
		return 0, types.ErrDeleted
	}
	if e.id != 0 {
		return 0, types.ErrAlreadyPersisted
	}
	if err := e.setData(ctx, values, true); err != nil {
		return 0, err
	}
	return e.Save(ctx)
}

// missingRequired flags required properties that a new record would be
// inserted without. Author and project keys count as supplied when the
// scope will fill them.
func (e *Entity) missingRequired(ctx context.Context, values map[string]any, errs map[string]string) {
	scope := types.ScopeFrom(ctx)
	fill := map[string]bool{}
	if key, ok := e.typ.SpecialKey(types.RoleAuthor); ok && scope.ActorID != "" {
		fill[key] = true
	}
	if key, ok := e.typ.SpecialKey(types.RoleProject); ok && scope.ProjectID != "" {
		fill[key] = true
	}
	for _, p := range e.typ.Properties {
		if !p.Required || fill[p.Name] {
			continue
		}
		if _, given := values[p.Name]; given {
			continue
		}
		if isEmpty(e.fields[p.Name]) {
			errs[p.Name] = ReasonRequired
		}
	}
}

// ID returns the record identity, 0 if never persisted.
func (e *Entity) ID() int64 { return e.id }

// Type returns the record's descriptor.
func (e *Entity) Type() *types.EntityType { return e.typ }

// Created returns the creation time, zero if never persisted.
func (e *Entity) Created() time.Time { return unixTime(e.created) }

// Updated returns the time of the last save, zero if never persisted.
func (e *Entity) Updated() time.Time { return unixTime(e.updated) }

// Version returns the row version of versioned types.
func (e *Entity) Version() int64 { return e.version }

// Deleted reports whether Delete succeeded on this instance.
func (e *Entity) Deleted() bool { return e.deleted }

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Get returns the stored (normalized) value of a property.
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// Data returns a copy of all field values with json and data properties
// decoded to structured form.
func (e *Entity) Data() map[string]any {
	data := make(map[string]any, len(e.fields))
	for _, p := range e.typ.Properties {
		v := e.fields[p.Name]
		if s, ok := v.(string); ok && p.Type.Structured() {
			v = decodeStructured(s)
		}
		data[p.Name] = v
	}
	return data
}

// Errors returns a copy of the rejection reasons of the last SetData
// call, or nil if SetData has not run since construction or load.
func (e *Entity) Errors() map[string]string {
	if e.errs == nil {
		return nil
	}
	out := make(map[string]string, len(e.errs))
	for k, v := range e.errs {
		out[k] = v
	}
	return out
}

// Label returns the value of the label special key, "#<id>" when the type
// declares none, or "" for an unpersisted record.
func (e *Entity) Label() string {
	if e.id == 0 {
		return ""
	}
	key, ok := e.typ.SpecialKey(types.RoleLabel)
	if !ok {
		return "#" + strconv.FormatInt(e.id, 10)
	}
	v := e.fields[key]
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Dirty returns the names of properties whose value differs from the
// last-persisted snapshot, in declaration order. Every property with a
// value is dirty on an unpersisted record.
func (e *Entity) Dirty() []string {
	return e.changedProperties()
}

type entityJSON struct {
	ID      int64          `json:"id,omitempty"`
	Type    string         `json:"type"`
	Label   string         `json:"label,omitempty"`
	Created *time.Time     `json:"created,omitempty"`
	Updated *time.Time     `json:"updated,omitempty"`
	Version int64          `json:"version,omitempty"`
	Data    map[string]any `json:"data"`
}

// MarshalJSON renders the record with decoded data.
func (e *Entity) MarshalJSON() ([]byte, error) {
	out := entityJSON{
		ID:      e.id,
		Type:    e.typ.Name,
		Label:   e.Label(),
		Version: e.version,
		Data:    e.Data(),
	}
	if e.created != 0 {
		c, u := e.Created(), e.Updated()
		out.Created, out.Updated = &c, &u
	}
	return json.Marshal(out)
}
