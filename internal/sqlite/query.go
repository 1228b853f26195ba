package sqlite

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/susom/redcap-entity/pkg/types"
)

// Comparison operators accepted in conditions.
const (
	OpEq   = "="
	OpNe   = "!="
	OpLt   = "<"
	OpLe   = "<="
	OpGt   = ">"
	OpGe   = ">="
	OpLike = "like"
	OpIn   = "in"
)

var validOps = map[string]string{
	OpEq:   "=",
	OpNe:   "!=",
	OpLt:   "<",
	OpLe:   "<=",
	OpGt:   ">",
	OpGe:   ">=",
	OpLike: "LIKE",
	OpIn:   "IN",
}

// Condition restricts a column. Field must be a meta column or a declared
// property; Value is always bound, never rendered.
type Condition struct {
	Field string
	Op    string
	Value any
}

// Order sorts by a column.
type Order struct {
	Field string
	Desc  bool
}

// Filter is a conjunction of conditions with ordering and paging. With no
// Order, results come newest first by update time then identity.
type Filter struct {
	Conditions []Condition
	Order      []Order
	Limit      int
	Offset     int
}

// Select returns the rows of t matching f.
func (s *Store) Select(ctx context.Context, t *types.EntityType, f Filter) ([]types.Row, error) {
	db, prefix, err := s.backend.conn()
	if err != nil {
		return nil, persistErr("select", t, err)
	}
	query, args, err := selectStatement(t, prefix, f, false)
	if err != nil {
		return nil, err
	}
	rows, err := queryRows(ctx, db, t, query, args)
	if err != nil {
		return nil, persistErr("select", t, err)
	}
	return rows, nil
}

// Count returns the number of rows of t matching f's conditions. Ordering
// and paging are ignored.
func (s *Store) Count(ctx context.Context, t *types.EntityType, f Filter) (int, error) {
	db, prefix, err := s.backend.conn()
	if err != nil {
		return 0, persistErr("count", t, err)
	}
	query, args, err := selectStatement(t, prefix, f, true)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, persistErr("count", t, err)
	}
	return n, nil
}

func selectStatement(t *types.EntityType, prefix string, f Filter, count bool) (string, []any, error) {
	table, err := checkTable(t, prefix)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	if count {
		fmt.Fprintf(&b, "SELECT COUNT(*) FROM %s", table)
	} else {
		fmt.Fprintf(&b, "SELECT * FROM %s", table)
	}

	var args []any
	if len(f.Conditions) > 0 {
		clauses := make([]string, 0, len(f.Conditions))
		for _, c := range f.Conditions {
			clause, cargs, err := renderCondition(t, c)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, clause)
			args = append(args, cargs...)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	if count {
		return b.String(), args, nil
	}

	order := f.Order
	if len(order) == 0 {
		order = []Order{{Field: types.ColumnUpdated, Desc: true}, {Field: types.ColumnID, Desc: true}}
	}
	terms := make([]string, 0, len(order))
	for _, o := range order {
		if !t.IsColumn(o.Field) {
			return "", nil, fmt.Errorf("%w: cannot order %s by %q", types.ErrInvalidQuery, t.Name, o.Field)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms = append(terms, quoteIdent(o.Field)+" "+dir)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(terms, ", "))

	if f.Limit < 0 || f.Offset < 0 {
		return "", nil, fmt.Errorf("%w: negative limit or offset", types.ErrInvalidQuery)
	}
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		b.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, f.Offset)
	}
	return b.String(), args, nil
}

func renderCondition(t *types.EntityType, c Condition) (string, []any, error) {
	if !t.IsColumn(c.Field) {
		return "", nil, fmt.Errorf("%w: %s has no column %q", types.ErrInvalidQuery, t.Name, c.Field)
	}
	op := strings.ToLower(strings.TrimSpace(c.Op))
	if op == "" {
		op = OpEq
	}
	sqlOp, ok := validOps[op]
	if !ok {
		return "", nil, fmt.Errorf("%w: operator %q", types.ErrInvalidQuery, c.Op)
	}
	col := quoteIdent(c.Field)

	if op == OpIn {
		items, ok := listValues(c.Value)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q needs a list value", types.ErrInvalidQuery, OpIn)
		}
		if len(items) == 0 {
			return "1 = 0", nil, nil
		}
		args := make([]any, len(items))
		for i, item := range items {
			v, err := toParam(item)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
			}
			args[i] = v
		}
		return fmt.Sprintf("%s IN (%s)", col, placeholders(len(items))), args, nil
	}

	if c.Value == nil {
		switch op {
		case OpEq:
			return col + " IS NULL", nil, nil
		case OpNe:
			return col + " IS NOT NULL", nil, nil
		default:
			return "", nil, fmt.Errorf("%w: %q cannot compare with null", types.ErrInvalidQuery, op)
		}
	}
	v, err := toParam(c.Value)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
	}
	return fmt.Sprintf("%s %s ?", col, sqlOp), []any{v}, nil
}

// listValues flattens any slice value into its elements.
func listValues(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
