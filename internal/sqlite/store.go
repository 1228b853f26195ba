package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/susom/redcap-entity/pkg/entity"
	"github.com/susom/redcap-entity/pkg/types"
)

// Compile-time interface check.
var _ entity.Store = (*Store)(nil)

// fetchChunk bounds the number of ids bound into one IN list.
const fetchChunk = 500

// Store persists entity rows, one table per entity type. Every statement
// is parameterized; identifiers come only from validated descriptors and
// are quoted.
type Store struct {
	backend *Backend
}

// TablePrefix returns the prefix table names are built with. A nil store
// reports the default.
func (s *Store) TablePrefix() string {
	if s == nil || s.backend == nil {
		return types.DefaultTablePrefix
	}
	return s.backend.Config().Prefix()
}

func persistErr(op string, t *types.EntityType, err error) error {
	name := ""
	if t != nil {
		name = t.Name
	}
	return &types.PersistenceError{Op: op, Type: name, Err: err}
}

// EnsureTable creates the table of t if missing and adds columns for
// properties declared since the table was created. Existing columns are
// never dropped or retyped.
func (s *Store) EnsureTable(ctx context.Context, t *types.EntityType) error {
	db, prefix, err := s.backend.conn()
	if err != nil {
		return persistErr("ensure table", t, err)
	}
	ddl, err := createTableStatement(t, prefix)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return persistErr("ensure table", t, err)
	}

	existing, err := tableColumns(ctx, db, t.TableName(prefix))
	if err != nil {
		return persistErr("ensure table", t, err)
	}
	for _, p := range t.Properties {
		if existing[p.Name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			quoteIdent(t.TableName(prefix)), quoteIdent(p.Name), p.Type.ColumnType())
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return persistErr("ensure table", t, err)
		}
		s.backend.logger.Info("added column", "table", t.TableName(prefix), "column", p.Name)
	}
	if t.Versioned && !existing[types.ColumnVersion] {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER NOT NULL DEFAULT 1",
			quoteIdent(t.TableName(prefix)), quoteIdent(types.ColumnVersion))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return persistErr("ensure table", t, err)
		}
	}

	for _, stmt := range createIndexStatements(t, prefix) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return persistErr("ensure table", t, err)
		}
	}
	return nil
}

// tableColumns returns the column names of table.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Insert writes a full row and returns the identity assigned by SQLite.
func (s *Store) Insert(ctx context.Context, t *types.EntityType, row types.Row) (int64, error) {
	db, prefix, err := s.backend.conn()
	if err != nil {
		return 0, persistErr("insert", t, err)
	}
	query, args, err := insertStatement(t, prefix, row)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistErr("insert", t, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistErr("insert", t, err)
	}
	return id, nil
}

// Update writes the columns in row.Values plus the update time. For
// versioned types the write only applies when the stored version equals
// expectVersion; a mismatch returns types.ErrConflict.
func (s *Store) Update(ctx context.Context, t *types.EntityType, row types.Row, expectVersion int64) error {
	db, prefix, err := s.backend.conn()
	if err != nil {
		return persistErr("update", t, err)
	}
	query, args, err := updateStatement(t, prefix, row, expectVersion)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistErr("update", t, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update", t, err)
	}
	if n > 0 {
		return nil
	}

	exists, err := s.exists(ctx, db, t, prefix, row.ID)
	if err != nil {
		return persistErr("update", t, err)
	}
	if exists {
		return fmt.Errorf("%w: %s %d", types.ErrConflict, t.Name, row.ID)
	}
	return fmt.Errorf("%w: %s %d", types.ErrNotFound, t.Name, row.ID)
}

func (s *Store) exists(ctx context.Context, db *sql.DB, t *types.EntityType, prefix string, id int64) (bool, error) {
	table, err := checkTable(t, prefix)
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", table, quoteIdent(types.ColumnID)), id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the row with the given identity.
func (s *Store) Delete(ctx context.Context, t *types.EntityType, id int64) error {
	db, prefix, err := s.backend.conn()
	if err != nil {
		return persistErr("delete", t, err)
	}
	table, err := checkTable(t, prefix)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, quoteIdent(types.ColumnID)), id)
	if err != nil {
		return persistErr("delete", t, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete", t, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", types.ErrNotFound, t.Name, id)
	}
	return nil
}

// Fetch reads the row with the given identity. Columns not declared by t
// are ignored.
func (s *Store) Fetch(ctx context.Context, t *types.EntityType, id int64) (types.Row, error) {
	rows, err := s.FetchMany(ctx, t, []int64{id})
	if err != nil {
		return types.Row{}, err
	}
	row, ok := rows[id]
	if !ok {
		return types.Row{}, fmt.Errorf("%w: %s %d", types.ErrNotFound, t.Name, id)
	}
	return row, nil
}

// FetchMany reads every existing row among ids. Missing ids are absent
// from the result.
func (s *Store) FetchMany(ctx context.Context, t *types.EntityType, ids []int64) (map[int64]types.Row, error) {
	db, prefix, err := s.backend.conn()
	if err != nil {
		return nil, persistErr("fetch", t, err)
	}
	table, err := checkTable(t, prefix)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]types.Row, len(ids))
	for start := 0; start < len(ids); start += fetchChunk {
		end := min(start+fetchChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)",
			table, quoteIdent(types.ColumnID), placeholders(len(chunk)))
		rows, err := queryRows(ctx, db, t, query, args)
		if err != nil {
			return nil, persistErr("fetch", t, err)
		}
		for _, r := range rows {
			out[r.ID] = r
		}
	}
	return out, nil
}

// queryRows runs a SELECT * style query and scans each result into a Row.
func queryRows(ctx context.Context, db *sql.DB, t *types.EntityType, query string, args []any) ([]types.Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []types.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, scanRow(t, cols, vals))
	}
	return out, rows.Err()
}

// scanRow maps a scanned result onto a Row, dropping undeclared columns.
func scanRow(t *types.EntityType, cols []string, vals []any) types.Row {
	row := types.Row{Values: make(map[string]any, len(t.Properties))}
	for i, col := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		switch col {
		case types.ColumnID:
			row.ID = asInt64(v)
		case types.ColumnCreated:
			row.Created = asInt64(v)
		case types.ColumnUpdated:
			row.Updated = asInt64(v)
		case types.ColumnVersion:
			if t.Versioned {
				row.Version = asInt64(v)
			}
		default:
			if _, ok := t.Property(col); ok {
				row.Values[col] = v
			}
		}
	}
	return row
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}

// insertStatement renders the INSERT for row. Columns follow storage
// order: created, updated, version (if versioned), then every declared
// property.
func insertStatement(t *types.EntityType, prefix string, row types.Row) (string, []any, error) {
	table, err := checkTable(t, prefix)
	if err != nil {
		return "", nil, err
	}
	if err := checkValues(t, row.Values); err != nil {
		return "", nil, err
	}

	cols := []string{quoteIdent(types.ColumnCreated), quoteIdent(types.ColumnUpdated)}
	args := []any{row.Created, row.Updated}
	if t.Versioned {
		version := row.Version
		if version == 0 {
			version = 1
		}
		cols = append(cols, quoteIdent(types.ColumnVersion))
		args = append(args, version)
	}
	for _, p := range t.Properties {
		v, err := toParam(row.Values[p.Name])
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s.%s: %v", types.ErrValidationFailed, t.Name, p.Name, err)
		}
		cols = append(cols, quoteIdent(p.Name))
		args = append(args, v)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))
	return query, args, nil
}

// updateStatement renders the UPDATE for row: the update time, the next
// version for versioned types, and the changed properties in declaration
// order. Versioned updates are guarded by expectVersion.
func updateStatement(t *types.EntityType, prefix string, row types.Row, expectVersion int64) (string, []any, error) {
	table, err := checkTable(t, prefix)
	if err != nil {
		return "", nil, err
	}
	if err := checkValues(t, row.Values); err != nil {
		return "", nil, err
	}

	sets := []string{quoteIdent(types.ColumnUpdated) + " = ?"}
	args := []any{row.Updated}
	if t.Versioned {
		sets = append(sets, quoteIdent(types.ColumnVersion)+" = ?")
		args = append(args, row.Version)
	}
	for _, p := range t.Properties {
		raw, ok := row.Values[p.Name]
		if !ok {
			continue
		}
		v, err := toParam(raw)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s.%s: %v", types.ErrValidationFailed, t.Name, p.Name, err)
		}
		sets = append(sets, quoteIdent(p.Name)+" = ?")
		args = append(args, v)
	}

	where := quoteIdent(types.ColumnID) + " = ?"
	args = append(args, row.ID)
	if t.Versioned {
		where += " AND " + quoteIdent(types.ColumnVersion) + " = ?"
		args = append(args, expectVersion)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	return query, args, nil
}

// checkValues rejects value keys that are not declared properties, so no
// caller-supplied key is ever rendered as a column.
func checkValues(t *types.EntityType, values map[string]any) error {
	for k := range values {
		if _, ok := t.Property(k); !ok {
			return fmt.Errorf("%w: %s.%s", types.ErrUnknownProperty, t.Name, k)
		}
	}
	return nil
}

// toParam converts a normalized value into a driver argument. Booleans
// are stored as 0/1 and structured values as JSON text.
func toParam(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string, int64, float64, int, int32:
		return x, nil
	case map[string]any, []any, []string:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return x, nil
	}
}

// placeholders returns n comma-separated bind markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
