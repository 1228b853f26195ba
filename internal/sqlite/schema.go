package sqlite

import (
	"fmt"
	"strings"

	"github.com/susom/redcap-entity/pkg/types"
)

// Directory tables. Users, projects and project records are owned by the
// host system; the engine only asks whether they exist and who may reach
// which project.
const (
	createUsers = `CREATE TABLE IF NOT EXISTS users (
    username TEXT PRIMARY KEY,
    email TEXT,
    super_user INTEGER NOT NULL DEFAULT 0,
    account_manager INTEGER NOT NULL DEFAULT 0
);`

	createProjects = `CREATE TABLE IF NOT EXISTS projects (
    project_id TEXT PRIMARY KEY,
    title TEXT NOT NULL
);`

	createProjectUsers = `CREATE TABLE IF NOT EXISTS project_users (
    project_id TEXT NOT NULL,
    username TEXT NOT NULL,
    PRIMARY KEY (project_id, username),
    FOREIGN KEY (project_id) REFERENCES projects(project_id) ON DELETE CASCADE,
    FOREIGN KEY (username) REFERENCES users(username) ON DELETE CASCADE
);`

	createRecords = `CREATE TABLE IF NOT EXISTS records (
    project_id TEXT NOT NULL,
    record_id TEXT NOT NULL,
    PRIMARY KEY (project_id, record_id),
    FOREIGN KEY (project_id) REFERENCES projects(project_id) ON DELETE CASCADE
);`

	idxProjectUsersUser = `CREATE INDEX IF NOT EXISTS idx_project_users_user ON project_users(username);`
)

// directoryDDL lists the directory statements in dependency order.
var directoryDDL = []string{
	createUsers,
	createProjects,
	createProjectUsers,
	createRecords,
	idxProjectUsersUser,
}

// quoteIdent double-quotes an identifier that has already passed
// types.IsIdentifier. Values never reach this function.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// checkTable validates the descriptor and returns its quoted table name.
func checkTable(t *types.EntityType, prefix string) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: nil descriptor", types.ErrInvalidType)
	}
	table := t.TableName(prefix)
	if !types.IsIdentifier(table) {
		return "", fmt.Errorf("%w: table %q", types.ErrInvalidIdentifier, table)
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	return quoteIdent(table), nil
}

// metaColumns returns the non-id meta columns of t in storage order.
func metaColumns(t *types.EntityType) []string {
	cols := []string{types.ColumnCreated, types.ColumnUpdated}
	if t.Versioned {
		cols = append(cols, types.ColumnVersion)
	}
	return cols
}

// createTableStatement renders the DDL of the table holding rows of t.
func createTableStatement(t *types.EntityType, prefix string) (string, error) {
	table, err := checkTable(t, prefix)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	fmt.Fprintf(&b, "    %s INTEGER PRIMARY KEY AUTOINCREMENT,\n", quoteIdent(types.ColumnID))
	fmt.Fprintf(&b, "    %s INTEGER NOT NULL,\n", quoteIdent(types.ColumnCreated))
	fmt.Fprintf(&b, "    %s INTEGER NOT NULL", quoteIdent(types.ColumnUpdated))
	if t.Versioned {
		fmt.Fprintf(&b, ",\n    %s INTEGER NOT NULL DEFAULT 1", quoteIdent(types.ColumnVersion))
	}
	for _, p := range t.Properties {
		fmt.Fprintf(&b, ",\n    %s %s", quoteIdent(p.Name), p.Type.ColumnType())
	}
	b.WriteString("\n);")
	return b.String(), nil
}

// createIndexStatements indexes the update time used by default ordering
// and the project special key used by project scoping.
func createIndexStatements(t *types.EntityType, prefix string) []string {
	table := t.TableName(prefix)
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s);",
			quoteIdent("idx_"+table+"_updated"), quoteIdent(table), quoteIdent(types.ColumnUpdated)),
	}
	if key, ok := t.SpecialKey(types.RoleProject); ok {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s);",
			quoteIdent("idx_"+table+"_"+key), quoteIdent(table), quoteIdent(key)))
	}
	return stmts
}
