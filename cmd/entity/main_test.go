package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susom/redcap-entity/pkg/types"
)

const taskSchema = `types:
  - name: task
    properties:
      - name: title
        type: text
        required: true
      - name: done
        type: boolean
      - name: priority
        type: integer
      - name: meta
        type: json
    special_keys:
      label: title
`

// run executes the root command with fresh flag values.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagConfigDir, flagDataDir, flagSchemaDir, flagJSON = "", "", "", false
	createDataFile, updateDataFile = "", ""
	listWhere, listOrder, listDesc, listLimit, listOffset, listProject = nil, "", false, 0, 0, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupHome(t *testing.T) []string {
	t.Helper()
	home := t.TempDir()
	schema := filepath.Join(home, "schema")
	require.NoError(t, os.MkdirAll(schema, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(schema, "task.yaml"), []byte(taskSchema), 0o644))
	return []string{
		"--config-dir", filepath.Join(home, "config"),
		"--data-dir", filepath.Join(home, "data"),
		"--schema-dir", schema,
		"--log-level", "error",
	}
}

func TestRecordCommands(t *testing.T) {
	common := setupHome(t)

	out, err := run(t, append([]string{"init"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "types:  1")
	assert.FileExists(t, filepath.Join(common[1], "config.yaml"))

	out, err = run(t, append([]string{"create", "task", "title=Write report", "done=false", "priority=2", `meta={"tags":["q3"]}`}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Write report")

	out, err = run(t, append([]string{"update", "task", "1", "done=true", "--json"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"done": true`)
	assert.Contains(t, out, `"tags"`)

	_, err = run(t, append([]string{"create", "task", "priority=high"}, common...)...)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidationFailed)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = run(t, append([]string{"create", "task", "title=Second"}, common...)...)
	require.NoError(t, err)

	out, err = run(t, append([]string{"list", "task", "--where", "done=1"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Write report")
	assert.NotContains(t, out, "Second")
	assert.Contains(t, out, "1 record(s)")

	export := filepath.Join(t.TempDir(), "tasks.jsonl")
	out, err = run(t, append([]string{"export", "task", export}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 2 task record(s)")

	_, err = run(t, append([]string{"delete", "task", "1"}, common...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"get", "task", "1"}, common...)...)
	assert.ErrorIs(t, err, types.ErrNotFound)

	out, err = run(t, append([]string{"import", "task", export}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 task record(s)")
	out, err = run(t, append([]string{"get", "task", "1"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Write report")
}

func TestDirectoryCommands(t *testing.T) {
	common := setupHome(t)

	_, err := run(t, append([]string{"directory", "user", "alice", "--email", "alice@example.org"}, common...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"directory", "project", "17", "--title", "Pilot"}, common...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"directory", "grant", "17", "alice"}, common...)...)
	require.NoError(t, err)

	out, err := run(t, append([]string{"directory", "user", "--json"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "alice@example.org")

	out, err = run(t, append([]string{"directory", "project"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Pilot")

	_, err = run(t, append([]string{"list", "task", "--actor", "mallory"}, common...)...)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestParseWhere(t *testing.T) {
	tests := []struct {
		in    string
		field string
		op    string
		value any
	}{
		{"done=1", "done", "=", "1"},
		{"priority>=2", "priority", ">=", "2"},
		{"priority != 3", "priority", "!=", "3"},
		{"title like a=b%", "title", "like", "a=b%"},
		{"id in 1, 2", "id", "in", []any{"1", "2"}},
		{"due_date=null", "due_date", "=", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			field, op, value, err := parseWhere(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.field, field)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.value, value)
		})
	}

	_, _, _, err := parseWhere("nothing")
	assert.ErrorIs(t, err, errUsage)
}

func TestParseAssignments(t *testing.T) {
	typ := &types.EntityType{
		Name: "task",
		Properties: []types.PropertyInfo{
			{Name: "title", Type: types.PropertyText},
			{Name: "done", Type: types.PropertyBoolean},
		},
	}
	values, err := parseAssignments(typ, []string{"title=a=b", "done=true", "due="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "a=b", "done": true, "due": nil}, values)

	_, err = parseAssignments(typ, []string{"title"})
	assert.ErrorIs(t, err, errUsage)
}
