package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susom/redcap-entity/pkg/types"
)

var taskType = &types.EntityType{
	Name: "task",
	Properties: []types.PropertyInfo{
		{Name: "title", Type: types.PropertyText, Required: true},
		{Name: "done", Type: types.PropertyBoolean},
		{Name: "due", Type: types.PropertyDate},
		{Name: "priority", Type: types.PropertyInteger},
	},
	SpecialKeys: map[types.Role]string{types.RoleLabel: "title"},
}

var noteType = &types.EntityType{
	Name:       "note",
	Versioned:  true,
	Properties: []types.PropertyInfo{{Name: "body", Type: types.PropertyLongText}},
}

// newTestStore attaches a backend in a temp dir and creates the task and
// note tables.
func newTestStore(t *testing.T) (*Backend, *Store) {
	t.Helper()
	b := NewBackend(nil)
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	s := b.Store()
	ctx := context.Background()
	require.NoError(t, s.EnsureTable(ctx, taskType))
	require.NoError(t, s.EnsureTable(ctx, noteType))
	return b, s
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()
	b := NewBackend(nil)
	config := types.Config{Backend: types.BackendSQLite, DataDir: tmpDir}

	require.NoError(t, b.Attach(config))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(tmpDir, DatabaseFile))
	assert.NoError(t, err, "database file not created")

	assert.ErrorIs(t, b.Attach(config), types.ErrAlreadyAttached)
	assert.Equal(t, types.DefaultTablePrefix, b.Config().Prefix())
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config types.Config
		want   error
	}{
		{"empty backend", types.Config{DataDir: t.TempDir()}, types.ErrBackendEmpty},
		{"unknown backend", types.Config{Backend: "postgres"}, types.ErrBackendUnknown},
		{"bad prefix", types.Config{Backend: types.BackendSQLite, TablePrefix: "Bad-"}, types.ErrInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, NewBackend(nil).Attach(tt.config), tt.want)
		})
	}
}

func TestBackend_Detach(t *testing.T) {
	b, s := newTestStore(t)

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "second Detach should not error")

	_, err := s.Fetch(context.Background(), taskType, 1)
	assert.ErrorIs(t, err, types.ErrDetached)
	assert.ErrorIs(t, err, types.ErrPersistenceFailed)

	_, err = b.Directory().UserExists(context.Background(), "alice")
	assert.ErrorIs(t, err, types.ErrDetached)
}

func TestBackend_ReattachKeepsData(t *testing.T) {
	dir := t.TempDir()
	config := types.Config{Backend: types.BackendSQLite, DataDir: dir}
	ctx := context.Background()

	b := NewBackend(nil)
	require.NoError(t, b.Attach(config))
	s := b.Store()
	require.NoError(t, s.EnsureTable(ctx, taskType))
	id, err := s.Insert(ctx, taskType, types.Row{Created: 1, Updated: 1, Values: map[string]any{"title": "kept"}})
	require.NoError(t, err)
	require.NoError(t, b.Detach())

	b2 := NewBackend(nil)
	require.NoError(t, b2.Attach(config))
	defer b2.Detach()
	row, err := b2.Store().Fetch(ctx, taskType, id)
	require.NoError(t, err)
	assert.Equal(t, "kept", row.Values["title"])
}

func TestBackend_TablePrefix(t *testing.T) {
	b := NewBackend(nil)
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir(), TablePrefix: "app_"}))
	defer b.Detach()
	ctx := context.Background()

	require.NoError(t, b.Store().EnsureTable(ctx, taskType))
	db, _, err := b.conn()
	require.NoError(t, err)
	cols, err := tableColumns(ctx, db, "app_task")
	require.NoError(t, err)
	assert.True(t, cols["title"])
}
