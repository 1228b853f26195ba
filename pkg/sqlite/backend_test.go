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

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}

	eng, err := Open(ctx, cfg, filepath.Join("testdata", "schema"), nil)
	require.NoError(t, err)

	rec, err := eng.Registry.New(ctx, "contact")
	require.NoError(t, err)
	id, err := rec.Create(ctx, map[string]any{"name": "Ada", "email": "ada@example.org"})
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	eng, err = Open(ctx, cfg, filepath.Join("testdata", "schema"), nil)
	require.NoError(t, err)
	defer eng.Close()
	loaded, err := eng.Registry.GetInstance(ctx, "contact", id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", loaded.Label())
}

func TestOpen_MissingSchemaDir(t *testing.T) {
	eng, err := Open(context.Background(), types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()},
		filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	defer eng.Close()
	assert.Empty(t, eng.Registry.Types())
}

func TestOpen_SchemaErrorsKeepEngine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("types: [{name: Bad}]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.yaml"), []byte("types: [{name: tag, properties: [{name: word, type: text}]}]"), 0o644))

	eng, err := Open(context.Background(), types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}, dir, nil)
	require.Error(t, err)
	require.NotNil(t, eng)
	defer eng.Close()
	_, err = eng.Registry.ResolveType("tag")
	assert.NoError(t, err)
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), types.Config{Backend: "postgres", DataDir: t.TempDir()}, "", nil)
	assert.Error(t, err)
}
