package entity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susom/redcap-entity/pkg/types"
)

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestCreate(t *testing.T) {
	env, store, _ := newTestEnv()
	env.Now = fixedClock(1700000000)
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	assert.Zero(t, e.ID())
	assert.Empty(t, e.Label())

	id, err := e.Create(ctx, map[string]any{"title": "Ship", "done": false, "due": "2024-01-01"})
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, e.ID())
	assert.Equal(t, e.Created(), e.Updated())
	assert.Equal(t, int64(1700000000), e.Created().Unix())
	assert.Equal(t, "Ship", e.Label())
	assert.Empty(t, e.Dirty())

	require.NotNil(t, store.lastInsert)
	assert.Equal(t, int64(1700000000), store.lastInsert.Created)
	assert.Equal(t, "Ship", store.lastInsert.Values["title"])
	assert.Equal(t, false, store.lastInsert.Values["done"])
	assert.Nil(t, store.lastInsert.Values["meta"])

	_, err = e.Create(ctx, map[string]any{"title": "Again"})
	assert.ErrorIs(t, err, types.ErrAlreadyPersisted)
}

func TestCreateMissingRequired(t *testing.T) {
	env, store, _ := newTestEnv()
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)

	_, err = e.Create(ctx, map[string]any{"title": "", "done": true})
	require.ErrorIs(t, err, types.ErrValidationFailed)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{"title": ReasonRequired}, verr.Fields)
	assert.Equal(t, map[string]string{"title": ReasonRequired}, e.Errors())

	// All-or-nothing: the accepted "done" value was not applied either.
	done, _ := e.Get("done")
	assert.Nil(t, done)
	assert.Zero(t, e.ID())
	assert.Zero(t, store.writes)
}

func TestCreateOmittedRequired(t *testing.T) {
	env, store, _ := newTestEnv()
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, map[string]any{"done": true})

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{"title": ReasonRequired}, verr.Fields)
	assert.Zero(t, store.writes)

	// SetData alone only checks the keys it is given.
	require.NoError(t, e.SetData(ctx, map[string]any{"done": true}))
}

func TestSetDataUnknownProperty(t *testing.T) {
	env, _, _ := newTestEnv()
	e, err := New(context.Background(), env, "task", 0)
	require.NoError(t, err)

	err = e.SetData(context.Background(), map[string]any{"title": "x", "colour": "red"})
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{"colour": ReasonUnknownProperty}, verr.Fields)
}

func TestSetDataCollaboratorFailure(t *testing.T) {
	env, _, dir := newTestEnv()
	e, err := New(context.Background(), env, "task", 0)
	require.NoError(t, err)

	dir.err = errors.New("directory unreachable")
	err = e.SetData(context.Background(), map[string]any{"title": "x", "owner": "alice"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrValidationFailed)
	assert.Nil(t, e.Errors())

	_, err = e.Save(context.Background())
	assert.ErrorIs(t, err, types.ErrNotValidated)
}

func TestSaveRequiresSetData(t *testing.T) {
	env, store, _ := newTestEnv()
	e, err := New(context.Background(), env, "task", 0)
	require.NoError(t, err)

	_, err = e.Save(context.Background())
	assert.ErrorIs(t, err, types.ErrNotValidated)
	assert.Zero(t, store.writes)
}

func TestUpdateWritesOnlyChangedColumns(t *testing.T) {
	env, store, _ := newTestEnv()
	env.Now = fixedClock(1700000000)
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	id, err := e.Create(ctx, map[string]any{"title": "Ship", "done": false})
	require.NoError(t, err)

	env.Now = fixedClock(1700000100)
	loaded, err := New(ctx, env, "task", id)
	require.NoError(t, err)
	assert.Equal(t, "Ship", loaded.Label())
	assert.Nil(t, loaded.Errors())

	require.NoError(t, loaded.SetData(ctx, map[string]any{"done": 1}))
	assert.Equal(t, []string{"done"}, loaded.Dirty())

	_, err = loaded.Save(ctx)
	require.NoError(t, err)
	require.NotNil(t, store.lastUpdate)
	assert.Equal(t, map[string]any{"done": true}, store.lastUpdate.Values)
	assert.Equal(t, int64(1700000100), store.lastUpdate.Updated)
	assert.Equal(t, int64(1700000000), loaded.Created().Unix())
	assert.Equal(t, int64(1700000100), loaded.Updated().Unix())
	assert.Empty(t, loaded.Dirty())
}

func TestSaveIsIdempotent(t *testing.T) {
	env, store, _ := newTestEnv()
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, map[string]any{"title": "Ship", "meta": map[string]any{"k": "v"}})
	require.NoError(t, err)

	require.NoError(t, e.SetData(ctx, map[string]any{"title": "Ship"}))
	_, err = e.Save(ctx)
	require.NoError(t, err)
	require.NotNil(t, store.lastUpdate)
	assert.Empty(t, store.lastUpdate.Values)

	_, err = e.Save(ctx)
	require.NoError(t, err)
	assert.Empty(t, store.lastUpdate.Values)
}

func TestSetNullIsAChange(t *testing.T) {
	env, store, _ := newTestEnv()
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, map[string]any{"title": "Ship", "due": "2024-01-01"})
	require.NoError(t, err)

	require.NoError(t, e.SetData(ctx, map[string]any{"due": ""}))
	_, err = e.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"due": nil}, store.lastUpdate.Values)
}

func TestFailedInsertLeavesStateUnchanged(t *testing.T) {
	env, store, _ := newTestEnv()
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)

	store.fail = errors.New("disk full")
	_, err = e.Create(ctx, map[string]any{"title": "Ship"})
	require.ErrorIs(t, err, types.ErrPersistenceFailed)
	assert.Zero(t, e.ID())
	assert.True(t, e.Created().IsZero())
	assert.Equal(t, []string{"title"}, e.Dirty())

	store.fail = nil
	id, err := e.Save(ctx)
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestInsertFillsSpecialKeysFromScope(t *testing.T) {
	env, store, _ := newTestEnv()
	ctx := types.WithScope(context.Background(), types.Scope{ActorID: "alice", ProjectID: "17"})

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, map[string]any{"title": "Ship"})
	require.NoError(t, err)
	assert.Equal(t, "alice", store.lastInsert.Values["owner"])
	assert.Equal(t, "17", store.lastInsert.Values["project_id"])

	owner, _ := e.Get("owner")
	assert.Equal(t, "alice", owner)

	other, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	_, err = other.Create(ctx, map[string]any{"title": "Review", "owner": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", store.lastInsert.Values["owner"])
}

func TestEntityReference(t *testing.T) {
	env, _, _ := newTestEnv()
	ctx := context.Background()

	parent, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	parentID, err := parent.Create(ctx, map[string]any{"title": "Parent"})
	require.NoError(t, err)

	child, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	_, err = child.Create(ctx, map[string]any{"title": "Child", "parent": 9999})
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonEntityNotFound, verr.Fields["parent"])

	_, err = child.Create(ctx, map[string]any{"title": "Child", "parent": parentID})
	require.NoError(t, err)
	got, _ := child.Get("parent")
	assert.Equal(t, parentID, got)
}

func TestDelete(t *testing.T) {
	env, store, _ := newTestEnv()
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Delete(ctx), types.ErrNotPersisted)
	assert.Zero(t, store.writes)

	id, err := e.Create(ctx, map[string]any{"title": "Ship"})
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx))

	assert.True(t, e.Deleted())
	assert.Zero(t, e.ID())
	assert.Nil(t, e.Errors())
	title, _ := e.Get("title")
	assert.Nil(t, title)

	_, err = New(ctx, env, "task", id)
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.ErrorIs(t, e.SetData(ctx, map[string]any{"title": "x"}), types.ErrDeleted)
	_, err = e.Create(ctx, map[string]any{"title": "x"})
	assert.ErrorIs(t, err, types.ErrDeleted)
	_, err = e.Save(ctx)
	assert.ErrorIs(t, err, types.ErrDeleted)
}

func TestLoadMissing(t *testing.T) {
	env, _, _ := newTestEnv()
	ctx := context.Background()

	_, err := New(ctx, env, "task", 42)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = New(ctx, env, "task", -1)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUnknownType(t *testing.T) {
	env, _, _ := newTestEnv()
	_, err := New(context.Background(), env, "widget", 0)
	assert.ErrorIs(t, err, types.ErrInvalidType)
}

func TestVersionedConflict(t *testing.T) {
	env, _, _ := newTestEnv()
	ctx := context.Background()

	a, err := New(ctx, env, "note", 0)
	require.NoError(t, err)
	id, err := a.Create(ctx, map[string]any{"body": "v1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Version())
	assert.Equal(t, "#"+itoa(id), a.Label())

	b, err := New(ctx, env, "note", id)
	require.NoError(t, err)

	require.NoError(t, a.SetData(ctx, map[string]any{"body": "v2"}))
	_, err = a.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Version())

	require.NoError(t, b.SetData(ctx, map[string]any{"body": "stale"}))
	_, err = b.Save(ctx)
	assert.ErrorIs(t, err, types.ErrConflict)
	assert.Equal(t, []string{"body"}, b.Dirty())

	require.NoError(t, b.Load(ctx, id))
	require.NoError(t, b.SetData(ctx, map[string]any{"body": "v3"}))
	_, err = b.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Version())
}

func TestMarshalJSON(t *testing.T) {
	env, _, _ := newTestEnv()
	env.Now = fixedClock(1700000000)
	ctx := context.Background()

	e, err := New(ctx, env, "task", 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, map[string]any{"title": "Ship", "meta": `{"tags":["a"]}`})
	require.NoError(t, err)

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var out struct {
		ID      int64          `json:"id"`
		Type    string         `json:"type"`
		Label   string         `json:"label"`
		Created time.Time      `json:"created"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, e.ID(), out.ID)
	assert.Equal(t, "task", out.Type)
	assert.Equal(t, "Ship", out.Label)
	assert.Equal(t, int64(1700000000), out.Created.Unix())
	assert.Equal(t, map[string]any{"tags": []any{"a"}}, out.Data["meta"])
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
