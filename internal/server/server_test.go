package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susom/redcap-entity/internal/registry"
	"github.com/susom/redcap-entity/internal/sqlite"
	"github.com/susom/redcap-entity/pkg/types"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, auth AuthConfig) *httptest.Server {
	t.Helper()
	b := sqlite.NewBackend(nil)
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	ctx := context.Background()
	dir := b.Directory()
	require.NoError(t, dir.AddUser(ctx, sqlite.User{Username: "alice"}))
	require.NoError(t, dir.AddUser(ctx, sqlite.User{Username: "root", SuperUser: true}))
	require.NoError(t, dir.AddProject(ctx, sqlite.Project{ID: "17"}))
	require.NoError(t, dir.AddProject(ctx, sqlite.Project{ID: "18"}))
	require.NoError(t, dir.Grant(ctx, "17", "alice"))

	reg := registry.New(b.Store(), dir, nil)
	_, err := reg.LoadFile(filepath.Join("testdata", "tasks.yaml"))
	require.NoError(t, err)
	require.NoError(t, reg.EnsureTables(ctx))

	handler, err := New(Config{Registry: reg, Directory: dir, BasePath: "/v0", Auth: auth})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, subject, project string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Project: project,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, method, url string, body any, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", body)
	code, _ := env["code"].(string)
	return code
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestAuthRejections(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString([]byte("other"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		bearer string
		code   string
	}{
		{"missing", "", "unauthorized"},
		{"wrong key", forged, "invalid_credentials"},
		{"unknown actor", token(t, "mallory", "17"), "unknown_actor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodGet, srv.URL+"/v0/types", nil, tt.bearer)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestAnonymousAccess(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowAnonymous: true})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v0/types", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "task", items[0].(map[string]any)["name"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v0/types/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "invalid_type", errorCode(t, body))
}

func TestEntityLifecycle(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	alice := token(t, "alice", "17")
	base := srv.URL + "/v0/entities/task"

	resp, body := doJSON(t, http.MethodPost, base, map[string]any{"data": map[string]any{"title": "Ship", "priority": 2}}, alice)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := int64(body["id"].(float64))
	assert.Positive(t, id)
	assert.Equal(t, "Ship", body["label"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "alice", data["owner"])
	assert.Equal(t, "17", data["project_id"])

	url := fmt.Sprintf("%s/%d", base, id)
	resp, body = doJSON(t, http.MethodPatch, url, map[string]any{"data": map[string]any{"done": true}}, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["data"].(map[string]any)["done"])

	resp, body = doJSON(t, http.MethodGet, url, nil, alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["done"])
	assert.Equal(t, float64(2), body["data"].(map[string]any)["priority"])

	resp, _ = doJSON(t, http.MethodDelete, url, nil, alice)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, url, nil, alice)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, body))
}

func TestCreateValidationFailure(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	alice := token(t, "alice", "17")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v0/entities/task",
		map[string]any{"data": map[string]any{"priority": "high", "project_id": "18"}}, alice)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "validation_failed", errorCode(t, body))

	fields := body["error"].(map[string]any)["details"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, map[string]any{
		"title":      "required",
		"priority":   "not an integer",
		"project_id": "project access denied",
	}, fields)
}

func TestPrivilegeFromDirectory(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	root := token(t, "root", "18")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v0/entities/task",
		map[string]any{"data": map[string]any{"title": "Audit"}}, root)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "18", body["data"].(map[string]any)["project_id"])
}

func TestListEntities(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	alice := token(t, "alice", "17")
	root := token(t, "root", "18")
	base := srv.URL + "/v0/entities/task"

	for i, title := range []string{"a", "b", "c"} {
		resp, body := doJSON(t, http.MethodPost, base, map[string]any{"data": map[string]any{"title": title, "priority": i + 1}}, alice)
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	}
	resp, body := doJSON(t, http.MethodPost, base, map[string]any{"data": map[string]any{"title": "d", "priority": 1}}, root)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	tests := []struct {
		name   string
		query  string
		total  float64
		titles []any
	}{
		{"all ordered", "?order=title", 4, []any{"a", "b", "c", "d"}},
		{"paged", "?order=title&limit=2&offset=1", 4, []any{"b", "c"}},
		{"equality filter", "?order=title&filter=priority:1", 2, []any{"a", "d"}},
		{"operator filter", "?order=title&desc=true&filter=priority:ge:2", 2, []any{"c", "b"}},
		{"in filter", "?order=title&filter=title:in:a,c", 2, []any{"a", "c"}},
		{"project scope", "?order=title&scope_project=true", 3, []any{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodGet, base+tt.query, nil, alice)
			require.Equal(t, http.StatusOK, resp.StatusCode, body)
			assert.Equal(t, tt.total, body["total"])
			var titles []any
			for _, item := range body["items"].([]any) {
				titles = append(titles, item.(map[string]any)["label"])
			}
			assert.Equal(t, tt.titles, titles)
		})
	}

	for _, q := range []string{"?filter=secret:1", "?filter=title:regex:x", "?order=nope"} {
		resp, body := doJSON(t, http.MethodGet, base+q, nil, alice)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Equal(t, "bad_request", errorCode(t, body), q)
	}
}

func TestParseFilter(t *testing.T) {
	field, op, value, err := parseFilter("title:like:a%")
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "like", "a%"}, []string{field, op, value})

	field, op, value, err = parseFilter("due:2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"due", "=", "2024-01-01"}, []string{field, op, value})

	_, _, _, err = parseFilter("title")
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}
