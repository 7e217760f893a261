package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	srv := httptest.NewServer(newRouter(st))
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})
	return srv, st
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestCreateTask(t *testing.T) {
	t.Run("accepts a valid research task", func(t *testing.T) {
		srv, st := newTestServer(t)

		resp, out := postJSON(t, srv.URL+"/tasks",
			`{"type":"research_company","args":{"name":"Acme Corp"}}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, "research_company", out["type"])
		assert.Equal(t, "pending", out["status"])

		id, ok := out["id"].(string)
		require.True(t, ok)
		task, err := st.GetTask(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, "Acme Corp", task.Args["name"])
	})

	t.Run("rejects an unknown type", func(t *testing.T) {
		srv, _ := newTestServer(t)

		resp, out := postJSON(t, srv.URL+"/tasks", `{"type":"emit_fax","args":{}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, out["error"], "unknown task type")
	})

	t.Run("rejects invalid args", func(t *testing.T) {
		srv, _ := newTestServer(t)

		resp, out := postJSON(t, srv.URL+"/tasks", `{"type":"research_company","args":{}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, out["error"], "at least one of")

		resp, out = postJSON(t, srv.URL+"/tasks",
			`{"type":"merge_entities","args":{"canonical_id":"a","duplicate_id":"a"}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, out["error"], "must differ")

		resp, out = postJSON(t, srv.URL+"/tasks", `{"type":"send_and_archive","args":{}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, out["error"], "company_id is required")
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		srv, _ := newTestServer(t)

		resp, out := postJSON(t, srv.URL+"/tasks", `{"type":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid request body", out["error"])
	})
}

func TestGetTask(t *testing.T) {
	srv, st := newTestServer(t)

	created, err := st.CreateTask(context.Background(), model.TaskBulkImport, map[string]any{"source": "sheet"})
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/tasks/" + created.ID)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, created.ID, out["id"])
		assert.Equal(t, "bulk_import", out["type"])
	})

	t.Run("missing", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/tasks/nope")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
