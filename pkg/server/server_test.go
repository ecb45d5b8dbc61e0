package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/floelabs/icefloe/pkg/catalog"
	"github.com/floelabs/icefloe/pkg/commit"
	"github.com/floelabs/icefloe/pkg/objectstore"
	"github.com/floelabs/icefloe/pkg/table"
	floetesting "github.com/floelabs/icefloe/utils/pkg/testing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	log := floetesting.NewLogger()

	cat, err := catalog.Open(ctx, catalog.Config{
		Logger: log,
		DSN:    filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	objects, err := objectstore.New(ctx, objectstore.Config{Logger: log})
	require.NoError(t, err)

	store, err := table.New(table.Config{
		Logger: log, Catalog: cat, Objects: objects, Warehouse: t.TempDir(),
	})
	require.NoError(t, err)

	router, err := commit.NewRouter(commit.Config{Logger: log, Store: store, TableID: "demo.events"})
	require.NoError(t, err)

	srv, err := New(Config{
		Logger:  log,
		Store:   store,
		Router:  router,
		Objects: objects,
		TableID: "demo.events",
		DataDir: t.TempDir(),
		Version: "test",
	})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestFloe_Server_Health(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/readyz", nil).Code)

	rec := do(t, srv, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var version map[string]string
	decode(t, rec, &version)
	require.Equal(t, "test", version["version"])
}

// Walks the whole demo over the API: generate a nanosecond fixture, append
// it (coerced), fail to register it, rewrite it and register the copy, then
// reset everything.
func TestFloe_Server_Walkthrough(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	nsPath := filepath.Join(srv.cfg.DataDir, "events_ns.flc")
	usPath := filepath.Join(srv.cfg.DataDir, "events_us.flc")

	rec := do(t, srv, http.MethodPost, "/api/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var gen map[string]string
	decode(t, rec, &gen)
	require.Equal(t, nsPath, gen["path"])

	rec = do(t, srv, http.MethodPost, "/api/append", map[string]string{"source": nsPath})
	require.Equal(t, http.StatusOK, rec.Code)
	var appendRes commit.Result
	decode(t, rec, &appendRes)
	require.True(t, appendRes.Committed)
	require.Equal(t, int64(3), appendRes.Rows)

	t.Run("preview shows truncated timestamps", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/preview?limit=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var preview struct {
			Rows  []map[string]any `json:"rows"`
			Count int              `json:"count"`
		}
		decode(t, rec, &preview)
		require.Equal(t, 3, preview.Count)
		for _, row := range preview.Rows {
			require.Equal(t, "2024-01-01T12:34:56.123456Z", row["ts"])
		}
	})

	t.Run("registering the raw ns file is 422", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/register", map[string]string{"source": nsPath})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	rec = do(t, srv, http.MethodPost, "/api/rewrite", map[string]any{"forRegistration": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/register", map[string]string{"source": usPath})
	require.Equal(t, http.StatusOK, rec.Code)
	var regRes commit.Result
	decode(t, rec, &regRes)
	require.True(t, regRes.Committed)

	t.Run("re-registration is a no-op, not an error", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/register", map[string]string{"source": usPath})
		require.Equal(t, http.StatusOK, rec.Code)
		var again commit.Result
		decode(t, rec, &again)
		require.False(t, again.Committed)
		require.Equal(t, regRes.SnapshotID, again.SnapshotID)
	})

	t.Run("inspect lists both snapshots", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/inspect", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var info table.Info
		decode(t, rec, &info)
		require.Len(t, info.Snapshots, 2)
		require.Equal(t, int64(6), info.RowCount)
		require.Equal(t, 2, info.FormatVersion)
	})

	rec = do(t, srv, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		DroppedTable bool     `json:"droppedTable"`
		DeletedLocal []string `json:"deletedLocal"`
	}
	decode(t, rec, &summary)
	require.True(t, summary.DroppedTable)
	require.Contains(t, summary.DeletedLocal, nsPath)
	require.Contains(t, summary.DeletedLocal, usPath)

	t.Run("inspect after reset is 404", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/inspect", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestFloe_Server_ManualRows(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/rows", map[string]any{
		"tableId": "demo.manual",
		"rows": []map[string]any{
			{"name": "a", "value": 1},
			{"name": "b", "value": 2},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		TableID    string `json:"tableId"`
		SnapshotID int64  `json:"snapshotId"`
		Rows       int    `json:"rows"`
	}
	decode(t, rec, &res)
	require.Equal(t, "demo.manual", res.TableID)
	require.Positive(t, res.SnapshotID)
	require.Equal(t, 2, res.Rows)

	t.Run("empty rows are rejected", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/rows", map[string]any{"rows": []map[string]any{}})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported value kinds are 400", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/rows", map[string]any{
			"rows": []map[string]any{{"blob": []int{1, 2}}},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFloe_Server_BadRequests(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	require.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/append", map[string]string{}).Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/upload", map[string]string{"src": "x"}).Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/exists", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/preview?limit=abc", nil).Code)

	t.Run("append of a missing file is 404", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/append", map[string]string{"source": "/nope/missing.flc"})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
