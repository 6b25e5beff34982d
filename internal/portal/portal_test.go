package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/db/dbtest"
	"github.com/bartek5186/catalog2erp/internal/executor"
	"github.com/bartek5186/catalog2erp/internal/export"
	"github.com/bartek5186/catalog2erp/internal/metrics"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/progress"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/remote/remotetest"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	h     *db.Handle
	fx    dbtest.Fixture
	fake  *remotetest.Instance
	exec  *executor.Executor
	srv   *Server
	token string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := dbtest.Open(t)
	fx := dbtest.Seed(t, h)
	fake := remotetest.New()
	m := metrics.New()

	cat := catalog.NewRepository(h.DB)
	links := repository.NewLinks(h.DB)
	history := repository.NewHistory(h.DB)
	access := repository.NewAccessLogs(h.DB)
	previews := planner.NewStore(time.Hour)
	tracker := progress.NewTracker()

	exec := executor.New(zerolog.Nop(), executor.Config{Workers: 1}, executor.Deps{
		Dialer:   fake,
		Previews: previews,
		History:  history,
		Links:    links,
		Learner:  repository.NewMappings(h.DB),
		Tracker:  tracker,
		Metrics:  m,
	})
	t.Cleanup(func() { _ = exec.Shutdown(context.Background()) })

	srv := New(zerolog.Nop(), Settings{RemoteTimeout: time.Second, PollIntervalSec: 2}, Deps{
		Catalog:     cat,
		Selections:  catalog.NewSelections(h.DB),
		Connections: repository.NewConnections(h.DB),
		Mappings:    repository.NewMappings(h.DB),
		History:     history,
		Access:      access,
		Previews:    previews,
		Planner:     planner.New(zerolog.Nop(), cat, links),
		Executor:    exec,
		Status:      progress.NewSurface(zerolog.Nop(), tracker, nil, previews, history),
		Exporter:    export.New(zerolog.Nop(), cat, access, export.Settings{MaxProducts: 100}),
		Dialer:      fake,
		Metrics:     m,
	})
	return &env{h: h, fx: fx, fake: fake, exec: exec, srv: srv, token: fx.Client.AccessToken}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(raw))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if e.token != "" {
		r.Header.Set(TokenHeader, e.token)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestTokenRequired(t *testing.T) {
	e := newEnv(t)
	e.token = ""
	w := e.do(t, http.MethodGet, "/catalog/portal/sync/mappings", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	e.token = "wrong"
	w = e.do(t, http.MethodGet, "/catalog/portal/sync/mappings", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPreviewNeedsMappings(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/catalog/portal/sync/preview", gin.H{"product_ids": []int64{1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "incomplete mapping")
}

func TestSyncFlow(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/catalog/portal/sync/mappings/create-default", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, decode(t, w)["created"])

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/preview", gin.H{"product_ids": []int64{1, 2, 3}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	prev := decode(t, w)
	previewID, _ := prev["preview_id"].(string)
	require.NotEmpty(t, previewID)
	assert.Len(t, prev["rows"], 3)
	assert.EqualValues(t, 2, prev["poll_interval_sec"])
	assert.Zero(t, e.fake.Writes, "preview must not write")

	w = e.do(t, http.MethodGet, "/catalog/portal/sync/status?preview_id="+previewID, nil)
	assert.Equal(t, "pending", decode(t, w)["state"])

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/execute", gin.H{"preview_id": previewID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	historyID := uint(decode(t, w)["history_id"].(float64))

	var snap map[string]any
	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodPost, "/catalog/portal/sync/status", gin.H{"preview_id": previewID})
		snap = decode(t, w)
		return snap["state"] == "done"
	}, 5*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 100, snap["progress"])
	assert.EqualValues(t, historyID, snap["history_id"])
	assert.NotContains(t, snap, "client_id")

	w = e.do(t, http.MethodGet, "/catalog/portal/sync/result/"+strconv.FormatUint(uint64(historyID), 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 3)

	// podgląd wykonuje się tylko raz
	w = e.do(t, http.MethodPost, "/catalog/portal/sync/execute", gin.H{"preview_id": previewID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, w.Body.String(), "catalog2erp_previews_built_total 1")
}

func TestStatusNeverFails(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/catalog/portal/sync/status?preview_id=nope", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not found", decode(t, w)["error"])

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/cancel", gin.H{"preview_id": "nope"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestRemoteErrorsMapToStatus(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/catalog/portal/sync/mappings/create-default", nil)

	e.fake.ConnectErr = &remote.AuthenticationError{Message: "bad key"}
	w := e.do(t, http.MethodPost, "/catalog/portal/sync/preview", gin.H{"product_ids": []int64{1}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	e.fake.ConnectErr = &remote.ConnectionError{Op: "connect", Err: context.DeadlineExceeded}
	w = e.do(t, http.MethodGet, "/catalog/portal/sync/mappings/fetch-categories", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/test-connection", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
	var conn db.Connection
	require.NoError(t, e.h.DB.First(&conn, e.fx.Connection.ID).Error)
	assert.Equal(t, "error", conn.Status)
}

func TestMappingValidation(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/catalog/portal/sync/mappings/field/save", gin.H{
		"source_field": "list_price",
		"target_field": "no_such_field",
		"sync_mode":    "always",
		"active":       true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/mappings/field/delete", gin.H{"target_field": "name"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/connection", gin.H{
		"url":       "https://erp.acme.test",
		"reference": gin.H{"mode": "custom_format", "format": "{prefix}{unknown}"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/connection", gin.H{
		"url":       "https://erp.acme.test",
		"reference": gin.H{"mode": "custom_format", "format": ""},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "keep_original")

	w = e.do(t, http.MethodPost, "/catalog/portal/sync/mappings/field/save", gin.H{
		"source_field":      "list_price",
		"target_field":      "list_price",
		"sync_mode":         "always",
		"apply_coefficient": true,
		"coefficient":       "0",
		"active":            true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "coefficient")
}

func TestCartAndExport(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/catalog/portal/cart", gin.H{"products": []catalog.Ref{{ProductID: 2}, {ProductID: 1}}})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/catalog/portal/cart/save", gin.H{"name": "weekly"})
	require.Equal(t, http.StatusOK, w.Code)
	selID := decode(t, w)["selection_id"]

	w = e.do(t, http.MethodGet, "/catalog/portal/cart/saved/list", nil)
	assert.Len(t, decode(t, w)["selections"], 1)

	w = e.do(t, http.MethodPost, "/catalog/portal/cart/saved/load", gin.H{"selection_id": selID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["products"], 2)

	w = e.do(t, http.MethodPost, "/catalog/export/csv", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "catalog_export_Acme_")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 3)

	w = e.do(t, http.MethodPost, "/catalog/portal/cart/saved/delete", gin.H{"selection_id": selID})
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/catalog/portal/cart/saved/delete", gin.H{"selection_id": selID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	e.token = ""
	w := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
