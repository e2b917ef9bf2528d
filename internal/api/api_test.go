package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"keepwarm/internal/clock"
	"keepwarm/internal/metrics"
	"keepwarm/internal/models"
	"keepwarm/internal/notifier"
	"keepwarm/internal/records"
	"keepwarm/internal/scheduler"
	"keepwarm/internal/service"
	"keepwarm/internal/storage/file"
)

type dormant struct{}

func (dormant) State() scheduler.State { return scheduler.StateDormant }

type testAPI struct {
	srv    *httptest.Server
	store  *records.Store
	botOK  *atomic.Bool
	botHit *atomic.Int32
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	ok, hits := &atomic.Bool{}, &atomic.Int32{}
	ok.Store(true)
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if !ok.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(bot.Close)

	docs, err := file.New(t.TempDir())
	require.NoError(t, err)
	loc, err := time.LoadLocation(clock.DefaultZone)
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2024, 5, 10, 12, 0, 0, 0, loc))
	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := records.New(docs, clk, log, m)
	store.Load(context.Background())
	n := notifier.New(docs, clk, log, m, notifier.WithAPIBase(bot.URL))
	n.Load(context.Background())
	svc := service.New(store, n, dormant{}, log)

	srv := httptest.NewServer(NewRouter(svc, reg, log))
	t.Cleanup(srv.Close)
	return testAPI{srv: srv, store: store, botOK: ok, botHit: hits}
}

func (a testAPI) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestListTargets(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodGet, "/api/urls", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["targets"], 2)
	assert.Len(t, body["scheduledTargets"], 1)
}

func TestCreateTarget(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodPost, "/api/urls", map[string]string{
		"url": "https://new.example", "name": "new", "type": "24h",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := body["url"].(map[string]any)
	assert.Equal(t, "continuous", created["mode"])
	assert.Equal(t, true, created["active"])

	resp, body = a.do(t, http.MethodPost, "/api/urls", map[string]string{"url": "https://x.example", "mode": "continuous"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "name")

	resp, _ = a.do(t, http.MethodPost, "/api/urls", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTargetsBatch(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodPost, "/api/urls/batch", map[string]any{
		"urls": []map[string]string{
			{"url": "https://a.example", "name": "a", "mode": "continuous"},
			{"url": "https://b.example", "name": "b", "mode": "scheduled"},
			{"url": "https://c.example", "name": "c", "mode": "continuous"},
			{"url": "", "name": "d", "mode": "continuous"},
			{"url": "https://e.example", "name": "e", "mode": "weekly"},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, body["added"], 3)
	assert.Len(t, body["errors"], 2)

	continuous, scheduled := a.store.Targets()
	assert.Len(t, continuous, 4)
	assert.Len(t, scheduled, 2)

	resp, body = a.do(t, http.MethodPost, "/api/urls/batch", map[string]any{
		"urls": []map[string]string{{"url": "https://f.example", "name": "f", "mode": "scheduled"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, body["added"], 1)
	assert.Empty(t, body["errors"])

	resp, _ = a.do(t, http.MethodPost, "/api/urls/batch", map[string]any{"urls": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToggleEditDelete(t *testing.T) {
	a := newTestAPI(t)
	created, err := a.store.AddTarget(context.Background(), models.TargetInput{URL: "https://t.example", Name: "t", Mode: "continuous"})
	require.NoError(t, err)
	path := fmt.Sprintf("/api/urls/%d", created.ID)

	resp, body := a.do(t, http.MethodPut, path, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["url"].(map[string]any)["active"])

	resp, _ = a.do(t, http.MethodPut, path, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = a.do(t, http.MethodPut, path+"/edit", map[string]string{
		"url": "https://t2.example", "name": "t2", "mode": "scheduled",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := body["url"].(map[string]any)
	assert.Equal(t, "scheduled", edited["mode"])
	assert.Equal(t, "https://t2.example", edited["url"])

	resp, _ = a.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = a.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "deleting an absent id succeeds")

	resp, _ = a.do(t, http.MethodPut, path, map[string]bool{"active": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = a.do(t, http.MethodPut, path+"/edit", map[string]string{"url": "https://x.example", "name": "x", "mode": "scheduled"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.do(t, http.MethodDelete, "/api/urls/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogs(t *testing.T) {
	a := newTestAPI(t)
	for i := range 5 {
		a.store.AppendLog(models.AccessLog{URL: "https://a.example", Mode: models.ModeContinuous, Status: models.HTTPStatus(200 + i)})
	}
	a.store.AppendLog(models.AccessLog{URL: "https://b.example", Mode: models.ModeScheduled, Status: models.TransportStatus("ENOTFOUND"), Error: "no such host"})

	resp, body := a.do(t, http.MethodGet, "/api/logs?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 6.0, body["total"])
	logs := body["logs"].([]any)
	require.Len(t, logs, 2)
	first := logs[0].(map[string]any)
	assert.Equal(t, "ENOTFOUND", first["status"])
	assert.Equal(t, "no such host", first["error"])
	assert.Equal(t, 204.0, logs[1].(map[string]any)["status"])

	resp, body = a.do(t, http.MethodGet, "/api/logs?page=x", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, body["page"])
	assert.Equal(t, float64(records.DefaultPageSize), body["limit"])

	resp, _ = a.do(t, http.MethodDelete, "/api/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, total := a.store.Logs(1, 10)
	assert.Zero(t, total)
}

func TestTelegramRoutes(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodGet, "/api/telegram/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["configured"])

	resp, _ = a.do(t, http.MethodPost, "/api/telegram/config", map[string]string{"chatId": "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = a.do(t, http.MethodPost, "/api/telegram/config", map[string]string{"chatId": "1", "botToken": "tok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["status"].(map[string]any)["configured"])
	assert.Equal(t, int32(1), a.botHit.Load())

	resp, body = a.do(t, http.MethodPost, "/api/telegram/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["status"].(map[string]any)["pushEnabled"])

	resp, body = a.do(t, http.MethodPost, "/api/telegram/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["status"].(map[string]any)["pushEnabled"])

	a.botOK.Store(false)
	resp, body = a.do(t, http.MethodPost, "/api/telegram/config", map[string]string{"chatId": "2", "botToken": "bad"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "Unauthorized")

	resp, body = a.do(t, http.MethodPost, "/api/telegram/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["status"].(map[string]any)["configured"])
}

func TestHealthzAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "dormant", body["windowed"])
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	mresp, err := http.Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "keepwarm_access_log_records")
}
