package telemetry

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailherd/mailherd/pkg/batch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStatusServer(t *testing.T, progress ProgressFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewStatusHandler(progress, testLogger()))
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusHandler_Healthz(t *testing.T) {
	srv := newStatusServer(t, func() any { return nil })

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStatusHandler_Progress(t *testing.T) {
	snapshot := batch.Progress{Total: 40, Completed: 12, Successful: 10, Failed: 1, Skipped: 1}
	srv := newStatusServer(t, func() any { return snapshot })

	resp, err := http.Get(srv.URL + "/api/v1/progress")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got batch.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, snapshot, got)
}

func TestStatusHandler_Metrics(t *testing.T) {
	ItemsProcessed.WithLabelValues("scan", "SUCCESS").Inc()
	srv := newStatusServer(t, func() any { return nil })

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "mailherd_engine_items_processed_total")
}
