package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nataliia-kulatska/gadget/internal/config"
	apperrors "github.com/nataliia-kulatska/gadget/internal/errors"
	"github.com/nataliia-kulatska/gadget/internal/logging"
	"github.com/nataliia-kulatska/gadget/internal/metrics"
	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/runner"
	"github.com/nataliia-kulatska/gadget/internal/store"
)

// testConfig creates a test configuration with default values
func testConfig(maxJobs int) *config.Config {
	cfg := &config.Config{Environment: "test"}
	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Calibration.DataDir = "data"
	cfg.Calibration.DefaultAlgorithm = "hooke"
	cfg.Calibration.Seed = 1
	cfg.Calibration.MaxJobs = maxJobs
	return cfg
}

type fixture struct {
	srv    *Server
	router chi.Router
	logs   *bytes.Buffer
}

func newFixture(t *testing.T, maxJobs int) *fixture {
	t.Helper()

	var logs bytes.Buffer
	logger := logging.New(logging.DebugLevel, &logs).WithFormat(logging.ConsoleFormat)

	st, err := store.NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	r := &runner.Runner{
		Store:            st,
		Metrics:          metrics.New(prometheus.NewRegistry()),
		Logger:           logging.NewZapLogger(logger),
		DefaultAlgorithm: "hooke",
		DefaultSeed:      1,
	}

	srv := NewServer(testConfig(maxJobs), logger, r)
	router := chi.NewRouter()
	srv.RegisterRoutes(router)
	t.Cleanup(func() { _ = srv.Close() })
	return &fixture{srv: srv, router: router, logs: &logs}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func bowlJob() config.Job {
	return config.Job{
		Objective: "bowl",
		Parameters: []config.Parameter{
			{Name: "a", Value: 3, Lower: -5, Upper: 5, Optimise: true},
			{Name: "b", Value: -2, Lower: -5, Upper: 5, Optimise: true},
		},
	}
}

// slowJob runs until it is cancelled.
func slowJob() config.Job {
	job := bowlJob()
	job.Objective = "rosenbrock"
	job.Options = map[string]any{"rho": 0.999999, "epsilon": 1e-12, "itermax": 1e9}
	return job
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestRegisterRoutes(t *testing.T) {
	f := newFixture(t, 1)

	routes := map[string]bool{}
	err := chi.Walk(f.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes[method+" "+strings.TrimSuffix(route, "/")] = true
		return nil
	})
	require.NoError(t, err)

	for _, want := range []string{
		"GET /api/v1/algorithms",
		"POST /api/v1/calibrations",
		"GET /api/v1/calibrations",
		"GET /api/v1/calibrations/{id}",
		"DELETE /api/v1/calibrations/{id}",
		"POST /rpc",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestAlgorithms(t *testing.T) {
	f := newFixture(t, 1)

	rr := f.do(t, http.MethodGet, "/api/v1/algorithms", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var out []struct {
		Name    string   `json:"name"`
		Options []string `json:"options"`
	}
	decode(t, rr, &out)
	require.Len(t, out, len(config.Algorithms()))
	assert.Equal(t, "hooke", out[0].Name)
	assert.Contains(t, out[0].Options, "rho")
}

func TestStartAndComplete(t *testing.T) {
	f := newFixture(t, 2)

	rr := f.do(t, http.MethodPost, "/api/v1/calibrations", StartRequest{ID: "bowl-1", Job: bowlJob()})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var started JobView
	decode(t, rr, &started)
	assert.Equal(t, "bowl-1", started.ID)
	assert.Equal(t, "hooke", started.Algorithm)
	assert.Equal(t, "bowl", started.Objective)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := f.srv.Wait(ctx, "bowl-1")
	require.NoError(t, err)

	rr = f.do(t, http.MethodGet, "/api/v1/calibrations/bowl-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var view JobView
	decode(t, rr, &view)
	assert.Equal(t, StatusCompleted, view.Status)
	require.NotNil(t, view.EndTime)
	require.NotNil(t, view.Result)
	assert.Equal(t, optimization.Converged, view.Result.Report.Status)
	assert.InDelta(t, 1, view.Result.Report.Score, 1e-3)
	require.Len(t, view.Result.Parameters, 2)
	assert.InDelta(t, 1, view.Result.Parameters[0].Value, 1e-2)

	rr = f.do(t, http.MethodGet, "/api/v1/calibrations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []JobView
	decode(t, rr, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "bowl-1", list[0].ID)

	rr = f.do(t, http.MethodDelete, "/api/v1/calibrations/bowl-1", nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "finished jobs cannot be cancelled")
}

func TestStartGeneratesID(t *testing.T) {
	f := newFixture(t, 2)

	view, err := f.srv.Start(StartRequest{Job: bowlJob()})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(view.ID, "cal_"), view.ID)
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t, 1)

	badObjective := bowlJob()
	badObjective.Objective = "nope"

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"invalid job", StartRequest{Job: badObjective}, http.StatusBadRequest},
		{"bad id", StartRequest{ID: "../etc", Job: bowlJob()}, http.StatusBadRequest},
		{"resume without id", StartRequest{Resume: true, Job: bowlJob()}, http.StatusBadRequest},
		{"resume without checkpoint", StartRequest{ID: "ghost", Resume: true, Job: bowlJob()}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/api/v1/calibrations", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())

			var body map[string]string
			decode(t, rr, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, 1)

	rr := f.do(t, http.MethodGet, "/api/v1/calibrations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodDelete, "/api/v1/calibrations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelAndSlots(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.srv.Start(StartRequest{ID: "slow", Job: slowJob()})
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/api/v1/calibrations", StartRequest{ID: "slow", Job: slowJob()})
	assert.Equal(t, http.StatusConflict, rr.Code, "same id is already running")

	rr = f.do(t, http.MethodPost, "/api/v1/calibrations", StartRequest{ID: "other", Job: bowlJob()})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "no free job slot")

	rr = f.do(t, http.MethodDelete, "/api/v1/calibrations/slow", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	view, err := f.srv.Wait(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, optimization.Interrupted, view.Result.Report.Status)
	assert.Len(t, view.Result.Report.Best, 2)

	_, err = f.srv.Start(StartRequest{ID: "other", Job: bowlJob()})
	assert.NoError(t, err, "the slot is free again")
}

func TestResumeFromCheckpoint(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job := bowlJob()
	job.Options = map[string]any{"itermax": 3}
	_, err := f.srv.Start(StartRequest{ID: "resumable", Job: job})
	require.NoError(t, err)
	first, err := f.srv.Wait(ctx, "resumable")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, first.Status)
	require.Equal(t, optimization.MaxEvaluations, first.Result.Report.Status)

	_, err = f.srv.Start(StartRequest{ID: "resumable", Resume: true, Job: bowlJob()})
	require.NoError(t, err)
	second, err := f.srv.Wait(ctx, "resumable")
	require.NoError(t, err)
	assert.Equal(t, optimization.Converged, second.Result.Report.Status)
	assert.LessOrEqual(t, second.Result.Report.Score, first.Result.Report.Score)
	assert.Contains(t, f.logs.String(), "Resuming calibration")
}

func TestShutdownCancelsJobs(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.srv.Start(StartRequest{ID: "slow", Job: slowJob()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))

	view, err := f.srv.Status("slow")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, view.Status)

	_, err = f.srv.Start(StartRequest{Job: bowlJob()})
	assert.Error(t, err, "no jobs start after shutdown")
}

func rpcCall(t *testing.T, f *fixture, body interface{}) map[string]interface{} {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	decode(t, rr, &resp)
	assert.Equal(t, "2.0", resp["jsonrpc"])
	return resp
}

func rpcErrorCode(t *testing.T, resp map[string]interface{}) float64 {
	t.Helper()
	rpcErr, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "expected an error response: %v", resp)
	return rpcErr["code"].(float64)
}

func TestJSONRPC(t *testing.T) {
	f := newFixture(t, 2)

	resp := rpcCall(t, f, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "calibration.start",
		"params":  []interface{}{StartRequest{ID: "rpc-job", Job: bowlJob()}},
	})
	require.Nil(t, resp["error"])
	assert.Equal(t, float64(1), resp["id"])
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "rpc-job", result["id"])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := f.srv.Wait(ctx, "rpc-job")
	require.NoError(t, err)

	resp = rpcCall(t, f, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "two",
		"method":  "calibration.status",
		"params":  map[string]string{"id": "rpc-job"},
	})
	require.Nil(t, resp["error"])
	result = resp["result"].(map[string]interface{})
	assert.Equal(t, StatusCompleted, result["status"])

	resp = rpcCall(t, f, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "calibration.list",
	})
	assert.Len(t, resp["result"], 1)
}

func TestJSONRPCErrors(t *testing.T) {
	f := newFixture(t, 1)

	tests := []struct {
		name string
		body interface{}
		code float64
	}{
		{"parse error", "{not json", codeParseError},
		{"wrong version", map[string]interface{}{"jsonrpc": "1.0", "id": 1, "method": "calibration.list"}, codeInvalidRequest},
		{"unknown method", map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "optimization.start"}, codeMethodNotFound},
		{"missing params", map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "calibration.status"}, codeInvalidParams},
		{
			"two params",
			map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "calibration.cancel", "params": []interface{}{map[string]string{"id": "a"}, map[string]string{"id": "b"}}},
			codeInvalidParams,
		},
		{
			"unknown job",
			map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "calibration.cancel", "params": map[string]string{"id": "missing"}},
			codeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpcCall(t, f, tt.body)
			assert.Equal(t, tt.code, rpcErrorCode(t, resp))
		})
	}

	resp := rpcCall(t, f, map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "calibration.status", "params": map[string]string{"id": "missing"},
	})
	data := resp["error"].(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, float64(http.StatusNotFound), data["status"])
}

func TestDecodeParams(t *testing.T) {
	var p idParams
	require.NoError(t, decodeParams(json.RawMessage(` {"id":"x"}`), &p))
	assert.Equal(t, "x", p.ID)

	p = idParams{}
	require.NoError(t, decodeParams(json.RawMessage(`[{"id":"y"}]`), &p))
	assert.Equal(t, "y", p.ID)

	for _, raw := range []json.RawMessage{nil, json.RawMessage(`[]`)} {
		err := decodeParams(raw, &p)
		require.Error(t, err)
		assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
	}
}
