package app

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedger/internal/audit"
	"hedger/internal/config"
	"hedger/internal/execution"
	"hedger/internal/monitor"
	"hedger/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Risk: config.RiskConfig{
			DeltaThresholds: map[string]float64{"BTC": 1},
			CheckInterval:   time.Second,
		},
		Execution: config.ExecutionConfig{
			DefaultMaxSlippage:    0.01,
			DefaultPartial:        true,
			DefaultTWAP:           true,
			MaxConcurrentPerVenue: 5,
			RateLimitPerSecond:    1000,
			RateLimitBurst:        100,
			OrderBookParallelism:  2,
		},
		Database: config.DatabaseConfig{InMemory: true},
		Paper: config.PaperConfig{
			Enabled:    true,
			LastPrice:  100,
			Volatility: 0.05,
			Liquidity:  100000,
			FillRatio:  1,
			Quotes: []config.PaperQuoteConfig{
				{Venue: "alpha", BestAsk: 100.5, BestBid: 99.5, Depth: 50000, Fee: 0.0004, Latency: 0.1},
				{Venue: "beta", BestAsk: 100.2, BestBid: 99.8, Depth: 50000, Fee: 0.0005, Latency: 0.2},
			},
			Positions: map[string]float64{"BTC": 2.5},
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) *orchestrator {
	t.Helper()
	st, err := store.NewSQLite(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	o, err := newOrchestrator(context.Background(), cfg, st, zap.NewNop())
	require.NoError(t, err)
	return o
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHedgeEndpointAndQueries(t *testing.T) {
	o := newTestOrchestrator(t, testConfig())
	router := newRouter(o)

	rec := do(t, router, http.MethodPost, "/hedges", `{"symbol":"BTC","target_delta":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary execution.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, execution.StatusFilled, summary.Status)
	assert.InDelta(t, -2.375, summary.HedgeSize, 1e-12)
	// 未显式给出的字段取配置默认值
	assert.InDelta(t, 0.01, summary.Request.MaxSlippage, 1e-12)
	assert.True(t, summary.Request.TWAP)
	require.NotEmpty(t, summary.ExecutionID)

	rec = do(t, router, http.MethodGet, "/executions/"+summary.ExecutionID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/executions/"+summary.ExecutionID+"/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, execution.ActionStartExecution, entries[0].Action)
	assert.Equal(t, execution.ActionExecutionComplete, entries[len(entries)-1].Action)

	rec = do(t, router, http.MethodGet, "/executions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []monitor.SummaryRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, summary.ExecutionID, records[0].ExecutionID)

	rec = do(t, router, http.MethodGet, "/executions/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var active []execution.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Len(t, active, 1)

	rec = do(t, router, http.MethodGet, "/events?type=EXECUTION", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []monitor.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 1)

	rec = do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hedger_executions_total")
}

func TestHedgeEndpoint_Errors(t *testing.T) {
	o := newTestOrchestrator(t, testConfig())
	router := newRouter(o)

	cases := []struct {
		name string
		body string
	}{
		{"empty symbol", `{"symbol":"  "}`},
		{"slippage out of range", `{"symbol":"BTC","max_slippage":1}`},
		{"malformed json", `{"symbol":`},
		{"unknown field", `{"symbol":"BTC","leverage":3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/hedges", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/executions/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/executions/missing/audit", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, router, http.MethodGet, "/hedges", "").Code)
}

func TestHedgeEndpoint_NoVenue(t *testing.T) {
	cfg := testConfig()
	cfg.Paper.FailingVenues = []string{"alpha", "beta"}
	router := newRouter(newTestOrchestrator(t, cfg))

	rec := do(t, router, http.MethodPost, "/hedges", `{"symbol":"BTC"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no venue available")
}

func TestWriteJSON_EncodeFailureIsServerError(t *testing.T) {
	h := &handlers{logger: zap.NewNop()}
	rec := httptest.NewRecorder()

	h.writeJSON(rec, http.StatusOK, map[string]float64{"v": math.NaN()})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "encode response")
}

func TestTick_HedgesBreachedExposure(t *testing.T) {
	o := newTestOrchestrator(t, testConfig())
	ctx := context.Background()

	require.NoError(t, o.Tick(ctx))
	assert.Len(t, o.manager.ActiveExecutions(), 1)

	triggered, err := o.monitor.ListEvents(ctx, monitor.EventHedgeTriggered, 10)
	require.NoError(t, err)
	assert.Len(t, triggered, 1)

	// 剩余敞口 0.125 低于阈值，不再触发
	require.NoError(t, o.Tick(ctx))
	assert.Len(t, o.manager.ActiveExecutions(), 1)

	checks, err := o.monitor.ListEvents(ctx, monitor.EventGuardCheck, 10)
	require.NoError(t, err)
	assert.Len(t, checks, 2)
}

func TestTick_ReportsHedgeFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Paper.FailingVenues = []string{"alpha", "beta"}
	o := newTestOrchestrator(t, cfg)

	err := o.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BTC")
}

func TestAppDefaultRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.TargetDelta = 0.5
	st, err := store.NewSQLite(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a, err := New(context.Background(), cfg, zap.NewNop(), st)
	require.NoError(t, err)

	req := a.DefaultRequest("ETH")
	assert.Equal(t, execution.HedgeRequest{Symbol: "ETH", TargetDelta: 0.5, MaxSlippage: 0.01, Partial: true, TWAP: true}, req)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}
