package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedger/internal/audit"
	"hedger/internal/config"
	"hedger/internal/execution"
	"hedger/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRecordAndListEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordGuardCheck(ctx, GuardCheckPayload{Symbol: "BTC", Delta: 3, Threshold: 1, Breached: true})
	svc.RecordError(ctx, "对冲失败", errors.New("venue down"), map[string]interface{}{"symbol": "BTC"})
	svc.RecordGuardCheck(ctx, GuardCheckPayload{Symbol: "ETH", Delta: 0.2, Threshold: 5})

	all, err := svc.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, EventGuardCheck, all[0].Type)
	assert.Equal(t, EventError, all[1].Type)

	guards, err := svc.ListEvents(ctx, EventGuardCheck, 10)
	require.NoError(t, err)
	require.Len(t, guards, 2)

	var latest GuardCheckPayload
	require.NoError(t, json.Unmarshal(guards[0].Payload.(json.RawMessage), &latest))
	assert.Equal(t, "ETH", latest.Symbol)
	assert.False(t, latest.Breached)

	limited, err := svc.ListEvents(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAuditSinkPersistsInOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	trail := audit.NewTrail(zap.NewNop(), audit.WithSink(svc))
	trail.Append(ctx, "exec-1", "exec-1", "start_execution", map[string]any{"symbol": "BTC"})
	trail.Append(ctx, "exec-1", "exec-1_tranche_1", "tranche_execution_start", map[string]any{"size": 0.5})
	trail.Append(ctx, "exec-2", "exec-2", "start_execution", nil)
	trail.Append(ctx, "exec-1", "exec-1", "execution_complete", map[string]any{"status": "FILLED"})

	entries, err := svc.ListAudit(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, audit.Action("start_execution"), entries[0].Action)
	assert.Equal(t, "exec-1_tranche_1", entries[1].ID)
	assert.Equal(t, audit.Action("execution_complete"), entries[2].Action)
	assert.JSONEq(t, `{"status":"FILLED"}`, string(entries[2].Details.(json.RawMessage)))
	assert.False(t, entries[0].Timestamp.IsZero())

	none, err := svc.ListAudit(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveSummary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	summary := execution.Summary{
		ExecutionID: "exec-1",
		Request:     execution.HedgeRequest{Symbol: "BTC", TargetDelta: 0, MaxSlippage: 0.01},
		HedgeSize:   -0.95,
		Venue:       "alpha",
		Status:      execution.StatusFilled,
		CostBenefit: execution.CostBenefit{Filled: 0.95, TotalCost: 95},
		StartedAt:   started,
		CompletedAt: started.Add(time.Second),
	}
	require.NoError(t, svc.SaveSummary(ctx, summary))

	// 重复写入覆盖原记录
	summary.Status = execution.StatusFailed
	require.NoError(t, svc.SaveSummary(ctx, summary))

	records, err := svc.ListSummaries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "exec-1", rec.ExecutionID)
	assert.Equal(t, "BTC", rec.Symbol)
	assert.Equal(t, execution.StatusFailed, rec.Status)
	assert.InDelta(t, -0.95, rec.HedgeSize, 1e-12)
	assert.True(t, rec.StartedAt.Equal(started))

	var decoded execution.Summary
	require.NoError(t, json.Unmarshal(rec.Payload, &decoded))
	assert.Equal(t, "alpha", decoded.Venue)

	events, err := svc.ListEvents(ctx, EventExecution, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
