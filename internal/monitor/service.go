package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedger/internal/audit"
	"hedger/internal/execution"
	"hedger/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	action TEXT NOT NULL,
	details TEXT NOT NULL,
	created_at TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_execution ON audit_entries(execution_id);`,
	`CREATE TABLE IF NOT EXISTS execution_summaries (
	execution_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	status TEXT NOT NULL,
	hedge_size REAL NOT NULL,
	venue TEXT NOT NULL,
	payload TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL
);`,
}

// Service 负责持久化监控事件、审计条目与执行记录。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ audit.Sink            = (*Service)(nil)
	_ execution.SummarySink = (*Service)(nil)
)

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordGuardCheck 记录敞口巡检。
func (s *Service) RecordGuardCheck(ctx context.Context, payload GuardCheckPayload) {
	if err := s.Record(ctx, Event{Type: EventGuardCheck, Payload: payload}); err != nil {
		s.logger.Warn("记录巡检事件失败", zap.Error(err))
	}
}

// RecordHedgeTriggered 记录自动对冲。
func (s *Service) RecordHedgeTriggered(ctx context.Context, payload HedgeTriggeredPayload) {
	if err := s.Record(ctx, Event{Type: EventHedgeTriggered, Payload: payload}); err != nil {
		s.logger.Warn("记录自动对冲事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{Type: EventError, Payload: payload}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// Persist 写入单条审计条目。
func (s *Service) Persist(ctx context.Context, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("monitor: 序列化审计详情失败: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (entry_id, execution_id, action, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.ExecutionID, string(entry.Action), string(details), entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入审计条目失败: %w", err)
	}
	return nil
}

// SaveSummary 写入执行记录，同时追加一条执行事件。
func (s *Service) SaveSummary(ctx context.Context, summary execution.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("monitor: 序列化执行记录失败: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO execution_summaries
			(execution_id, symbol, status, hedge_size, venue, payload, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ExecutionID,
		summary.Request.Symbol,
		string(summary.Status),
		summary.HedgeSize,
		summary.Venue,
		string(payload),
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入执行记录失败: %w", err)
	}

	return s.Record(ctx, Event{
		Type:      EventExecution,
		Timestamp: summary.CompletedAt,
		Payload: ExecutionPayload{
			ExecutionID: summary.ExecutionID,
			Symbol:      summary.Request.Symbol,
			Status:      summary.Status,
			HedgeSize:   summary.HedgeSize,
			Venue:       summary.Venue,
			Filled:      summary.CostBenefit.Filled,
			TotalCost:   summary.CostBenefit.TotalCost,
		},
	})
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var typ, payload, created string
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: parseTime(created),
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

// ListAudit 按写入顺序返回一次执行的审计条目，Details 为原始 JSON。
func (s *Service) ListAudit(ctx context.Context, executionID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, execution_id, action, details, created_at FROM audit_entries WHERE execution_id = ? ORDER BY seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询审计条目失败: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var id, execID, action, details, created string
		if scanErr := rows.Scan(&id, &execID, &action, &details, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析审计条目失败: %w", scanErr)
		}
		entries = append(entries, audit.Entry{
			ID:          id,
			ExecutionID: execID,
			Timestamp:   parseTime(created),
			Action:      audit.Action(action),
			Details:     json.RawMessage(details),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取审计条目失败: %w", err)
	}
	return entries, nil
}

// ListSummaries 返回最近完成的执行记录。
func (s *Service) ListSummaries(ctx context.Context, limit int) ([]SummaryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, symbol, status, hedge_size, venue, payload, started_at, completed_at
		FROM execution_summaries ORDER BY completed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询执行记录失败: %w", err)
	}
	defer rows.Close()

	records := make([]SummaryRecord, 0, limit)
	for rows.Next() {
		var (
			rec              SummaryRecord
			status           string
			payload          string
			started, created string
		)
		if scanErr := rows.Scan(&rec.ExecutionID, &rec.Symbol, &status, &rec.HedgeSize, &rec.Venue, &payload, &started, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析执行记录失败: %w", scanErr)
		}
		rec.Status = execution.Status(status)
		rec.Payload = json.RawMessage(payload)
		rec.StartedAt = parseTime(started)
		rec.CompletedAt = parseTime(created)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取执行记录失败: %w", err)
	}
	return records, nil
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
