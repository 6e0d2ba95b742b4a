package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action 标识审计条目对应的决策或结果。
type Action string

// Entry 为一条只追加的审计记录，Details 为写入时的 JSON 快照（json.RawMessage）。
type Entry struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	Details     any       `json:"details"`
}

// Sink 接收已写入的审计条目，用于外部持久化。
type Sink interface {
	Persist(ctx context.Context, entry Entry) error
}

// Trail 按写入顺序保存审计条目，条目写入后不可修改或删除。
type Trail struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string][]int
	byExec  map[string][]int
	last    time.Time

	now    func() time.Time
	sink   Sink
	logger *zap.Logger
}

// Option 配置 Trail。
type Option func(*Trail)

// WithSink 为审计链挂接持久化出口。
func WithSink(sink Sink) Option {
	return func(t *Trail) { t.sink = sink }
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTrail 创建审计链。
func NewTrail(logger *zap.Logger, opts ...Option) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trail{
		byID:   make(map[string][]int),
		byExec: make(map[string][]int),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append 追加一条审计记录并返回写入后的条目。id 可以是执行编号或分批编号。
func (t *Trail) Append(ctx context.Context, executionID, id string, action Action, details any) Entry {
	if id == "" {
		id = executionID
	}

	snapshot := t.snapshot(action, details)

	t.mu.Lock()
	ts := t.now()
	// 时间戳单调不减
	if ts.Before(t.last) {
		ts = t.last
	}
	t.last = ts

	entry := Entry{
		ID:          id,
		ExecutionID: executionID,
		Timestamp:   ts,
		Action:      action,
		Details:     snapshot,
	}
	idx := len(t.entries)
	t.entries = append(t.entries, entry)
	t.byID[id] = append(t.byID[id], idx)
	t.byExec[executionID] = append(t.byExec[executionID], idx)
	t.mu.Unlock()

	t.logger.Info("[AUDIT]",
		zap.String("id", id),
		zap.String("action", string(action)),
		zap.Any("details", details),
	)

	if t.sink != nil {
		if err := t.sink.Persist(ctx, cloneEntry(entry)); err != nil {
			t.logger.Warn("审计条目持久化失败", zap.String("id", id), zap.String("action", string(action)), zap.Error(err))
		}
	}

	return cloneEntry(entry)
}

// Entries 返回指定编号的条目（按写入顺序）；id 为空时返回全部条目。
func (t *Trail) Entries(id string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id == "" {
		out := make([]Entry, 0, len(t.entries))
		for _, e := range t.entries {
			out = append(out, cloneEntry(e))
		}
		return out
	}
	return t.collect(t.byID[id])
}

// ExecutionEntries 返回一次执行及其全部分批的条目（按写入顺序）。
func (t *Trail) ExecutionEntries(executionID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.collect(t.byExec[executionID])
}

// Len 返回条目总数。
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Trail) collect(indexes []int) []Entry {
	out := make([]Entry, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, cloneEntry(t.entries[idx]))
	}
	return out
}

// snapshot 将详情固化为 JSON，写入后不再与调用方共享任何切片或映射。
func (t *Trail) snapshot(action Action, details any) any {
	if details == nil {
		return nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		t.logger.Warn("审计详情无法序列化，改存文本", zap.String("action", string(action)), zap.Error(err))
		raw, _ = json.Marshal(fmt.Sprintf("%+v", details))
	}
	return json.RawMessage(raw)
}

func cloneEntry(e Entry) Entry {
	if raw, ok := e.Details.(json.RawMessage); ok {
		e.Details = append(json.RawMessage(nil), raw...)
	}
	return e
}
