package monitor

import (
	"encoding/json"
	"time"

	"hedger/internal/execution"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventGuardCheck     EventType = "guard_check"
	EventHedgeTriggered EventType = "hedge_triggered"
	EventExecution      EventType = "execution"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// GuardCheckPayload 记录一次敞口巡检。
type GuardCheckPayload struct {
	Symbol    string  `json:"symbol"`
	Delta     float64 `json:"delta"`
	Threshold float64 `json:"threshold"`
	Breached  bool    `json:"breached"`
}

// HedgeTriggeredPayload 记录巡检触发的自动对冲。
type HedgeTriggeredPayload struct {
	Symbol      string                 `json:"symbol"`
	Delta       float64                `json:"delta"`
	Threshold   float64                `json:"threshold"`
	Request     execution.HedgeRequest `json:"request"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Status      execution.Status       `json:"status,omitempty"`
}

// ExecutionPayload 记录执行结果摘要。
type ExecutionPayload struct {
	ExecutionID string           `json:"execution_id"`
	Symbol      string           `json:"symbol"`
	Status      execution.Status `json:"status"`
	HedgeSize   float64          `json:"hedge_size"`
	Venue       string           `json:"venue"`
	Filled      float64          `json:"filled"`
	TotalCost   float64          `json:"total_cost"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// SummaryRecord 为已持久化的执行记录，Payload 为完整记录的 JSON。
type SummaryRecord struct {
	ExecutionID string           `json:"execution_id"`
	Symbol      string           `json:"symbol"`
	Status      execution.Status `json:"status"`
	HedgeSize   float64          `json:"hedge_size"`
	Venue       string           `json:"venue"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Payload     json.RawMessage  `json:"payload"`
}
