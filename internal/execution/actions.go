package execution

import "hedger/internal/audit"

// 审计动作标签。
const (
	ActionStartExecution           audit.Action = "start_execution"
	ActionPositionRead             audit.Action = "position_read"
	ActionMarketDataRead           audit.Action = "market_data_read"
	ActionHedgeSizeCalculated      audit.Action = "hedge_size_calculated"
	ActionVenueSkipped             audit.Action = "venue_skipped"
	ActionOrderRouted              audit.Action = "order_routed"
	ActionTranchesCreated          audit.Action = "tranches_created"
	ActionTrancheExecutionStart    audit.Action = "tranche_execution_start"
	ActionTrancheExecutionResult   audit.Action = "tranche_execution_result"
	ActionAggregationInconsistency audit.Action = "aggregation_inconsistency"
	ActionExecutionStatus          audit.Action = "execution_status"
	ActionCostBenefit              audit.Action = "cost_benefit"
	ActionExecutionComplete        audit.Action = "execution_complete"
	ActionExecutionAborted         audit.Action = "execution_aborted"
)

type startDetails struct {
	Symbol      string  `json:"symbol"`
	TargetDelta float64 `json:"target_delta"`
	MaxSlippage float64 `json:"max_slippage"`
	Partial     bool    `json:"partial"`
	TWAP        bool    `json:"twap"`
}

type trancheStartDetails struct {
	Seq   int       `json:"seq"`
	Size  float64   `json:"size"`
	Side  OrderSide `json:"side"`
	Venue string    `json:"venue"`
	Price float64   `json:"price"`
}

type skippedDetails struct {
	Venue string `json:"venue"`
	Error string `json:"error"`
}

type statusDetails struct {
	Status Status `json:"status"`
}

type abortedDetails struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type completeDetails struct {
	Status    Status  `json:"status"`
	HedgeSize float64 `json:"hedge_size"`
	Venue     string  `json:"venue"`
	Tranches  int     `json:"tranches"`
	Error     string  `json:"error,omitempty"`
}

type tranchesDetails struct {
	Tranches []Tranche `json:"tranches"`
	Total    float64   `json:"total"`
}
