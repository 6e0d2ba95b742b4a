package execution

import (
	"time"

	"hedger/internal/audit"
)

// Status 表示分批或整体执行状态。
type Status string

const (
	StatusPending         Status = "pending"
	StatusSubmitted       Status = "submitted"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusFailed          Status = "failed"

	// StatusCancelled 保留给外部协作方，本引擎不会产生该状态。
	StatusCancelled Status = "cancelled"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideForSize 根据带符号数量返回下单方向。
func SideForSize(size float64) OrderSide {
	if size > 0 {
		return OrderSideBuy
	}
	return OrderSideSell
}

// HedgeRequest 描述一次对冲请求，创建后不再修改。
type HedgeRequest struct {
	Symbol      string  `json:"symbol"`
	TargetDelta float64 `json:"target_delta"`
	MaxSlippage float64 `json:"max_slippage"`
	Partial     bool    `json:"partial"`
	TWAP        bool    `json:"twap"`
}

// Position 为风险侧提供的持仓快照。
type Position struct {
	Symbol        string    `json:"symbol"`
	Exchange      string    `json:"exchange"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	Delta         float64   `json:"delta"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MarketData 为计算对冲规模所需的行情输入。
type MarketData struct {
	Symbol             string    `json:"symbol"`
	LastPrice          float64   `json:"last_price"`
	Volatility         float64   `json:"volatility"`
	OrderBookLiquidity float64   `json:"order_book_liquidity"`
	RetrievedAt        time.Time `json:"retrieved_at"`
}

// OrderBookQuote 为单个场所的盘口摘要，Latency 单位为秒。
type OrderBookQuote struct {
	Venue   string  `json:"venue"`
	BestAsk float64 `json:"best_ask"`
	BestBid float64 `json:"best_bid"`
	Depth   float64 `json:"depth"`
	Fee     float64 `json:"fee"`
	Latency float64 `json:"latency"`
}

// Price 返回对应方向的参考价：买入取卖一，卖出取买一。
func (q OrderBookQuote) Price(size float64) float64 {
	if size > 0 {
		return q.BestAsk
	}
	return q.BestBid
}

// OrderRequest 为提交给场所的委托。
type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Venue         string    `json:"venue"`
	Side          OrderSide `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	MaxSlippage   float64   `json:"max_slippage"`
}

// Fill 为场所返回的成交回报。
type Fill struct {
	OrderID  string  `json:"order_id,omitempty"`
	Filled   float64 `json:"filled"`
	Cost     float64 `json:"cost"`
	Slippage float64 `json:"slippage"`
	Fees     float64 `json:"fees"`
}

// Tranche 为对冲拆分后的单个子单。
type Tranche struct {
	ID     string  `json:"id"`
	Seq    int     `json:"seq"`
	Size   float64 `json:"size"`
	Venue  string  `json:"venue"`
	Status Status  `json:"status"`
}

// ExecutionResult 为单个分批的执行结果，写入后不再修改。
type ExecutionResult struct {
	TrancheID string    `json:"tranche_id"`
	Seq       int       `json:"seq"`
	Status    Status    `json:"status"`
	Side      OrderSide `json:"side"`
	Requested float64   `json:"requested"`
	Filled    float64   `json:"filled"`
	Cost      float64   `json:"cost"`
	Slippage  float64   `json:"slippage"`
	Fees      float64   `json:"fees"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SizingDecision 记录对冲规模的全部输入与结果。
type SizingDecision struct {
	CurrentDelta float64 `json:"current_delta"`
	TargetDelta  float64 `json:"target_delta"`
	Volatility   float64 `json:"volatility"`
	Liquidity    float64 `json:"liquidity"`
	VolFactor    float64 `json:"vol_factor"`
	MaxHedge     float64 `json:"max_hedge"`
	Raw          float64 `json:"raw"`
	HedgeSize    float64 `json:"hedge_size"`
	Rationale    string  `json:"rationale"`
}

// VenueScore 为单个场所的打分。
type VenueScore struct {
	Venue string  `json:"venue"`
	Score float64 `json:"score"`
}

// RoutingDecision 记录场所选择结果。
type RoutingDecision struct {
	Venue     string         `json:"venue"`
	Quote     OrderBookQuote `json:"quote"`
	Score     float64        `json:"score"`
	Scores    []VenueScore   `json:"scores"`
	Rationale string         `json:"rationale"`
}

// CostBenefit 为执行完成后的成本收益汇总。
type CostBenefit struct {
	TotalCost     float64 `json:"total_cost"`
	TotalFees     float64 `json:"total_fees"`
	TotalSlippage float64 `json:"total_slippage"`
	Filled        float64 `json:"filled"`
	HedgeSize     float64 `json:"hedge_size"`
	TargetDelta   float64 `json:"target_delta"`
	Benefit       float64 `json:"benefit"`
	CostPerUnit   float64 `json:"cost_per_unit"`
}

// Summary 为一次 ExecuteHedge 的完整记录。
type Summary struct {
	ExecutionID string            `json:"execution_id"`
	Request     HedgeRequest      `json:"request"`
	HedgeSize   float64           `json:"hedge_size"`
	Venue       string            `json:"venue"`
	Status      Status            `json:"status"`
	Sizing      SizingDecision    `json:"sizing"`
	Routing     RoutingDecision   `json:"routing"`
	Tranches    []Tranche         `json:"tranches"`
	Results     []ExecutionResult `json:"results"`
	CostBenefit CostBenefit       `json:"cost_benefit"`
	Audit       []audit.Entry     `json:"audit"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// FailedResults 返回失败分批，供展示层提取错误信息。
func (s Summary) FailedResults() []ExecutionResult {
	out := make([]ExecutionResult, 0)
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

func (s Summary) clone() Summary {
	s.Routing.Scores = append([]VenueScore(nil), s.Routing.Scores...)
	s.Tranches = append([]Tranche(nil), s.Tranches...)
	s.Results = append([]ExecutionResult(nil), s.Results...)
	s.Audit = append([]audit.Entry(nil), s.Audit...)
	return s
}
