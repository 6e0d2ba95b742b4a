package execution

import "context"

// Exchange 抽象行情与下单协作方，超时由实现方负责。
type Exchange interface {
	MarketData(ctx context.Context, symbol string) (MarketData, error)
	Venues(ctx context.Context, symbol string) ([]string, error)
	OrderBook(ctx context.Context, symbol, venue string) (OrderBookQuote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
}

// PositionSource 抽象风险侧的持仓读取。
type PositionSource interface {
	Position(ctx context.Context, symbol string) (Position, error)
}

// SummarySink 接收已完成的执行记录，用于外部持久化。
type SummarySink interface {
	SaveSummary(ctx context.Context, summary Summary) error
}
