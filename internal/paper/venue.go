package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hedger/internal/config"
	"hedger/internal/execution"
)

var (
	// ErrVenueDown 表示该模拟场所被配置为故障。
	ErrVenueDown = errors.New("paper: venue down")
	// ErrUnknownVenue 表示未配置该模拟场所。
	ErrUnknownVenue = errors.New("paper: unknown venue")
)

type holding struct {
	quantity   float64
	entryPrice float64
	realized   float64
	updatedAt  time.Time
}

// Venue 为进程内的模拟撮合场所，同时充当持仓来源。成交会实时改变持仓。
type Venue struct {
	mu sync.Mutex

	cfg      config.PaperConfig
	quotes   map[string]execution.OrderBookQuote
	order    []string
	failing  map[string]bool
	holdings map[string]*holding
	trades   int

	logger *zap.Logger
	now    func() time.Time
}

var (
	_ execution.Exchange       = (*Venue)(nil)
	_ execution.PositionSource = (*Venue)(nil)
)

// NewVenue 根据配置创建模拟场所。
func NewVenue(cfg config.PaperConfig, logger *zap.Logger) *Venue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FillRatio <= 0 || cfg.FillRatio > 1 {
		cfg.FillRatio = 1
	}

	v := &Venue{
		cfg:      cfg,
		quotes:   make(map[string]execution.OrderBookQuote, len(cfg.Quotes)),
		failing:  make(map[string]bool, len(cfg.FailingVenues)),
		holdings: make(map[string]*holding),
		logger:   logger.With(zap.String("component", "paper")),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, q := range cfg.Quotes {
		name := strings.ToLower(q.Venue)
		if _, dup := v.quotes[name]; !dup {
			v.order = append(v.order, name)
		}
		v.quotes[name] = execution.OrderBookQuote{
			Venue:   name,
			BestAsk: q.BestAsk,
			BestBid: q.BestBid,
			Depth:   q.Depth,
			Fee:     q.Fee,
			Latency: q.Latency,
		}
	}
	for _, name := range cfg.FailingVenues {
		v.failing[strings.ToLower(name)] = true
	}
	for symbol, qty := range cfg.Positions {
		v.holdings[strings.ToUpper(symbol)] = &holding{
			quantity:   qty,
			entryPrice: cfg.LastPrice,
			updatedAt:  v.now(),
		}
	}
	return v
}

// MarketData 返回配置的固定行情。
func (v *Venue) MarketData(_ context.Context, symbol string) (execution.MarketData, error) {
	return execution.MarketData{
		Symbol:             symbol,
		LastPrice:          v.cfg.LastPrice,
		Volatility:         v.cfg.Volatility,
		OrderBookLiquidity: v.cfg.Liquidity,
		RetrievedAt:        v.now(),
	}, nil
}

// Venues 按配置顺序返回全部模拟场所，故障场所在取盘口时失败。
func (v *Venue) Venues(context.Context, string) ([]string, error) {
	return append([]string(nil), v.order...), nil
}

// OrderBook 返回场所的固定盘口。
func (v *Venue) OrderBook(_ context.Context, _ string, venue string) (execution.OrderBookQuote, error) {
	q, err := v.quote(venue)
	if err != nil {
		return execution.OrderBookQuote{}, err
	}
	return q, nil
}

// PlaceOrder 以盘口价按成交比例撮合，并更新持仓。
func (v *Venue) PlaceOrder(_ context.Context, req execution.OrderRequest) (execution.Fill, error) {
	q, err := v.quote(req.Venue)
	if err != nil {
		return execution.Fill{}, err
	}

	price := q.BestAsk
	sign := 1.0
	if req.Side == execution.OrderSideSell {
		price = q.BestBid
		sign = -1
	}
	if price <= 0 {
		return execution.Fill{}, fmt.Errorf("paper: %s 缺少 %s 方向报价", req.Venue, req.Side)
	}

	filled := math.Abs(req.Quantity) * v.cfg.FillRatio
	cost := filled * price

	v.mu.Lock()
	v.trades++
	orderID := fmt.Sprintf("paper-%d", v.trades)
	v.apply(strings.ToUpper(req.Symbol), sign*filled, price)
	v.mu.Unlock()

	v.logger.Debug("模拟成交",
		zap.String("order_id", orderID),
		zap.String("venue", req.Venue),
		zap.String("side", string(req.Side)),
		zap.Float64("filled", filled),
		zap.Float64("price", price),
	)

	return execution.Fill{
		OrderID:  orderID,
		Filled:   filled,
		Cost:     cost,
		Slippage: math.Abs(price-req.Price) * filled,
		Fees:     cost * q.Fee,
	}, nil
}

// Position 返回品种当前持仓，delta 等于持仓数量。
func (v *Venue) Position(_ context.Context, symbol string) (execution.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos := execution.Position{
		Symbol:       symbol,
		Exchange:     "paper",
		CurrentPrice: v.cfg.LastPrice,
		UpdatedAt:    v.now(),
	}
	h, ok := v.holdings[strings.ToUpper(symbol)]
	if !ok {
		return pos, nil
	}
	pos.Quantity = h.quantity
	pos.Delta = h.quantity
	pos.EntryPrice = h.entryPrice
	pos.RealizedPnL = h.realized
	pos.UnrealizedPnL = (v.cfg.LastPrice - h.entryPrice) * h.quantity
	if !h.updatedAt.IsZero() {
		pos.UpdatedAt = h.updatedAt
	}
	return pos, nil
}

// TradeCount 返回累计成交笔数。
func (v *Venue) TradeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.trades
}

func (v *Venue) quote(venue string) (execution.OrderBookQuote, error) {
	name := strings.ToLower(venue)
	if v.failing[name] {
		return execution.OrderBookQuote{}, fmt.Errorf("%w: %s", ErrVenueDown, venue)
	}
	q, ok := v.quotes[name]
	if !ok {
		return execution.OrderBookQuote{}, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return q, nil
}

// apply 调整持仓：同向加仓按数量加权开仓价，反向先平仓结算盈亏，翻转时以成交价重新开仓。
func (v *Venue) apply(symbol string, delta, price float64) {
	h, ok := v.holdings[symbol]
	if !ok {
		h = &holding{}
		v.holdings[symbol] = h
	}
	h.updatedAt = v.now()

	if delta == 0 {
		return
	}

	switch {
	case h.quantity == 0 || sameDirection(h.quantity, delta):
		total := h.quantity + delta
		h.entryPrice = (h.entryPrice*math.Abs(h.quantity) + price*math.Abs(delta)) / math.Abs(total)
		h.quantity = total
	default:
		closed := math.Min(math.Abs(delta), math.Abs(h.quantity))
		direction := 1.0
		if h.quantity < 0 {
			direction = -1
		}
		h.realized += (price - h.entryPrice) * closed * direction
		h.quantity += delta
		if math.Abs(h.quantity) < 1e-12 {
			h.quantity = 0
			h.entryPrice = 0
		} else if !sameDirection(h.quantity, direction) {
			h.entryPrice = price
		}
	}
}

func sameDirection(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
