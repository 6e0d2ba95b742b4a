package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hedger/internal/audit"
)

type fakeExchange struct {
	mu sync.Mutex

	market    MarketData
	marketErr error
	venues    []string
	venueErr  error
	quotes    map[string]OrderBookQuote
	quoteErrs map[string]error

	// place 为空时按委托价全额成交
	place  func(call int, order OrderRequest) (Fill, error)
	orders []OrderRequest
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		market: MarketData{Symbol: "BTC", LastPrice: 100, Volatility: 0.05, OrderBookLiquidity: 100000},
		venues: []string{"alpha", "beta"},
		quotes: map[string]OrderBookQuote{
			"alpha": {BestAsk: 100, BestBid: 99.5, Depth: 50000, Fee: 0.0004, Latency: 0.1},
			"beta":  {BestAsk: 99, BestBid: 98.5, Depth: 50000, Fee: 0.0004, Latency: 0.1},
		},
		quoteErrs: map[string]error{},
	}
}

func (f *fakeExchange) MarketData(_ context.Context, symbol string) (MarketData, error) {
	if f.marketErr != nil {
		return MarketData{}, f.marketErr
	}
	md := f.market
	md.Symbol = symbol
	return md, nil
}

func (f *fakeExchange) Venues(context.Context, string) ([]string, error) {
	if f.venueErr != nil {
		return nil, f.venueErr
	}
	return append([]string(nil), f.venues...), nil
}

func (f *fakeExchange) OrderBook(_ context.Context, _ string, venue string) (OrderBookQuote, error) {
	if err := f.quoteErrs[venue]; err != nil {
		return OrderBookQuote{}, err
	}
	q, ok := f.quotes[venue]
	if !ok {
		return OrderBookQuote{}, fmt.Errorf("unknown venue %s", venue)
	}
	return q, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, order OrderRequest) (Fill, error) {
	f.mu.Lock()
	f.orders = append(f.orders, order)
	call := len(f.orders)
	place := f.place
	f.mu.Unlock()

	if place != nil {
		return place(call, order)
	}
	return Fill{
		OrderID: "ord-" + order.ClientOrderID,
		Filled:  order.Quantity,
		Cost:    order.Quantity * order.Price,
		Fees:    order.Quantity * order.Price * 0.0004,
	}, nil
}

func (f *fakeExchange) placed() []OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OrderRequest(nil), f.orders...)
}

type fakePositions struct {
	delta float64
	err   error
}

func (f fakePositions) Position(_ context.Context, symbol string) (Position, error) {
	if f.err != nil {
		return Position{}, f.err
	}
	return Position{Symbol: symbol, Quantity: f.delta, Delta: f.delta, UpdatedAt: time.Now().UTC()}, nil
}

type recordingSink struct {
	mu        sync.Mutex
	summaries []Summary
	err       error
}

func (s *recordingSink) SaveSummary(_ context.Context, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return s.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("exec-%d", n)
	}
}

func newTestExecutor(ex Exchange) (*Executor, *audit.Trail) {
	trail := audit.NewTrail(zap.NewNop())
	e := NewExecutor(ex, NewLimiter(5, 0, 0, nil), trail, time.Millisecond, zap.NewNop())
	e.sleep = noSleep
	return e, trail
}

func actions(entries []audit.Entry) []audit.Action {
	out := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

var errVenueDown = errors.New("venue down")
