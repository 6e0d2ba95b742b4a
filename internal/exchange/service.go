package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hedger/internal/config"
	"hedger/internal/execution"
	"hedger/internal/indicator"
)

// Gateway 以 ccxt 客户端实现执行引擎所需的交易所接口。
type Gateway struct {
	cfg     config.ExchangeConfig
	clients map[string]*Client
	order   []string
	vol     *indicator.Calculator
	logger  *zap.Logger
	now     func() time.Time
}

var _ execution.Exchange = (*Gateway)(nil)

// NewGateway 为每个启用的场所创建客户端。
func NewGateway(cfg config.ExchangeConfig, logger *zap.Logger) (*Gateway, error) {
	var (
		clients []*Client
		errs    error
	)
	for _, venue := range cfg.Venues {
		if !venue.Enabled {
			continue
		}
		client, err := NewClient(venue, cfg, logger)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		clients = append(clients, client)
	}
	if errs != nil {
		return nil, errs
	}
	return newGateway(cfg, clients, logger), nil
}

func newGateway(cfg config.ExchangeConfig, clients []*Client, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:     cfg,
		clients: make(map[string]*Client, len(clients)),
		order:   make([]string, 0, len(clients)),
		vol:     indicator.NewCalculator(cfg.CandleLimit - 1),
		logger:  logger,
		now:     time.Now,
	}
	for _, c := range clients {
		name := strings.ToLower(c.Name())
		g.clients[name] = c
		g.order = append(g.order, name)
	}
	return g
}

// Client 按名称返回场所客户端。
func (g *Gateway) Client(venue string) (*Client, error) {
	c, ok := g.clients[strings.ToLower(venue)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return c, nil
}

func (g *Gateway) market(venue, symbol string) (*Client, string, error) {
	c, err := g.Client(venue)
	if err != nil {
		return nil, "", err
	}
	market := c.Venue().Market(symbol)
	if market == "" {
		return nil, "", fmt.Errorf("%w: %s on %s", ErrSymbolNotListed, symbol, venue)
	}
	return c, market, nil
}

// MarketData 并发拉取日线与盘口，给出最新价、波动率与盘口流动性。
func (g *Gateway) MarketData(ctx context.Context, symbol string) (execution.MarketData, error) {
	client, market, err := g.market(g.cfg.MarketDataVenue, symbol)
	if err != nil {
		return execution.MarketData{}, err
	}

	var (
		candles []indicator.Candle
		book    OrderBookSnapshot
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := client.FetchCandles(groupCtx, market, g.cfg.CandleTimeframe, int64(g.cfg.CandleLimit))
		if err != nil {
			return err
		}
		candles = data
		return nil
	})

	group.Go(func() error {
		data, err := client.FetchOrderBook(groupCtx, market, int64(g.cfg.OrderBookDepth))
		if err != nil {
			return err
		}
		book = data
		return nil
	})

	if err := group.Wait(); err != nil {
		return execution.MarketData{}, err
	}

	vol, err := g.vol.Volatility(symbol, candles)
	if err != nil {
		return execution.MarketData{}, err
	}

	last := book.Mid()
	if len(candles) > 0 {
		last = candles[len(candles)-1].Close
	}

	md := execution.MarketData{
		Symbol:             symbol,
		LastPrice:          last,
		Volatility:         vol.Value,
		OrderBookLiquidity: book.Liquidity(),
		RetrievedAt:        g.now().UTC(),
	}

	g.logger.Debug("行情数据获取完成",
		zap.String("symbol", symbol),
		zap.String("venue", client.Name()),
		zap.Float64("last_price", md.LastPrice),
		zap.Float64("volatility", md.Volatility),
		zap.String("volatility_method", string(vol.Method)),
		zap.Float64("liquidity", md.OrderBookLiquidity),
	)

	return md, nil
}

// Venues 按配置顺序返回上架该品种且未熔断的场所。
func (g *Gateway) Venues(_ context.Context, symbol string) ([]string, error) {
	venues := make([]string, 0, len(g.order))
	for _, name := range g.order {
		c := g.clients[name]
		if c.Venue().Market(symbol) == "" {
			continue
		}
		if !c.Available() {
			g.logger.Warn("场所熔断中，跳过", zap.String("venue", name), zap.String("symbol", symbol))
			continue
		}
		venues = append(venues, name)
	}
	return venues, nil
}

// OrderBook 返回场所的盘口摘要，延迟为本次请求的往返耗时。
func (g *Gateway) OrderBook(ctx context.Context, symbol, venue string) (execution.OrderBookQuote, error) {
	client, market, err := g.market(venue, symbol)
	if err != nil {
		return execution.OrderBookQuote{}, err
	}

	start := g.now()
	book, err := client.FetchOrderBook(ctx, market, int64(g.cfg.OrderBookDepth))
	if err != nil {
		return execution.OrderBookQuote{}, err
	}
	latency := g.now().Sub(start)

	if book.BestAsk() <= 0 || book.BestBid() <= 0 {
		return execution.OrderBookQuote{}, fmt.Errorf("%w: %s on %s", ErrEmptyOrderBook, market, venue)
	}

	return execution.OrderBookQuote{
		Venue:   client.Name(),
		BestAsk: book.BestAsk(),
		BestBid: book.BestBid(),
		Depth:   book.Depth(),
		Fee:     client.Venue().TakerFee,
		Latency: latency.Seconds(),
	}, nil
}

// PlaceOrder 以滑点上限内的 IOC 限价单成交分批。
func (g *Gateway) PlaceOrder(ctx context.Context, req execution.OrderRequest) (execution.Fill, error) {
	client, market, err := g.market(req.Venue, req.Symbol)
	if err != nil {
		return execution.Fill{}, err
	}
	if req.Price <= 0 {
		return execution.Fill{}, fmt.Errorf("exchange: invalid reference price %g for %s", req.Price, req.ClientOrderID)
	}

	limit := req.Price * (1 + req.MaxSlippage)
	if req.Side == execution.OrderSideSell {
		limit = req.Price * (1 - req.MaxSlippage)
	}

	order, err := client.CreateIOCLimitOrder(ctx, market, string(req.Side), req.Quantity, limit)
	if err != nil {
		return execution.Fill{}, err
	}

	fill := fillFromOrder(req, order.Id, order.Filled, order.Average, order.Cost, client.Venue().TakerFee)

	g.logger.Info("分批已成交",
		zap.String("tranche_id", req.ClientOrderID),
		zap.String("venue", client.Name()),
		zap.String("order_id", fill.OrderID),
		zap.Float64("filled", fill.Filled),
		zap.Float64("cost", fill.Cost),
		zap.Float64("slippage", fill.Slippage),
	)

	return fill, nil
}

func fillFromOrder(req execution.OrderRequest, id *string, filledPtr, averagePtr, costPtr *float64, takerFee float64) execution.Fill {
	filled := derefFloat(filledPtr)
	average := derefFloat(averagePtr)
	cost := derefFloat(costPtr)

	if cost == 0 && average > 0 {
		cost = average * filled
	}
	if average == 0 && filled > 0 {
		average = cost / filled
	}

	slippage := 0.0
	if filled > 0 && average > 0 {
		slippage = math.Abs(average-req.Price) * filled
	}

	return execution.Fill{
		OrderID:  derefString(id),
		Filled:   filled,
		Cost:     cost,
		Slippage: slippage,
		Fees:     cost * takerFee,
	}
}
