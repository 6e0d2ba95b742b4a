package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"hedger/internal/config"
	"hedger/internal/indicator"
)

// venueAPI 为网关用到的 ccxt 方法子集。
type venueAPI interface {
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

// Client 负责与单个交易所交互，行情类调用带重试，全部调用经过熔断器。
type Client struct {
	name    string
	cfg     config.VenueConfig
	retry   config.RetryConfig
	api     venueAPI
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient 按场所名称构造 ccxt 客户端。
func NewClient(venue config.VenueConfig, cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	api, err := newVenueAPI(venue)
	if err != nil {
		return nil, err
	}
	return newClient(venue, cfg, api, logger), nil
}

func newClient(venue config.VenueConfig, cfg config.ExchangeConfig, api venueAPI, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("venue", venue.Name))

	threshold := cfg.Breaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 3
	}

	c := &Client{
		name:   venue.Name,
		cfg:    venue,
		retry:  cfg.Retry,
		api:    api,
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venue.Name,
		MaxRequests: 1,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("交易所熔断状态变化",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

func newVenueAPI(venue config.VenueConfig) (venueAPI, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if venue.APIKey != "" {
		userConfig["apiKey"] = venue.APIKey
	}
	if venue.APISecret != "" {
		userConfig["secret"] = venue.APISecret
	}
	if venue.APIPass != "" {
		userConfig["password"] = venue.APIPass
	}

	switch strings.ToLower(venue.Name) {
	case "binanceusdm":
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		}
		ex := ccxt.NewBinanceusdm(userConfig)
		if venue.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	case "bybit":
		userConfig["options"] = map[string]interface{}{"defaultType": "swap"}
		ex := ccxt.NewBybit(userConfig)
		if venue.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	case "okx":
		userConfig["options"] = map[string]interface{}{"defaultType": "swap"}
		ex := ccxt.NewOkx(userConfig)
		if venue.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	case "hyperliquid":
		if venue.Wallet != "" {
			userConfig["walletAddress"] = venue.Wallet
		}
		if venue.PrivateKey != "" {
			userConfig["privateKey"] = venue.PrivateKey
		}
		ex := ccxt.NewHyperliquid(userConfig)
		if venue.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVenue, venue.Name)
	}
}

// Name 返回场所名称。
func (c *Client) Name() string {
	return c.name
}

// Venue 返回场所配置。
func (c *Client) Venue() config.VenueConfig {
	return c.cfg
}

// Available 在熔断器未打开时返回 true。
func (c *Client) Available() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, market, timeframe string, limit int64) ([]indicator.Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, "fetch_ohlcv_"+timeframe, func() error {
		result, err := c.api.FetchOHLCV(
			market,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	return convertCandles(raw), nil
}

// FetchOrderBook 获取订单簿快照。
func (c *Client) FetchOrderBook(ctx context.Context, market string, depth int64) (OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}

	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		orderBook, err := c.api.FetchOrderBook(market, ccxt.WithFetchOrderBookLimit(depth))
		if err != nil {
			return err
		}
		raw = orderBook
		return nil
	})
	if err != nil {
		return OrderBookSnapshot{}, err
	}

	return convertOrderBook(market, raw), nil
}

// FetchPositions 获取账户全部持仓。
func (c *Client) FetchPositions(ctx context.Context) ([]ccxt.Position, error) {
	var positions []ccxt.Position
	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		result, err := c.api.FetchPositions()
		if err != nil {
			return err
		}
		positions = result
		return nil
	})
	return positions, err
}

// CreateIOCLimitOrder 提交立即成交否则取消的限价单，下单不做重试。
func (c *Client) CreateIOCLimitOrder(ctx context.Context, market, side string, amount, price float64) (ccxt.Order, error) {
	if err := ctx.Err(); err != nil {
		return ccxt.Order{}, err
	}

	params := map[string]interface{}{
		"timeInForce": "IOC",
	}

	var order ccxt.Order
	err := c.guard(func() error {
		result, err := c.api.CreateLimitOrder(market, side, amount, price, ccxt.WithCreateLimitOrderParams(params))
		if err != nil {
			return err
		}
		order = result
		return nil
	})
	if err != nil {
		normalized, _ := classifyError(err)
		c.logger.Error("下单失败",
			zap.String("market", market),
			zap.String("side", side),
			zap.Float64("amount", amount),
			zap.Float64("price", price),
			zap.Error(normalized),
		)
		return ccxt.Order{}, normalized
	}
	return order, nil
}

func (c *Client) guard(fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := c.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := c.guard(fn)
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
