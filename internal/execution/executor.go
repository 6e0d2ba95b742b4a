package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"hedger/internal/audit"
	"hedger/internal/metrics"
)

// fillTolerance 为判定完全成交时允许的相对误差。
const fillTolerance = 1e-9

// Sleeper 等待指定时长，ctx 结束时提前返回。
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor 按顺序逐个提交分批，单个分批失败不会中断后续分批，也不会自动重试。
type Executor struct {
	exchange     Exchange
	limiter      *Limiter
	trail        *audit.Trail
	metrics      *metrics.Collector
	logger       *zap.Logger
	twapInterval time.Duration
	sleep        Sleeper
	now          func() time.Time
}

// NewExecutor 创建分批执行器。
func NewExecutor(exchange Exchange, limiter *Limiter, trail *audit.Trail, twapInterval time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		exchange:     exchange,
		limiter:      limiter,
		trail:        trail,
		logger:       logger,
		twapInterval: twapInterval,
		sleep:        sleepContext,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Execute 依序执行全部分批并返回与分批一一对应的结果。tranches 的状态在此更新。
func (e *Executor) Execute(ctx context.Context, executionID string, req HedgeRequest, route RoutingDecision, tranches []Tranche) []ExecutionResult {
	results := make([]ExecutionResult, 0, len(tranches))

	for i := range tranches {
		tranche := &tranches[i]
		started := time.Now()

		result := e.executeTranche(ctx, executionID, req, route, tranche)
		tranche.Status = result.Status
		results = append(results, result)

		e.trail.Append(ctx, executionID, tranche.ID, ActionTrancheExecutionResult, result)
		e.metrics.ObserveTranche(tranche.Venue, string(result.Status), time.Since(started))
	}

	return results
}

func (e *Executor) executeTranche(ctx context.Context, executionID string, req HedgeRequest, route RoutingDecision, tranche *Tranche) ExecutionResult {
	side := SideForSize(tranche.Size)
	price := route.Quote.Price(tranche.Size)
	requested := math.Abs(tranche.Size)

	e.trail.Append(ctx, executionID, tranche.ID, ActionTrancheExecutionStart, trancheStartDetails{
		Seq:   tranche.Seq,
		Size:  tranche.Size,
		Side:  side,
		Venue: tranche.Venue,
		Price: price,
	})

	result := ExecutionResult{
		TrancheID: tranche.ID,
		Seq:       tranche.Seq,
		Side:      side,
		Requested: requested,
	}

	if requested == 0 {
		result.Status = StatusFilled
		result.Timestamp = e.now()
		return result
	}

	if req.TWAP {
		// 分批之间的间隔用于降低冲击成本，不能省略
		if err := e.sleep(ctx, e.twapInterval); err != nil {
			e.logger.Warn("TWAP 等待被中断", zap.String("tranche_id", tranche.ID), zap.Error(err))
		}
	}

	tranche.Status = StatusSubmitted
	order := OrderRequest{
		ClientOrderID: tranche.ID,
		Symbol:        req.Symbol,
		Venue:         tranche.Venue,
		Side:          side,
		Quantity:      requested,
		Price:         price,
		MaxSlippage:   req.MaxSlippage,
	}

	var fill Fill
	err := e.limiter.Do(ctx, tranche.Venue, func(ctx context.Context) error {
		var placeErr error
		fill, placeErr = e.place(ctx, order)
		return placeErr
	})
	result.Timestamp = e.now()

	if err != nil {
		callErr := &ExternalCallError{Op: "place_order", Venue: tranche.Venue, Err: err}
		e.metrics.ExternalError("place_order")
		e.logger.Error("分批下单失败",
			zap.String("tranche_id", tranche.ID),
			zap.String("venue", tranche.Venue),
			zap.Float64("quantity", requested),
			zap.Error(err),
		)
		result.Status = StatusFailed
		result.Error = callErr.Error()
		return result
	}

	result.Filled = fill.Filled
	result.Cost = fill.Cost
	result.Slippage = fill.Slippage
	result.Fees = fill.Fees
	result.Status = classifyFill(requested, fill.Filled)

	e.logger.Info("分批执行完成",
		zap.String("tranche_id", tranche.ID),
		zap.String("status", string(result.Status)),
		zap.Float64("requested", requested),
		zap.Float64("filled", fill.Filled),
	)

	return result
}

// place 调用协作方下单，并把 panic 视为普通失败。
func (e *Executor) place(ctx context.Context, order OrderRequest) (fill Fill, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("place_order panic: %v", r)
		}
	}()
	return e.exchange.PlaceOrder(ctx, order)
}

func classifyFill(requested, filled float64) Status {
	if math.Abs(filled-requested) <= fillTolerance*math.Max(1, requested) {
		return StatusFilled
	}
	return StatusPartiallyFilled
}
