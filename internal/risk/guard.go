package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"hedger/internal/config"
	"hedger/internal/execution"
	"hedger/internal/monitor"
)

// Hedger 执行一次对冲。
type Hedger interface {
	ExecuteHedge(ctx context.Context, req execution.HedgeRequest) (execution.Summary, error)
}

// Recorder 记录巡检结果，可为空。
type Recorder interface {
	RecordGuardCheck(ctx context.Context, payload monitor.GuardCheckPayload)
	RecordHedgeTriggered(ctx context.Context, payload monitor.HedgeTriggeredPayload)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
}

// Outcome 为单个品种的巡检结果。
type Outcome struct {
	Symbol      string
	Delta       float64
	Threshold   float64
	Breached    bool
	ExecutionID string
	Status      execution.Status
	Err         error
}

// Guard 按阈值巡检持仓敞口，超限时发起对冲。
type Guard struct {
	thresholds map[string]float64
	symbols    []string
	target     float64
	defaults   execution.HedgeRequest

	positions execution.PositionSource
	hedger    Hedger
	recorder  Recorder
	logger    *zap.Logger
}

// NewGuard 创建敞口巡检器。
func NewGuard(riskCfg config.RiskConfig, execCfg config.ExecutionConfig, positions execution.PositionSource, hedger Hedger, recorder Recorder, logger *zap.Logger) (*Guard, error) {
	if positions == nil {
		return nil, errors.New("risk: 持仓来源不能为空")
	}
	if hedger == nil {
		return nil, errors.New("risk: 对冲执行器不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	thresholds := make(map[string]float64, len(riskCfg.DeltaThresholds))
	symbols := make([]string, 0, len(riskCfg.DeltaThresholds))
	for symbol, threshold := range riskCfg.DeltaThresholds {
		key := strings.ToUpper(strings.TrimSpace(symbol))
		if key == "" {
			continue
		}
		if threshold < 0 || math.IsNaN(threshold) {
			return nil, fmt.Errorf("risk: %s 阈值无效: %v", key, threshold)
		}
		if _, dup := thresholds[key]; !dup {
			symbols = append(symbols, key)
		}
		thresholds[key] = threshold
	}
	sort.Strings(symbols)

	return &Guard{
		thresholds: thresholds,
		symbols:    symbols,
		target:     riskCfg.TargetDelta,
		defaults: execution.HedgeRequest{
			MaxSlippage: execCfg.DefaultMaxSlippage,
			Partial:     execCfg.DefaultPartial,
			TWAP:        execCfg.DefaultTWAP,
		},
		positions: positions,
		hedger:    hedger,
		recorder:  recorder,
		logger:    logger,
	}, nil
}

// Symbols 返回受监控的品种。
func (g *Guard) Symbols() []string {
	return append([]string(nil), g.symbols...)
}

// Check 巡检全部品种，单个品种失败不影响其余品种。
func (g *Guard) Check(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, 0, len(g.symbols))
	for _, symbol := range g.symbols {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, g.checkSymbol(ctx, symbol))
	}
	return outcomes
}

func (g *Guard) checkSymbol(ctx context.Context, symbol string) Outcome {
	threshold := g.thresholds[symbol]
	out := Outcome{Symbol: symbol, Threshold: threshold}

	pos, err := g.positions.Position(ctx, symbol)
	if err != nil {
		out.Err = fmt.Errorf("读取持仓失败: %w", err)
		g.logger.Warn("敞口巡检读取持仓失败", zap.String("symbol", symbol), zap.Error(err))
		g.recordError(ctx, "敞口巡检读取持仓失败", err, symbol)
		return out
	}

	out.Delta = pos.Delta
	out.Breached = math.Abs(pos.Delta-g.target) > threshold
	if g.recorder != nil {
		g.recorder.RecordGuardCheck(ctx, monitor.GuardCheckPayload{
			Symbol:    symbol,
			Delta:     pos.Delta,
			Threshold: threshold,
			Breached:  out.Breached,
		})
	}
	if !out.Breached {
		return out
	}

	req := g.defaults
	req.Symbol = symbol
	req.TargetDelta = g.target

	g.logger.Info("敞口超过阈值，触发自动对冲",
		zap.String("symbol", symbol),
		zap.Float64("delta", pos.Delta),
		zap.Float64("threshold", threshold),
		zap.Float64("target_delta", g.target),
	)

	summary, err := g.hedger.ExecuteHedge(ctx, req)
	out.ExecutionID = summary.ExecutionID
	out.Status = summary.Status
	if err != nil {
		out.Err = err
		g.logger.Error("自动对冲失败", zap.String("symbol", symbol), zap.Error(err))
		g.recordError(ctx, "自动对冲失败", err, symbol)
	}

	if g.recorder != nil {
		g.recorder.RecordHedgeTriggered(ctx, monitor.HedgeTriggeredPayload{
			Symbol:      symbol,
			Delta:       pos.Delta,
			Threshold:   threshold,
			Request:     req,
			ExecutionID: summary.ExecutionID,
			Status:      summary.Status,
		})
	}
	return out
}

func (g *Guard) recordError(ctx context.Context, msg string, err error, symbol string) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordError(ctx, msg, err, map[string]interface{}{"symbol": symbol})
}
