package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hedger/internal/audit"
	"hedger/internal/config"
	"hedger/internal/exchange"
	"hedger/internal/execution"
	"hedger/internal/metrics"
	"hedger/internal/monitor"
	"hedger/internal/paper"
	"hedger/internal/position"
	"hedger/internal/risk"
	"hedger/internal/store"
)

type orchestrator struct {
	manager  *execution.Manager
	guard    *risk.Guard
	monitor  *monitor.Service
	metrics  *metrics.Collector
	defaults execution.HedgeRequest
	logger   *zap.Logger
}

func newOrchestrator(ctx context.Context, cfg *config.Config, st *store.Store, logger *zap.Logger) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	monitorSvc, err := monitor.NewService(ctx, st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	venue, positions, err := newVenue(cfg, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	trail := audit.NewTrail(logger, audit.WithSink(monitorSvc))

	manager, err := execution.NewManager(venue, positions, trail, execution.OptionsFromConfig(cfg.Execution), logger,
		execution.WithMetrics(collector),
		execution.WithSummarySink(monitorSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("初始化执行管理器失败: %w", err)
	}

	guard, err := risk.NewGuard(cfg.Risk, cfg.Execution, positions, manager, monitorSvc, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化敞口巡检失败: %w", err)
	}

	return &orchestrator{
		manager:  manager,
		guard:    guard,
		monitor:  monitorSvc,
		metrics:  collector,
		defaults: DefaultRequest(cfg.Execution),
		logger:   logger,
	}, nil
}

// newVenue 按配置选择模拟场所或真实交易所。
func newVenue(cfg *config.Config, logger *zap.Logger) (execution.Exchange, execution.PositionSource, error) {
	if cfg.Paper.Enabled {
		logger.Info("使用模拟撮合场所", zap.Int("quotes", len(cfg.Paper.Quotes)))
		v := paper.NewVenue(cfg.Paper, logger)
		return v, v, nil
	}

	gateway, err := exchange.NewGateway(cfg.Exchange, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化交易所网关失败: %w", err)
	}

	venueCfg, ok := cfg.Exchange.Venue(cfg.Risk.PositionsVenue)
	if !ok {
		return nil, nil, fmt.Errorf("持仓场所 %q 未配置", cfg.Risk.PositionsVenue)
	}
	client, err := gateway.Client(venueCfg.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("持仓场所不可用: %w", err)
	}

	return gateway, position.NewReader(client, venueCfg, logger), nil
}

// Tick 执行一轮敞口巡检，汇总各品种的错误。
func (o *orchestrator) Tick(ctx context.Context) error {
	var err error
	for _, out := range o.guard.Check(ctx) {
		if out.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", out.Symbol, out.Err))
			continue
		}
		if out.Breached {
			o.logger.Info("自动对冲完成",
				zap.String("symbol", out.Symbol),
				zap.String("execution_id", out.ExecutionID),
				zap.String("status", string(out.Status)),
			)
		}
	}
	return err
}

// DefaultRequest 返回按配置填充默认参数的对冲请求。
func DefaultRequest(cfg config.ExecutionConfig) execution.HedgeRequest {
	return execution.HedgeRequest{
		MaxSlippage: cfg.DefaultMaxSlippage,
		Partial:     cfg.DefaultPartial,
		TWAP:        cfg.DefaultTWAP,
	}
}
