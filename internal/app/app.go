package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedger/internal/config"
	"hedger/internal/execution"
	"hedger/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	orch   *orchestrator
}

// New 创建 App 实例并完成组件装配。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	orch, err := newOrchestrator(ctx, cfg, st, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		orch:   orch,
	}, nil
}

// Hedge 执行单次对冲。
func (a *App) Hedge(ctx context.Context, req execution.HedgeRequest) (execution.Summary, error) {
	return a.orch.manager.ExecuteHedge(ctx, req)
}

// DefaultRequest 返回带默认参数的指定品种请求。
func (a *App) DefaultRequest(symbol string) execution.HedgeRequest {
	req := a.orch.defaults
	req.Symbol = symbol
	req.TargetDelta = a.cfg.Risk.TargetDelta
	return req
}

// Run 启动监控接口并按巡检间隔驱动自动对冲，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("对冲系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Bool("paper", a.cfg.Paper.Enabled),
		zap.Strings("guarded_symbols", a.orch.guard.Symbols()),
	)

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, newRouter(a.orch), a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	if len(a.orch.guard.Symbols()) == 0 {
		a.logger.Info("未配置敞口阈值，仅提供手动对冲接口")
		<-ctx.Done()
		return exitError(ctx, a.logger)
	}

	interval := a.cfg.Risk.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := a.orch.Tick(ctx); err != nil {
		a.logger.Error("首次巡检失败", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return exitError(ctx, a.logger)
		case <-ticker.C:
			if err := a.orch.Tick(ctx); err != nil {
				a.logger.Error("敞口巡检失败", zap.Error(err))
			}
		}
	}
}

func exitError(ctx context.Context, logger *zap.Logger) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	logger.Info("系统收到退出信号，正在停止")
	return nil
}
