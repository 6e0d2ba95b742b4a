package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hedger/internal/audit"
	"hedger/internal/config"
	"hedger/internal/log"
	"hedger/internal/metrics"
)

// Options 控制执行管理器的节奏与限流参数。
type Options struct {
	TWAPInterval          time.Duration
	MaxConcurrentPerVenue int
	RateLimitPerSecond    float64
	RateLimitBurst        int
	OrderBookParallelism  int
}

// OptionsFromConfig 从配置构造 Options。
func OptionsFromConfig(cfg config.ExecutionConfig) Options {
	return Options{
		TWAPInterval:          cfg.TWAPInterval,
		MaxConcurrentPerVenue: cfg.MaxConcurrentPerVenue,
		RateLimitPerSecond:    cfg.RateLimitPerSecond,
		RateLimitBurst:        cfg.RateLimitBurst,
		OrderBookParallelism:  cfg.OrderBookParallelism,
	}
}

// ManagerOption 为 Manager 注入可选依赖。
type ManagerOption func(*Manager)

// WithMetrics 挂接 Prometheus 指标。
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// WithSummarySink 挂接执行记录的持久化出口。
func WithSummarySink(sink SummarySink) ManagerOption {
	return func(m *Manager) { m.sink = sink }
}

// WithIDGenerator 替换执行编号生成器。
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithSleeper 替换 TWAP 间隔等待函数。
func WithSleeper(fn Sleeper) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// Manager 串联规模计算、场所路由、拆分与分批执行，并持有本实例的执行登记表。
type Manager struct {
	exchange  Exchange
	positions PositionSource
	trail     *audit.Trail
	registry  *Registry
	limiter   *Limiter
	executor  *Executor
	metrics   *metrics.Collector
	sink      SummarySink
	logger    *zap.Logger
	opts      Options

	newID func() string
	sleep Sleeper
	now   func() time.Time
}

// NewManager 创建执行管理器。
func NewManager(exchange Exchange, positions PositionSource, trail *audit.Trail, opts Options, logger *zap.Logger, extra ...ManagerOption) (*Manager, error) {
	if exchange == nil {
		return nil, errors.New("execution: exchange 不能为空")
	}
	if positions == nil {
		return nil, errors.New("execution: position source 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = audit.NewTrail(logger)
	}
	if opts.OrderBookParallelism <= 0 {
		opts.OrderBookParallelism = 4
	}

	m := &Manager{
		exchange:  exchange,
		positions: positions,
		trail:     trail,
		registry:  NewRegistry(),
		logger:    logger,
		opts:      opts,
		newID:     func() string { return uuid.NewString() },
		sleep:     sleepContext,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range extra {
		opt(m)
	}

	m.limiter = NewLimiter(opts.MaxConcurrentPerVenue, opts.RateLimitPerSecond, opts.RateLimitBurst, m.metrics)
	m.executor = NewExecutor(exchange, m.limiter, trail, opts.TWAPInterval, logger)
	m.executor.metrics = m.metrics
	m.executor.sleep = m.sleep

	return m, nil
}

// ExecuteHedge 执行一次对冲并返回完整记录。
// 请求级错误（参数不合法、无可用场所、行情或持仓读取失败）直接返回，不生成记录；
// 分批与结果无法对账时同时返回整体失败的记录与 *AggregationInconsistencyError。
// 执行一旦开始便不再响应调用方取消，逐批运行至结束。
func (m *Manager) ExecuteHedge(ctx context.Context, req HedgeRequest) (Summary, error) {
	if err := validateRequest(req); err != nil {
		return Summary{}, err
	}

	ctx = context.WithoutCancel(ctx)
	id := m.newID()
	logger := log.ForExecution(m.logger, id, req.Symbol)
	started := m.now()

	m.trail.Append(ctx, id, "", ActionStartExecution, startDetails{
		Symbol:      req.Symbol,
		TargetDelta: req.TargetDelta,
		MaxSlippage: req.MaxSlippage,
		Partial:     req.Partial,
		TWAP:        req.TWAP,
	})

	sizing, err := m.size(ctx, id, req)
	if err != nil {
		return Summary{}, m.abort(ctx, id, "sizing", err, logger)
	}
	m.trail.Append(ctx, id, "", ActionHedgeSizeCalculated, sizing)

	route, err := m.route(ctx, id, req.Symbol, sizing.HedgeSize)
	if err != nil {
		return Summary{}, m.abort(ctx, id, "routing", err, logger)
	}
	m.trail.Append(ctx, id, "", ActionOrderRouted, route)

	tranches := ScheduleTranches(id, sizing.HedgeSize, route.Venue, req.Partial, req.TWAP)
	m.trail.Append(ctx, id, "", ActionTranchesCreated, tranchesDetails{
		Tranches: append([]Tranche(nil), tranches...),
		Total:    trancheTotal(tranches),
	})

	summary := Summary{
		ExecutionID: id,
		Request:     req,
		HedgeSize:   sizing.HedgeSize,
		Venue:       route.Venue,
		Sizing:      sizing,
		Routing:     route,
		StartedAt:   started,
	}

	inconsistency := checkTranches(tranches, sizing.HedgeSize)
	if inconsistency == nil {
		summary.Results = m.executor.Execute(ctx, id, req, route, tranches)
		if len(summary.Results) != len(tranches) {
			inconsistency = &AggregationInconsistencyError{
				Detail: fmt.Sprintf("%d results for %d tranches", len(summary.Results), len(tranches)),
			}
		}
	}
	summary.Tranches = tranches

	if inconsistency != nil {
		m.trail.Append(ctx, id, "", ActionAggregationInconsistency, abortedDetails{
			Stage: "aggregation",
			Error: inconsistency.Error(),
		})
		summary.Status = StatusFailed
		summary.Error = inconsistency.Error()
		logger.Error("执行结果无法对账", zap.Error(inconsistency))
	} else {
		summary.Status = AggregateResults(summary.Results)
	}
	m.trail.Append(ctx, id, "", ActionExecutionStatus, statusDetails{Status: summary.Status})

	summary.CostBenefit = AnalyzeCostBenefit(summary.Results, sizing.HedgeSize, req.TargetDelta)
	m.trail.Append(ctx, id, "", ActionCostBenefit, summary.CostBenefit)

	summary.CompletedAt = m.now()
	m.trail.Append(ctx, id, "", ActionExecutionComplete, completeDetails{
		Status:    summary.Status,
		HedgeSize: summary.HedgeSize,
		Venue:     summary.Venue,
		Tranches:  len(summary.Tranches),
		Error:     summary.Error,
	})
	summary.Audit = m.trail.ExecutionEntries(id)

	if err := m.registry.Insert(summary); err != nil {
		return Summary{}, m.abort(ctx, id, "registry", fmt.Errorf("execution: 登记执行 %s 失败: %w", id, err), logger)
	}
	m.metrics.ObserveExecution(string(summary.Status), summary.HedgeSize)

	if m.sink != nil {
		if err := m.sink.SaveSummary(ctx, summary); err != nil {
			logger.Warn("执行记录持久化失败", zap.Error(err))
		}
	}

	logger.Info("对冲执行完成",
		zap.String("status", string(summary.Status)),
		zap.Float64("hedge_size", summary.HedgeSize),
		zap.String("venue", summary.Venue),
		zap.Int("tranches", len(summary.Tranches)),
		zap.Float64("filled", summary.CostBenefit.Filled),
	)

	if inconsistency != nil {
		return summary, inconsistency
	}
	return summary, nil
}

// AuditTrail 返回一次执行（含其全部分批）的审计条目；传入分批编号时仅返回该分批条目。
func (m *Manager) AuditTrail(id string) []audit.Entry {
	if entries := m.trail.ExecutionEntries(id); len(entries) > 0 {
		return entries
	}
	return m.trail.Entries(id)
}

// ActiveExecutions 返回本实例登记的全部执行记录。
func (m *Manager) ActiveExecutions() map[string]Summary {
	return m.registry.Snapshot()
}

// Execution 按编号读取执行记录。
func (m *Manager) Execution(id string) (Summary, bool) {
	return m.registry.Get(id)
}

func (m *Manager) size(ctx context.Context, id string, req HedgeRequest) (SizingDecision, error) {
	var pos Position
	err := m.limiter.Do(ctx, SharedLimiterKey, func(ctx context.Context) error {
		var callErr error
		pos, callErr = m.positions.Position(ctx, req.Symbol)
		return callErr
	})
	if err != nil {
		m.metrics.ExternalError("get_position")
		return SizingDecision{}, &ExternalCallError{Op: "get_position", Err: err}
	}
	if !isFinite(pos.Delta) {
		m.metrics.ExternalError("get_position")
		return SizingDecision{}, &ExternalCallError{
			Op:  "get_position",
			Err: fmt.Errorf("%w: delta=%v", ErrNonFiniteInput, pos.Delta),
		}
	}
	m.trail.Append(ctx, id, "", ActionPositionRead, pos)

	var md MarketData
	err = m.limiter.Do(ctx, SharedLimiterKey, func(ctx context.Context) error {
		var callErr error
		md, callErr = m.exchange.MarketData(ctx, req.Symbol)
		return callErr
	})
	if err != nil {
		m.metrics.ExternalError("get_market_data")
		return SizingDecision{}, &ExternalCallError{Op: "get_market_data", Err: err}
	}
	if !isFinite(md.Volatility) || !isFinite(md.OrderBookLiquidity) {
		m.metrics.ExternalError("get_market_data")
		return SizingDecision{}, &ExternalCallError{
			Op:  "get_market_data",
			Err: fmt.Errorf("%w: volatility=%v liquidity=%v", ErrNonFiniteInput, md.Volatility, md.OrderBookLiquidity),
		}
	}
	m.trail.Append(ctx, id, "", ActionMarketDataRead, md)

	return CalculateHedgeSize(pos.Delta, req.TargetDelta, md.Volatility, md.OrderBookLiquidity), nil
}

func (m *Manager) route(ctx context.Context, id, symbol string, size float64) (RoutingDecision, error) {
	var venues []string
	err := m.limiter.Do(ctx, SharedLimiterKey, func(ctx context.Context) error {
		var callErr error
		venues, callErr = m.exchange.Venues(ctx, symbol)
		return callErr
	})
	if err != nil {
		m.metrics.ExternalError("get_available_venues")
		return RoutingDecision{}, &ExternalCallError{Op: "get_available_venues", Err: err}
	}

	quotes := make([]OrderBookQuote, len(venues))
	errs := make([]error, len(venues))

	var group errgroup.Group
	group.SetLimit(m.opts.OrderBookParallelism)
	for i, venue := range venues {
		group.Go(func() error {
			errs[i] = m.limiter.Do(ctx, venue, func(ctx context.Context) error {
				q, callErr := m.exchange.OrderBook(ctx, symbol, venue)
				if callErr != nil {
					return callErr
				}
				q.Venue = venue
				quotes[i] = q
				return nil
			})
			return nil
		})
	}
	_ = group.Wait()

	// 保持调用方给出的场所顺序，同分时先出现者胜出
	available := make([]OrderBookQuote, 0, len(venues))
	for i, venue := range venues {
		if errs[i] != nil {
			m.metrics.ExternalError("get_order_book")
			m.trail.Append(ctx, id, "", ActionVenueSkipped, skippedDetails{Venue: venue, Error: errs[i].Error()})
			continue
		}
		available = append(available, quotes[i])
	}

	return SelectVenue(available, size)
}

func (m *Manager) abort(ctx context.Context, id, stage string, err error, logger *zap.Logger) error {
	m.trail.Append(ctx, id, "", ActionExecutionAborted, abortedDetails{Stage: stage, Error: err.Error()})
	logger.Error("对冲执行终止", zap.String("stage", stage), zap.Error(err))
	return err
}

func validateRequest(req HedgeRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !isFinite(req.TargetDelta) {
		return &ValidationError{Field: "target_delta", Reason: "must be finite"}
	}
	if math.IsNaN(req.MaxSlippage) || req.MaxSlippage < 0 || req.MaxSlippage >= 1 {
		return &ValidationError{Field: "max_slippage", Reason: "must be within [0,1)"}
	}
	return nil
}

func checkTranches(tranches []Tranche, hedgeSize float64) error {
	if len(tranches) == 0 {
		return &AggregationInconsistencyError{Detail: "no tranches scheduled"}
	}
	total := trancheTotal(tranches)
	if !isFinite(total) || !isFinite(hedgeSize) {
		return &AggregationInconsistencyError{
			Detail: fmt.Sprintf("non-finite tranche total %g for hedge size %g", total, hedgeSize),
		}
	}
	if math.Abs(total-hedgeSize) > 1e-9*math.Max(1, math.Abs(hedgeSize)) {
		return &AggregationInconsistencyError{
			Detail: fmt.Sprintf("tranche sizes sum to %g, hedge size is %g", total, hedgeSize),
		}
	}
	return nil
}
