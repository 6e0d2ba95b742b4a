package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 汇总对冲执行相关的 Prometheus 指标。方法均可在 nil 接收者上调用。
type Collector struct {
	registry *prometheus.Registry

	executions     *prometheus.CounterVec
	tranches       *prometheus.CounterVec
	trancheLatency *prometheus.HistogramVec
	hedgeSize      prometheus.Histogram
	inFlight       *prometheus.GaugeVec
	externalErrors *prometheus.CounterVec
}

// New 创建指标集合并注册到独立的 Registry。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedger_executions_total",
				Help: "Completed hedge executions by aggregate status",
			},
			[]string{"status"},
		),
		tranches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedger_tranches_total",
				Help: "Executed tranches by venue and status",
			},
			[]string{"venue", "status"},
		),
		trancheLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hedger_tranche_duration_seconds",
				Help:    "Wall time of a tranche submission including market-impact delay",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"venue"},
		),
		hedgeSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hedger_hedge_size_abs",
				Help:    "Absolute computed hedge size per execution",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hedger_external_calls_in_flight",
				Help: "External collaborator calls currently holding a permit",
			},
			[]string{"venue"},
		),
		externalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedger_external_call_errors_total",
				Help: "Failed external collaborator calls by operation",
			},
			[]string{"op"},
		),
	}

	c.registry.MustRegister(
		c.executions,
		c.tranches,
		c.trancheLatency,
		c.hedgeSize,
		c.inFlight,
		c.externalErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry 返回底层 Registry。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 /metrics 处理器。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveExecution 记录一次执行完成。
func (c *Collector) ObserveExecution(status string, hedgeSize float64) {
	if c == nil {
		return
	}
	c.executions.WithLabelValues(status).Inc()
	if hedgeSize < 0 {
		hedgeSize = -hedgeSize
	}
	c.hedgeSize.Observe(hedgeSize)
}

// ObserveTranche 记录一个分批的终态与耗时。
func (c *Collector) ObserveTranche(venue, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.tranches.WithLabelValues(venue, status).Inc()
	c.trancheLatency.WithLabelValues(venue).Observe(elapsed.Seconds())
}

// CallStarted 在获取许可后调用。
func (c *Collector) CallStarted(venue string) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(venue).Inc()
}

// CallFinished 在释放许可前调用。
func (c *Collector) CallFinished(venue string) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(venue).Dec()
}

// ExternalError 记录一次协作方调用失败。
func (c *Collector) ExternalError(op string) {
	if c == nil {
		return
	}
	c.externalErrors.WithLabelValues(op).Inc()
}
