package execution

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"hedger/internal/metrics"
)

// SharedLimiterKey 为不归属具体场所的调用（行情、持仓、场所列表）所用的许可池。
const SharedLimiterKey = "*"

type venueGate struct {
	permits *semaphore.Weighted
	tokens  *rate.Limiter
}

// Limiter 为每个场所维护固定大小的并发许可池与令牌桶限速。
type Limiter struct {
	mu      sync.Mutex
	gates   map[string]*venueGate
	permits int64
	rps     rate.Limit
	burst   int
	metrics *metrics.Collector
}

// NewLimiter 创建限流器，非正参数回落到默认值。
func NewLimiter(permits int, rps float64, burst int, m *metrics.Collector) *Limiter {
	if permits <= 0 {
		permits = 5
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = permits
	}
	return &Limiter{
		gates:   make(map[string]*venueGate),
		permits: int64(permits),
		rps:     limit,
		burst:   burst,
		metrics: m,
	}
}

func (l *Limiter) gate(venue string) *venueGate {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.gates[venue]
	if !ok {
		g = &venueGate{
			permits: semaphore.NewWeighted(l.permits),
			tokens:  rate.NewLimiter(l.rps, l.burst),
		}
		l.gates[venue] = g
	}
	return g
}

// Do 在持有场所许可的情况下执行 fn。
func (l *Limiter) Do(ctx context.Context, venue string, fn func(ctx context.Context) error) error {
	if venue == "" {
		venue = SharedLimiterKey
	}
	g := l.gate(venue)

	if err := g.permits.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("execution: 获取 %s 调用许可失败: %w", venue, err)
	}
	defer g.permits.Release(1)

	if err := g.tokens.Wait(ctx); err != nil {
		return fmt.Errorf("execution: %s 限速等待失败: %w", venue, err)
	}

	l.metrics.CallStarted(venue)
	defer l.metrics.CallFinished(venue)

	return fn(ctx)
}
