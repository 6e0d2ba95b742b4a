package indicator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"
)

// DefaultPeriod 为收益率标准差的默认窗口。
const DefaultPeriod = 30

// ErrInsufficientData 表示K线数量不足以估算波动率。
var ErrInsufficientData = errors.New("indicator: 至少需要两根K线")

// Method 标记波动率的估算方式。
type Method string

const (
	MethodStdDev Method = "stddev_returns"
	MethodATR    Method = "atr_over_close"
)

// VolatilityResult 为一次波动率估算的结果，Value 已限制在 [0,1]。
type VolatilityResult struct {
	Value   float64
	Raw     float64
	Method  Method
	Period  int
	Samples int
}

// Volatility 以简单收益率的标准差估算波动率；样本不足一个完整窗口时退化为 ATR/收盘价。
func Volatility(candles []Candle, period int) (VolatilityResult, error) {
	if len(candles) < 2 {
		return VolatilityResult{}, ErrInsufficientData
	}
	if period < 2 {
		period = DefaultPeriod
	}

	series := NewSeries(candles)
	result := VolatilityResult{Samples: series.Len()}

	// Rocp 首位为回看期占位
	returns := talib.Rocp(series.Close, 1)[1:]
	if len(returns) >= period {
		result.Method = MethodStdDev
		result.Period = period
		result.Raw = Last(talib.StdDev(returns, period, 1))
	} else {
		n := series.Len() - 1
		result.Method = MethodATR
		result.Period = n
		atr := talib.Atr(series.High, series.Low, series.Close, n)
		result.Raw = SafeDivide(Last(atr), Last(series.Close))
	}

	result.Value = clampUnit(result.Raw)
	return result, nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(1, v)
}

type cacheEntry struct {
	key    string
	result VolatilityResult
}

// Calculator 按交易对缓存最近一次的波动率，K线未更新时直接复用。
type Calculator struct {
	mu     sync.Mutex
	period int
	cache  map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator(period int) *Calculator {
	if period < 2 {
		period = DefaultPeriod
	}
	return &Calculator{
		period: period,
		cache:  make(map[string]cacheEntry),
	}
}

// Volatility 计算指定交易对的波动率。
func (c *Calculator) Volatility(symbol string, candles []Candle) (VolatilityResult, error) {
	if len(candles) == 0 {
		return VolatilityResult{}, ErrInsufficientData
	}
	last := candles[len(candles)-1]
	cacheKey := fmt.Sprintf("%d:%d:%g", len(candles), last.Timestamp.Unix(), last.Close)

	c.mu.Lock()
	if entry, ok := c.cache[symbol]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	result, err := Volatility(candles, c.period)
	if err != nil {
		return VolatilityResult{}, fmt.Errorf("计算 %s 波动率失败: %w", symbol, err)
	}

	c.mu.Lock()
	c.cache[symbol] = cacheEntry{key: cacheKey, result: result}
	c.mu.Unlock()

	return result, nil
}
