package indicator

import (
	"math"
	"time"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Series 将K线数据拆分为便于指标计算的序列。
type Series struct {
	Timestamps []time.Time
	High       []float64
	Low        []float64
	Close      []float64
}

// NewSeries 从K线创建 Series，输入需按时间升序排列。
func NewSeries(candles []Candle) Series {
	length := len(candles)
	series := Series{
		Timestamps: make([]time.Time, length),
		High:       make([]float64, length),
		Low:        make([]float64, length),
		Close:      make([]float64, length),
	}

	for i, candle := range candles {
		series.Timestamps[i] = candle.Timestamp.UTC()
		series.High[i] = candle.High
		series.Low[i] = candle.Low
		series.Close[i] = candle.Close
	}

	return series
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Close)
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
