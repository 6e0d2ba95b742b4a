package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candlesFromCloses(closes ...float64) []Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Candle, 0, len(closes))
	for i, c := range closes {
		out = append(out, Candle{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
		})
	}
	return out
}

func TestVolatility_StdDevOfReturns(t *testing.T) {
	closes := []float64{100}
	for i := 0; i < 8; i++ {
		last := closes[len(closes)-1]
		if i%2 == 0 {
			closes = append(closes, last*1.1)
		} else {
			closes = append(closes, last*0.9)
		}
	}

	res, err := Volatility(candlesFromCloses(closes...), 4)
	require.NoError(t, err)
	assert.Equal(t, MethodStdDev, res.Method)
	assert.Equal(t, 4, res.Period)
	assert.InDelta(t, 0.1, res.Value, 1e-6)
}

func TestVolatility_FlatSeriesIsZero(t *testing.T) {
	res, err := Volatility(candlesFromCloses(50, 50, 50, 50, 50, 50), 3)
	require.NoError(t, err)
	assert.Equal(t, MethodStdDev, res.Method)
	assert.InDelta(t, 0, res.Value, 1e-12)
}

func TestVolatility_FallsBackToATR(t *testing.T) {
	res, err := Volatility(candlesFromCloses(100, 100, 100), 30)
	require.NoError(t, err)
	assert.Equal(t, MethodATR, res.Method)
	assert.Equal(t, 2, res.Period)
	assert.InDelta(t, 0.02, res.Value, 1e-9)
}

func TestVolatility_ClampedToUnit(t *testing.T) {
	res, err := Volatility(candlesFromCloses(100, 1000, 100, 1000, 100, 1000), 4)
	require.NoError(t, err)
	assert.Greater(t, res.Raw, 1.0)
	assert.Equal(t, 1.0, res.Value)
}

func TestVolatility_NeedsTwoCandles(t *testing.T) {
	_, err := Volatility(candlesFromCloses(100), 30)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCalculator_ReusesCachedResult(t *testing.T) {
	calc := NewCalculator(3)
	candles := candlesFromCloses(100, 101, 99, 102, 98)

	first, err := calc.Volatility("BTC", candles)
	require.NoError(t, err)
	second, err := calc.Volatility("BTC", candles)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	moved := append(candlesFromCloses(100, 101, 99, 102, 98), candlesFromCloses(100, 101, 99, 102, 98, 130)[5])
	third, err := calc.Volatility("BTC", moved)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, third.Value)
	assert.Equal(t, 6, third.Samples)
}
