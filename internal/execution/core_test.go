package execution

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateHedgeSize_ReferenceExample(t *testing.T) {
	d := CalculateHedgeSize(0, 1, 0.05, 100000)

	assert.InDelta(t, 0.95, d.VolFactor, 1e-12)
	assert.InDelta(t, 10000, d.MaxHedge, 1e-9)
	assert.InDelta(t, 0.95, d.HedgeSize, 1e-12)
	assert.InDelta(t, 1, d.Raw, 1e-12)
	assert.Contains(t, d.Rationale, "max_hedge=10000")
	assert.Contains(t, d.Rationale, "vol_factor=0.95")
}

func TestCalculateHedgeSize_StaysWithinLiquidityBounds(t *testing.T) {
	liquidities := []float64{0, 1, 50, 12345.6, 1e6}
	deltas := []float64{-1e7, -350, -0.4, 0, 0.3, 42, 9e6}
	vols := []float64{0, 0.05, 0.3, 0.5, 0.75, 1}

	for _, liq := range liquidities {
		for _, current := range deltas {
			for _, vol := range vols {
				d := CalculateHedgeSize(current, 0, vol, liq)
				bound := 0.10 * liq
				assert.LessOrEqual(t, d.HedgeSize, bound+1e-9, "liq=%g current=%g vol=%g", liq, current, vol)
				assert.GreaterOrEqual(t, d.HedgeSize, -bound-1e-9, "liq=%g current=%g vol=%g", liq, current, vol)
				assert.GreaterOrEqual(t, d.VolFactor, 0.5)
			}
		}
	}
}

func TestCalculateHedgeSize_NonPositiveLiquidityYieldsZero(t *testing.T) {
	for _, liq := range []float64{0, -10} {
		d := CalculateHedgeSize(5, 0, 0.1, liq)
		assert.Zero(t, d.MaxHedge)
		assert.Zero(t, d.HedgeSize)
		assert.False(t, math.Signbit(d.HedgeSize), "negative zero leaked")
	}
}

func TestCalculateHedgeSize_NonFiniteInputsYieldZero(t *testing.T) {
	cases := []struct {
		current, target, vol, liq float64
	}{
		{0, 3, math.NaN(), 1000},
		{0, 3, 0.1, math.NaN()},
		{0, 3, 0.1, math.Inf(1)},
		{math.NaN(), 3, 0.1, 1000},
		{math.Inf(-1), 0, 0.1, 1000},
	}
	for _, tc := range cases {
		d := CalculateHedgeSize(tc.current, tc.target, tc.vol, tc.liq)
		assert.Zero(t, d.HedgeSize, "current=%g vol=%g liq=%g", tc.current, tc.vol, tc.liq)
		assert.False(t, math.Signbit(d.HedgeSize))
	}
}

func TestCalculateHedgeSize_HighVolatilityFloorsFactor(t *testing.T) {
	d := CalculateHedgeSize(-2, 0, 0.9, 1000)
	assert.InDelta(t, 0.5, d.VolFactor, 1e-12)
	assert.InDelta(t, 1, d.HedgeSize, 1e-12)
}

func TestSelectVenue_PrefersCheaperAsk(t *testing.T) {
	quotes := []OrderBookQuote{
		{Venue: "A", BestAsk: 100, BestBid: 100, Fee: 0.0004, Latency: 0.1, Depth: 50000},
		{Venue: "B", BestAsk: 99, BestBid: 99, Fee: 0.0004, Latency: 0.1, Depth: 50000},
	}

	d, err := SelectVenue(quotes, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", d.Venue)
	assert.Greater(t, ScoreVenue(quotes[1], 1), ScoreVenue(quotes[0], 1))
	require.Len(t, d.Scores, 2)
	assert.Equal(t, "A", d.Scores[0].Venue)
	assert.Contains(t, d.Rationale, "B")
}

func TestSelectVenue_SellUsesBid(t *testing.T) {
	quotes := []OrderBookQuote{
		{Venue: "A", BestAsk: 101, BestBid: 99, Depth: 100},
		{Venue: "B", BestAsk: 100, BestBid: 100, Depth: 100},
	}

	buy, err := SelectVenue(quotes, 2)
	require.NoError(t, err)
	assert.Equal(t, "B", buy.Venue)

	// 评分只看价格绝对值，卖出时较低的买一反而得分更高
	sell, err := SelectVenue(quotes, -2)
	require.NoError(t, err)
	assert.Equal(t, "A", sell.Venue)
	assert.InDelta(t, 99, sell.Quote.Price(-2), 1e-12)
}

func TestSelectVenue_TieGoesToFirstEnumerated(t *testing.T) {
	q := OrderBookQuote{BestAsk: 100, BestBid: 99, Fee: 0.0005, Latency: 0.2, Depth: 1000}
	first, second := q, q
	first.Venue = "first"
	second.Venue = "second"

	d, err := SelectVenue([]OrderBookQuote{first, second}, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", d.Venue)

	d, err = SelectVenue([]OrderBookQuote{second, first}, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", d.Venue)
}

func TestSelectVenue_EmptyInput(t *testing.T) {
	_, err := SelectVenue(nil, 1)
	assert.True(t, errors.Is(err, ErrNoVenueAvailable))
}

func TestTrancheCount(t *testing.T) {
	cases := []struct {
		size    float64
		partial bool
		twap    bool
		want    int
	}{
		{0, true, true, 1},
		{0.99, true, true, 1},
		{-0.5, true, false, 1},
		{10, false, true, 1},
		{10, true, false, 2},
		{-10, true, false, 2},
		{1, true, true, 2},
		{1.5, true, true, 2},
		{3.7, true, true, 3},
		{-4.2, true, true, 4},
		{5, true, true, 5},
		{250, true, true, 5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TrancheCount(tc.size, tc.partial, tc.twap), "size=%g partial=%v twap=%v", tc.size, tc.partial, tc.twap)
	}
}

func TestScheduleTranches_SumMatchesHedgeSize(t *testing.T) {
	for _, size := range []float64{0, 0.3, -0.7, 1, 1.0000001, 2.5, -3.3333333, 7.1, 1e6 / 3, -98765.4321} {
		tranches := ScheduleTranches("exec", size, "alpha", true, true)
		require.NotEmpty(t, tranches)
		assert.InDelta(t, size, trancheTotal(tranches), 1e-9, "size=%g", size)

		for i, tr := range tranches {
			assert.Equal(t, i+1, tr.Seq)
			assert.Equal(t, TrancheID("exec", i+1), tr.ID)
			assert.Equal(t, "alpha", tr.Venue)
			assert.Equal(t, StatusPending, tr.Status)
		}
	}
}

func TestScheduleTranches_SmallHedgeIsSingleTranche(t *testing.T) {
	for _, partial := range []bool{true, false} {
		for _, twap := range []bool{true, false} {
			tranches := ScheduleTranches("exec", -0.9, "beta", partial, twap)
			require.Len(t, tranches, 1)
			assert.InDelta(t, -0.9, tranches[0].Size, 1e-12)
		}
	}
}

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name string
		in   []Status
		want Status
	}{
		{"all filled", []Status{StatusFilled, StatusFilled}, StatusFilled},
		{"filled and failed", []Status{StatusFilled, StatusFailed}, StatusFailed},
		{"filled and partial", []Status{StatusFilled, StatusPartiallyFilled}, StatusPartiallyFilled},
		// 任一失败即整体失败，即便其余分批已部分成交；部分对冲场景下是否应降级为部分成交仍待产品确认
		{"failed beats partial", []Status{StatusPartiallyFilled, StatusFailed, StatusFilled}, StatusFailed},
		{"pending left over", []Status{StatusFilled, StatusSubmitted}, StatusPending},
		{"empty", nil, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AggregateStatus(tc.in))
		})
	}
}

func TestAnalyzeCostBenefit(t *testing.T) {
	results := []ExecutionResult{
		{Filled: 0.1, Cost: 10.01, Fees: 0.004, Slippage: 0.01},
		{Filled: 0.2, Cost: 20.02, Fees: 0.008, Slippage: 0.02},
	}

	cb := AnalyzeCostBenefit(results, 0.3, -0.6)
	assert.InDelta(t, 30.03, cb.TotalCost, 1e-12)
	assert.InDelta(t, 0.012, cb.TotalFees, 1e-12)
	assert.InDelta(t, 0.03, cb.TotalSlippage, 1e-12)
	assert.InDelta(t, 0.3, cb.Filled, 1e-12)
	assert.InDelta(t, 0.5, cb.Benefit, 1e-12)
	assert.InDelta(t, 100.1, cb.CostPerUnit, 1e-9)
}

func TestAnalyzeCostBenefit_ZeroFilledAndZeroTarget(t *testing.T) {
	cb := AnalyzeCostBenefit([]ExecutionResult{{Status: StatusFailed}}, 2, 0)
	assert.Zero(t, cb.CostPerUnit)
	assert.Zero(t, cb.Benefit)
	assert.Zero(t, cb.Filled)

	cb = AnalyzeCostBenefit(nil, 0, 1)
	assert.Zero(t, cb.CostPerUnit)
	assert.Zero(t, cb.Benefit)
}
