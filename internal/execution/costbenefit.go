package execution

import (
	"math"

	"github.com/shopspring/decimal"
)

// AnalyzeCostBenefit 汇总成本、费用、滑点与成交量，并给出对冲收益比。
func AnalyzeCostBenefit(results []ExecutionResult, hedgeSize, targetDelta float64) CostBenefit {
	var cost, fees, slippage, filled decimal.Decimal
	for _, r := range results {
		cost = cost.Add(decimal.NewFromFloat(r.Cost))
		fees = fees.Add(decimal.NewFromFloat(r.Fees))
		slippage = slippage.Add(decimal.NewFromFloat(r.Slippage))
		filled = filled.Add(decimal.NewFromFloat(r.Filled))
	}

	cb := CostBenefit{
		TotalCost:     cost.InexactFloat64(),
		TotalFees:     fees.InexactFloat64(),
		TotalSlippage: slippage.InexactFloat64(),
		Filled:        filled.InexactFloat64(),
		HedgeSize:     hedgeSize,
		TargetDelta:   targetDelta,
	}

	if targetDelta != 0 {
		cb.Benefit = math.Abs(cb.Filled) / math.Abs(targetDelta)
	}
	if !filled.IsZero() {
		cb.CostPerUnit = cost.Div(filled).InexactFloat64()
	}

	return cb
}
