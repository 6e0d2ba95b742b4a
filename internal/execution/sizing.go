package execution

import (
	"fmt"
	"math"
)

const (
	// maxLiquidityShare 限制单次对冲不超过可见流动性的 10%。
	maxLiquidityShare = 0.10
	minVolFactor      = 0.5
)

// CalculateHedgeSize 将目标敞口差值换算为受波动率与流动性约束的对冲数量。
// 流动性非正时上限为 0，任一输入非有限值时对冲数量为 0，不返回错误。
func CalculateHedgeSize(currentDelta, targetDelta, volatility, liquidity float64) SizingDecision {
	raw := targetDelta - currentDelta
	volFactor := math.Max(minVolFactor, 1-volatility)

	maxHedge := 0.0
	if liquidity > 0 {
		maxHedge = maxLiquidityShare * liquidity
	}

	hedge := math.Max(-maxHedge, math.Min(maxHedge, raw*volFactor))
	if !isFinite(hedge) || !isFinite(raw) || !isFinite(volatility) || !isFinite(liquidity) {
		hedge = 0
	}
	if hedge == 0 {
		hedge = 0 // 去掉 -0
	}

	return SizingDecision{
		CurrentDelta: currentDelta,
		TargetDelta:  targetDelta,
		Volatility:   volatility,
		Liquidity:    liquidity,
		VolFactor:    volFactor,
		MaxHedge:     maxHedge,
		Raw:          raw,
		HedgeSize:    hedge,
		Rationale: fmt.Sprintf(
			"current_delta=%g target_delta=%g volatility=%g liquidity=%g max_hedge=%g vol_factor=%g",
			currentDelta, targetDelta, volatility, liquidity, maxHedge, volFactor,
		),
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
