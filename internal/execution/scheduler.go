package execution

import (
	"fmt"
	"math"
)

const (
	minTWAPTranches = 2
	maxTWAPTranches = 5
)

// TrancheCount 返回对冲拆分的批次数。
func TrancheCount(size float64, partial, twap bool) int {
	abs := math.Abs(size)
	if !partial || abs < 1 {
		return 1
	}
	if !twap {
		return 2
	}
	n := int(math.Floor(abs))
	if n < minTWAPTranches {
		n = minTWAPTranches
	}
	if n > maxTWAPTranches {
		n = maxTWAPTranches
	}
	return n
}

// ScheduleTranches 将对冲数量等分为按序执行的分批，零数量产生单个零分批。
func ScheduleTranches(executionID string, size float64, venue string, partial, twap bool) []Tranche {
	n := TrancheCount(size, partial, twap)
	each := size / float64(n)

	tranches := make([]Tranche, 0, n)
	for i := 1; i <= n; i++ {
		tranches = append(tranches, Tranche{
			ID:     TrancheID(executionID, i),
			Seq:    i,
			Size:   each,
			Venue:  venue,
			Status: StatusPending,
		})
	}
	return tranches
}

// TrancheID 生成嵌套于执行编号下的分批编号。
func TrancheID(executionID string, seq int) string {
	return fmt.Sprintf("%s_tranche_%d", executionID, seq)
}

func trancheTotal(tranches []Tranche) float64 {
	total := 0.0
	for _, t := range tranches {
		total += t.Size
	}
	return total
}
