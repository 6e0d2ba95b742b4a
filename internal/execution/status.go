package execution

// AggregateStatus 根据各分批终态得出整体状态：
// 全部成交为 filled；任一失败即为 failed（优先于部分成交）；
// 存在部分成交为 partially_filled；其余（含无分批）为 pending。
func AggregateStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusPending
	}

	allFilled := true
	anyFailed := false
	anyPartial := false
	for _, s := range statuses {
		switch s {
		case StatusFilled:
		case StatusFailed:
			allFilled = false
			anyFailed = true
		case StatusPartiallyFilled:
			allFilled = false
			anyPartial = true
		default:
			allFilled = false
		}
	}

	switch {
	case allFilled:
		return StatusFilled
	case anyFailed:
		return StatusFailed
	case anyPartial:
		return StatusPartiallyFilled
	default:
		return StatusPending
	}
}

// AggregateResults 对执行结果应用 AggregateStatus。
func AggregateResults(results []ExecutionResult) Status {
	statuses := make([]Status, 0, len(results))
	for _, r := range results {
		statuses = append(statuses, r.Status)
	}
	return AggregateStatus(statuses)
}
