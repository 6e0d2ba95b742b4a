package execution

import (
	"errors"
	"fmt"
)

// ErrNoVenueAvailable 表示没有可用场所，执行在拆分前终止。
var ErrNoVenueAvailable = errors.New("execution: no venue available")

// ErrNonFiniteInput 表示协作方返回了 NaN 或无穷大的数值。
var ErrNonFiniteInput = errors.New("execution: non-finite input")

// ErrDuplicateExecution 表示执行编号已存在于登记表中。
var ErrDuplicateExecution = errors.New("execution: duplicate execution id")

// ValidationError 表示请求参数不合法，执行不会开始。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("execution: invalid %s: %s", e.Field, e.Reason)
}

// ExternalCallError 包装协作方调用失败。
type ExternalCallError struct {
	Op    string
	Venue string
	Err   error
}

func (e *ExternalCallError) Error() string {
	if e.Venue != "" {
		return fmt.Sprintf("execution: %s on %s failed: %v", e.Op, e.Venue, e.Err)
	}
	return fmt.Sprintf("execution: %s failed: %v", e.Op, e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

// AggregationInconsistencyError 表示分批与结果无法对账，整体按失败处理。
type AggregationInconsistencyError struct {
	Detail string
}

func (e *AggregationInconsistencyError) Error() string {
	return "execution: aggregation inconsistency: " + e.Detail
}
