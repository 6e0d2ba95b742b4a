package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/sony/gobreaker"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过该场所。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrUnknownVenue 表示场所未配置或未启用。
	ErrUnknownVenue = errors.New("exchange: unknown venue")
	// ErrSymbolNotListed 表示场所未配置该品种的交易对。
	ErrSymbolNotListed = errors.New("exchange: symbol not listed on venue")
	// ErrUnsupportedVenue 表示没有对应的 ccxt 实现。
	ErrUnsupportedVenue = errors.New("exchange: unsupported venue")
	// ErrEmptyOrderBook 表示盘口缺少买一或卖一。
	ErrEmptyOrderBook = errors.New("exchange: empty order book")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	_, retry := classifyError(err)
	return retry
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	// 熔断打开时直接放弃，等待半开探测
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
