package position

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"hedger/internal/config"
	"hedger/internal/execution"
)

type positionsClient interface {
	FetchPositions(ctx context.Context) ([]ccxt.Position, error)
}

// Reader 从交易所持仓换算出品种的净 delta。
type Reader struct {
	client positionsClient
	venue  config.VenueConfig
	logger *zap.Logger
	now    func() time.Time
}

var _ execution.PositionSource = (*Reader)(nil)

// NewReader 创建持仓读取器。
func NewReader(client positionsClient, venue config.VenueConfig, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		client: client,
		venue:  venue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Position 汇总该品种在场所上的全部持仓，空仓返回零值快照。
func (r *Reader) Position(ctx context.Context, symbol string) (execution.Position, error) {
	market := r.venue.Market(symbol)
	if market == "" {
		return execution.Position{}, fmt.Errorf("position: %s 未在 %s 配置交易对", symbol, r.venue.Name)
	}

	rawPositions, err := r.client.FetchPositions(ctx)
	if err != nil {
		return execution.Position{}, fmt.Errorf("position: 获取持仓失败: %w", err)
	}

	pos := execution.Position{
		Symbol:    symbol,
		Exchange:  r.venue.Name,
		UpdatedAt: r.now(),
	}

	var notional, gross float64
	var latest int64
	for _, rawPos := range rawPositions {
		if !strings.EqualFold(derefString(rawPos.Symbol), market) {
			continue
		}

		contracts := math.Abs(derefFloat(rawPos.Contracts))
		if contracts == 0 {
			continue
		}
		size := derefFloat(rawPos.ContractSize)
		if size == 0 {
			size = 1
		}

		qty := contracts * size
		if strings.EqualFold(strings.TrimSpace(derefString(rawPos.Side)), "short") {
			qty = -qty
		}

		entry := derefFloat(rawPos.EntryPrice)
		mark := derefFloat(rawPos.MarkPrice)
		if mark == 0 && rawPos.Info != nil {
			if info, ok := rawPos.Info["position"].(map[string]interface{}); ok {
				mark = parseNumeric(info["markPx"])
			}
		}

		pos.Quantity += qty
		pos.UnrealizedPnL += derefFloat(rawPos.UnrealizedPnl)
		pos.RealizedPnL += derefFloat(rawPos.RealizedPnl)
		notional += math.Abs(qty) * entry
		gross += math.Abs(qty)
		if mark > 0 {
			pos.CurrentPrice = mark
		}
		if rawPos.Timestamp != nil && *rawPos.Timestamp > latest {
			latest = *rawPos.Timestamp
		}
	}

	pos.Delta = pos.Quantity
	if gross > 0 {
		pos.EntryPrice = notional / gross
	}
	if latest > 0 {
		pos.UpdatedAt = time.UnixMilli(latest).UTC()
	}

	r.logger.Debug("持仓读取完成",
		zap.String("symbol", symbol),
		zap.String("venue", r.venue.Name),
		zap.Float64("delta", pos.Delta),
		zap.Float64("entry_price", pos.EntryPrice),
	)

	return pos, nil
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
