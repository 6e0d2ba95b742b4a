package exchange

import (
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"hedger/internal/indicator"
)

// OrderBookLevel 表示盘口档位。
type OrderBookLevel struct {
	Price  float64
	Amount float64
}

// OrderBookSnapshot 为订单簿快照，买盘价格降序、卖盘价格升序。
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
	Nonce     int64
}

// BestBid 返回买一价，无买盘时返回 0。
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk 返回卖一价，无卖盘时返回 0。
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Depth 返回双边挂单数量之和。
func (s OrderBookSnapshot) Depth() float64 {
	total := 0.0
	for _, l := range s.Bids {
		total += l.Amount
	}
	for _, l := range s.Asks {
		total += l.Amount
	}
	return total
}

// Liquidity 返回双边挂单名义价值之和。
func (s OrderBookSnapshot) Liquidity() float64 {
	total := 0.0
	for _, l := range s.Bids {
		total += l.Price * l.Amount
	}
	for _, l := range s.Asks {
		total += l.Price * l.Amount
	}
	return total
}

// Mid 返回中间价，单边缺失时返回另一边。
func (s OrderBookSnapshot) Mid() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

func convertOrderBook(symbol string, ob ccxt.OrderBook) OrderBookSnapshot {
	bids := make([]OrderBookLevel, 0, len(ob.Bids))
	for _, level := range ob.Bids {
		if len(level) < 2 {
			continue
		}
		bids = append(bids, OrderBookLevel{Price: level[0], Amount: level[1]})
	}

	asks := make([]OrderBookLevel, 0, len(ob.Asks))
	for _, level := range ob.Asks {
		if len(level) < 2 {
			continue
		}
		asks = append(asks, OrderBookLevel{Price: level[0], Amount: level[1]})
	}

	var ts time.Time
	if ob.Timestamp != nil {
		ts = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		ts = time.Now().UTC()
	}

	var nonce int64
	if ob.Nonce != nil {
		nonce = *ob.Nonce
	}

	return OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
		Nonce:     nonce,
	}
}

func convertCandles(raw []ccxt.OHLCV) []indicator.Candle {
	candles := make([]indicator.Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, indicator.Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	return candles
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
