package scheduler

import (
	"time"

	"aurum/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosedCandle 去掉序列末尾尚未收盘的 K 线。
// 多数行情接口会把进行中的当前 K 线一并返回，直接喂给策略
// 会导致同一根 K 线被消费两次。
func DropUnclosedCandle(candles []market.Candle, interval time.Duration) []market.Candle {
	return dropUnclosedCandleAt(candles, interval, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedCandleAt(candles []market.Candle, interval time.Duration, now time.Time, grace time.Duration) []market.Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.Timestamp <= 0 {
		return candles
	}
	closeTimeMs := last.Timestamp + interval.Milliseconds()
	cutoffMs := closeTimeMs + grace.Milliseconds()
	if now.UnixMilli() < cutoffMs {
		return candles[:len(candles)-1]
	}
	return candles
}
