package marketdata

import (
	"context"

	"aurum/internal/market"
)

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol    string
	Timeframe market.Timeframe
	Start     int64 // Unix ms（0 表示不限制）
	End       int64 // Unix ms（0 表示不限制）
	Limit     int
}

// Source 统一不同数据源的拉取行为。
// 返回值必须按时间升序；任何非成功响应或解析失败都以 error 形式抛出，
// 不允许静默返回半截数据。
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}
