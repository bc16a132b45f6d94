// Package broker 定义实盘下单通道的统一抽象，
// 让机器人层无需关心具体券商后端。
package broker

import (
	"context"
	"time"
)

// OrderRequest 描述一笔市价单。Units 为带符号数量：正为多、负为空。
// StopLoss / TakeProfit 为 0 表示不挂对应的保护单。
type OrderRequest struct {
	Instrument string
	Units      float64
	StopLoss   float64
	TakeProfit float64
}

// OrderResult 为券商回执。
type OrderResult struct {
	OrderID    string
	TradeID    string
	Instrument string
	Units      float64
	FillPrice  float64
	ExecutedAt time.Time
}

// PriceQuote 为最新买卖报价。
type PriceQuote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Mid        float64
	Time       time.Time
}

// AccountSummary 为账户资金概览。
type AccountSummary struct {
	ID            string
	Currency      string
	Balance       float64
	UnrealizedPnL float64
	MarginUsed    float64
	OpenTrades    int
}

// Broker 是交易通道的能力集合。
type Broker interface {
	Name() string
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CurrentPrice(ctx context.Context, instrument string) (PriceQuote, error)
	Account(ctx context.Context) (AccountSummary, error)
}
