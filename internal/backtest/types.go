package backtest

// 订单意图的方向。
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// OrderIntent 为策略在一根 K 线上给出的下单意图。
// StopLoss / TakeProfit 为 0 表示未设置。
type OrderIntent struct {
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// Trade 记录一次完整持仓的盈亏，平仓时一次性生成，之后不再修改。
type Trade struct {
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Volume     float64 `json:"volume"`
	PnL        float64 `json:"pnl"`
	Status     string  `json:"status"`
}

// EquityPoint 为资金曲线上的一个采样点，每根 K 线产出一个。
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

// Result 为一次回放的汇总结果，运行结束时计算一次。
type Result struct {
	TotalReturnPct float64       `json:"total_return_pct"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	WinRate        float64       `json:"win_rate"`
	Trades         []Trade       `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
}
