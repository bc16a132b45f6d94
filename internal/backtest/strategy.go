package backtest

import "aurum/internal/market"

// Strategy 是引擎消费的策略能力：逐根喂入 K 线，返回零或多个下单意图。
// 策略可以维护自己的内部历史，但只能通过返回值影响引擎状态。
type Strategy interface {
	OnStart()
	OnCandle(c market.Candle) ([]OrderIntent, error)
	OnEnd()
}

// StrategySpec 描述构造一个策略实例所需的上下文。
type StrategySpec struct {
	Name      string
	Symbol    string
	Timeframe string
	Params    map[string]any
}

// StrategyInfo 供 API 列出可用策略。
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StrategyFactory 按名称实例化策略并校验参数。
type StrategyFactory interface {
	NewStrategy(spec StrategySpec) (Strategy, error)
	ValidateParams(name string, params map[string]any) error
	List() []StrategyInfo
}
