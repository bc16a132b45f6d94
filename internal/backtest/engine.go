package backtest

import (
	"fmt"

	"aurum/internal/logger"
	"aurum/internal/market"
)

// DefaultInitialBalance 为模拟账户的初始资金。
const DefaultInitialBalance = 10000.0

// Engine 将有序 K 线序列 + 策略推演为成交与资金曲线。
// 每根 K 线的处理顺序固定，不可调整：
//  1. 先用盘中高低价检查止损/止盈（止损先于止盈，一根最多触发一次），
//     成交价为止损/止盈价本身；
//  2. 以收盘价盯市，记录一个资金点；
//  3. 再调用策略，意图按返回顺序以收盘价成交（无滑点、无部分成交）。
//
// 止损/止盈先于当根信号执行，保证风控出场不会被同根新信号吞掉，
// 回测与实盘的次序必须一致。
type Engine struct {
	initialBalance float64
}

func NewEngine(initialBalance float64) *Engine {
	if initialBalance <= 0 {
		initialBalance = DefaultInitialBalance
	}
	return &Engine{initialBalance: initialBalance}
}

// replayState 为单次回放的持仓状态。position 为带符号的数量：
// 正为多、负为空、0 为平。
type replayState struct {
	balance    float64
	position   float64
	entryPrice float64
	entryTime  int64
	stopLoss   float64
	takeProfit float64
}

func (s *replayState) unrealized(price float64) float64 {
	if s.position > 0 {
		return (price - s.entryPrice) * s.position
	}
	if s.position < 0 {
		return (s.entryPrice - price) * (-s.position)
	}
	return 0
}

// closePosition 以 price 平掉当前仓位，返回生成的 Trade。
func (s *replayState) closePosition(price float64, exitTime int64) Trade {
	pnl := s.unrealized(price)
	s.balance += pnl
	side := SideBuy
	volume := s.position
	if s.position < 0 {
		side = SideSell
		volume = -s.position
	}
	trade := Trade{
		EntryTime:  s.entryTime,
		ExitTime:   exitTime,
		Side:       side,
		EntryPrice: s.entryPrice,
		ExitPrice:  price,
		Volume:     volume,
		PnL:        pnl,
		Status:     "closed",
	}
	s.position = 0
	s.entryPrice = 0
	s.entryTime = 0
	s.stopLoss = 0
	s.takeProfit = 0
	return trade
}

// Run 单线程回放全部 K 线。策略内部抛错即中止；
// 非法意图（未知方向、非正数量）逐条跳过，不影响整体回放。
func (e *Engine) Run(candles []market.Candle, strategy Strategy) (Result, error) {
	if len(candles) == 0 {
		return Result{}, nil
	}
	strategy.OnStart()

	state := &replayState{balance: e.initialBalance}
	trades := make([]Trade, 0, 16)
	curve := make([]EquityPoint, 0, len(candles))

	for _, candle := range candles {
		// 1. 盘中风控出场。
		if state.position != 0 {
			exitPrice := 0.0
			if state.position > 0 {
				if state.stopLoss > 0 && candle.Low <= state.stopLoss {
					exitPrice = state.stopLoss
				} else if state.takeProfit > 0 && candle.High >= state.takeProfit {
					exitPrice = state.takeProfit
				}
			} else {
				if state.stopLoss > 0 && candle.High >= state.stopLoss {
					exitPrice = state.stopLoss
				} else if state.takeProfit > 0 && candle.Low <= state.takeProfit {
					exitPrice = state.takeProfit
				}
			}
			if exitPrice > 0 {
				trades = append(trades, state.closePosition(exitPrice, candle.Timestamp))
			}
		}

		// 2. 收盘价盯市。
		curve = append(curve, EquityPoint{
			Time:   candle.Timestamp,
			Equity: state.balance + state.unrealized(candle.Close),
		})

		// 3. 策略信号。
		intents, err := strategy.OnCandle(candle)
		if err != nil {
			return Result{}, fmt.Errorf("策略执行失败: %w", err)
		}
		fillPrice := candle.Close
		for _, intent := range intents {
			if intent.Volume <= 0 {
				logger.Debugf("[backtest] 跳过非法意图: volume=%v", intent.Volume)
				continue
			}
			switch intent.Side {
			case SideBuy:
				if state.position < 0 {
					trades = append(trades, state.closePosition(fillPrice, candle.Timestamp))
				}
				state.position += intent.Volume
				state.entryPrice = fillPrice
				state.entryTime = candle.Timestamp
				state.stopLoss = intent.StopLoss
				state.takeProfit = intent.TakeProfit
			case SideSell:
				if state.position > 0 {
					trades = append(trades, state.closePosition(fillPrice, candle.Timestamp))
				}
				state.position -= intent.Volume
				state.entryPrice = fillPrice
				state.entryTime = candle.Timestamp
				state.stopLoss = intent.StopLoss
				state.takeProfit = intent.TakeProfit
			default:
				logger.Debugf("[backtest] 跳过未知方向意图: %q", intent.Side)
			}
		}
	}

	strategy.OnEnd()

	// 收尾：仍有持仓则按最后一根收盘价强平。
	if state.position != 0 {
		last := candles[len(candles)-1]
		trades = append(trades, state.closePosition(last.Close, last.Timestamp))
	}

	return Result{
		TotalReturnPct: (state.balance - e.initialBalance) / e.initialBalance * 100,
		MaxDrawdownPct: maxDrawdownPct(curve),
		WinRate:        winRate(trades),
		Trades:         trades,
		EquityCurve:    curve,
	}, nil
}

// winRate 统计盈利成交占比；pnl 为 0 不算赢。
func winRate(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// maxDrawdownPct 按运行峰值计算最大回撤（百分比）。
func maxDrawdownPct(curve []EquityPoint) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}
