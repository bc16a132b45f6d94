package backtest

import (
	"errors"
	"testing"

	"aurum/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStrategy replays a fixed list of intents, one slice per candle.
type scriptedStrategy struct {
	intents [][]OrderIntent
	errAt   int // 1-based candle index to fail at, 0 = never
	idx     int
	started bool
	ended   bool
}

func (s *scriptedStrategy) OnStart() { s.started = true }
func (s *scriptedStrategy) OnEnd()   { s.ended = true }

func (s *scriptedStrategy) OnCandle(market.Candle) ([]OrderIntent, error) {
	s.idx++
	if s.errAt > 0 && s.idx == s.errAt {
		return nil, errors.New("indicator window not ready")
	}
	if s.idx > len(s.intents) {
		return nil, nil
	}
	return s.intents[s.idx-1], nil
}

func flatCandle(ts int64, close float64) market.Candle {
	return market.Candle{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestEngineMaxDrawdown(t *testing.T) {
	// 1 unit long from the first close; equity marks run 10000,
	// 11000, 9000, 9500 so the peak-to-trough drawdown is 2000/11000.
	candles := []market.Candle{
		flatCandle(1000, 2000),
		flatCandle(2000, 3000),
		flatCandle(3000, 1000),
		flatCandle(4000, 1500),
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideBuy, Volume: 1}},
	}}

	res, err := NewEngine(0).Run(candles, strat)
	require.NoError(t, err)
	assert.True(t, strat.started)
	assert.True(t, strat.ended)

	require.Len(t, res.EquityCurve, 4)
	assert.Equal(t, 10000.0, res.EquityCurve[0].Equity)
	assert.Equal(t, 11000.0, res.EquityCurve[1].Equity)
	assert.Equal(t, 9000.0, res.EquityCurve[2].Equity)
	assert.InDelta(t, 18.18, res.MaxDrawdownPct, 0.01)
}

func TestEngineWinRateCountsOnlyProfitableTrades(t *testing.T) {
	// Three closed trades with pnl +50, -20 and 0: win rate 1/3.
	candles := []market.Candle{
		flatCandle(1000, 100),
		flatCandle(2000, 150),
		flatCandle(3000, 170),
		flatCandle(4000, 170),
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideBuy, Volume: 1}},
		{{Side: SideSell, Volume: 1}},
		{{Side: SideBuy, Volume: 1}},
	}}

	res, err := NewEngine(10000).Run(candles, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, 50.0, res.Trades[0].PnL)
	assert.Equal(t, -20.0, res.Trades[1].PnL)
	assert.Equal(t, 0.0, res.Trades[2].PnL)
	assert.InDelta(t, 1.0/3.0, res.WinRate, 1e-9)
	assert.InDelta(t, 0.3, res.TotalReturnPct, 1e-9)
}

func TestEngineStopLossExitBeforeSameBarSignal(t *testing.T) {
	candles := []market.Candle{
		flatCandle(1000, 100),
		{Timestamp: 2000, Open: 100, High: 101, Low: 85, Close: 95, Volume: 1},
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideBuy, Volume: 1, StopLoss: 90}},
		{{Side: SideBuy, Volume: 2, StopLoss: 80}},
	}}

	res, err := NewEngine(10000).Run(candles, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	// 止损单先于当根信号成交，成交价就是止损价。
	stopped := res.Trades[0]
	assert.Equal(t, 90.0, stopped.ExitPrice)
	assert.Equal(t, int64(2000), stopped.ExitTime)
	assert.Equal(t, -10.0, stopped.PnL)

	// 同根的新信号随后在收盘价重新进场，收尾强平。
	reentry := res.Trades[1]
	assert.Equal(t, 95.0, reentry.EntryPrice)
	assert.Equal(t, 2.0, reentry.Volume)
}

func TestEngineStopLossWinsOverTakeProfit(t *testing.T) {
	// 同一根 K 线同时扫到止损与止盈时按止损出场。
	candles := []market.Candle{
		flatCandle(1000, 100),
		{Timestamp: 2000, Open: 100, High: 120, Low: 80, Close: 100, Volume: 1},
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideBuy, Volume: 1, StopLoss: 90, TakeProfit: 110}},
	}}

	res, err := NewEngine(10000).Run(candles, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 90.0, res.Trades[0].ExitPrice)
}

func TestEngineShortTakeProfit(t *testing.T) {
	candles := []market.Candle{
		flatCandle(1000, 100),
		{Timestamp: 2000, Open: 100, High: 102, Low: 88, Close: 95, Volume: 1},
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideSell, Volume: 2, StopLoss: 105, TakeProfit: 90}},
	}}

	res, err := NewEngine(10000).Run(candles, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, SideSell, res.Trades[0].Side)
	assert.Equal(t, 90.0, res.Trades[0].ExitPrice)
	assert.Equal(t, 20.0, res.Trades[0].PnL)
}

func TestEngineForcedCloseAtEnd(t *testing.T) {
	candles := []market.Candle{
		flatCandle(1000, 100),
		flatCandle(2000, 110),
		flatCandle(3000, 120),
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideBuy, Volume: 1}},
	}}

	res, err := NewEngine(10000).Run(candles, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, int64(1000), tr.EntryTime, "强平保留真实进场时间")
	assert.Equal(t, int64(3000), tr.ExitTime)
	assert.Equal(t, 120.0, tr.ExitPrice)
	assert.Equal(t, 20.0, tr.PnL)
}

func TestEngineBuyWhileLongAddsVolume(t *testing.T) {
	candles := []market.Candle{
		flatCandle(1000, 100),
		flatCandle(2000, 110),
		flatCandle(3000, 130),
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideBuy, Volume: 1}},
		{{Side: SideBuy, Volume: 1}},
	}}

	res, err := NewEngine(10000).Run(candles, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	// 加仓后进场价重标为最近一次成交价，数量累加。
	assert.Equal(t, 2.0, res.Trades[0].Volume)
	assert.Equal(t, 110.0, res.Trades[0].EntryPrice)
	assert.Equal(t, 40.0, res.Trades[0].PnL)
}

func TestEngineSkipsInvalidIntents(t *testing.T) {
	candles := []market.Candle{
		flatCandle(1000, 100),
		flatCandle(2000, 110),
	}
	strat := &scriptedStrategy{intents: [][]OrderIntent{
		{{Side: SideBuy, Volume: 0}, {Side: "hold", Volume: 1}, {Side: SideSell, Volume: -2}},
	}}

	res, err := NewEngine(10000).Run(candles, strat)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 0.0, res.TotalReturnPct)
}

func TestEngineStrategyErrorAborts(t *testing.T) {
	candles := []market.Candle{
		flatCandle(1000, 100),
		flatCandle(2000, 110),
	}
	strat := &scriptedStrategy{errAt: 2}

	_, err := NewEngine(10000).Run(candles, strat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indicator window not ready")
}

func TestEngineEmptyInput(t *testing.T) {
	strat := &scriptedStrategy{}
	res, err := NewEngine(10000).Run(nil, strat)
	require.NoError(t, err)
	assert.Empty(t, res.EquityCurve)
	assert.False(t, strat.started, "无数据时不应启动策略")
}
