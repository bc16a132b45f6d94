package strategy

import (
	"testing"

	"aurum/internal/backtest"
	"aurum/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(ts int64, close float64) market.Candle {
	return market.Candle{Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func feed(t *testing.T, strat backtest.Strategy, closes ...float64) [][]backtest.OrderIntent {
	t.Helper()
	strat.OnStart()
	out := make([][]backtest.OrderIntent, 0, len(closes))
	for i, close := range closes {
		intents, err := strat.OnCandle(bar(int64(i+1)*1000, close))
		require.NoError(t, err)
		out = append(out, intents)
	}
	strat.OnEnd()
	return out
}

func TestMACrossSignals(t *testing.T) {
	r := newTestRegistry(t)
	strat, err := r.NewStrategy(backtest.StrategySpec{
		Name:   "ma_cross",
		Params: map[string]any{"fast_period": float64(2), "slow_period": float64(3), "volume": 2.0},
	})
	require.NoError(t, err)

	// 下行后急拉触发金叉，再急跌触发死叉。
	signals := feed(t, strat, 10, 9, 8, 7, 12, 1)

	for i := 0; i < 4; i++ {
		assert.Empty(t, signals[i], "预热与无交叉阶段不应出信号")
	}
	require.Len(t, signals[4], 1)
	assert.Equal(t, backtest.SideBuy, signals[4][0].Side)
	assert.Equal(t, 2.0, signals[4][0].Volume)

	require.Len(t, signals[5], 1)
	assert.Equal(t, backtest.SideSell, signals[5][0].Side)
}

func TestMACrossNoSignalWithoutCross(t *testing.T) {
	r := newTestRegistry(t)
	strat, err := r.NewStrategy(backtest.StrategySpec{
		Name:   "ma_cross",
		Params: map[string]any{"fast_period": float64(2), "slow_period": float64(3)},
	})
	require.NoError(t, err)

	signals := feed(t, strat, 10, 11, 12, 13, 14, 15)
	for _, intents := range signals {
		assert.Empty(t, intents, "持续单边趋势中不应出信号")
	}
}

func TestGoldenMomentumLongEntry(t *testing.T) {
	r := newTestRegistry(t)
	strat, err := r.NewStrategy(backtest.StrategySpec{
		Name: "golden_momentum",
		Params: map[string]any{
			"ema_fast_period": float64(2),
			"ema_slow_period": float64(3),
			"rsi_period":      float64(2),
			"atr_period":      float64(2),
			"rsi_entry_min":   float64(40),
			"rsi_entry_max":   float64(100),
		},
	})
	require.NoError(t, err)

	// 阴跌压低 RSI，随后放量反转：RSI 自下而上进入入场区间。
	signals := feed(t, strat, 100, 99, 98, 97, 103)

	for i := 0; i < 4; i++ {
		assert.Empty(t, signals[i])
	}
	require.Len(t, signals[4], 1)
	intent := signals[4][0]
	assert.Equal(t, backtest.SideBuy, intent.Side)
	assert.Greater(t, intent.Volume, 0.0)
	assert.Less(t, intent.StopLoss, 103.0)
	assert.Greater(t, intent.TakeProfit, 103.0)
	// 止盈距离 = 1.5 倍止损距离（3 ATR vs 2 ATR）。
	assert.InDelta(t, 1.5, (intent.TakeProfit-103)/(103-intent.StopLoss), 1e-9)
}

func TestGoldenMomentumStaysFlatDuringWarmup(t *testing.T) {
	r := newTestRegistry(t)
	strat, err := r.NewStrategy(backtest.StrategySpec{Name: "golden_momentum"})
	require.NoError(t, err)

	signals := feed(t, strat, 100, 101, 102)
	for _, intents := range signals {
		assert.Empty(t, intents, "数据不足默认周期时应保持空仓")
	}
}
