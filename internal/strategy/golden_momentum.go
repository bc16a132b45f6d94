package strategy

import (
	"fmt"

	"aurum/internal/backtest"
	"aurum/internal/market"

	talib "github.com/markcheno/go-talib"
)

// goldenMomentumParams 为动量策略的可调参数。
type goldenMomentumParams struct {
	EmaFastPeriod int     `mapstructure:"ema_fast_period"`
	EmaSlowPeriod int     `mapstructure:"ema_slow_period"`
	RSIPeriod     int     `mapstructure:"rsi_period"`
	RSIEntryMin   float64 `mapstructure:"rsi_entry_min"`
	RSIEntryMax   float64 `mapstructure:"rsi_entry_max"`
	ATRPeriod     int     `mapstructure:"atr_period"`
	StopATR       float64 `mapstructure:"stop_atr"`
	TargetATR     float64 `mapstructure:"target_atr"`
	RiskAmount    float64 `mapstructure:"risk_amount"`
}

// goldenMomentum 趋势 + 动量组合：
// EMA 快线在慢线上方时只做多，RSI 自下而上进入入场区间触发；
// 空头为镜像条件。止损按 ATR 倍数放置，仓位按单笔风险额反推。
type goldenMomentum struct {
	params goldenMomentumParams
	highs  []float64
	lows   []float64
	closes []float64
}

func registerGoldenMomentum(r *Registry) error {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ema_fast_period": map[string]any{"type": "integer", "minimum": 2},
			"ema_slow_period": map[string]any{"type": "integer", "minimum": 2},
			"rsi_period":      map[string]any{"type": "integer", "minimum": 2},
			"rsi_entry_min":   map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"rsi_entry_max":   map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			"atr_period":      map[string]any{"type": "integer", "minimum": 1},
			"stop_atr":        map[string]any{"type": "number", "exclusiveMinimum": 0},
			"target_atr":      map[string]any{"type": "number", "exclusiveMinimum": 0},
			"risk_amount":     map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
		"additionalProperties": false,
	}
	return r.Register("golden_momentum", "EMA 趋势过滤 + RSI 动量入场，ATR 定距止损止盈", schema, newGoldenMomentum)
}

func newGoldenMomentum(spec backtest.StrategySpec) (backtest.Strategy, error) {
	params := goldenMomentumParams{
		EmaFastPeriod: 50,
		EmaSlowPeriod: 200,
		RSIPeriod:     14,
		RSIEntryMin:   40,
		RSIEntryMax:   65,
		ATRPeriod:     14,
		StopATR:       2,
		TargetATR:     3,
		RiskAmount:    100,
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return nil, err
	}
	if params.EmaFastPeriod >= params.EmaSlowPeriod {
		return nil, fmt.Errorf("ema_fast_period(%d) 必须小于 ema_slow_period(%d)", params.EmaFastPeriod, params.EmaSlowPeriod)
	}
	if params.RSIEntryMin >= params.RSIEntryMax {
		return nil, fmt.Errorf("rsi_entry_min(%.1f) 必须小于 rsi_entry_max(%.1f)", params.RSIEntryMin, params.RSIEntryMax)
	}
	return &goldenMomentum{params: params}, nil
}

func (s *goldenMomentum) OnStart() {
	s.highs = s.highs[:0]
	s.lows = s.lows[:0]
	s.closes = s.closes[:0]
}

func (s *goldenMomentum) OnEnd() {}

func (s *goldenMomentum) warmup() int {
	warmup := s.params.EmaSlowPeriod
	if s.params.RSIPeriod > warmup {
		warmup = s.params.RSIPeriod
	}
	if s.params.ATRPeriod > warmup {
		warmup = s.params.ATRPeriod
	}
	return warmup + 1
}

func (s *goldenMomentum) OnCandle(c market.Candle) ([]backtest.OrderIntent, error) {
	s.highs = append(s.highs, c.High)
	s.lows = append(s.lows, c.Low)
	s.closes = append(s.closes, c.Close)
	if len(s.closes) < s.warmup() {
		return nil, nil
	}

	emaFast := talib.Ema(s.closes, s.params.EmaFastPeriod)
	emaSlow := talib.Ema(s.closes, s.params.EmaSlowPeriod)
	rsi := talib.Rsi(s.closes, s.params.RSIPeriod)
	atr := talib.Atr(s.highs, s.lows, s.closes, s.params.ATRPeriod)

	last := len(s.closes) - 1
	dist := atr[last]
	if dist <= 0 {
		return nil, nil
	}

	uptrend := emaFast[last] > emaSlow[last]
	downtrend := emaFast[last] < emaSlow[last]

	// 多头：RSI 自下而上进入 [min,max] 区间。
	longEntry := uptrend &&
		rsi[last-1] < s.params.RSIEntryMin &&
		rsi[last] >= s.params.RSIEntryMin && rsi[last] <= s.params.RSIEntryMax
	// 空头镜像：RSI 自上而下跌入 [100-max, 100-min]。
	shortEntry := downtrend &&
		rsi[last-1] > 100-s.params.RSIEntryMin &&
		rsi[last] <= 100-s.params.RSIEntryMin && rsi[last] >= 100-s.params.RSIEntryMax

	volume := s.params.RiskAmount / (s.params.StopATR * dist)
	switch {
	case longEntry:
		return []backtest.OrderIntent{{
			Side:       backtest.SideBuy,
			Volume:     volume,
			StopLoss:   c.Close - s.params.StopATR*dist,
			TakeProfit: c.Close + s.params.TargetATR*dist,
		}}, nil
	case shortEntry:
		return []backtest.OrderIntent{{
			Side:       backtest.SideSell,
			Volume:     volume,
			StopLoss:   c.Close + s.params.StopATR*dist,
			TakeProfit: c.Close - s.params.TargetATR*dist,
		}}, nil
	}
	return nil, nil
}
