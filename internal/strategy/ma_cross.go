package strategy

import (
	"fmt"

	"aurum/internal/backtest"
	"aurum/internal/market"

	talib "github.com/markcheno/go-talib"
	"github.com/mitchellh/mapstructure"
)

// maCrossParams 为均线交叉策略的可调参数。
type maCrossParams struct {
	FastPeriod int     `mapstructure:"fast_period"`
	SlowPeriod int     `mapstructure:"slow_period"`
	Volume     float64 `mapstructure:"volume"`
}

// maCross 双均线交叉：快线上穿慢线做多，下穿做空。
// 引擎层会先平掉反向仓位，因此每次交叉只需给出单个意图。
type maCross struct {
	params maCrossParams
	closes []float64
}

func registerMACross(r *Registry) error {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fast_period": map[string]any{"type": "integer", "minimum": 1},
			"slow_period": map[string]any{"type": "integer", "minimum": 2},
			"volume":      map[string]any{"type": "number", "exclusiveMinimum": 0},
		},
		"additionalProperties": false,
	}
	return r.Register("ma_cross", "双均线交叉，金叉做多死叉做空", schema, newMACross)
}

func newMACross(spec backtest.StrategySpec) (backtest.Strategy, error) {
	params := maCrossParams{
		FastPeriod: 10,
		SlowPeriod: 30,
		Volume:     1,
	}
	if err := decodeParams(spec.Params, &params); err != nil {
		return nil, err
	}
	if params.FastPeriod >= params.SlowPeriod {
		return nil, fmt.Errorf("fast_period(%d) 必须小于 slow_period(%d)", params.FastPeriod, params.SlowPeriod)
	}
	return &maCross{params: params}, nil
}

func (s *maCross) OnStart() {
	s.closes = s.closes[:0]
}

func (s *maCross) OnEnd() {}

func (s *maCross) OnCandle(c market.Candle) ([]backtest.OrderIntent, error) {
	s.closes = append(s.closes, c.Close)
	// 需要比慢线周期多一根才能判断交叉方向。
	if len(s.closes) <= s.params.SlowPeriod {
		return nil, nil
	}
	fast := talib.Sma(s.closes, s.params.FastPeriod)
	slow := talib.Sma(s.closes, s.params.SlowPeriod)
	last := len(s.closes) - 1
	crossedUp := fast[last-1] <= slow[last-1] && fast[last] > slow[last]
	crossedDown := fast[last-1] >= slow[last-1] && fast[last] < slow[last]
	switch {
	case crossedUp:
		return []backtest.OrderIntent{{Side: backtest.SideBuy, Volume: s.params.Volume}}, nil
	case crossedDown:
		return []backtest.OrderIntent{{Side: backtest.SideSell, Volume: s.params.Volume}}, nil
	}
	return nil, nil
}

func decodeParams(src map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if src == nil {
		src = map[string]any{}
	}
	if err := dec.Decode(src); err != nil {
		return fmt.Errorf("策略参数解析失败: %w", err)
	}
	return nil
}
