// Package bot 驱动实盘机器人：按 K 线收盘对齐轮询行情，
// 把新收盘的 K 线喂给策略，并将意图交给下单通道执行。
package bot

import (
	"context"
	"fmt"
	"time"

	"aurum/internal/backtest"
	"aurum/internal/broker"
	"aurum/internal/logger"
	"aurum/internal/market"
	"aurum/internal/scheduler"
)

const defaultPollOffset = 5 * time.Second

// Runner 为单个机器人实例，独占一个策略状态机。
type Runner struct {
	spec       BotSpec
	tf         market.Timeframe
	pollOffset time.Duration
	strategy   backtest.Strategy
	resolver   backtest.CandleResolver
	broker     broker.Broker

	tradingEnabled bool
	lookback       int
	lastTS         int64
}

func newRunner(spec BotSpec, deps Deps) (*Runner, error) {
	tf, err := market.ParseTimeframe(spec.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("机器人 %s: %w", spec.ID, err)
	}
	strat, err := deps.Factory.NewStrategy(backtest.StrategySpec{
		Name:      spec.Strategy,
		Symbol:    spec.Symbol,
		Timeframe: spec.Timeframe,
		Params:    spec.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("机器人 %s: %w", spec.ID, err)
	}
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = 300
	}
	pollOffset := defaultPollOffset
	if spec.PollOffset != "" {
		parsed, err := time.ParseDuration(spec.PollOffset)
		if err != nil {
			return nil, fmt.Errorf("机器人 %s 的 poll_offset 不合法: %w", spec.ID, err)
		}
		pollOffset = parsed
	}
	return &Runner{
		spec:           spec,
		tf:             tf,
		pollOffset:     pollOffset,
		strategy:       strat,
		resolver:       deps.Resolver,
		broker:         deps.Broker,
		tradingEnabled: deps.TradingEnabled,
		lookback:       lookback,
	}, nil
}

// Run 阻塞运行直到 ctx 取消。
func (r *Runner) Run(ctx context.Context) {
	r.strategy.OnStart()
	defer r.strategy.OnEnd()

	sched := scheduler.NewAlignedScheduler(ctx, r.tf.Duration, r.pollOffset)
	sched.RunImmediately = true
	sched.Start(func() { r.step(ctx) })
}

// step 执行一轮：拉最新数据，只消费尚未见过的已收盘 K 线。
func (r *Runner) step(ctx context.Context) {
	candles, err := r.resolver.Resolve(ctx, r.spec.Symbol, r.spec.Timeframe, 0, 0, r.lookback)
	if err != nil {
		logger.Errorf("[bot:%s] 拉取行情失败: %v", r.spec.ID, err)
		return
	}
	candles = scheduler.DropUnclosedCandle(candles, r.tf.Duration)

	for _, candle := range candles {
		if candle.Timestamp <= r.lastTS {
			continue
		}
		intents, err := r.strategy.OnCandle(candle)
		if err != nil {
			logger.Errorf("[bot:%s] 策略执行失败: %v", r.spec.ID, err)
			return
		}
		r.lastTS = candle.Timestamp
		for _, intent := range intents {
			r.execute(ctx, intent, candle.Close)
		}
	}
}

func (r *Runner) execute(ctx context.Context, intent backtest.OrderIntent, refPrice float64) {
	if intent.Volume <= 0 {
		logger.Warnf("[bot:%s] 跳过非法意图: volume=%v", r.spec.ID, intent.Volume)
		return
	}
	units := intent.Volume
	switch intent.Side {
	case backtest.SideSell:
		units = -units
	case backtest.SideBuy:
	default:
		logger.Warnf("[bot:%s] 跳过未知方向意图: %q", r.spec.ID, intent.Side)
		return
	}

	if !r.tradingEnabled || r.broker == nil {
		logger.Infof("[bot:%s] 空跑模式，忽略信号 %s %.4f @%.2f sl=%.2f tp=%.2f",
			r.spec.ID, intent.Side, intent.Volume, refPrice, intent.StopLoss, intent.TakeProfit)
		return
	}

	result, err := r.broker.PlaceMarketOrder(ctx, broker.OrderRequest{
		Instrument: r.spec.Symbol,
		Units:      units,
		StopLoss:   intent.StopLoss,
		TakeProfit: intent.TakeProfit,
	})
	if err != nil {
		logger.Errorf("[bot:%s] 下单失败 %s %.4f: %v", r.spec.ID, intent.Side, intent.Volume, err)
		return
	}
	logger.Infof("[bot:%s] 已成交 %s %.4f @%.5f order=%s trade=%s",
		r.spec.ID, intent.Side, intent.Volume, result.FillPrice, result.OrderID, result.TradeID)
}
