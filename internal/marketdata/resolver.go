package marketdata

import (
	"context"
	"fmt"
	"sync"

	"aurum/internal/logger"
	"aurum/internal/market"
)

// coverageGap 表示请求区间内尚未确认存在的子区间。
// Start 为 0 表示早于一切已知数据向前延伸，End 为 0 表示延伸到当前。
type coverageGap struct {
	Start int64
	End   int64
}

// ResolverConfig 配置 Resolver。
type ResolverConfig struct {
	Store   *Store
	Source  Source
	Metrics *Metrics

	// GapFactor 控制内部缺口判定阈值：相邻两根 K 线间隔超过
	// GapFactor × 周期 才视为需要回补的缺口（周末/假日留在阈值之下）。
	// 默认 3。
	GapFactor int
	// DefaultLimit 为未显式给出 limit 时的目标根数，默认 500。
	DefaultLimit int
}

// Resolver 负责把任意请求区间对账为「已缓存 + 需拉取」两部分：
// 只向上游请求缺失子区间，落库后重读返回有序去重的完整序列。
// 同一实例的拉取-写入阶段由单把互斥锁串行，避免并发请求重复打上游。
type Resolver struct {
	store        *Store
	source       Source
	metrics      *Metrics
	gapFactor    int64
	defaultLimit int

	fetchMu sync.Mutex
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("source 不能为空")
	}
	gapFactor := cfg.GapFactor
	if gapFactor <= 0 {
		gapFactor = 3
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 500
	}
	return &Resolver{
		store:        cfg.Store,
		source:       cfg.Source,
		metrics:      cfg.Metrics,
		gapFactor:    int64(gapFactor),
		defaultLimit: defaultLimit,
	}, nil
}

// SourceName 返回底层数据源名称。
func (r *Resolver) SourceName() string {
	return r.source.Name()
}

// Resolve 返回 [start,end]（毫秒，两端含；0 表示该侧不限）内有序去重的
// K 线序列。已缓存部分直接复用，缺口经限速后向上游拉取并以冲突跳过方式
// 落库。部分缺口拉取失败时仍返回重读结果，仅当最终一根都拿不到时报错。
func (r *Resolver) Resolve(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}

	cached, err := r.store.RangeCandles(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return nil, err
	}
	gaps := r.coverageGaps(cached, tf, start, end, limit)
	switch {
	case len(cached) == 0:
		r.metrics.Miss()
	case len(gaps) > 0:
		r.metrics.PartialHit()
	default:
		r.metrics.Hit()
	}

	var fetchErr error
	if len(gaps) > 0 {
		fetchErr = r.fillGaps(ctx, symbol, tf, start, end, limit)
	}

	final, err := r.store.RangeCandles(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return nil, err
	}
	if start == 0 && end == 0 && len(final) > limit {
		final = final[len(final)-limit:]
	}
	if len(final) == 0 && fetchErr != nil {
		return nil, fetchErr
	}
	return final, nil
}

// fillGaps 在互斥锁内重新对账并逐缺口拉取。锁后重算保证并发的相同请求
// 只打一次上游：后到者拿锁时缺口已被前者补齐，直接空转返回。
func (r *Resolver) fillGaps(ctx context.Context, symbol string, tf market.Timeframe, start, end int64, limit int) error {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	cached, err := r.store.RangeCandles(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return err
	}
	gaps := r.coverageGaps(cached, tf, start, end, limit)
	if len(gaps) == 0 {
		return nil
	}

	var firstErr error
	for _, gap := range gaps {
		r.metrics.APICall()
		candles, err := r.source.Fetch(ctx, FetchRequest{
			Symbol:    symbol,
			Timeframe: tf,
			Start:     gap.Start,
			End:       gap.End,
			Limit:     limit,
		})
		if err != nil {
			logger.Warnf("[marketdata] %s %s 缺口 [%d,%d] 拉取失败: %v", symbol, tf.Key, gap.Start, gap.End, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		inserted, err := r.store.InsertCandles(ctx, symbol, tf.Key, candles)
		if err != nil {
			return err
		}
		logger.Debugf("[marketdata] %s %s 缺口 [%d,%d] 拉取 %d 根，新增 %d", symbol, tf.Key, gap.Start, gap.End, len(candles), inserted)
	}
	return firstErr
}

// coverageGaps 对比缓存覆盖与请求区间，输出需要拉取的最小缺口集合。
// 首尾缺口刻意与缓存边界重叠一根，由幂等写入吸收。
func (r *Resolver) coverageGaps(cached []market.Candle, tf market.Timeframe, start, end int64, limit int) []coverageGap {
	if len(cached) == 0 {
		return []coverageGap{{Start: start, End: end}}
	}
	var gaps []coverageGap
	first := cached[0].Timestamp
	last := cached[len(cached)-1].Timestamp

	if start > 0 && first > start {
		gaps = append(gaps, coverageGap{Start: start, End: first})
	}
	if len(cached) > 1 && (start > 0 || end > 0) {
		maxDelta := r.gapFactor * tf.Millis()
		for i := 0; i < len(cached)-1; i++ {
			if cached[i+1].Timestamp-cached[i].Timestamp > maxDelta {
				gaps = append(gaps, coverageGap{Start: cached[i].Timestamp, End: cached[i+1].Timestamp})
			}
		}
	}
	if end > 0 && last < end {
		gaps = append(gaps, coverageGap{Start: last, End: end})
	}
	if start == 0 && end == 0 && len(cached) < limit {
		gaps = append(gaps, coverageGap{Start: last, End: 0})
	}
	return gaps
}
