package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述研究使用的周期信息（内部 duration + 各数据源 interval 代码）。
type Timeframe struct {
	Key        string
	Duration   time.Duration
	TwelveData string
	Oanda      string
	Binance    string
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, TwelveData: "1min", Oanda: "M1", Binance: "1m"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, TwelveData: "5min", Oanda: "M5", Binance: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, TwelveData: "15min", Oanda: "M15", Binance: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, TwelveData: "30min", Oanda: "M30", Binance: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, TwelveData: "1h", Oanda: "H1", Binance: "1h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, TwelveData: "4h", Oanda: "H4", Binance: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, TwelveData: "1day", Oanda: "D", Binance: "1d"},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour, TwelveData: "1week", Oanda: "W", Binance: "1w"},
}

// 兼容 MT 风格写法（H1/M15/D 等），统一映射到内部 key。
var timeframeAliases = map[string]string{
	"m1": "1m", "m5": "5m", "m15": "15m", "m30": "30m",
	"h1": "1h", "h4": "4h", "d": "1d", "w": "1w",
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if alias, ok := timeframeAliases[key]; ok {
		key = alias
	}
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Millis 返回周期对应的毫秒数。
func (tf Timeframe) Millis() int64 {
	return tf.Duration.Milliseconds()
}

// AlignDown 将毫秒时间戳向下对齐到周期网格。
func (tf Timeframe) AlignDown(ts int64) int64 {
	step := tf.Millis()
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// ExpectedCandles 计算 start~end（含）区间应存在的 K 线数量。
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := tf.Millis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}
