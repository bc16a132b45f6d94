package market

// Candle 表示单根 K 线，时间戳为 Unix 毫秒。
// 同一 (symbol, timeframe, timestamp) 在存储层唯一且写入后不可变。
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}
