package marketdata

import "sync/atomic"

// Metrics 记录缓存命中情况，由装配方构造后注入 Resolver。
// 计数全部使用 atomic，读取方只拿 Snapshot。
type Metrics struct {
	hits        atomic.Int64
	misses      atomic.Int64
	partialHits atomic.Int64
	apiCalls    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Hit() {
	if m != nil {
		m.hits.Add(1)
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.misses.Add(1)
	}
}

func (m *Metrics) PartialHit() {
	if m != nil {
		m.partialHits.Add(1)
	}
}

func (m *Metrics) APICall() {
	if m != nil {
		m.apiCalls.Add(1)
	}
}

// MetricsSnapshot 为某一时刻的缓存指标快照。
type MetricsSnapshot struct {
	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	PartialCacheHits  int64   `json:"partial_cache_hits"`
	APICalls          int64   `json:"api_calls"`
	TotalRequests     int64   `json:"total_requests"`
	HitRatePct        float64 `json:"hit_rate_pct"`
	PartialHitRatePct float64 `json:"partial_hit_rate_pct"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	snap := MetricsSnapshot{
		CacheHits:        m.hits.Load(),
		CacheMisses:      m.misses.Load(),
		PartialCacheHits: m.partialHits.Load(),
		APICalls:         m.apiCalls.Load(),
	}
	snap.TotalRequests = snap.CacheHits + snap.CacheMisses + snap.PartialCacheHits
	if snap.TotalRequests > 0 {
		snap.HitRatePct = float64(snap.CacheHits) / float64(snap.TotalRequests) * 100
		snap.PartialHitRatePct = float64(snap.PartialCacheHits) / float64(snap.TotalRequests) * 100
	}
	return snap
}
