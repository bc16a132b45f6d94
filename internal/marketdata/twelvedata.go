package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"aurum/internal/logger"
	"aurum/internal/market"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const twelveDataTimeLayout = "2006-01-02 15:04:05"

// TwelveDataConfig 配置 Twelve Data 数据源。
type TwelveDataConfig struct {
	APIKey  string
	BaseURL string
	// Cooldown 为两次请求之间的最小间隔，免费档约 8 req/min，默认 8s。
	Cooldown time.Duration
}

// TwelveDataSource 基于 Twelve Data /time_series。
// 返回行按时间倒序，这里统一反转为升序；所有请求先过限速器再出门，
// 单实例突发容量恒为 1。
type TwelveDataSource struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewTwelveDataSource(cfg TwelveDataConfig) *TwelveDataSource {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.twelvedata.com"
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 8 * time.Second
	}
	return &TwelveDataSource{
		apiKey:  cfg.APIKey,
		baseURL: base,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(cooldown), 1),
	}
}

func (t *TwelveDataSource) Name() string { return "twelvedata" }

// convertSymbol 转为 Twelve Data 的斜杠写法：XAUUSD / XAU_USD -> XAU/USD。
func convertTwelveDataSymbol(symbol string) string {
	if symbol == "XAUUSD" {
		return "XAU/USD"
	}
	if len(symbol) == 6 {
		return symbol[:3] + "/" + symbol[3:]
	}
	out := make([]byte, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '_' {
			out[i] = '/'
		} else {
			out[i] = symbol[i]
		}
	}
	return string(out)
}

func (t *TwelveDataSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}

	start, end := req.Start, req.End
	if end > 0 && start == 0 {
		// 上游按日期区间查询，按根数倒推起点并加 1.5 倍缓冲，
		// 补偿周末/假日等非交易时段，保证拿满 limit 根。
		span := req.Timeframe.Millis() * int64(limit) * 3 / 2
		start = end - span
		logger.Debugf("[twelvedata] 计算 start=%d（向前 %d 根 × 1.5）", start, limit)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/time_series"
	q := u.Query()
	q.Set("symbol", convertTwelveDataSymbol(req.Symbol))
	q.Set("interval", req.Timeframe.TwelveData)
	q.Set("apikey", t.apiKey)
	q.Set("format", "JSON")
	q.Set("outputsize", strconv.Itoa(limit))
	if start > 0 {
		q.Set("start_date", time.UnixMilli(start).UTC().Format(twelveDataTimeLayout))
	}
	if end > 0 {
		q.Set("end_date", time.UnixMilli(end).UTC().Format(twelveDataTimeLayout))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("twelvedata 请求失败: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twelvedata 返回状态码 %d: %s", resp.StatusCode, truncate(body, 200))
	}
	// 错误以 200 + {"status":"error"} 形式内嵌返回。
	if gjson.GetBytes(body, "status").String() == "error" {
		return nil, fmt.Errorf("twelvedata 接口错误: %s", gjson.GetBytes(body, "message").String())
	}

	var payload struct {
		Values []struct {
			Datetime string `json:"datetime"`
			Open     string `json:"open"`
			High     string `json:"high"`
			Low      string `json:"low"`
			Close    string `json:"close"`
			Volume   string `json:"volume"`
		} `json:"values"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("twelvedata 响应解析失败: %w", err)
	}

	out := make([]market.Candle, 0, len(payload.Values))
	for i := len(payload.Values) - 1; i >= 0; i-- {
		row := payload.Values[i]
		ts, err := time.ParseInLocation(twelveDataTimeLayout, row.Datetime, time.UTC)
		if err != nil {
			// 日线粒度只带日期。
			ts, err = time.ParseInLocation("2006-01-02", row.Datetime, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("twelvedata 时间字段非法 %q: %w", row.Datetime, err)
			}
		}
		c := market.Candle{Timestamp: ts.UnixMilli()}
		if c.Open, err = strconv.ParseFloat(row.Open, 64); err != nil {
			return nil, fmt.Errorf("twelvedata open 字段非法 %q: %w", row.Open, err)
		}
		if c.High, err = strconv.ParseFloat(row.High, 64); err != nil {
			return nil, fmt.Errorf("twelvedata high 字段非法 %q: %w", row.High, err)
		}
		if c.Low, err = strconv.ParseFloat(row.Low, 64); err != nil {
			return nil, fmt.Errorf("twelvedata low 字段非法 %q: %w", row.Low, err)
		}
		if c.Close, err = strconv.ParseFloat(row.Close, 64); err != nil {
			return nil, fmt.Errorf("twelvedata close 字段非法 %q: %w", row.Close, err)
		}
		if row.Volume != "" {
			vol, err := strconv.ParseFloat(row.Volume, 64)
			if err != nil {
				return nil, fmt.Errorf("twelvedata volume 字段非法 %q: %w", row.Volume, err)
			}
			c.Volume = int64(vol)
		}
		out = append(out, c)
	}
	logger.Debugf("[twelvedata] %s %s 拉取 %d 根", req.Symbol, req.Timeframe.Key, len(out))
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
