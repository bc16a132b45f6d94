package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aurum/internal/market"
)

// OandaConfig 配置 OANDA 数据源。
type OandaConfig struct {
	Token       string
	Environment string // practice / live
	BaseURL     string
}

// OandaSource 把 OANDA instruments/candles 端点适配为 Source，
// 取 mid 价，未收盘的 K 线直接丢弃。
type OandaSource struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewOandaSource(cfg OandaConfig) *OandaSource {
	base := cfg.BaseURL
	if base == "" {
		if strings.EqualFold(cfg.Environment, "live") {
			base = "https://api-fxtrade.oanda.com"
		} else {
			base = "https://api-fxpractice.oanda.com"
		}
	}
	return &OandaSource{
		token:   cfg.Token,
		baseURL: base,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OandaSource) Name() string { return "oanda" }

// convertOandaSymbol 转为下划线写法：XAUUSD -> XAU_USD。
func convertOandaSymbol(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	if len(symbol) == 6 {
		return symbol[:3] + "_" + symbol[3:]
	}
	return symbol
}

func (o *OandaSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	instrument := convertOandaSymbol(req.Symbol)
	u, err := url.Parse(o.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/v3/instruments/" + instrument + "/candles"
	q := u.Query()
	q.Set("granularity", req.Timeframe.Oanda)
	q.Set("price", "M")
	if req.Start > 0 {
		q.Set("from", time.UnixMilli(req.Start).UTC().Format(time.RFC3339))
	}
	switch {
	case req.End > 0 && req.Start > 0:
		q.Set("to", time.UnixMilli(req.End).UTC().Format(time.RFC3339))
	case req.Limit > 0:
		// OANDA 的 count 与 to 互斥，给了 count 就不带 to。
		q.Set("count", strconv.Itoa(req.Limit))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.token)
	httpReq.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oanda 请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oanda 返回状态码 %d", resp.StatusCode)
	}

	var payload struct {
		Candles []struct {
			Time     string `json:"time"`
			Complete bool   `json:"complete"`
			Volume   int64  `json:"volume"`
			Mid      struct {
				O string `json:"o"`
				H string `json:"h"`
				L string `json:"l"`
				C string `json:"c"`
			} `json:"mid"`
		} `json:"candles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("oanda 响应解析失败: %w", err)
	}

	out := make([]market.Candle, 0, len(payload.Candles))
	for _, row := range payload.Candles {
		if !row.Complete {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row.Time)
		if err != nil {
			return nil, fmt.Errorf("oanda 时间字段非法 %q: %w", row.Time, err)
		}
		c := market.Candle{Timestamp: ts.UnixMilli(), Volume: row.Volume}
		if c.Open, err = strconv.ParseFloat(row.Mid.O, 64); err != nil {
			return nil, fmt.Errorf("oanda open 字段非法 %q: %w", row.Mid.O, err)
		}
		if c.High, err = strconv.ParseFloat(row.Mid.H, 64); err != nil {
			return nil, fmt.Errorf("oanda high 字段非法 %q: %w", row.Mid.H, err)
		}
		if c.Low, err = strconv.ParseFloat(row.Mid.L, 64); err != nil {
			return nil, fmt.Errorf("oanda low 字段非法 %q: %w", row.Mid.L, err)
		}
		if c.Close, err = strconv.ParseFloat(row.Mid.C, 64); err != nil {
			return nil, fmt.Errorf("oanda close 字段非法 %q: %w", row.Mid.C, err)
		}
		out = append(out, c)
	}
	return out, nil
}
