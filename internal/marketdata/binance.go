package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"aurum/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const binanceMaxLimit = 1500

// BinanceConfig 配置 Binance USDT 合约数据源。
type BinanceConfig struct {
	BaseURL string
}

// BinanceSource 基于 go-binance SDK 的 USDT 合约 K 线，
// 用于加密货币 symbol 的研究场景。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	svc := b.client.NewKlinesService().
		Symbol(strings.ToUpper(req.Symbol)).
		Interval(req.Timeframe.Binance).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance 拉取失败: %w", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		c := market.Candle{Timestamp: k.OpenTime}
		if c.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
			return nil, fmt.Errorf("binance open 字段非法 %q: %w", k.Open, err)
		}
		if c.High, err = strconv.ParseFloat(k.High, 64); err != nil {
			return nil, fmt.Errorf("binance high 字段非法 %q: %w", k.High, err)
		}
		if c.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
			return nil, fmt.Errorf("binance low 字段非法 %q: %w", k.Low, err)
		}
		if c.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
			return nil, fmt.Errorf("binance close 字段非法 %q: %w", k.Close, err)
		}
		if vol, err := strconv.ParseFloat(k.Volume, 64); err == nil {
			c.Volume = int64(vol)
		}
		out = append(out, c)
	}
	return out, nil
}
