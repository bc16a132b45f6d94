// Package oanda 实现 OANDA v20 REST 的 broker.Broker。
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aurum/internal/broker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const defaultBaseURL = "https://api-fxpractice.oanda.com"

// Config 配置 OANDA 连接。BaseURL 为空时走模拟盘。
type Config struct {
	APIKey    string
	AccountID string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	apiKey    string
	accountID string
	baseURL   string
	client    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("oanda api key 不能为空")
	}
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, fmt.Errorf("oanda account id 不能为空")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:    cfg.APIKey,
		accountID: cfg.AccountID,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string { return "oanda" }

// convertInstrument 将 XAUUSD 形式转换为 OANDA 的 XAU_USD。
func convertInstrument(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "_") {
		return symbol
	}
	if strings.Contains(symbol, "/") {
		return strings.ReplaceAll(symbol, "/", "_")
	}
	if len(symbol) == 6 {
		return symbol[:3] + "_" + symbol[3:]
	}
	return symbol
}

// PlaceMarketOrder 下市价单，SL/TP 作为 on-fill 挂单一并提交。
// 数量与价格统一用 decimal 序列化，避免浮点尾数污染请求体。
func (c *Client) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	if req.Units == 0 {
		return nil, fmt.Errorf("units 不能为 0")
	}
	instrument := convertInstrument(req.Instrument)
	order := map[string]any{
		"type":         "MARKET",
		"instrument":   instrument,
		"units":        decimal.NewFromFloat(req.Units).String(),
		"timeInForce":  "FOK",
		"positionFill": "DEFAULT",
		"clientExtensions": map[string]any{
			"id": "aurum-" + uuid.NewString(),
		},
	}
	if req.StopLoss > 0 {
		order["stopLossOnFill"] = map[string]any{
			"price": decimal.NewFromFloat(req.StopLoss).Round(5).String(),
		}
	}
	if req.TakeProfit > 0 {
		order["takeProfitOnFill"] = map[string]any{
			"price": decimal.NewFromFloat(req.TakeProfit).Round(5).String(),
		}
	}
	payload, err := json.Marshal(map[string]any{"order": order})
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v3/accounts/%s/orders", c.accountID), payload)
	if err != nil {
		return nil, err
	}

	fill := gjson.GetBytes(body, "orderFillTransaction")
	if !fill.Exists() {
		reason := gjson.GetBytes(body, "orderCancelTransaction.reason").String()
		if reason == "" {
			reason = "订单未成交"
		}
		return nil, fmt.Errorf("oanda 市价单被拒绝: %s", reason)
	}
	result := &broker.OrderResult{
		OrderID:    gjson.GetBytes(body, "orderCreateTransaction.id").String(),
		TradeID:    fill.Get("tradeOpened.tradeID").String(),
		Instrument: instrument,
		Units:      fill.Get("units").Float(),
		FillPrice:  fill.Get("price").Float(),
	}
	if ts := fill.Get("time").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			result.ExecutedAt = parsed
		}
	}
	return result, nil
}

// CurrentPrice 读取最新买卖报价并给出中间价。
func (c *Client) CurrentPrice(ctx context.Context, instrument string) (broker.PriceQuote, error) {
	inst := convertInstrument(instrument)
	path := fmt.Sprintf("/v3/accounts/%s/pricing?instruments=%s", c.accountID, inst)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return broker.PriceQuote{}, err
	}
	price := gjson.GetBytes(body, "prices.0")
	if !price.Exists() {
		return broker.PriceQuote{}, fmt.Errorf("oanda 未返回 %s 的报价", inst)
	}
	bid := price.Get("bids.0.price").Float()
	ask := price.Get("asks.0.price").Float()
	quote := broker.PriceQuote{
		Instrument: inst,
		Bid:        bid,
		Ask:        ask,
		Mid:        (bid + ask) / 2,
	}
	if ts := price.Get("time").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			quote.Time = parsed
		}
	}
	return quote, nil
}

// Account 读取账户资金概览。
func (c *Client) Account(ctx context.Context) (broker.AccountSummary, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v3/accounts/%s/summary", c.accountID), nil)
	if err != nil {
		return broker.AccountSummary{}, err
	}
	account := gjson.GetBytes(body, "account")
	if !account.Exists() {
		return broker.AccountSummary{}, fmt.Errorf("oanda 账户摘要为空")
	}
	return broker.AccountSummary{
		ID:            account.Get("id").String(),
		Currency:      account.Get("currency").String(),
		Balance:       account.Get("balance").Float(),
		UnrealizedPnL: account.Get("unrealizedPL").Float(),
		MarginUsed:    account.Get("marginUsed").Float(),
		OpenTrades:    int(account.Get("openTradeCount").Int()),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oanda 请求失败: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "errorMessage").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("oanda 返回状态码 %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
