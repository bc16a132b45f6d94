package oanda

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"aurum/internal/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		APIKey:    "test-key",
		AccountID: "001-001-1234567-001",
		BaseURL:   srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestConvertInstrument(t *testing.T) {
	assert.Equal(t, "XAU_USD", convertInstrument("XAUUSD"))
	assert.Equal(t, "EUR_USD", convertInstrument("eur/usd"))
	assert.Equal(t, "XAU_USD", convertInstrument("XAU_USD"))
}

func TestPlaceMarketOrder(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"orderCreateTransaction": {"id": "42"},
			"orderFillTransaction": {
				"id": "43",
				"units": "10",
				"price": "2411.50",
				"time": "2024-03-01T10:00:00.000000000Z",
				"tradeOpened": {"tradeID": "44"}
			}
		}`))
	})

	result, err := client.PlaceMarketOrder(context.Background(), broker.OrderRequest{
		Instrument: "XAUUSD",
		Units:      10,
		StopLoss:   2400.5,
		TakeProfit: 2430,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "42", result.OrderID)
	assert.Equal(t, "44", result.TradeID)
	assert.Equal(t, 2411.5, result.FillPrice)
	assert.Equal(t, 10.0, result.Units)

	order := gotBody["order"].(map[string]any)
	assert.Equal(t, "MARKET", order["type"])
	assert.Equal(t, "XAU_USD", order["instrument"])
	assert.Equal(t, "10", order["units"], "数量应为 decimal 字符串")
	sl := order["stopLossOnFill"].(map[string]any)
	assert.Equal(t, "2400.5", sl["price"])
	ext := order["clientExtensions"].(map[string]any)
	assert.Contains(t, ext["id"], "aurum-")
}

func TestPlaceMarketOrderRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderCancelTransaction": {"reason": "INSUFFICIENT_MARGIN"}}`))
	})

	_, err := client.PlaceMarketOrder(context.Background(), broker.OrderRequest{Instrument: "XAUUSD", Units: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSUFFICIENT_MARGIN")
}

func TestCurrentPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "instruments=XAU_USD")
		_, _ = w.Write([]byte(`{"prices": [{
			"time": "2024-03-01T10:00:00.000000000Z",
			"bids": [{"price": "2410.10"}],
			"asks": [{"price": "2410.50"}]
		}]}`))
	})

	quote, err := client.CurrentPrice(context.Background(), "XAUUSD")
	require.NoError(t, err)
	assert.Equal(t, 2410.1, quote.Bid)
	assert.Equal(t, 2410.5, quote.Ask)
	assert.InDelta(t, 2410.3, quote.Mid, 1e-9)
}

func TestAccountSummary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"account": {
			"id": "001-001-1234567-001",
			"currency": "USD",
			"balance": "10250.33",
			"unrealizedPL": "-12.5",
			"marginUsed": "400",
			"openTradeCount": 2
		}}`))
	})

	account, err := client.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USD", account.Currency)
	assert.Equal(t, 10250.33, account.Balance)
	assert.Equal(t, -12.5, account.UnrealizedPnL)
	assert.Equal(t, 2, account.OpenTrades)
}

func TestErrorStatusSurfacesMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorMessage": "Insufficient authorization to perform request."}`))
	})

	_, err := client.Account(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Insufficient authorization")
}
