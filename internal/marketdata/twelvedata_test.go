package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTwelveDataServer(t *testing.T, handler http.HandlerFunc) *TwelveDataSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTwelveDataSource(TwelveDataConfig{
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Cooldown: time.Millisecond,
	})
}

func TestTwelveDataFetchReversesToAscending(t *testing.T) {
	var gotQuery map[string]string
	src := newTwelveDataServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"symbol":   r.URL.Query().Get("symbol"),
			"interval": r.URL.Query().Get("interval"),
		}
		// 上游按时间倒序返回。
		_, _ = w.Write([]byte(`{"values":[
			{"datetime":"2024-03-01 11:00:00","open":"1902","high":"1912","low":"1898","close":"1908","volume":"120"},
			{"datetime":"2024-03-01 10:00:00","open":"1900","high":"1910","low":"1895","close":"1902","volume":"100"}
		]}`))
	})

	tf := mustTF(t, "1h")
	got, err := src.Fetch(context.Background(), FetchRequest{Symbol: "XAUUSD", Timeframe: tf, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Less(t, got[0].Timestamp, got[1].Timestamp)
	assert.Equal(t, 1902.0, got[1].Open)
	assert.Equal(t, int64(120), got[1].Volume)
	assert.Equal(t, "XAU/USD", gotQuery["symbol"])
	assert.Equal(t, "1h", gotQuery["interval"])
}

func TestTwelveDataSyntheticStart(t *testing.T) {
	var startDate, endDate string
	src := newTwelveDataServer(t, func(w http.ResponseWriter, r *http.Request) {
		startDate = r.URL.Query().Get("start_date")
		endDate = r.URL.Query().Get("end_date")
		_, _ = w.Write([]byte(`{"values":[]}`))
	})

	tf := mustTF(t, "1h")
	end := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := src.Fetch(context.Background(), FetchRequest{
		Symbol:    "XAUUSD",
		Timeframe: tf,
		End:       end.UnixMilli(),
		Limit:     100,
	})
	require.NoError(t, err)
	assert.Equal(t, end.Format(twelveDataTimeLayout), endDate)
	// 只有终点时按 interval × count × 1.5 倒推起点。
	wantStart := end.Add(-time.Duration(100) * time.Hour * 3 / 2)
	assert.Equal(t, wantStart.Format(twelveDataTimeLayout), startDate)
}

func TestTwelveDataErrorPayload(t *testing.T) {
	src := newTwelveDataServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","code":429,"message":"API credits exceeded"}`))
	})

	tf := mustTF(t, "1h")
	_, err := src.Fetch(context.Background(), FetchRequest{Symbol: "XAUUSD", Timeframe: tf, Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API credits exceeded")
}

func TestTwelveDataNonSuccessStatus(t *testing.T) {
	src := newTwelveDataServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	tf := mustTF(t, "1h")
	_, err := src.Fetch(context.Background(), FetchRequest{Symbol: "XAUUSD", Timeframe: tf, Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTwelveDataMalformedRow(t *testing.T) {
	src := newTwelveDataServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"values":[{"datetime":"2024-03-01 10:00:00","open":"not-a-number","high":"1","low":"1","close":"1"}]}`))
	})

	tf := mustTF(t, "1h")
	_, err := src.Fetch(context.Background(), FetchRequest{Symbol: "XAUUSD", Timeframe: tf, Limit: 10})
	require.Error(t, err)
}
