package marketdata

import (
	"context"
	"path/filepath"
	"testing"

	"aurum/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreInsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	candle := market.Candle{Timestamp: 1_700_000_000_000, Open: 1900, High: 1910, Low: 1895, Close: 1905, Volume: 42}

	n, err := store.InsertCandles(ctx, "XAUUSD", "1h", []market.Candle{candle})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 同一 (symbol, timeframe, timestamp) 再写一遍必须被忽略。
	n, err = store.InsertCandles(ctx, "XAUUSD", "1h", []market.Candle{candle})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := store.Count(ctx, "XAUUSD", "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStoreRangeOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	step := int64(3_600_000)
	base := int64(1_700_000_000_000)
	candles := []market.Candle{
		{Timestamp: base + 2*step, Close: 3},
		{Timestamp: base, Close: 1},
		{Timestamp: base + step, Close: 2},
	}
	_, err := store.InsertCandles(ctx, "XAUUSD", "1h", candles)
	require.NoError(t, err)

	got, err := store.RangeCandles(ctx, "XAUUSD", "1h", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base, got[0].Timestamp)
	assert.Equal(t, base+step, got[1].Timestamp)
	assert.Equal(t, base+2*step, got[2].Timestamp)

	t.Run("bounded range", func(t *testing.T) {
		got, err := store.RangeCandles(ctx, "XAUUSD", "1h", base+step, base+2*step)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, base+step, got[0].Timestamp)
	})
}

func TestStoreSymbolTimeframeIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	candle := market.Candle{Timestamp: 1_700_000_000_000, Close: 1900}
	_, err := store.InsertCandles(ctx, "XAUUSD", "1h", []market.Candle{candle})
	require.NoError(t, err)

	for _, key := range [][2]string{{"XAUUSD", "15m"}, {"EURUSD", "1h"}} {
		got, err := store.RangeCandles(ctx, key[0], key[1], 0, 0)
		require.NoError(t, err)
		assert.Empty(t, got, "%s %s 不应命中 XAUUSD 1h 的数据", key[0], key[1])
	}
}
