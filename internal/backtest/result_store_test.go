package backtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResultStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestRun() Run {
	return Run{
		ID:             uuid.NewString(),
		Strategy:       "ma_cross",
		Symbol:         "XAUUSD",
		Timeframe:      "1h",
		Start:          1_700_000_000_000,
		End:            1_700_360_000_000,
		InitialBalance: 10000,
		Status:         RunStatusPending,
		Params:         map[string]any{"fast_period": float64(10), "slow_period": float64(30)},
		CreatedAt:      time.Now(),
	}
}

func TestResultStoreRoundtrip(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	run := newTestRun()
	require.NoError(t, store.InsertRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Strategy, got.Strategy)
	assert.Equal(t, run.Symbol, got.Symbol)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, run.Params, got.Params)
	assert.Nil(t, got.Result, "未完成的任务不应携带结果")
}

func TestResultStoreCompleteLifecycle(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	run := newTestRun()
	require.NoError(t, store.InsertRun(ctx, run))
	require.NoError(t, store.MarkRunning(ctx, run.ID))

	result := Result{
		TotalReturnPct: 2.5,
		MaxDrawdownPct: 18.18,
		WinRate:        1.0 / 3.0,
		Trades: []Trade{
			{EntryTime: 1000, ExitTime: 2000, Side: SideBuy, EntryPrice: 1900, ExitPrice: 1950, Volume: 1, PnL: 50, Status: "closed"},
		},
		EquityCurve: []EquityPoint{{Time: 1000, Equity: 10000}, {Time: 2000, Equity: 10050}},
	}
	require.NoError(t, store.MarkCompleted(ctx, run.ID, result))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.False(t, got.CompletedAt.IsZero())
	require.NotNil(t, got.Result)
	assert.Equal(t, result.TotalReturnPct, got.Result.TotalReturnPct)
	require.Len(t, got.Result.Trades, 1)
	assert.Equal(t, 50.0, got.Result.Trades[0].PnL)
	assert.Len(t, got.Result.EquityCurve, 2)
}

func TestResultStoreMarkFailed(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	run := newTestRun()
	require.NoError(t, store.InsertRun(ctx, run))
	require.NoError(t, store.MarkFailed(ctx, run.ID, assert.AnError))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, assert.AnError.Error(), got.Message)
	assert.Nil(t, got.Result)
}

func TestResultStoreListNewestFirst(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	older := newTestRun()
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newTestRun()
	require.NoError(t, store.InsertRun(ctx, older))
	require.NoError(t, store.InsertRun(ctx, newer))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)
}

func TestResultStoreNotFound(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, store.MarkRunning(ctx, "missing"), ErrRunNotFound)
	assert.ErrorIs(t, store.DeleteRun(ctx, "missing"), ErrRunNotFound)
}
