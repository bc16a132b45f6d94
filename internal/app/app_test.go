package app

import (
	"path/filepath"
	"testing"

	"aurum/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.MarketData.DBPath = filepath.Join(dir, "market.db")
	cfg.MarketData.TwelveData.APIKey = "demo"
	cfg.MarketData.GapFactor = 5
	cfg.Backtest.ResultsDBPath = filepath.Join(dir, "runs.db")
	cfg.Bots.Path = filepath.Join(dir, "bots.yaml")
	return cfg
}

func TestNewAppWiresFullGraph(t *testing.T) {
	app, err := NewApp(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	assert.NotNil(t, app.store)
	assert.NotNil(t, app.resolver)
	assert.NotNil(t, app.service)
	assert.NotNil(t, app.server)
	assert.Equal(t, "twelvedata", app.resolver.SourceName())
	// bots.yaml 不存在时跳过机器人而非报错
	assert.Nil(t, app.bots)
}

func TestBuildSourceSelection(t *testing.T) {
	cfg := testConfig(t)

	cfg.MarketData.ActiveSource = "oanda"
	cfg.MarketData.Oanda.APIKey = "token"
	src, err := buildSource(cfg.MarketData)
	require.NoError(t, err)
	assert.Equal(t, "oanda", src.Name())

	cfg.MarketData.ActiveSource = "binance"
	src, err = buildSource(cfg.MarketData)
	require.NoError(t, err)
	assert.Equal(t, "binance", src.Name())

	cfg.MarketData.ActiveSource = "yahoo"
	_, err = buildSource(cfg.MarketData)
	assert.Error(t, err)
}

func TestNewAppRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}
