package config

import "time"

// Config 是 aurum 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	MarketData MarketDataConfig `toml:"marketdata"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Trading    TradingConfig    `toml:"trading"`
	Bots       BotsConfig       `toml:"bots"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	LogPath      string `toml:"log_path"`
	HTTPAddr     string `toml:"http_addr"`
	AllowOrigins string `toml:"allow_origins"`
}

// MarketDataConfig 控制行情缓存与上游数据源。
type MarketDataConfig struct {
	DBPath          string            `toml:"db_path"`
	ActiveSource    string            `toml:"active_source"`
	GapFactor       int64             `toml:"gap_factor"`
	DefaultLimit    int               `toml:"default_limit"`
	CooldownSeconds int               `toml:"cooldown_seconds"`
	TwelveData      TwelveDataSource  `toml:"twelvedata"`
	Oanda           OandaSourceConfig `toml:"oanda"`
	Binance         BinanceSourceCfg  `toml:"binance"`
}

type TwelveDataSource struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

type OandaSourceConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

type BinanceSourceCfg struct {
	Enabled bool `toml:"enabled"`
}

// BacktestConfig 控制回测任务的持久化与并发。
type BacktestConfig struct {
	ResultsDBPath  string  `toml:"results_db_path"`
	MaxConcurrent  int     `toml:"max_concurrent"`
	DefaultLimit   int     `toml:"default_limit"`
	InitialBalance float64 `toml:"initial_balance"`
}

// TradingConfig 控制实盘通道；enabled=false 时机器人只空跑。
type TradingConfig struct {
	Enabled bool        `toml:"enabled"`
	Broker  string      `toml:"broker"`
	Oanda   OandaBroker `toml:"oanda"`
}

type OandaBroker struct {
	APIKey    string `toml:"api_key"`
	AccountID string `toml:"account_id"`
	BaseURL   string `toml:"base_url"`
}

// BotsConfig 指向机器人定义文件。
type BotsConfig struct {
	Path     string `toml:"path"`
	Lookback int    `toml:"lookback"`
}

// Cooldown 返回数据源限速间隔。
func (m MarketDataConfig) Cooldown() time.Duration {
	if m.CooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(m.CooldownSeconds) * time.Second
}
