package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 yaml 配置并套用默认值与校验。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的可用配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9980"
	defaultAllowOrigins      = "http://localhost:5173"
	defaultMarketDBPath      = "data/market.db"
	defaultActiveSource      = "twelvedata"
	defaultGapFactor         = 3
	defaultFetchLimit        = 500
	defaultCooldownSeconds   = 8
	defaultResultsDBPath     = "data/backtests.db"
	defaultBacktestWorkers   = 2
	defaultInitialBalance    = 10000
	defaultBotsPath          = "configs/bots.yaml"
	defaultBotLookbackLimit  = 300
	defaultTradingBrokerName = "oanda"
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if c.App.AllowOrigins == "" {
		c.App.AllowOrigins = defaultAllowOrigins
	}
	if c.MarketData.DBPath == "" {
		c.MarketData.DBPath = defaultMarketDBPath
	}
	if c.MarketData.ActiveSource == "" {
		c.MarketData.ActiveSource = defaultActiveSource
	}
	if c.MarketData.GapFactor <= 0 {
		c.MarketData.GapFactor = defaultGapFactor
	}
	if c.MarketData.DefaultLimit <= 0 {
		c.MarketData.DefaultLimit = defaultFetchLimit
	}
	if c.MarketData.CooldownSeconds <= 0 {
		c.MarketData.CooldownSeconds = defaultCooldownSeconds
	}
	if c.Backtest.ResultsDBPath == "" {
		c.Backtest.ResultsDBPath = defaultResultsDBPath
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = defaultBacktestWorkers
	}
	if c.Backtest.DefaultLimit <= 0 {
		c.Backtest.DefaultLimit = defaultFetchLimit
	}
	if c.Backtest.InitialBalance <= 0 {
		c.Backtest.InitialBalance = defaultInitialBalance
	}
	if c.Trading.Broker == "" {
		c.Trading.Broker = defaultTradingBrokerName
	}
	if c.Bots.Path == "" {
		c.Bots.Path = defaultBotsPath
	}
	if c.Bots.Lookback <= 0 {
		c.Bots.Lookback = defaultBotLookbackLimit
	}
}

func validate(c *Config) error {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level 不合法: %s", c.App.LogLevel)
	}
	switch strings.ToLower(c.MarketData.ActiveSource) {
	case "twelvedata", "oanda", "binance":
	default:
		return fmt.Errorf("marketdata.active_source 不合法: %s", c.MarketData.ActiveSource)
	}
	if strings.ToLower(c.MarketData.ActiveSource) == "twelvedata" && c.MarketData.TwelveData.APIKey == "" {
		return fmt.Errorf("marketdata.twelvedata.api_key 不能为空")
	}
	if strings.ToLower(c.MarketData.ActiveSource) == "oanda" && c.MarketData.Oanda.APIKey == "" {
		return fmt.Errorf("marketdata.oanda.api_key 不能为空")
	}
	if c.Trading.Enabled {
		if strings.ToLower(c.Trading.Broker) != "oanda" {
			return fmt.Errorf("trading.broker 不合法: %s", c.Trading.Broker)
		}
		if c.Trading.Oanda.APIKey == "" || c.Trading.Oanda.AccountID == "" {
			return fmt.Errorf("trading.oanda 需要 api_key 与 account_id")
		}
	}
	return nil
}
