// Package app 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与机器人。
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"aurum/internal/backtest"
	"aurum/internal/bot"
	"aurum/internal/broker"
	"aurum/internal/broker/oanda"
	"aurum/internal/config"
	"aurum/internal/logger"
	"aurum/internal/marketdata"
	"aurum/internal/strategy"
	httpserver "aurum/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 持有全部长生命周期组件。
type App struct {
	cfg *config.Config

	store    *marketdata.Store
	metrics  *marketdata.Metrics
	resolver *marketdata.Resolver
	results  *backtest.ResultStore
	service  *backtest.Service
	server   *httpserver.Server
	bots     *bot.Manager
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	store, err := marketdata.NewStore(cfg.MarketData.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化行情存储失败: %w", err)
	}
	metrics := marketdata.NewMetrics()

	source, err := buildSource(cfg.MarketData)
	if err != nil {
		return nil, err
	}
	resolver, err := marketdata.NewResolver(marketdata.ResolverConfig{
		Store:        store,
		Source:       source,
		Metrics:      metrics,
		GapFactor:    int(cfg.MarketData.GapFactor),
		DefaultLimit: cfg.MarketData.DefaultLimit,
	})
	if err != nil {
		return nil, err
	}

	registry, err := strategy.NewRegistry()
	if err != nil {
		return nil, err
	}

	results, err := backtest.NewResultStore(cfg.Backtest.ResultsDBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化回测存储失败: %w", err)
	}
	service, err := backtest.NewService(backtest.ServiceConfig{
		Resolver:       resolver,
		Factory:        registry,
		Store:          results,
		MaxConcurrent:  cfg.Backtest.MaxConcurrent,
		DefaultLimit:   cfg.Backtest.DefaultLimit,
		InitialBalance: cfg.Backtest.InitialBalance,
	})
	if err != nil {
		return nil, err
	}

	var brk broker.Broker
	if cfg.Trading.Enabled {
		brk, err = oanda.NewClient(oanda.Config{
			APIKey:    cfg.Trading.Oanda.APIKey,
			AccountID: cfg.Trading.Oanda.AccountID,
			BaseURL:   cfg.Trading.Oanda.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 oanda 通道失败: %w", err)
		}
	}

	var bots *bot.Manager
	if _, statErr := os.Stat(cfg.Bots.Path); statErr == nil {
		bots, err = bot.NewManager(cfg.Bots.Path, bot.Deps{
			Resolver:       resolver,
			Factory:        registry,
			Broker:         brk,
			TradingEnabled: cfg.Trading.Enabled,
			Lookback:       cfg.Bots.Lookback,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化机器人失败: %w", err)
		}
	} else {
		logger.Warnf("未找到机器人配置 %s，跳过实盘机器人", cfg.Bots.Path)
	}

	server, err := httpserver.NewServer(httpserver.Config{
		Addr:         cfg.App.HTTPAddr,
		AllowOrigins: cfg.App.AllowOrigins,
		Resolver:     resolver,
		Metrics:      metrics,
		Backtests:    service,
		Bots:         bots,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		store:    store,
		metrics:  metrics,
		resolver: resolver,
		results:  results,
		service:  service,
		server:   server,
		bots:     bots,
	}, nil
}

func buildSource(cfg config.MarketDataConfig) (marketdata.Source, error) {
	switch strings.ToLower(cfg.ActiveSource) {
	case "twelvedata":
		return marketdata.NewTwelveDataSource(marketdata.TwelveDataConfig{
			APIKey:   cfg.TwelveData.APIKey,
			BaseURL:  cfg.TwelveData.BaseURL,
			Cooldown: cfg.Cooldown(),
		}), nil
	case "oanda":
		return marketdata.NewOandaSource(marketdata.OandaConfig{
			Token:   cfg.Oanda.APIKey,
			BaseURL: cfg.Oanda.BaseURL,
		}), nil
	case "binance":
		return marketdata.NewBinanceSource(marketdata.BinanceConfig{}), nil
	default:
		return nil, fmt.Errorf("未知数据源: %s", cfg.ActiveSource)
	}
}

// Run 启动 HTTP 与机器人，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.service.SetContext(ctx)
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("HTTP 服务启动于 %s", a.cfg.App.HTTPAddr)
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.bots != nil {
		group.Go(func() error {
			return a.bots.Start(ctx)
		})
	}
	return group.Wait()
}

// Close 释放存储资源。
func (a *App) Close() {
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
