package backtest

import (
	"context"
	"fmt"
	"time"

	"aurum/internal/logger"
	"aurum/internal/market"

	"github.com/google/uuid"
)

// CandleResolver 提供回测所需的历史 K 线（命中缓存或按需回补）。
type CandleResolver interface {
	Resolve(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error)
}

// ServiceConfig 配置 Service。
type ServiceConfig struct {
	Resolver       CandleResolver
	Factory        StrategyFactory
	Store          *ResultStore
	MaxConcurrent  int
	DefaultLimit   int
	InitialBalance float64
}

// Service 负责管理回测任务：校验、排队、后台执行与持久化。
type Service struct {
	resolver       CandleResolver
	factory        StrategyFactory
	store          *ResultStore
	sem            chan struct{}
	defaultLimit   int
	initialBalance float64

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver 不能为空")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("strategy factory 不能为空")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 500
	}
	initial := cfg.InitialBalance
	if initial <= 0 {
		initial = DefaultInitialBalance
	}
	return &Service{
		resolver:       cfg.Resolver,
		factory:        cfg.Factory,
		store:          cfg.Store,
		sem:            make(chan struct{}, maxConcurrent),
		defaultLimit:   defaultLimit,
		initialBalance: initial,
		baseCtx:        context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// StartRun 校验请求后落库并异步执行，立即返回 pending 状态的任务。
func (s *Service) StartRun(ctx context.Context, req RunRequest) (Run, error) {
	if req.Symbol == "" {
		return Run{}, fmt.Errorf("symbol 不能为空")
	}
	if _, err := market.ParseTimeframe(req.Timeframe); err != nil {
		return Run{}, err
	}
	if req.End > 0 && req.Start > 0 && req.End <= req.Start {
		return Run{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	if err := s.factory.ValidateParams(req.Strategy, req.Params); err != nil {
		return Run{}, fmt.Errorf("策略参数不合法: %w", err)
	}
	initial := req.InitialBalance
	if initial <= 0 {
		initial = s.initialBalance
	}
	run := Run{
		ID:             uuid.NewString(),
		Strategy:       req.Strategy,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Start:          req.Start,
		End:            req.End,
		InitialBalance: initial,
		Status:         RunStatusPending,
		Params:         req.Params,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		return Run{}, err
	}
	logger.Infof("[backtest] 任务 %s 提交：%s %s %s [%d,%d]", run.ID, req.Strategy, req.Symbol, req.Timeframe, req.Start, req.End)

	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	go s.runLoop(run, limit)
	return run, nil
}

func (s *Service) runLoop(run Run, limit int) {
	ctx := s.ctx()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finishFailed(run.ID, fmt.Errorf("服务已关闭"))
		return
	}
	defer func() { <-s.sem }()

	if err := s.store.MarkRunning(ctx, run.ID); err != nil {
		logger.Errorf("[backtest] 任务 %s 置为 running 失败: %v", run.ID, err)
	}

	candles, err := s.resolver.Resolve(ctx, run.Symbol, run.Timeframe, run.Start, run.End, limit)
	if err != nil {
		s.finishFailed(run.ID, fmt.Errorf("获取历史数据失败: %w", err))
		return
	}
	if len(candles) == 0 {
		s.finishFailed(run.ID, fmt.Errorf("区间内没有可用数据"))
		return
	}

	strat, err := s.factory.NewStrategy(StrategySpec{
		Name:      run.Strategy,
		Symbol:    run.Symbol,
		Timeframe: run.Timeframe,
		Params:    run.Params,
	})
	if err != nil {
		s.finishFailed(run.ID, err)
		return
	}

	result, err := NewEngine(run.InitialBalance).Run(candles, strat)
	if err != nil {
		s.finishFailed(run.ID, err)
		return
	}

	if err := s.store.MarkCompleted(ctx, run.ID, result); err != nil {
		logger.Errorf("[backtest] 任务 %s 写入结果失败: %v", run.ID, err)
		return
	}
	logger.Infof("[backtest] 任务 %s 完成：收益=%.2f%% 回撤=%.2f%% 胜率=%.2f 成交=%d",
		run.ID, result.TotalReturnPct, result.MaxDrawdownPct, result.WinRate, len(result.Trades))
}

func (s *Service) finishFailed(id string, cause error) {
	logger.Errorf("[backtest] 任务 %s 失败: %v", id, cause)
	if err := s.store.MarkFailed(s.ctx(), id, cause); err != nil {
		logger.Errorf("[backtest] 任务 %s 记录失败状态出错: %v", id, err)
	}
}

// GetRun 读取单条任务。
func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns 列出最近任务。
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// DeleteRun 删除任务记录。
func (s *Service) DeleteRun(ctx context.Context, id string) error {
	return s.store.DeleteRun(ctx, id)
}

// Strategies 列出可用策略。
func (s *Service) Strategies() []StrategyInfo {
	return s.factory.List()
}
