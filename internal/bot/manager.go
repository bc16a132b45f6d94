package bot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"aurum/internal/backtest"
	"aurum/internal/broker"
	"aurum/internal/logger"
	"aurum/internal/market"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// BotSpec 描述一个机器人，来自 bots.yaml。
type BotSpec struct {
	ID         string         `mapstructure:"id" yaml:"id"`
	Strategy   string         `mapstructure:"strategy" yaml:"strategy"`
	Symbol     string         `mapstructure:"symbol" yaml:"symbol"`
	Timeframe  string         `mapstructure:"timeframe" yaml:"timeframe"`
	Enabled    bool           `mapstructure:"enabled" yaml:"enabled"`
	PollOffset string         `mapstructure:"poll_offset" yaml:"poll_offset,omitempty"`
	Params     map[string]any `mapstructure:"params" yaml:"params,omitempty"`
}

type botsFile struct {
	Bots []BotSpec `mapstructure:"bots" yaml:"bots"`
}

// Deps 为机器人运行所需的外部依赖。
type Deps struct {
	Resolver       backtest.CandleResolver
	Factory        backtest.StrategyFactory
	Broker         broker.Broker
	TradingEnabled bool
	Lookback       int
}

// Manager 加载 bots.yaml 并托管全部 Runner；文件变更时热重载。
type Manager struct {
	path string
	deps Deps
	v    *viper.Viper

	mu      sync.Mutex
	specs   []BotSpec
	cancel  context.CancelFunc
	running sync.WaitGroup

	baseCtx context.Context
}

// NewManager 读取并校验机器人配置。
func NewManager(path string, deps Deps) (*Manager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bots 配置路径不能为空")
	}
	if deps.Resolver == nil || deps.Factory == nil {
		return nil, fmt.Errorf("bot manager 依赖不完整")
	}
	m := &Manager{path: path, deps: deps}
	specs, err := m.load()
	if err != nil {
		return nil, err
	}
	m.specs = specs
	return m, nil
}

// Start 启动全部启用的机器人并监听配置变更，阻塞直到 ctx 取消。
func (m *Manager) Start(ctx context.Context) error {
	m.baseCtx = ctx

	v := viper.New()
	v.SetConfigFile(m.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取 bots 配置失败: %w", err)
	}
	m.v = v
	v.OnConfigChange(func(evt fsnotify.Event) {
		specs, err := m.load()
		if err != nil {
			logger.Errorf("[bot] 配置重载失败，保留当前机器人: %v", err)
			return
		}
		logger.Infof("[bot] 配置变更 (%s)，重启机器人", evt.Op)
		m.restart(specs)
	})
	v.WatchConfig()

	m.restart(m.specs)
	<-ctx.Done()

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.running.Wait()
	return nil
}

// Specs 返回当前机器人配置快照。
func (m *Manager) Specs() []BotSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BotSpec(nil), m.specs...)
}

// restart 停掉现有 Runner 并按新配置重建。
func (m *Manager) restart(specs []BotSpec) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.running.Wait()

	parent := m.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	m.specs = specs
	m.cancel = cancel
	m.mu.Unlock()

	started := 0
	for _, spec := range specs {
		if !spec.Enabled {
			logger.Infof("[bot:%s] 已禁用，跳过", spec.ID)
			continue
		}
		runner, err := newRunner(spec, m.deps)
		if err != nil {
			logger.Errorf("[bot] 启动失败: %v", err)
			continue
		}
		m.running.Add(1)
		go func() {
			defer m.running.Done()
			runner.Run(runCtx)
		}()
		started++
	}
	logger.Infof("[bot] 已启动 %d/%d 个机器人 (trading_enabled=%v)", started, len(specs), m.deps.TradingEnabled)
}

// load 严格解析并校验配置文件。
func (m *Manager) load() ([]BotSpec, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("读取 bots 配置失败: %w", err)
	}
	var cfg botsFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("解析 bots 配置失败: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Bots))
	for i := range cfg.Bots {
		spec := &cfg.Bots[i]
		spec.ID = strings.TrimSpace(spec.ID)
		if spec.ID == "" {
			return nil, fmt.Errorf("第 %d 个机器人缺少 id", i+1)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("机器人 id 重复: %s", spec.ID)
		}
		seen[spec.ID] = true
		if spec.Symbol == "" || spec.Timeframe == "" || spec.Strategy == "" {
			return nil, fmt.Errorf("机器人 %s 缺少 symbol/timeframe/strategy", spec.ID)
		}
		if _, err := market.ParseTimeframe(spec.Timeframe); err != nil {
			return nil, fmt.Errorf("机器人 %s: %w", spec.ID, err)
		}
		if spec.PollOffset != "" {
			if _, err := time.ParseDuration(spec.PollOffset); err != nil {
				return nil, fmt.Errorf("机器人 %s 的 poll_offset 不合法: %w", spec.ID, err)
			}
		}
		if err := m.deps.Factory.ValidateParams(spec.Strategy, spec.Params); err != nil {
			return nil, fmt.Errorf("机器人 %s: %w", spec.ID, err)
		}
	}
	return cfg.Bots, nil
}
