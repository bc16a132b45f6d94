package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"aurum/internal/backtest"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// builder 用已校验的参数构造一个策略实例。
type builder func(spec backtest.StrategySpec) (backtest.Strategy, error)

type entry struct {
	info     backtest.StrategyInfo
	compiled *jsonschema.Schema
	build    builder
}

// Registry 按名称管理可用策略，实现 backtest.StrategyFactory。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry 返回注册了全部内置策略的 Registry。
func NewRegistry() (*Registry, error) {
	r := &Registry{entries: make(map[string]entry)}
	if err := registerMACross(r); err != nil {
		return nil, err
	}
	if err := registerGoldenMomentum(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Register 注册一个策略；schema 为 JSON Schema 片段，校验 params。
func (r *Registry) Register(name, description string, schema map[string]any, build builder) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("策略名称不能为空")
	}
	if build == nil {
		return fmt.Errorf("策略 %s 缺少构造函数", name)
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("策略 %s 的参数 schema 编译失败: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("策略 %s 已注册", name)
	}
	r.entries[name] = entry{
		info:     backtest.StrategyInfo{Name: name, Description: description},
		compiled: compiled,
		build:    build,
	}
	return nil
}

// NewStrategy 校验参数后实例化策略。
func (r *Registry) NewStrategy(spec backtest.StrategySpec) (backtest.Strategy, error) {
	r.mu.RLock()
	ent, ok := r.entries[strings.TrimSpace(spec.Name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知策略: %s", spec.Name)
	}
	if err := validate(ent.compiled, spec.Params); err != nil {
		return nil, err
	}
	return ent.build(spec)
}

// ValidateParams 只做参数校验，不实例化。
func (r *Registry) ValidateParams(name string, params map[string]any) error {
	r.mu.RLock()
	ent, ok := r.entries[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("未知策略: %s", name)
	}
	return validate(ent.compiled, params)
}

// List 按名称排序列出已注册策略。
func (r *Registry) List() []backtest.StrategyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]backtest.StrategyInfo, 0, len(r.entries))
	for _, ent := range r.entries {
		out = append(out, ent.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func validate(schema *jsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	return schema.Validate(normalizeParams(params))
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// normalizeParams 把 JSON 解码产生的原生类型原样交给校验器；
// map 以外的容器递归处理，保证嵌套参数也能校验。
func normalizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeParams(child)
		}
		return out
	default:
		return val
	}
}
