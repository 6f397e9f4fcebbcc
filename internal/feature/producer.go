package feature

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"confluence/internal/market"
)

// Window 是生产者可见的历史窗口，最后一根即当前时刻 T。
type Window struct {
	Instrument string
	Candles    []market.Candle
	Series     market.Series
}

func newWindow(instrument string, candles []market.Candle) Window {
	return Window{Instrument: instrument, Candles: candles, Series: market.Columns(candles)}
}

// Len 返回窗口长度。
func (w Window) Len() int { return len(w.Candles) }

// Last 返回当前蜡烛。
func (w Window) Last() market.Candle { return w.Candles[len(w.Candles)-1] }

// Producer 是一个具名的特征生产者。
// Produce 只会在窗口长度 >= Lookback() 时被调用。
type Producer interface {
	Name() string
	Features() []string
	Lookback() int
	Produce(w Window, b *Builder)
}

// Spec 描述启用的生产者及其参数。
type Spec struct {
	Name   string
	Params map[string]any
}

// Factory 根据参数构造生产者。
type Factory func(params map[string]any) (Producer, error)

// Registry 保存生产者工厂。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry 注册全部内置生产者。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, f := range map[string]Factory{
		"log_returns":    newLogReturns,
		"ma_trend":       newMATrend,
		"oscillators":    newOscillators,
		"volatility":     newVolatility,
		"volume":         newVolumeProducer,
		"trend_strength": newTrendStrength,
		"structure":      newStructure,
		"vsa":            newVSA,
		"fibonacci":      newFibonacci,
		"smc":            newSMC,
	} {
		_ = r.Register(name, f)
	}
	return r
}

// Register 注册工厂，重名返回错误。
func (r *Registry) Register(name string, f Factory) error {
	name = strings.TrimSpace(name)
	if name == "" || f == nil {
		return fmt.Errorf("producer name/factory required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("producer %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Names 返回已注册的生产者名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build 以默认参数构造给定名字的生产者。
func (r *Registry) Build(names []string) ([]Producer, error) {
	specs := make([]Spec, 0, len(names))
	for _, n := range names {
		specs = append(specs, Spec{Name: n})
	}
	return r.BuildSpecs(specs)
}

// BuildSpecs 按配置顺序构造生产者。
func (r *Registry) BuildSpecs(specs []Spec) ([]Producer, error) {
	out := make([]Producer, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("producer %s enabled twice", name)
		}
		seen[name] = struct{}{}
		r.mu.RLock()
		f, ok := r.factories[name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown producer: %s", spec.Name)
		}
		p, err := f(spec.Params)
		if err != nil {
			return nil, fmt.Errorf("producer %s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func requirePositive(name string, vals ...int) error {
	for _, v := range vals {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	return nil
}
