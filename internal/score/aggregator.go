package score

import (
	"fmt"
	"math"
	"strings"

	"confluence/internal/config"
)

// Confluence 为聚合结果，Overall 落在 [0,1]。
type Confluence struct {
	Overall float64 `json:"overall"`
	Bearish float64 `json:"bearish"`
	VSA     float64 `json:"vsa"`
}

// Bias 为总分所处区间。
type Bias int

const (
	BiasNeutral Bias = iota
	BiasLong
	BiasShort
)

func (b Bias) String() string {
	switch b {
	case BiasLong:
		return "LONG"
	case BiasShort:
		return "SHORT"
	default:
		return "NEUTRAL"
	}
}

// Weight 是接线表中的一项。
type Weight struct {
	Name   string
	Weight float64
}

// Aggregator 按接线表加权平均子分数。
type Aggregator struct {
	weights []Weight
	total   float64
	long    float64
	short   float64
}

// NewAggregator 校验接线表中的名称与权重。
func NewAggregator(weights []Weight, long, short float64) (*Aggregator, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("confluence wiring is empty")
	}
	if !(short < long) {
		return nil, fmt.Errorf("short threshold %.3f must be below long threshold %.3f", short, long)
	}
	a := &Aggregator{long: long, short: short}
	seen := map[string]bool{}
	for _, w := range weights {
		name := strings.ToLower(strings.TrimSpace(w.Name))
		switch name {
		case NameTrend, NameMomentum, NameMoneyPressure, NameStructure, NameVSA:
		default:
			return nil, fmt.Errorf("unknown sub-score %q in wiring", w.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("sub-score %s wired twice", name)
		}
		if w.Weight <= 0 {
			return nil, fmt.Errorf("sub-score %s weight must be positive", name)
		}
		seen[name] = true
		a.weights = append(a.weights, Weight{Name: name, Weight: w.Weight})
		a.total += w.Weight
	}
	return a, nil
}

// NewAggregatorFromConfig 从 scoring 配置构造聚合器。
func NewAggregatorFromConfig(cfg config.ScoringConfig) (*Aggregator, error) {
	weights := make([]Weight, 0, len(cfg.Weights))
	for _, w := range cfg.Weights {
		weights = append(weights, Weight{Name: w.Name, Weight: w.Weight})
	}
	return NewAggregator(weights, cfg.LongThreshold, cfg.ShortThreshold)
}

// Aggregate 任一接入的子分数缺失时返回 ok=false。
func (a *Aggregator) Aggregate(s SubScores) (Confluence, bool) {
	sum := 0.0
	for _, w := range a.weights {
		v, ok := s.Get(w.Name)
		if !ok || math.IsNaN(v) {
			return Confluence{}, false
		}
		sum += w.Weight * clip(v, -1, 1)
	}
	overall := clip((sum/a.total+1)/2, 0, 1)
	return Confluence{Overall: overall, Bearish: 1 - overall, VSA: s.VSA.Score()}, true
}

// Bias 判断总分偏向；阈值之间为不交易区。
func (a *Aggregator) Bias(c Confluence) Bias {
	switch {
	case c.Overall > a.long:
		return BiasLong
	case c.Overall < a.short:
		return BiasShort
	default:
		return BiasNeutral
	}
}

func (a *Aggregator) LongThreshold() float64  { return a.long }
func (a *Aggregator) ShortThreshold() float64 { return a.short }

// Weights 返回接线表副本。
func (a *Aggregator) Weights() []Weight { return append([]Weight(nil), a.weights...) }
