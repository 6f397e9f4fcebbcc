package feature

import (
	"fmt"
	"math"

	"confluence/internal/pkg/maputil"
)

// fibonacci 输出价格在摆动区间中的位置，以及是否贴近关键回撤位。
type fibonacci struct {
	lookback  int
	tolerance float64
	levels    []int
	features  []string
}

func newFibonacci(params map[string]any) (Producer, error) {
	levels, err := maputil.PositiveInts(params, "levels", []int{618, 786})
	if err != nil {
		return nil, err
	}
	p := &fibonacci{
		lookback:  maputil.Int(params, "lookback", 50),
		tolerance: maputil.Float(params, "tolerance", 0.02),
		levels:    levels,
	}
	if err := requirePositive("lookback", p.lookback); err != nil {
		return nil, err
	}
	if p.tolerance <= 0 || p.tolerance >= 0.5 {
		return nil, fmt.Errorf("tolerance must be in (0, 0.5), got %v", p.tolerance)
	}
	p.features = []string{FibPosition}
	for _, lvl := range levels {
		if lvl >= 1000 {
			return nil, fmt.Errorf("fib level %d must be below 1000", lvl)
		}
		p.features = append(p.features, FibNear(lvl))
	}
	return p, nil
}

func (p *fibonacci) Name() string       { return "fibonacci" }
func (p *fibonacci) Features() []string { return p.features }
func (p *fibonacci) Lookback() int      { return p.lookback }

func (p *fibonacci) Produce(w Window, b *Builder) {
	s := w.Series
	t := w.Len() - 1
	high := windowMax(s.High, t, p.lookback)
	low := windowMin(s.Low, t, p.lookback)
	rng := high - low
	if rng < epsilon {
		return
	}
	last := s.Close[t]
	b.Set(FibPosition, clip((last-low)/rng, 0, 1))
	for _, lvl := range p.levels {
		level := low + rng*float64(lvl)/1000
		b.Set(FibNear(lvl), boolFloat(math.Abs(last-level)/rng < p.tolerance))
	}
}
