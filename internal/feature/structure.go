package feature

import "confluence/internal/pkg/maputil"

// structure 根据摆动高低点判断市场结构（BOS/CHoCH）。
type structure struct {
	length int
}

func newStructure(params map[string]any) (Producer, error) {
	p := &structure{length: maputil.Int(params, "length", 50)}
	if p.length < 4 {
		p.length = 4
	}
	return p, nil
}

func (p *structure) Name() string { return "structure" }

func (p *structure) Features() []string {
	return []string{StructureDirection, BOSBull, BOSBear, PositionInRange}
}

// 需要比较当前摆动区间与半个周期前的区间。
func (p *structure) Lookback() int { return p.length + p.length/2 }

func (p *structure) Produce(w Window, b *Builder) {
	s := w.Series
	n := p.length
	t := w.Len() - 1
	half := n / 2
	last := s.Close[t]

	swingHigh := windowMax(s.High, t, n)
	swingLow := windowMin(s.Low, t, n)
	prevHigh := windowMax(s.High, t-1, n)
	prevLow := windowMin(s.Low, t-1, n)

	bull := last > prevHigh && s.Close[t-1] <= prevHigh
	bear := last < prevLow && s.Close[t-1] >= prevLow
	b.Set(BOSBull, boolFloat(bull))
	b.Set(BOSBear, boolFloat(bear))

	if rng := swingHigh - swingLow; rng > epsilon {
		b.Set(PositionInRange, (last-swingLow)/rng)
	} else {
		b.Set(PositionInRange, 0.5)
	}

	oldHigh := windowMax(s.High, t-half, n)
	oldLow := windowMin(s.Low, t-half, n)
	score := boolFloat(swingHigh > oldHigh) + boolFloat(swingLow > oldLow) -
		boolFloat(swingLow < oldLow) - boolFloat(swingHigh < oldHigh)
	dir := sign(score)
	// 刚确认的突破优先于滞后的摆动比较
	switch {
	case bull:
		dir = 1
	case bear:
		dir = -1
	}
	b.Set(StructureDirection, dir)
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
