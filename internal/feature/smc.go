package feature

import (
	"fmt"

	"confluence/internal/pkg/maputil"
)

// smc 识别公允价值缺口（FVG）与订单块（order block）。
//
// FVG：当前最低价高于两根前的最高价（多）或当前最高价低于两根前的最低价（空）。
// 订单块：shift 根内收盘涨跌超过 displacement，且起点是一根反向蜡烛。
type smc struct {
	shift        int
	displacement float64
}

func newSMC(params map[string]any) (Producer, error) {
	p := &smc{
		shift:        maputil.Int(params, "shift", 3),
		displacement: maputil.Float(params, "displacement", 0.02),
	}
	if err := requirePositive("shift", p.shift); err != nil {
		return nil, err
	}
	if p.displacement <= 0 || p.displacement >= 1 {
		return nil, fmt.Errorf("displacement must be in (0, 1), got %v", p.displacement)
	}
	return p, nil
}

func (p *smc) Name() string { return "smc" }

func (p *smc) Features() []string {
	return []string{FVGBull, FVGBear, FVGSize, OrderBlockBull, OrderBlockBear}
}

func (p *smc) Lookback() int { return maxInt(3, p.shift+1) }

func (p *smc) Produce(w Window, b *Builder) {
	s := w.Series
	t := w.Len() - 1
	last := s.Close[t]

	bull := s.Low[t] > s.High[t-2]
	bear := s.High[t] < s.Low[t-2]
	b.Set(FVGBull, boolFloat(bull))
	b.Set(FVGBear, boolFloat(bear))
	size := 0.0
	switch {
	case bull:
		size = (s.Low[t] - s.High[t-2]) / last
	case bear:
		size = (s.High[t] - s.Low[t-2]) / last
	}
	b.Set(FVGSize, size)

	o := t - p.shift
	change := ratio(last-s.Close[o], s.Close[o])
	b.Set(OrderBlockBull, boolFloat(s.Close[o] < s.Open[o] && change > p.displacement))
	b.Set(OrderBlockBear, boolFloat(s.Close[o] > s.Open[o] && change < -p.displacement))
}
