package feature

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"confluence/internal/pkg/maputil"
)

// vsa 输出量价分析（Volume Spread Analysis）的原始比值。
type vsa struct {
	period     int
	corrPeriod int
}

func newVSA(params map[string]any) (Producer, error) {
	p := &vsa{
		period:     maputil.Int(params, "period", 20),
		corrPeriod: maputil.Int(params, "corr_period", 20),
	}
	if err := requirePositive("period/corr_period", p.period, p.corrPeriod); err != nil {
		return nil, err
	}
	if p.corrPeriod < 3 {
		p.corrPeriod = 3
	}
	return p, nil
}

func (p *vsa) Name() string { return "vsa" }

func (p *vsa) Features() []string {
	return []string{VSARelVolume, VSARelSpread, VSAClosePosition, VSADivergence}
}

func (p *vsa) Lookback() int { return maxInt(p.period, p.corrPeriod) }

func (p *vsa) Produce(w Window, b *Builder) {
	s := w.Series
	spreads := make([]float64, p.period)
	start := w.Len() - p.period
	for i := range spreads {
		spreads[i] = s.High[start+i] - s.Low[start+i]
	}
	c := w.Last()
	b.Set(VSARelVolume, ratio(c.Volume, stat.Mean(tail(s.Volume, p.period), nil)))
	b.Set(VSARelSpread, ratio(c.Spread(), stat.Mean(spreads, nil)))
	if c.Spread() > epsilon {
		b.Set(VSAClosePosition, (c.Close-c.Low)/c.Spread())
	} else {
		b.Set(VSAClosePosition, 0.5)
	}

	corr := stat.Correlation(tail(s.Close, p.corrPeriod), tail(s.Volume, p.corrPeriod), nil)
	if math.IsNaN(corr) {
		// 价格或成交量为常数时相关性无定义，视为无背离
		corr = 0
	}
	b.Set(VSADivergence, corr)
}
