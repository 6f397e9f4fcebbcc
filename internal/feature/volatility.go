package feature

import (
	talib "github.com/markcheno/go-talib"

	"confluence/internal/pkg/maputil"
)

// volatility 输出 ATR、布林带宽度与位置、真实波幅。
type volatility struct {
	atrPeriod int
	bbPeriod  int
	bbDev     float64
}

func newVolatility(params map[string]any) (Producer, error) {
	p := &volatility{
		atrPeriod: maputil.Int(params, "atr_period", 14),
		bbPeriod:  maputil.Int(params, "bb_period", 20),
		bbDev:     maputil.Float(params, "bb_dev", 2),
	}
	if err := requirePositive("atr_period/bb_period", p.atrPeriod, p.bbPeriod); err != nil {
		return nil, err
	}
	if p.bbDev <= 0 {
		p.bbDev = 2
	}
	return p, nil
}

func (p *volatility) Name() string { return "volatility" }

func (p *volatility) Features() []string {
	return []string{ATR, ATRPct, BBWidth, BBPosition, TrueRangePct}
}

func (p *volatility) Lookback() int { return maxInt(p.atrPeriod+1, p.bbPeriod, 2) }

func (p *volatility) Produce(w Window, b *Builder) {
	s := w.Series
	last := back(s.Close, 0)

	atr := back(talib.Atr(s.High, s.Low, s.Close, p.atrPeriod), 0)
	b.Set(ATR, atr)
	b.Set(ATRPct, atr/last)

	upper, middle, lower := talib.BBands(s.Close, p.bbPeriod, p.bbDev, p.bbDev, talib.SMA)
	up, mid, low := back(upper, 0), back(middle, 0), back(lower, 0)
	b.Set(BBWidth, ratio(up-low, mid))
	if up-low > epsilon {
		b.Set(BBPosition, clip((last-low)/(up-low), 0, 1))
	} else {
		b.Set(BBPosition, 0.5)
	}

	tr := talib.TRange(s.High, s.Low, s.Close)
	b.Set(TrueRangePct, back(tr, 0)/last)
}
