package feature

import (
	talib "github.com/markcheno/go-talib"

	"confluence/internal/pkg/maputil"
)

// maTrend 输出价格相对 EMA 的距离与 EMA 斜率。
type maTrend struct {
	periods  []int
	slopeK   int
	cross    bool
	features []string
}

func newMATrend(params map[string]any) (Producer, error) {
	periods, err := maputil.PositiveInts(params, "periods", []int{10, 20, 50, 200})
	if err != nil {
		return nil, err
	}
	slopeK := maputil.Int(params, "slope_k", 1)
	if err := requirePositive("slope_k", slopeK); err != nil {
		return nil, err
	}
	p := &maTrend{periods: periods, slopeK: slopeK}
	has := map[int]bool{}
	for _, period := range periods {
		has[period] = true
		p.features = append(p.features, DistToEMA(period), EMASlope(period))
	}
	if has[20] && has[50] {
		p.cross = true
		p.features = append(p.features, EMA2050Diff)
	}
	return p, nil
}

func (p *maTrend) Name() string       { return "ma_trend" }
func (p *maTrend) Features() []string { return p.features }

// EMA 在下标 period-1 处开始有效，斜率还需要再往前 slopeK 根。
func (p *maTrend) Lookback() int { return maxInt(p.periods...) + p.slopeK }

func (p *maTrend) Produce(w Window, b *Builder) {
	closes := w.Series.Close
	last := back(closes, 0)
	latest := make(map[int]float64, len(p.periods))
	for _, period := range p.periods {
		ema := talib.Ema(closes, period)
		now := back(ema, 0)
		latest[period] = now
		b.Set(DistToEMA(period), ratio(last-now, now))
		b.Set(EMASlope(period), ratio(now-back(ema, p.slopeK), now))
	}
	if p.cross {
		b.Set(EMA2050Diff, ratio(latest[20]-latest[50], latest[50]))
	}
}
