package feature

import (
	"math"

	"confluence/internal/pkg/maputil"
)

// logReturns 输出多周期对数收益与成交量变化。
type logReturns struct {
	periods  []int
	features []string
}

func newLogReturns(params map[string]any) (Producer, error) {
	periods, err := maputil.PositiveInts(params, "periods", []int{1, 5, 10, 20})
	if err != nil {
		return nil, err
	}
	p := &logReturns{periods: periods}
	for _, k := range periods {
		p.features = append(p.features, LogReturn(k))
	}
	p.features = append(p.features, LogVolumeChange)
	return p, nil
}

func (p *logReturns) Name() string       { return "log_returns" }
func (p *logReturns) Features() []string { return p.features }
func (p *logReturns) Lookback() int      { return maxInt(p.periods...) + 1 }

func (p *logReturns) Produce(w Window, b *Builder) {
	closes := w.Series.Close
	for _, k := range p.periods {
		b.Set(LogReturn(k), math.Log(back(closes, 0)/back(closes, k)))
	}
	vol := w.Series.Volume
	b.Set(LogVolumeChange, math.Log((back(vol, 0)+1)/(back(vol, 1)+1)))
}
