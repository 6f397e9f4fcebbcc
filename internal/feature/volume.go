package feature

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"confluence/internal/pkg/maputil"
)

// volumeProducer 输出成交量比、成交量趋势、OBV 斜率与 CMF。
type volumeProducer struct {
	smaPeriod int
	emaSpan   int
	trendLag  int
	obvLag    int
	cmfPeriod int
}

func newVolumeProducer(params map[string]any) (Producer, error) {
	p := &volumeProducer{
		smaPeriod: maputil.Int(params, "sma_period", 20),
		emaSpan:   maputil.Int(params, "ema_span", 10),
		trendLag:  maputil.Int(params, "trend_lag", 5),
		obvLag:    maputil.Int(params, "obv_lag", 3),
		cmfPeriod: maputil.Int(params, "cmf_period", 20),
	}
	if err := requirePositive("volume params", p.smaPeriod, p.emaSpan, p.trendLag, p.obvLag, p.cmfPeriod); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *volumeProducer) Name() string { return "volume" }

func (p *volumeProducer) Features() []string {
	return []string{Volume, VolumeRatio, VolumeTrend, OBVSlope, CMF}
}

func (p *volumeProducer) Lookback() int {
	return maxInt(p.smaPeriod, p.emaSpan+p.trendLag, p.emaSpan+p.obvLag, p.cmfPeriod)
}

func (p *volumeProducer) Produce(w Window, b *Builder) {
	s := w.Series
	vol := back(s.Volume, 0)
	b.Set(Volume, vol)

	sma := talib.Sma(s.Volume, p.smaPeriod)
	b.Set(VolumeRatio, ratio(vol, back(sma, 0)))

	volEMA := talib.Ema(s.Volume, p.emaSpan)
	b.Set(VolumeTrend, ratio(back(volEMA, 0)-back(volEMA, p.trendLag), back(volEMA, 0)))

	obvEMA := talib.Ema(talib.Obv(s.Close, s.Volume), p.emaSpan)
	now := back(obvEMA, 0)
	b.Set(OBVSlope, (now-back(obvEMA, p.obvLag))/(math.Abs(now)+epsilon))

	b.Set(CMF, chaikinMoneyFlow(s.High, s.Low, s.Close, s.Volume, p.cmfPeriod))
}

// chaikinMoneyFlow 计算末尾 n 根的 CMF，成交量为 0 时返回 NaN。
func chaikinMoneyFlow(high, low, closes, volume []float64, n int) float64 {
	var flow, total float64
	for i := len(closes) - n; i < len(closes); i++ {
		spread := high[i] - low[i]
		total += volume[i]
		if spread <= 0 {
			continue
		}
		mult := ((closes[i] - low[i]) - (high[i] - closes[i])) / spread
		flow += mult * volume[i]
	}
	return clip(ratio(flow, total), -1, 1)
}
