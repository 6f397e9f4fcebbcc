package feature

import (
	"math"
	"strconv"

	talib "github.com/markcheno/go-talib"

	"confluence/internal/pkg/maputil"
)

// trendStrength 输出 ADX、DI 差与 Kaufman 效率比。
type trendStrength struct {
	adxPeriod int
	kerPeriod int
	kerName   string
}

func newTrendStrength(params map[string]any) (Producer, error) {
	p := &trendStrength{
		adxPeriod: maputil.Int(params, "adx_period", 14),
		kerPeriod: maputil.Int(params, "ker_period", 10),
	}
	if err := requirePositive("adx_period/ker_period", p.adxPeriod, p.kerPeriod); err != nil {
		return nil, err
	}
	p.kerName = "ker_" + strconv.Itoa(p.kerPeriod)
	return p, nil
}

func (p *trendStrength) Name() string { return "trend_strength" }

func (p *trendStrength) Features() []string { return []string{ADX, DIDiff, p.kerName} }

// ADX 从下标 2*period-1 开始有效。
func (p *trendStrength) Lookback() int { return maxInt(2*p.adxPeriod, p.kerPeriod+1) }

func (p *trendStrength) Produce(w Window, b *Builder) {
	s := w.Series
	b.Set(ADX, back(talib.Adx(s.High, s.Low, s.Close, p.adxPeriod), 0))

	plus := back(talib.PlusDI(s.High, s.Low, s.Close, p.adxPeriod), 0)
	minus := back(talib.MinusDI(s.High, s.Low, s.Close, p.adxPeriod), 0)
	b.Set(DIDiff, clip((plus-minus)/(plus+minus+epsilon), -1, 1))

	b.Set(p.kerName, efficiencyRatio(s.Close, p.kerPeriod))
}

func efficiencyRatio(closes []float64, n int) float64 {
	change := math.Abs(back(closes, 0) - back(closes, n))
	var path float64
	for k := 0; k < n; k++ {
		path += math.Abs(back(closes, k) - back(closes, k+1))
	}
	if path < epsilon {
		return 0
	}
	return clip(change/path, 0, 1)
}
