package feature

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"confluence/internal/market"
	"confluence/internal/market/markettest"
)

func defaultNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	producers, err := DefaultRegistry().Build([]string{
		"log_returns", "ma_trend", "oscillators", "volatility", "volume",
		"trend_strength", "structure", "vsa", "fibonacci",
	})
	require.NoError(t, err)
	n, err := NewNormalizer(producers...)
	require.NoError(t, err)
	return n
}

func candle(i int, open, high, low, closeP, volume float64) market.Candle {
	return market.Candle{
		Timestamp: markettest.Start.Add(time.Duration(i) * time.Hour),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
	}
}

func TestShortWindowSkipsLongLookbackProducers(t *testing.T) {
	n := defaultNormalizer(t)
	candles := markettest.Trend(30, 0.001, 1)

	v, err := n.Compute("BTCUSDT", candles)
	require.NoError(t, err)

	_, ok := v.Get(DistToEMA(200))
	assert.False(t, ok, "ema 200 needs 201 candles")
	_, ok = v.Get(StructureDirection)
	assert.False(t, ok)
	_, ok = v.Get(FibNear618)
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"ma_trend", "structure", "fibonacci"}, v.Skipped())

	for _, name := range []string{RSI, RSINorm, StochRSINorm, ATR, ATRPct, BBWidth, ADX, CMF, VSARelVolume, LogReturn(20)} {
		_, ok := v.Get(name)
		assert.True(t, ok, name)
	}
	assert.Equal(t, "BTCUSDT", v.Instrument())
	assert.True(t, v.Timestamp().Equal(candles[29].Timestamp))
}

func TestFullWindowProducesWholeSchema(t *testing.T) {
	n := defaultNormalizer(t)
	require.Equal(t, 201, n.Lookback())
	candles := markettest.Walk(300, 100, 0.0005, 0.01, 7)

	v, err := n.Compute("ETHUSDT", candles)
	require.NoError(t, err)
	for _, name := range n.Schema().Names() {
		_, ok := v.Get(name)
		assert.True(t, ok, name)
	}
	assert.Equal(t, n.Schema().Len(), v.Len())
	assert.Empty(t, v.Skipped())
}

func TestComputeIsDeterministicAndIgnoresLaterCandles(t *testing.T) {
	n := defaultNormalizer(t)
	candles := markettest.Walk(320, 100, 0, 0.01, 3)
	window := candles[:260]

	first, err := n.Compute("BTCUSDT", window)
	require.NoError(t, err)

	// 修改 T 之后的数据不应影响 T 时刻的特征
	for i := 260; i < len(candles); i++ {
		candles[i].Close *= 3
		candles[i].High *= 3
		candles[i].Volume *= 10
	}
	second, err := n.Compute("BTCUSDT", window)
	require.NoError(t, err)
	assert.Equal(t, first.Values(), second.Values())
}

func TestFeatureRanges(t *testing.T) {
	n := defaultNormalizer(t)
	bounded := map[string][2]float64{
		RSI:              {0, 100},
		RSINorm:          {-1, 1},
		MFINorm:          {-1, 1},
		StochRSINorm:     {-1, 1},
		BBPosition:       {0, 1},
		CMF:              {-1, 1},
		DIDiff:           {-1, 1},
		KER10:            {0, 1},
		ADX:              {0, 100},
		FibPosition:      {0, 1},
		VSADivergence:    {-1, 1},
		VSAClosePosition: {0, 1},
	}
	for seed := int64(1); seed <= 5; seed++ {
		candles := markettest.Walk(260, 100, 0, 0.015, seed)
		for end := 210; end <= len(candles); end += 10 {
			v, err := n.Compute("BTCUSDT", candles[:end])
			require.NoError(t, err)
			for name, rng := range bounded {
				val, ok := v.Get(name)
				require.True(t, ok, name)
				assert.GreaterOrEqual(t, val, rng[0]-1e-9, name)
				assert.LessOrEqual(t, val, rng[1]+1e-9, name)
			}
			dir, ok := v.Get(StructureDirection)
			require.True(t, ok)
			assert.Contains(t, []float64{-1, 0, 1}, dir)
			atr, _ := v.Get(ATR)
			assert.Greater(t, atr, 0.0)
		}
	}
}

func TestUptrendFeatures(t *testing.T) {
	n := defaultNormalizer(t)
	v, err := n.Compute("BTCUSDT", markettest.Walk(260, 100, 0.01, 0.004, 11))
	require.NoError(t, err)

	for _, name := range []string{DistToEMA(20), EMASlope(20), EMASlope(200), RSINorm, DIDiff, LogReturn(5), EMA2050Diff} {
		val, ok := v.Get(name)
		require.True(t, ok, name)
		assert.Greater(t, val, 0.0, name)
	}
	ker, _ := v.Get(KER10)
	assert.Greater(t, ker, 0.5)
	rsi, _ := v.Get(RSI)
	assert.Greater(t, rsi, 50.0)
}

func TestComputeErrors(t *testing.T) {
	n := defaultNormalizer(t)
	_, err := n.Compute("BTCUSDT", nil)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))

	candles := markettest.Trend(40, 0, 1)
	candles[10], candles[11] = candles[11], candles[10]
	_, err = n.Compute("BTCUSDT", candles)
	assert.True(t, errors.Is(err, market.ErrOutOfOrder))
}

func TestChaikinMoneyFlowClosingAtHigh(t *testing.T) {
	high := []float64{11, 12, 13}
	low := []float64{9, 10, 11}
	closes := []float64{11, 12, 13}
	vol := []float64{5, 5, 5}
	assert.InDelta(t, 1.0, chaikinMoneyFlow(high, low, closes, vol, 3), 1e-12)

	closes = []float64{9, 10, 11}
	assert.InDelta(t, -1.0, chaikinMoneyFlow(high, low, closes, vol, 3), 1e-12)

	_, ok := NewVector("X", time.Time{}, map[string]float64{
		CMF: chaikinMoneyFlow(high, low, closes, []float64{0, 0, 0}, 3),
	}).Get(CMF)
	assert.False(t, ok, "zero volume leaves cmf undefined")
}

func TestFibonacciNearLevels(t *testing.T) {
	p, err := newFibonacci(nil)
	require.NoError(t, err)

	candles := make([]market.Candle, 0, 50)
	candles = append(candles, candle(0, 110, 120, 100, 110, 10))
	candles = append(candles, candle(1, 150, 200, 140, 150, 10))
	for i := 2; i < 49; i++ {
		candles = append(candles, candle(i, 150, 155, 145, 150, 10))
	}
	candles = append(candles, candle(49, 161.5, 162, 161, 161.8, 10))

	b := NewBuilder("BTCUSDT", candles[49].Timestamp)
	p.Produce(newWindow("BTCUSDT", candles), b)
	v := b.Build()

	pos, ok := v.Get(FibPosition)
	require.True(t, ok)
	assert.InDelta(t, 0.618, pos, 1e-9)
	near618, _ := v.Get(FibNear618)
	near786, _ := v.Get(FibNear786)
	assert.Equal(t, 1.0, near618)
	assert.Equal(t, 0.0, near786)
}

func TestStructureBreakOfStructure(t *testing.T) {
	p, err := newStructure(map[string]any{"length": 10})
	require.NoError(t, err)
	require.Equal(t, 15, p.Lookback())

	candles := make([]market.Candle, 0, 20)
	for i := 0; i < 19; i++ {
		candles = append(candles, candle(i, 100, 101, 99, 100, 10))
	}
	candles = append(candles, candle(19, 100, 106, 100, 105, 10))

	b := NewBuilder("BTCUSDT", candles[19].Timestamp)
	p.Produce(newWindow("BTCUSDT", candles), b)
	v := b.Build()

	bull, _ := v.Get(BOSBull)
	bear, _ := v.Get(BOSBear)
	dir, _ := v.Get(StructureDirection)
	assert.Equal(t, 1.0, bull)
	assert.Equal(t, 0.0, bear)
	assert.Equal(t, 1.0, dir)
}

func TestSMCFairValueGapAndOrderBlock(t *testing.T) {
	p, err := newSMC(nil)
	require.NoError(t, err)
	require.Equal(t, 4, p.Lookback())

	// 阳线之后连续下跌：最后一根与两根前之间留下向下缺口
	candles := []market.Candle{
		candle(0, 100, 102, 99, 101, 10),
		candle(1, 101, 101, 97, 98, 10),
		candle(2, 98, 98, 95, 96, 10),
		candle(3, 96, 96, 93, 94, 10),
	}
	b := NewBuilder("BTCUSDT", candles[3].Timestamp)
	p.Produce(newWindow("BTCUSDT", candles), b)
	v := b.Build()

	get := func(name string) float64 {
		val, ok := v.Get(name)
		require.True(t, ok, name)
		return val
	}
	assert.Equal(t, 0.0, get(FVGBull))
	assert.Equal(t, 1.0, get(FVGBear))
	assert.InDelta(t, (96.0-97.0)/94.0, get(FVGSize), 1e-12)
	assert.Equal(t, 0.0, get(OrderBlockBull))
	assert.Equal(t, 1.0, get(OrderBlockBear), "bullish candle before a 6.9% drop")

	// 镜像：阴线之后连续上涨
	candles = []market.Candle{
		candle(0, 100, 101, 98, 99, 10),
		candle(1, 99, 103, 99, 102, 10),
		candle(2, 102, 105, 102, 104, 10),
		candle(3, 104, 107, 104, 106, 10),
	}
	b = NewBuilder("BTCUSDT", candles[3].Timestamp)
	p.Produce(newWindow("BTCUSDT", candles), b)
	v = b.Build()
	assert.Equal(t, 1.0, get(FVGBull))
	assert.Equal(t, 0.0, get(FVGBear))
	assert.InDelta(t, (104.0-103.0)/106.0, get(FVGSize), 1e-12)
	assert.Equal(t, 1.0, get(OrderBlockBull))
	assert.Equal(t, 0.0, get(OrderBlockBear))

	_, err = newSMC(map[string]any{"displacement": 1.5})
	assert.Error(t, err)
}

func TestVSAConstantSeriesHasNoDivergence(t *testing.T) {
	p, err := newVSA(nil)
	require.NoError(t, err)
	candles := make([]market.Candle, 0, 20)
	for i := 0; i < 20; i++ {
		candles = append(candles, candle(i, 100, 102, 98, 100, 50))
	}
	b := NewBuilder("BTCUSDT", candles[19].Timestamp)
	p.Produce(newWindow("BTCUSDT", candles), b)
	v := b.Build()

	div, ok := v.Get(VSADivergence)
	require.True(t, ok)
	assert.Equal(t, 0.0, div)
	relVol, _ := v.Get(VSARelVolume)
	relSpread, _ := v.Get(VSARelSpread)
	assert.InDelta(t, 1.0, relVol, 1e-12)
	assert.InDelta(t, 1.0, relSpread, 1e-12)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Len(t, r.Names(), 10)
	assert.Error(t, r.Register("vsa", newVSA))

	_, err := r.Build([]string{"nope"})
	assert.ErrorContains(t, err, "unknown producer")

	_, err = r.Build([]string{"vsa", "vsa"})
	assert.ErrorContains(t, err, "enabled twice")

	ps, err := r.BuildSpecs([]Spec{{Name: "log_returns", Params: map[string]any{"periods": []any{2, "3"}}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"log_return_2", "log_return_3", LogVolumeChange}, ps[0].Features())
	assert.Equal(t, 4, ps[0].Lookback())

	_, err = r.BuildSpecs([]Spec{{Name: "ma_trend", Params: map[string]any{"periods": "10,abc"}}})
	assert.Error(t, err)
}

func TestNormalizerRejectsDuplicateFeatures(t *testing.T) {
	a, err := newLogReturns(nil)
	require.NoError(t, err)
	b, err := newLogReturns(map[string]any{"periods": []int{1}})
	require.NoError(t, err)
	_, err = NewNormalizer(a, b)
	assert.ErrorContains(t, err, "produced by both")

	_, err = NewNormalizer()
	assert.Error(t, err)
}

func TestBuilderAndVector(t *testing.T) {
	b := NewBuilder("BTCUSDT", markettest.Start)
	b.Set("a", 1)
	b.Set("nan", math.NaN())
	b.Set("inf", math.Inf(1))
	v := b.Build()
	b.Set("b", 2)

	assert.Equal(t, 1, v.Len())
	assert.True(t, v.Has("a"))
	assert.False(t, v.Has("a", "b"))
	vals := v.Values()
	vals["a"] = 99
	got, _ := v.Get("a")
	assert.Equal(t, 1.0, got)
	assert.Equal(t, []string{"a"}, v.Names())
}

func TestSchemaFingerprint(t *testing.T) {
	a := NewSchema([]string{"rsi", "atr", "adx"})
	b := NewSchema([]string{"adx", "rsi", "atr"})
	c := NewSchema([]string{"adx", "rsi"})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)

	missing, extra := a.Diff([]string{"adx", "rsi", "cmf"})
	assert.Equal(t, []string{"atr"}, missing)
	assert.Equal(t, []string{"cmf"}, extra)

	out, err := a.Export("confluence@v1", []string{"oscillators"}, markettest.Start)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, a.Fingerprint(), doc.Fingerprint)
	assert.Equal(t, []string{"rsi", "atr", "adx"}, doc.FeatureSchema)
	assert.True(t, strings.HasPrefix(doc.GeneratedAt, "2025-01-01"))
}
