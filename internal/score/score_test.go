package score

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence/internal/config"
	"confluence/internal/feature"
	"confluence/internal/market/markettest"
)

func scoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: []config.WeightConfig{
			{Name: "trend", Weight: 0.4},
			{Name: "momentum", Weight: 0.35},
			{Name: "money_pressure", Weight: 0.25},
		},
		LongThreshold:  0.7,
		ShortThreshold: 0.3,
		Trend:          config.TrendScoreConfig{Periods: []int{20, 50}, DistGain: 20, SlopeGain: 500},
		VSA:            config.VSAConfig{HighVolume: 1.5, LowVolume: 0.8, WideSpread: 1.5, NarrowSpread: 0.8},
	}
}

func vector(values map[string]float64) feature.Vector {
	return feature.NewVector("BTCUSDT", markettest.Start, values)
}

func bullishValues() map[string]float64 {
	return map[string]float64{
		feature.DistToEMA(20):      0.05,
		feature.EMASlope(20):       0.004,
		feature.DistToEMA(50):      0.08,
		feature.EMASlope(50):       0.003,
		feature.DIDiff:             0.6,
		feature.RSINorm:            0.5,
		feature.MFINorm:            0.6,
		feature.StochRSINorm:       0.8,
		feature.OBVSlope:           0.08,
		feature.CMF:                0.4,
		feature.VolumeTrend:        0.3,
		feature.VSARelVolume:       1.8,
		feature.VSARelSpread:       1.9,
		feature.StructureDirection: 1,
	}
}

func TestVSAClassify(t *testing.T) {
	c := NewVSAClassifier(scoringConfig().VSA)
	cases := []struct {
		vol, spread float64
		want        VSAClass
	}{
		{2, 2, VSAValid},
		{2, 0.5, VSAChurning},
		{0.5, 2, VSAFakeout},
		{1, 1, VSANeutral},
		{2, 1, VSANeutral},
		{0.5, 0.5, VSANeutral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(tc.vol, tc.spread), "vol=%v spread=%v", tc.vol, tc.spread)
	}
	assert.Equal(t, 1.0, VSAValid.Score())
	assert.Equal(t, -1.0, VSAChurning.Score())
	assert.Equal(t, -0.5, VSAFakeout.Score())
	assert.Equal(t, 0.0, VSANeutral.Score())
	assert.Equal(t, "CHURNING", VSAChurning.String())
}

func TestSubScoresBullish(t *testing.T) {
	set := NewSet(scoringConfig())
	s := set.Compute(vector(bullishValues()))

	require.True(t, s.TrendOK)
	require.True(t, s.MomentumOK)
	require.True(t, s.MoneyPressureOK)
	require.True(t, s.StructureOK)
	require.True(t, s.VSAOK)
	assert.Greater(t, s.Trend, 0.8)
	assert.InDelta(t, 0.4*0.5+0.3*0.6+0.3*0.8, s.Momentum, 1e-12)
	assert.InDelta(t, (0.8+0.4+0.6+0.5)/3.5, s.MoneyPressure, 1e-12)
	assert.Equal(t, 1, s.Structure)
	assert.Equal(t, VSAValid, s.VSA)
}

func TestMissingInputsPropagate(t *testing.T) {
	values := bullishValues()
	delete(values, feature.EMASlope(50))
	delete(values, feature.CMF)
	s := NewSet(scoringConfig()).Compute(vector(values))
	assert.False(t, s.TrendOK)
	assert.False(t, s.MoneyPressureOK)
	assert.True(t, s.MomentumOK)

	agg, err := NewAggregatorFromConfig(scoringConfig())
	require.NoError(t, err)
	_, ok := agg.Aggregate(s)
	assert.False(t, ok)
}

func TestAggregateBullishIsLongBias(t *testing.T) {
	agg, err := NewAggregatorFromConfig(scoringConfig())
	require.NoError(t, err)
	c, ok := agg.Aggregate(NewSet(scoringConfig()).Compute(vector(bullishValues())))
	require.True(t, ok)
	assert.Greater(t, c.Overall, 0.7)
	assert.InDelta(t, 1-c.Overall, c.Bearish, 1e-12)
	assert.Equal(t, 1.0, c.VSA)
	assert.Equal(t, BiasLong, agg.Bias(c))
}

func TestOverallAlwaysInUnitInterval(t *testing.T) {
	agg, err := NewAggregator([]Weight{
		{Name: "trend", Weight: 0.4},
		{Name: "momentum", Weight: 0.35},
		{Name: "money_pressure", Weight: 0.25},
		{Name: "structure", Weight: 0.1},
	}, 0.7, 0.3)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		s := SubScores{
			Trend: rng.Float64()*4 - 2, TrendOK: true,
			Momentum: rng.Float64()*4 - 2, MomentumOK: true,
			MoneyPressure: rng.Float64()*4 - 2, MoneyPressureOK: true,
			Structure: rng.Intn(3) - 1, StructureOK: true,
		}
		c, ok := agg.Aggregate(s)
		require.True(t, ok)
		assert.GreaterOrEqual(t, c.Overall, 0.0)
		assert.LessOrEqual(t, c.Overall, 1.0)
	}
}

func TestBiasBands(t *testing.T) {
	agg, err := NewAggregatorFromConfig(scoringConfig())
	require.NoError(t, err)
	assert.Equal(t, BiasLong, agg.Bias(Confluence{Overall: 0.71}))
	assert.Equal(t, BiasNeutral, agg.Bias(Confluence{Overall: 0.7}))
	assert.Equal(t, BiasNeutral, agg.Bias(Confluence{Overall: 0.5}))
	assert.Equal(t, BiasNeutral, agg.Bias(Confluence{Overall: 0.3}))
	assert.Equal(t, BiasShort, agg.Bias(Confluence{Overall: 0.29}))
}

func TestAggregatorValidation(t *testing.T) {
	_, err := NewAggregator(nil, 0.7, 0.3)
	assert.Error(t, err)
	_, err = NewAggregator([]Weight{{Name: "trend", Weight: 1}}, 0.3, 0.7)
	assert.Error(t, err)
	_, err = NewAggregator([]Weight{{Name: "luck", Weight: 1}}, 0.7, 0.3)
	assert.ErrorContains(t, err, "unknown sub-score")
	_, err = NewAggregator([]Weight{{Name: "trend", Weight: 1}, {Name: "TREND", Weight: 1}}, 0.7, 0.3)
	assert.ErrorContains(t, err, "wired twice")
	_, err = NewAggregator([]Weight{{Name: "trend", Weight: 0}}, 0.7, 0.3)
	assert.Error(t, err)
}

func TestStructureCalculatorSigns(t *testing.T) {
	for in, want := range map[float64]float64{0.5: 1, -0.2: -1, 0: 0} {
		got, ok := StructureCalculator{}.Compute(vector(map[string]float64{feature.StructureDirection: in}))
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := StructureCalculator{}.Compute(vector(nil))
	assert.False(t, ok)
}
