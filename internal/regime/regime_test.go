package regime

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"confluence/internal/feature"
	"confluence/internal/market/markettest"
)

var defaultClassifier = Classifier{TrendADX: 25, TrendWidth: 0.04, SidewayADX: 20, SidewayWidth: 0.02}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		adx   float64
		width float64
		want  Regime
	}{
		{"strong trend", 30, 0.05, Trend},
		{"trend needs width", 30, 0.03, Volatile},
		{"quiet range", 15, 0.01, Sideway},
		{"boundary adx is not trend", 25, 0.05, Volatile},
		{"boundary sideway", 20, 0.01, Volatile},
		{"in between", 22, 0.03, Volatile},
		{"nan adx", math.NaN(), 0.01, Volatile},
		{"nan width", 30, math.NaN(), Volatile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, defaultClassifier.Classify(tc.adx, tc.width))
		})
	}
}

func TestClassifyTotalAndDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		adx := rng.Float64() * 100
		width := rng.Float64() * 0.1
		got := defaultClassifier.Classify(adx, width)
		assert.Equal(t, got, defaultClassifier.Classify(adx, width))

		isTrend := adx > 25 && width > 0.04
		isSideway := adx < 20 && width < 0.02
		assert.False(t, isTrend && isSideway)
		switch {
		case isTrend:
			assert.Equal(t, Trend, got)
		case isSideway:
			assert.Equal(t, Sideway, got)
		default:
			assert.Equal(t, Volatile, got)
		}
	}
}

func TestFromVectorMissingInputs(t *testing.T) {
	v := feature.NewVector("BTCUSDT", markettest.Start, map[string]float64{feature.ADX: 30})
	r, ok := defaultClassifier.FromVector(v)
	assert.False(t, ok)
	assert.Equal(t, Volatile, r)

	v = feature.NewVector("BTCUSDT", markettest.Start, map[string]float64{feature.ADX: 30, feature.BBWidth: 0.06})
	r, ok = defaultClassifier.FromVector(v)
	assert.True(t, ok)
	assert.Equal(t, Trend, r)
}

func TestExtreme(t *testing.T) {
	v := feature.NewVector("BTCUSDT", markettest.Start, map[string]float64{feature.ATRPct: 0.09})
	extreme, ok := defaultClassifier.Extreme(v)
	assert.True(t, ok)
	assert.False(t, extreme, "disabled when threshold is zero")

	c := defaultClassifier
	c.ChaosATRPct = 0.08
	extreme, ok = c.Extreme(v)
	assert.True(t, ok)
	assert.True(t, extreme)

	_, ok = c.Extreme(feature.NewVector("BTCUSDT", markettest.Start, nil))
	assert.False(t, ok)
}

func TestRegimeString(t *testing.T) {
	assert.Equal(t, "TREND", Trend.String())
	assert.Equal(t, "SIDEWAY", Sideway.String())
	assert.Equal(t, "VOLATILE", Volatile.String())
	text, err := Sideway.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "SIDEWAY", string(text))
}
