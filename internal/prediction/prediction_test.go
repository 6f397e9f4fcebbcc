package prediction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"confluence/internal/feature"
)

var ts0 = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func TestParseRecord(t *testing.T) {
	p, err := ParseRecord(`{"instrument":"btcusdt","ts":"2025-02-01T12:00:00Z","expected_return":0.031,"confidence":0.82,"model_version":"m-7"}`)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", p.Instrument)
	assert.Equal(t, ts0, p.Timestamp)
	assert.Equal(t, 0.031, p.ExpectedReturn)
	require.NotNil(t, p.Confidence)
	assert.Equal(t, 0.82, *p.Confidence)
	assert.Equal(t, "m-7", p.ModelVersion)

	p, err = ParseRecord(`{"instrument":"ETHUSDT","ts":1738411200000,"expected_return":-0.02,"confidence":null}`)
	require.NoError(t, err)
	assert.Equal(t, ts0, p.Timestamp)
	assert.Nil(t, p.Confidence)
	assert.Empty(t, p.ModelVersion)
}

func TestParseRecordRejectsInvalid(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"instrument":"BTCUSDT","ts":"2025-02-01T12:00:00Z"}`,
		`{"instrument":"","ts":"2025-02-01T12:00:00Z","expected_return":0.1}`,
		`{"instrument":"BTCUSDT","ts":"2025-02-01T12:00:00Z","expected_return":"0.1"}`,
		`{"instrument":"BTCUSDT","ts":"2025-02-01T12:00:00Z","expected_return":0.1,"confidence":1.5}`,
		`{"instrument":"BTCUSDT","ts":"yesterday","expected_return":0.1}`,
	} {
		_, err := ParseRecord(raw)
		assert.Error(t, err, raw)
	}
}

func TestReadJSONL(t *testing.T) {
	input := strings.Join([]string{
		`{"instrument":"BTCUSDT","ts":"2025-02-01T12:00:00Z","expected_return":0.03,"model_version":"m-1"}`,
		``,
		`{"instrument":"BTCUSDT","ts":"2025-02-01T13:00:00Z","expected_return":-0.01,"model_version":"m-1"}`,
		`{"instrument":"ETHUSDT","ts":"2025-02-01T12:00:00Z","expected_return":0.0,"model_version":"m-1"}`,
	}, "\n")
	src, err := ReadJSONL(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, src.Instruments())

	p, ok, err := src.Prediction(context.Background(), "btcusdt", ts0.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -0.01, p.ExpectedReturn)

	_, ok, _ = src.Prediction(context.Background(), "BTCUSDT", ts0.Add(2*time.Hour))
	assert.False(t, ok, "no look-ahead fill from other timestamps")
}

func TestReadJSONLReportsLine(t *testing.T) {
	input := `{"instrument":"BTCUSDT","ts":"2025-02-01T12:00:00Z","expected_return":0.03}
{"instrument":"BTCUSDT","ts":1738411200000,"expected_return":0.04}`
	_, err := ReadJSONL(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "duplicate")
}

func TestJSONLSourceFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"instrument":"SOLUSDT","ts":"2025-02-01T12:00:00Z","expected_return":0.05}`+"\n"), 0o644))
	src, err := NewJSONLSource(path)
	require.NoError(t, err)
	assert.Equal(t, path, src.Path())
	_, ok, err := src.Prediction(context.Background(), "SOLUSDT", ts0)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewJSONLSource(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

var modelFeatures = []string{feature.RSI, feature.RSINorm, feature.ATRPct}

func writeManifest(t *testing.T, path string, m Manifest) {
	t.Helper()
	raw, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestManifestParse(t *testing.T) {
	m, err := ParseManifest([]byte(`
model_version: lgbm-2025-02
feature_schema: [rsi, rsi_norm, atr_pct]
trained_at: 2025-02-01T00:00:00Z
`))
	require.NoError(t, err)
	assert.Equal(t, "lgbm-2025-02", m.ModelVersion)
	assert.Equal(t, modelFeatures, m.FeatureSchema)

	_, err = ParseManifest([]byte("model_version: x\nfeature_schema: [rsi]\nlearning_rate: 0.1\n"))
	assert.Error(t, err, "unknown fields rejected")

	_, err = ParseManifest([]byte("model_version: x\nfeature_schema: []\n"))
	assert.Error(t, err)

	_, err = ParseManifest([]byte("model_version: x\nfeature_schema: [rsi]\nfingerprint: nothex\n"))
	assert.Error(t, err)
}

func TestCheckCompatible(t *testing.T) {
	schema := feature.NewSchema(modelFeatures)
	m := Manifest{ModelVersion: "m-1", FeatureSchema: []string{feature.ATRPct, feature.RSI, feature.RSINorm}}
	assert.NoError(t, CheckCompatible(m, schema), "order does not matter")

	m.Fingerprint = feature.Fingerprint(m.FeatureSchema)
	assert.NoError(t, CheckCompatible(m, schema))

	m.Fingerprint = strings.Repeat("0", 64)
	assert.True(t, errors.Is(CheckCompatible(m, schema), ErrSchemaMismatch))

	m = Manifest{ModelVersion: "m-2", FeatureSchema: []string{feature.RSI, feature.CMF}}
	err := CheckCompatible(m, schema)
	require.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.Contains(t, err.Error(), "not produced: cmf")
	assert.Contains(t, err.Error(), "not in model: atr_pct,rsi_norm")

	m = Manifest{ModelVersion: "m-3", FeatureSchema: []string{feature.RSI, feature.RSI, feature.ATRPct, feature.RSINorm}}
	err = CheckCompatible(m, schema)
	require.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.NotContains(t, err.Error(), "()")
	assert.Contains(t, err.Error(), "model="+feature.Fingerprint(m.FeatureSchema))
	assert.Contains(t, err.Error(), "schema="+schema.Fingerprint())
}

func TestWatcherRejectsIncompatibleSwap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	writeManifest(t, path, Manifest{ModelVersion: "m-1", FeatureSchema: modelFeatures})
	w, err := NewWatcher(path, feature.NewSchema(modelFeatures), false)
	require.NoError(t, err)
	assert.Equal(t, "m-1", w.Current().Manifest.ModelVersion)

	writeManifest(t, path, Manifest{ModelVersion: "m-2", FeatureSchema: []string{feature.RSI}})
	err = w.Reload()
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.Equal(t, "m-1", w.Current().Manifest.ModelVersion)

	changed := make(chan Snapshot, 1)
	w.OnChange(func(s Snapshot) { changed <- s })
	writeManifest(t, path, Manifest{ModelVersion: "m-3", FeatureSchema: modelFeatures})
	require.NoError(t, w.Reload())
	select {
	case s := <-changed:
		assert.Equal(t, "m-3", s.Manifest.ModelVersion)
		assert.Equal(t, int64(2), s.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}

	_, err = NewWatcher(path, feature.NewSchema([]string{feature.CMF}), false)
	assert.True(t, errors.Is(err, ErrSchemaMismatch), "startup hard-fails on mismatch")
}

func TestGuardedRejectsOtherModelVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	writeManifest(t, path, Manifest{ModelVersion: "m-1", FeatureSchema: modelFeatures})
	w, err := NewWatcher(path, feature.NewSchema(modelFeatures), false)
	require.NoError(t, err)

	mem := NewMemorySource()
	require.NoError(t, mem.Add(Prediction{Instrument: "BTCUSDT", Timestamp: ts0, ExpectedReturn: 0.03, ModelVersion: "m-1"}))
	require.NoError(t, mem.Add(Prediction{Instrument: "BTCUSDT", Timestamp: ts0.Add(time.Hour), ExpectedReturn: 0.03, ModelVersion: "m-0"}))

	src := Guarded{Source: mem, Acceptor: w}
	p, ok, err := src.Prediction(context.Background(), "BTCUSDT", ts0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "m-1", p.ModelVersion)

	_, ok, err = src.Prediction(context.Background(), "BTCUSDT", ts0.Add(time.Hour))
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrModelVersion))

	_, ok, err = src.Prediction(context.Background(), "BTCUSDT", ts0.Add(2*time.Hour))
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestMemorySourceValidation(t *testing.T) {
	mem := NewMemorySource()
	assert.Error(t, mem.Add(Prediction{Timestamp: ts0}))
	assert.Error(t, mem.Add(Prediction{Instrument: "BTCUSDT"}))
}
