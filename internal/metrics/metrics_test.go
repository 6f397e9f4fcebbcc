package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence/internal/engine"
	"confluence/internal/gate"
	"confluence/internal/pkg/circuit"
	"confluence/internal/signal"
)

var ts = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHandleCountsDecisions(t *testing.T) {
	r := New("")
	overall := 0.7
	d := engine.Decision{
		Instrument:   "BTCUSDT",
		Timestamp:    ts,
		Action:       signal.EnterShort,
		Position:     signal.Short,
		OverallScore: &overall,
		Warnings:     []string{"sentiment reading is stale"},
		Checks: []gate.Check{
			{Group: gate.GroupEntryLong, Name: "prediction", Passed: false},
			{Group: gate.GroupEntryLong, Name: "confluence", Passed: false, Missing: true},
			{Group: gate.GroupEntryShort, Name: "prediction", Passed: true},
		},
	}
	require.NoError(t, r.Handle(context.Background(), d))
	require.NoError(t, r.Handle(context.Background(), engine.Decision{Instrument: "BTCUSDT", Timestamp: ts.Add(time.Hour), Error: "boom"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("BTCUSDT", "ENTER_SHORT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("BTCUSDT", "HOLD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.warnings.WithLabelValues("BTCUSDT", "sentiment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.checksFailed.WithLabelValues(gate.GroupEntryLong, "confluence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.missingInputs.WithLabelValues(gate.GroupEntryLong, "confluence")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.missingInputs.WithLabelValues(gate.GroupEntryLong, "prediction")))
	assert.Equal(t, 0.7, testutil.ToFloat64(r.overall.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.position.WithLabelValues("BTCUSDT")), "second decision is flat")
	assert.Equal(t, float64(ts.Add(time.Hour).Unix()), testutil.ToFloat64(r.lastDecision.WithLabelValues("BTCUSDT")))
}

func TestObserveRunAndBreaker(t *testing.T) {
	r := New("test")
	r.ObserveRun("replay", engine.Summary{Elapsed: 2 * time.Second, SinkErrors: 3})
	assert.Equal(t, 3.0, testutil.ToFloat64(r.sinkErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runDuration))

	b := circuit.New("feargreed", 1, time.Minute)
	r.TrackBreaker(b, "feargreed")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.breakerState.WithLabelValues("feargreed")))
	b.RecordFailure()
	assert.Equal(t, float64(circuit.StateOpen), testutil.ToFloat64(r.breakerState.WithLabelValues("feargreed")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	r := New("confluence_test")
	r.GaugeFunc("sentiment_age_seconds", "Age of the latest sentiment reading",
		AgeSeconds(func() time.Time { return ts.Add(time.Hour) }, func() time.Time { return ts }))
	require.NoError(t, r.Handle(context.Background(), engine.Decision{Instrument: "ETHUSDT", Timestamp: ts}))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `confluence_test_decisions_total{action="HOLD",instrument="ETHUSDT"} 1`)
	assert.Contains(t, string(body), "confluence_test_sentiment_age_seconds 3600")
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(""), New("")
	require.NoError(t, a.Handle(context.Background(), engine.Decision{Instrument: "BTCUSDT"}))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.decisions.WithLabelValues("BTCUSDT", "HOLD")))
}

func TestAgeSecondsZero(t *testing.T) {
	fn := AgeSeconds(time.Now, func() time.Time { return time.Time{} })
	assert.Equal(t, -1.0, fn())
}

func TestWarningKind(t *testing.T) {
	assert.Equal(t, "prediction", warningKind("prediction rejected: model version"))
	assert.Equal(t, "conflict", warningKind("gate: conflict"))
	assert.Equal(t, "features", warningKind("insufficient history: vsa"))
	assert.Equal(t, "other", warningKind("?"))
}
