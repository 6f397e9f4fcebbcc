package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence/internal/config"
	"confluence/internal/engine"
	"confluence/internal/market"
	"confluence/internal/market/markettest"
	"confluence/internal/prediction"
	"confluence/internal/store"
)

type collector struct {
	mu  sync.Mutex
	got []engine.Decision
}

func (c *collector) Handle(_ context.Context, d engine.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, d)
	return nil
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func loadConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := `
data:
  root: ` + filepath.Join(dir, "candles") + `
  instruments: [BTCUSDT, ETHUSDT]
  timeframe: 1h
engine:
  run_immediately: true
sentiment:
  enabled: false
http:
  enabled: false
store:
  path: ` + filepath.Join(dir, "decisions.db") + `
publish:
  enabled: true
  brokers: ["localhost:9092"]
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func seedCandles(t *testing.T, root string, n int) *market.Store {
	t.Helper()
	s, err := market.NewStore(root)
	require.NoError(t, err)
	for i, inst := range []string{"BTCUSDT", "ETHUSDT"} {
		_, err := s.InsertCandles(context.Background(), inst, "1h", markettest.Trend(n, 0.001, int64(i+1)))
		require.NoError(t, err)
	}
	return s
}

func TestReplayPersistsAndPublishes(t *testing.T) {
	cfg := loadConfig(t, "")
	candles := seedCandles(t, cfg.Data.Root, 320)
	pub := &collector{}

	a, err := NewApp(context.Background(), cfg,
		WithCandleStore(candles),
		WithPredictions(prediction.NewMemorySource()),
		WithPublisher(pub))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sum, err := a.Replay(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Instruments, 2)
	assert.Empty(t, sum.Failed())
	assert.Equal(t, 320, sum.Instruments["BTCUSDT"].Steps)
	assert.Equal(t, 320, sum.Instruments["BTCUSDT"].Actions["HOLD"], "no predictions means no entries")
	assert.Equal(t, 640, pub.Len())

	stored, err := a.Store().ListDecisions(context.Background(), store.Query{Instrument: "ETHUSDT", Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, stored, 320)

	// 重放覆盖同一批决策 ID
	_, err = a.Replay(context.Background())
	require.NoError(t, err)
	stored, err = a.Store().ListDecisions(context.Background(), store.Query{Instrument: "ETHUSDT", Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, stored, 320)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	cfg := loadConfig(t, "")
	candles := seedCandles(t, cfg.Data.Root, 320)
	pub := &collector{}
	a, err := NewApp(context.Background(), cfg,
		WithCandleStore(candles),
		WithPredictions(prediction.NewMemorySource()),
		WithPublisher(pub))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	a.Summary = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.Len() == 2 }, 10*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	positions, err := a.Store().Positions(context.Background(), a.deps.Strategy)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	last := markettest.Start.Add(319 * time.Hour)
	assert.True(t, positions["BTCUSDT"].LastStep.Equal(last), "cold start steps only the newest closed candle")
}

func TestBuildRejectsUnknownProducer(t *testing.T) {
	cfg := loadConfig(t, `
features:
  producers:
    - name: no_such_producer
`)
	_, err := NewApp(context.Background(), cfg, WithPredictions(prediction.NewMemorySource()), WithPublisher(&collector{}))
	assert.ErrorContains(t, err, "no_such_producer")
}

func TestSummaryAndHealth(t *testing.T) {
	cfg := loadConfig(t, "")
	a, err := NewApp(context.Background(), cfg,
		WithCandleStore(seedCandles(t, cfg.Data.Root, 10)),
		WithPredictions(prediction.NewMemorySource()),
		WithPublisher(&collector{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	var buf bytes.Buffer
	a.Summary.Print(&buf)
	assert.Contains(t, buf.String(), "confluence@v1")
	assert.Contains(t, buf.String(), "kafka:confluence.decisions")

	h := a.health()
	assert.Equal(t, "confluence@v1", h["strategy"])
	assert.Equal(t, a.deps.Normalizer.Schema().Fingerprint(), h["schema"])
	assert.NotContains(t, h, "sentiment")
}
