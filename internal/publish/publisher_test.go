package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"confluence/internal/config"
	"confluence/internal/engine"
	"confluence/internal/signal"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

var ts = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func decision(action signal.Action) engine.Decision {
	return engine.Decision{
		ID:          engine.DecisionID("confluence@v1", "BTCUSDT", "1h", ts),
		RunID:       engine.LiveRunID,
		Strategy:    "confluence@v1",
		Instrument:  "BTCUSDT",
		Timeframe:   "1h",
		Timestamp:   ts,
		Action:      action,
		Price:       100,
		StoplossPct: -0.02,
		Leverage:    10,
	}
}

func TestPublishEntryDecision(t *testing.T) {
	w := new(MockWriter)
	p := newWithWriter(w, "decisions")
	p.clock = func() time.Time { return ts }

	d := decision(signal.EnterLong)
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 {
			return false
		}
		var got engine.Decision
		if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
			return false
		}
		pair := ""
		for _, h := range msgs[0].Headers {
			if h.Key == "pair" {
				pair = string(h.Value)
			}
		}
		return string(msgs[0].Key) == "BTCUSDT" && pair == "BTC/USDT:USDT" &&
			got.ID == d.ID && got.Action == signal.EnterLong && msgs[0].Time.Equal(ts)
	})).Return(nil).Once()

	require.NoError(t, p.Handle(context.Background(), d))
	w.AssertExpectations(t)
}

func TestHoldIsSkippedByDefault(t *testing.T) {
	w := new(MockWriter)
	p := newWithWriter(w, "decisions")

	require.NoError(t, p.Handle(context.Background(), decision(signal.Hold)))
	w.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)

	w.On("WriteMessages", mock.Anything, mock.Anything).Return(nil).Once()
	withHolds := newWithWriter(w, "decisions", WithHolds(true))
	require.NoError(t, withHolds.Handle(context.Background(), decision(signal.Hold)))
	w.AssertExpectations(t)
}

func TestWriteErrorIsWrapped(t *testing.T) {
	w := new(MockWriter)
	boom := errors.New("broker unavailable")
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(boom)
	p := newWithWriter(w, "decisions")

	err := p.Handle(context.Background(), decision(signal.ExitShort))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "BTCUSDT")
}

func TestClose(t *testing.T) {
	w := new(MockWriter)
	w.On("Close").Return(nil).Once()
	require.NoError(t, newWithWriter(w, "decisions").Close())
	w.AssertExpectations(t)

	var nilPub *Publisher
	assert.NoError(t, nilPub.Close())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(config.PublishConfig{Topic: "decisions"})
	assert.Error(t, err)
	_, err = New(config.PublishConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := New(config.PublishConfig{Brokers: []string{" localhost:9092 "}, Topic: "decisions", Compression: "zstd"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Gzip, parseCompression(""))
	assert.Equal(t, kafka.Snappy, parseCompression("SNAPPY"))
	assert.Equal(t, kafka.Lz4, parseCompression("lz4"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Compression(0), parseCompression("none"))
}
