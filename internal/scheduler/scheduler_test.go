package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		" 4H": 4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseInterval(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", "h", "0h", "-1h", "1x", "abc"} {
		_, err := ParseInterval(raw)
		assert.Error(t, err, raw)
	}
}

func TestNextTimes(t *testing.T) {
	s := NewAligned("test", time.Hour, 30*time.Second)
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	closeAt, wakeAt, wait := s.NextTimes(base.Add(10 * time.Second))
	assert.Equal(t, base, closeAt, "still inside the offset of the bar that just closed")
	assert.Equal(t, base.Add(30*time.Second), wakeAt)
	assert.Equal(t, 20*time.Second, wait)

	closeAt, wakeAt, _ = s.NextTimes(base.Add(30 * time.Second))
	assert.Equal(t, base.Add(time.Hour), closeAt)
	assert.Equal(t, base.Add(time.Hour+30*time.Second), wakeAt)

	closeAt, _, _ = s.NextTimes(base.Add(45 * time.Minute))
	assert.Equal(t, base.Add(time.Hour), closeAt)
}

func TestRunFiresOnBoundaries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2025, 1, 1, 10, 20, 0, 0, time.UTC)
	s := NewAligned("test", time.Hour, 5*time.Second)
	s.nowFn = func() time.Time { return now }
	s.afterFn = func(d time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		if ctx.Err() != nil {
			return nil
		}
		now = now.Add(d)
		ch <- now
		return ch
	}

	var closes []time.Time
	err := s.Run(ctx, func(_ context.Context, closedAt time.Time) {
		closes = append(closes, closedAt)
		if len(closes) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, closes, 3)
	assert.Equal(t, time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC), closes[0])
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), closes[1])
	assert.Equal(t, time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC), closes[2])
}

func TestRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAligned("test", time.Hour, 0)
	s.RunImmediately = true
	s.nowFn = func() time.Time { return time.Date(2025, 1, 1, 10, 20, 0, 0, time.UTC) }

	var first time.Time
	err := s.Run(ctx, func(_ context.Context, closedAt time.Time) {
		first = closedAt
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), first)
}

func TestRunRejectsBadInterval(t *testing.T) {
	s := NewAligned("bad", 0, 0)
	assert.Error(t, s.Run(context.Background(), func(context.Context, time.Time) {}))
}
