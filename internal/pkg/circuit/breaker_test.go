package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("fng", 2, time.Minute)
	b.SetClock(func() time.Time { return now })
	var changes []string
	b.OnStateChange(func(_ string, from, to State) { changes = append(changes, from.String()+">"+to.String()) })

	boom := errors.New("boom")
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"CLOSED>OPEN", "OPEN>HALF-OPEN", "HALF-OPEN>CLOSED"}, changes)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("fng", 1, time.Second)
	b.SetClock(func() time.Time { return now })
	b.OnStateChange(func(string, State, State) {})
	b.RecordFailure()
	assert.False(t, b.Allow())
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}
