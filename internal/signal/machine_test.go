package signal

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence/internal/risk"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * time.Hour) }

func TestEnterAndExitLong(t *testing.T) {
	m := NewMachine("btcusdt")
	params := risk.Parameters{StoplossPct: -0.04, StakeAmount: 100, Leverage: 5, Tier: "mid"}

	tr, err := m.Step(at(0), Proposal{EnterLong: true, Price: 100, Risk: params})
	require.NoError(t, err)
	assert.Equal(t, EnterLong, tr.Action)
	assert.Equal(t, Flat, tr.From)
	assert.Equal(t, Long, tr.To)
	assert.True(t, tr.Changed())

	st := m.State()
	assert.Equal(t, Long, st.Side)
	assert.Equal(t, 100.0, st.EntryPrice)
	assert.Equal(t, params, st.Risk)
	assert.Equal(t, at(0), st.EntryTime)

	tr, err = m.Step(at(1), Proposal{EnterLong: true, EnterShort: true, Price: 101})
	require.NoError(t, err)
	assert.Equal(t, Hold, tr.Action)
	assert.ElementsMatch(t, []string{"ENTER_LONG:long", "ENTER_SHORT:long"}, tr.Suppressed)
	assert.Equal(t, 100.0, m.State().EntryPrice, "risk and entry are fixed while positioned")

	tr, err = m.Step(at(2), Proposal{ExitShort: true})
	require.NoError(t, err)
	assert.Equal(t, Hold, tr.Action)
	assert.Equal(t, []string{"EXIT_SHORT:long"}, tr.Suppressed)

	tr, err = m.Step(at(3), Proposal{ExitLong: true, EnterLong: true})
	require.NoError(t, err)
	assert.Equal(t, ExitLong, tr.Action)
	assert.Equal(t, Flat, m.State().Side)
	assert.Equal(t, at(3), m.State().LastStep)
}

func TestShortLifecycle(t *testing.T) {
	m := NewMachine("ETHUSDT")
	tr, err := m.Step(at(0), Proposal{EnterShort: true, Price: 50})
	require.NoError(t, err)
	assert.Equal(t, EnterShort, tr.Action)

	tr, err = m.Step(at(1), Proposal{ExitLong: true})
	require.NoError(t, err)
	assert.Equal(t, Hold, tr.Action)

	tr, err = m.Step(at(2), Proposal{ExitShort: true})
	require.NoError(t, err)
	assert.Equal(t, ExitShort, tr.Action)
	assert.Equal(t, Flat, tr.To)
}

func TestFlatIgnoresExitsAndConflicts(t *testing.T) {
	m := NewMachine("BTCUSDT")
	tr, err := m.Step(at(0), Proposal{ExitLong: true, ExitShort: true})
	require.NoError(t, err)
	assert.Equal(t, Hold, tr.Action)
	assert.Len(t, tr.Suppressed, 2)

	tr, err = m.Step(at(1), Proposal{EnterLong: true, EnterShort: true})
	require.NoError(t, err)
	assert.Equal(t, Hold, tr.Action)
	assert.Equal(t, Flat, m.State().Side)
}

func TestRejectsNonIncreasingTimestamps(t *testing.T) {
	m := NewMachine("BTCUSDT")
	_, err := m.Step(at(5), Proposal{EnterLong: true, Price: 10})
	require.NoError(t, err)

	_, err = m.Step(at(5), Proposal{ExitLong: true})
	assert.True(t, errors.Is(err, ErrDuplicateStep))
	_, err = m.Step(at(4), Proposal{ExitLong: true})
	assert.True(t, errors.Is(err, ErrDuplicateStep))
	assert.Equal(t, Long, m.State().Side, "rejected steps do not mutate state")
}

func TestForceFlat(t *testing.T) {
	m := NewMachine("BTCUSDT")
	_, ok := m.ForceFlat(at(0), "stoploss")
	assert.False(t, ok)

	_, err := m.Step(at(1), Proposal{EnterShort: true, Price: 10})
	require.NoError(t, err)
	tr, ok := m.ForceFlat(at(2), "stoploss")
	require.True(t, ok)
	assert.Equal(t, ExitShort, tr.Action)
	assert.Equal(t, "stoploss", tr.Reason)
	assert.Equal(t, Flat, m.State().Side)

	_, err = m.Step(at(2), Proposal{})
	assert.True(t, errors.Is(err, ErrDuplicateStep))
	_, err = m.Step(at(3), Proposal{})
	assert.NoError(t, err)
}

func TestRandomProposalsKeepStateConsistent(t *testing.T) {
	m := NewMachine("BTCUSDT")
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		before := m.State().Side
		p := Proposal{
			EnterLong:  rng.Intn(3) == 0,
			EnterShort: rng.Intn(3) == 0,
			ExitLong:   rng.Intn(4) == 0,
			ExitShort:  rng.Intn(4) == 0,
			Price:      100,
		}
		tr, err := m.Step(at(i), p)
		require.NoError(t, err)
		after := m.State().Side
		switch tr.Action {
		case EnterLong:
			require.Equal(t, Flat, before)
			require.Equal(t, Long, after)
		case EnterShort:
			require.Equal(t, Flat, before)
			require.Equal(t, Short, after)
		case ExitLong:
			require.Equal(t, Long, before)
			require.Equal(t, Flat, after)
		case ExitShort:
			require.Equal(t, Short, before)
			require.Equal(t, Flat, after)
		default:
			require.Equal(t, before, after)
		}
	}
}

func TestBookConcurrentAccess(t *testing.T) {
	b := NewBook()
	var wg sync.WaitGroup
	for _, inst := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		wg.Add(1)
		go func(inst string) {
			defer wg.Done()
			m := b.Machine(inst)
			for i := 0; i < 200; i++ {
				_, err := m.Step(at(i), Proposal{EnterLong: i%2 == 0, ExitLong: i%2 == 1, Price: 1})
				assert.NoError(t, err)
				_ = b.Snapshot()
			}
		}(inst)
	}
	wg.Wait()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, b.Instruments())
	assert.Same(t, b.Machine("btcusdt"), b.Machine("BTCUSDT"))
	for _, st := range b.Snapshot() {
		assert.Equal(t, Flat, st.Side)
	}
}

func TestActionText(t *testing.T) {
	for _, a := range []Action{Hold, EnterLong, EnterShort, ExitLong, ExitShort} {
		parsed, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	_, err := ParseAction("open_long")
	assert.Error(t, err)
	assert.True(t, ExitShort.IsExit())
	assert.True(t, EnterLong.IsEntry())
	assert.False(t, Hold.IsEntry())
	assert.Equal(t, Short, ParseSide("SHORT"))
	assert.Equal(t, Flat, ParseSide(""))
}
