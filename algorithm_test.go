/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("full bucket with derived refill tick", func(t *testing.T) {
		state, err := NewState(4, now)
		require.NoError(t, err)
		require.Equal(t, uint32(4), state.Cap)
		require.Equal(t, uint32(4), state.AvailableTokens)
		require.Equal(t, now, state.LastRefill)
		require.Equal(t, time.Millisecond*250, state.RefillTick)
	})

	t.Run("zero rps fails construction", func(t *testing.T) {
		_, err := NewState(0, now)
		require.Error(t, err)
		require.Contains(t, err.Error(), "rps limit must be >= 1")
	})

	t.Run("one token per nanosecond is the highest allowed rate", func(t *testing.T) {
		state, err := NewState(1_000_000_000, now)
		require.NoError(t, err)
		require.Equal(t, time.Nanosecond, state.RefillTick)
	})

	t.Run("rps above one token per nanosecond fails construction", func(t *testing.T) {
		// A higher rate would truncate the tick to zero and the first
		// refill with positive elapsed time would divide by it.
		_, err := NewState(2_000_000_000, now)
		require.Error(t, err)
		require.Contains(t, err.Error(), "rps limit must be <=")

		state, err := NewState(1_000_000_000, now)
		require.NoError(t, err)
		require.NotPanics(t, func() {
			alg := TokenBucketAlgorithm{Mode: AcquireExact}
			require.NoError(t, alg.TryAcquire(&state, 1, now.Add(time.Millisecond)))
		})
	})
}

func TestAlgorithmRefillBoundary(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alg := TokenBucketAlgorithm{Mode: AcquireExact}

	newDrainedState := func(t *testing.T) State {
		state, err := NewState(2, now) // tick = 500ms
		require.NoError(t, err)
		require.NoError(t, alg.TryAcquire(&state, 2, now))
		require.Equal(t, uint32(0), state.AvailableTokens)
		return state
	}

	t.Run("exactly one tick elapsed grants nothing", func(t *testing.T) {
		state := newDrainedState(t)
		require.Error(t, alg.TryAcquire(&state, 1, now.Add(time.Millisecond*500)))
		require.Equal(t, uint32(0), state.AvailableTokens)
		require.Equal(t, now, state.LastRefill)
	})

	t.Run("just over one tick grants one token", func(t *testing.T) {
		state := newDrainedState(t)
		require.NoError(t, alg.TryAcquire(&state, 1, now.Add(time.Millisecond*500+time.Nanosecond)))
		require.Equal(t, uint32(0), state.AvailableTokens)
		require.Equal(t, now.Add(time.Millisecond*500), state.LastRefill)
	})

	t.Run("whole ticks only, remainder is kept for the next refill", func(t *testing.T) {
		state := newDrainedState(t)
		// 1.75s elapsed = 3 whole ticks and a 250ms remainder.
		err := alg.TryAcquire(&state, 0, now.Add(time.Millisecond*1750))
		require.NoError(t, err)
		require.Equal(t, uint32(2), state.AvailableTokens) // capped at 2
		require.Equal(t, now.Add(time.Millisecond*1500), state.LastRefill)
	})

	t.Run("refill is idempotent when no time has elapsed", func(t *testing.T) {
		state := newDrainedState(t)
		at := now.Add(time.Millisecond * 700)
		require.NoError(t, alg.TryAcquire(&state, 0, at))
		afterFirst := state
		require.NoError(t, alg.TryAcquire(&state, 0, at))
		require.Equal(t, afterFirst, state)
	})
}

func TestAlgorithmExactMode(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alg := TokenBucketAlgorithm{Mode: AcquireExact}

	t.Run("succeeds while enough tokens", func(t *testing.T) {
		state, err := NewState(5, now)
		require.NoError(t, err)
		require.NoError(t, alg.TryAcquire(&state, 3, now))
		require.Equal(t, uint32(2), state.AvailableTokens)
		require.NoError(t, alg.TryAcquire(&state, 2, now))
		require.Equal(t, uint32(0), state.AvailableTokens)
	})

	t.Run("failure does not debit but persists the refill", func(t *testing.T) {
		state, err := NewState(2, now) // tick = 500ms
		require.NoError(t, err)
		require.NoError(t, alg.TryAcquire(&state, 2, now))

		// 600ms elapsed: one token refilled, three requested.
		err = alg.TryAcquire(&state, 3, now.Add(time.Millisecond*600))
		require.ErrorIs(t, err, ErrRateLimitExceeded)
		require.Equal(t, uint32(1), state.AvailableTokens)
		require.Equal(t, now.Add(time.Millisecond*500), state.LastRefill)
	})
}

func TestAlgorithmUpToAllMode(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alg := TokenBucketAlgorithm{Mode: AcquireUpToAll}

	t.Run("debits the requested amount when available", func(t *testing.T) {
		state, err := NewState(5, now)
		require.NoError(t, err)
		require.NoError(t, alg.TryAcquire(&state, 3, now))
		require.Equal(t, uint32(2), state.AvailableTokens)
	})

	t.Run("never fails, debits all that is left", func(t *testing.T) {
		state, err := NewState(5, now)
		require.NoError(t, err)
		require.NoError(t, alg.TryAcquire(&state, 100, now))
		require.Equal(t, uint32(0), state.AvailableTokens)
		require.NoError(t, alg.TryAcquire(&state, 100, now))
		require.Equal(t, uint32(0), state.AvailableTokens)
	})
}

func TestAlgorithmKeepsStateInvariant(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	state, err := NewState(3, now)
	require.NoError(t, err)

	// An arbitrary mixed call sequence must keep 0 <= available <= cap.
	steps := []struct {
		mode    AcquireMode
		permits uint32
		elapsed time.Duration
	}{
		{AcquireExact, 2, 0},
		{AcquireUpToAll, 5, time.Millisecond * 100},
		{AcquireExact, 1, time.Second * 2},
		{AcquireUpToAll, 0, time.Second * 10},
		{AcquireExact, 3, time.Second * 10},
		{AcquireExact, 4, time.Minute},
	}
	at := now
	for _, step := range steps {
		at = at.Add(step.elapsed)
		_ = TokenBucketAlgorithm{Mode: step.mode}.TryAcquire(&state, step.permits, at)
		require.LessOrEqual(t, state.AvailableTokens, state.Cap)
	}
}
