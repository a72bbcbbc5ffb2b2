/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tocket

import (
	"fmt"
	"time"
)

// State is the persisted state of a token bucket.
// Fields are exported so that external storages can save and load it.
type State struct {
	// Cap is the maximum number of tokens the bucket can hold.
	Cap uint32

	// AvailableTokens is the current number of tokens, always in [0, Cap].
	AvailableTokens uint32

	// LastRefill is the time up to which refill has already been accounted.
	// It advances by whole refill ticks only and is never reset to "now",
	// otherwise fractional remainders would be lost on every refill.
	LastRefill time.Time

	// RefillTick is the interval after which one token is added, 1s/rps.
	RefillTick time.Duration
}

// maxRPSLimit caps the rps limit at one token per nanosecond: a higher rate
// would truncate RefillTick to zero and break the refill arithmetic.
const maxRPSLimit = uint32(time.Second / time.Nanosecond)

// NewState creates a full bucket state with capacity and refill rate derived
// from the requests-per-second limit.
func NewState(rpsLimit uint32, now time.Time) (State, error) {
	if rpsLimit < 1 {
		return State{}, fmt.Errorf("rps limit must be >= 1, got %d", rpsLimit)
	}
	if rpsLimit > maxRPSLimit {
		return State{}, fmt.Errorf("rps limit must be <= %d, got %d", maxRPSLimit, rpsLimit)
	}
	return State{
		Cap:             rpsLimit,
		AvailableTokens: rpsLimit,
		LastRefill:      now,
		RefillTick:      time.Second / time.Duration(rpsLimit),
	}, nil
}

// AcquireMode defines how TokenBucketAlgorithm treats the requested permits.
type AcquireMode int

const (
	// AcquireExact acquires exactly the requested number of permits or fails.
	AcquireExact AcquireMode = iota

	// AcquireUpToAll acquires min(requested, available) permits and never fails.
	// It is used for applying replicated debits where there is no caller
	// to report an error to.
	AcquireUpToAll
)

// TokenBucketAlgorithm is a pure transform over State implementing
// the token bucket algorithm. Storages apply it atomically against
// their persisted State representation.
type TokenBucketAlgorithm struct {
	Mode AcquireMode
}

// TryAcquire refills the state up to now and then debits permits from it
// according to the mode.
//
// In AcquireExact mode it returns ErrRateLimitExceeded if there are not enough
// tokens; the state is still mutated by the refill, but not by the debit.
func (a TokenBucketAlgorithm) TryAcquire(state *State, permits uint32, now time.Time) error {
	refillState(state, now)

	switch a.Mode {
	case AcquireUpToAll:
		if permits > state.AvailableTokens {
			permits = state.AvailableTokens
		}
		state.AvailableTokens -= permits
		return nil
	default:
		if state.AvailableTokens < permits {
			return ErrRateLimitExceeded
		}
		state.AvailableTokens -= permits
		return nil
	}
}

// refillState adds one token per whole refill tick elapsed since the last refill.
// The boundary rule is fixed: exactly one elapsed tick grants nothing,
// refill happens only when the elapsed time strictly exceeds the tick.
func refillState(state *State, now time.Time) {
	elapsed := now.Sub(state.LastRefill)
	if elapsed <= state.RefillTick {
		return
	}

	ticks := int64(elapsed / state.RefillTick)

	newAvailable := uint64(state.AvailableTokens) + uint64(ticks)
	if newAvailable > uint64(state.Cap) {
		newAvailable = uint64(state.Cap)
	}
	state.AvailableTokens = uint32(newAvailable)
	state.LastRefill = state.LastRefill.Add(time.Duration(ticks) * state.RefillTick)
}
