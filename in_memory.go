/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tocket

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// InMemoryStorage keeps the bucket State in memory behind a mutex.
// It never blocks beyond lock contention and does no I/O.
type InMemoryStorage struct {
	mu      sync.Mutex
	state   State
	clock   clockwork.Clock
	metrics MetricsCollector
}

// InMemoryStorageOption configures InMemoryStorage.
type InMemoryStorageOption func(*InMemoryStorage)

// WithInMemoryStorageClock sets the clock used for refill accounting.
// Intended mostly for tests; defaults to the real clock.
func WithInMemoryStorageClock(clock clockwork.Clock) InMemoryStorageOption {
	return func(s *InMemoryStorage) {
		s.clock = clock
	}
}

// WithInMemoryStorageMetrics sets the collector that observes acquire outcomes.
// The collector is called synchronously under the storage lock, so that the
// reported available-tokens values follow the order of state changes;
// it must not block.
func WithInMemoryStorageMetrics(mc MetricsCollector) InMemoryStorageOption {
	return func(s *InMemoryStorage) {
		s.metrics = mc
	}
}

// NewInMemoryStorage creates in-memory storage with a full bucket.
// rpsLimit must be >= 1, otherwise an error is returned.
func NewInMemoryStorage(rpsLimit uint32, opts ...InMemoryStorageOption) (*InMemoryStorage, error) {
	s := &InMemoryStorage{
		clock:   clockwork.NewRealClock(),
		metrics: disabledMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	state, err := NewState(rpsLimit, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.state = state
	return s, nil
}

// TryAcquire implements the Storage interface.
func (s *InMemoryStorage) TryAcquire(alg TokenBucketAlgorithm, permits uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := alg.TryAcquire(&s.state, permits, s.clock.Now())
	s.metrics.SetAvailableTokens(int(s.state.AvailableTokens))
	if err != nil {
		s.metrics.IncRateLimitExceeded()
		return err
	}
	s.metrics.IncAcquired()
	return nil
}

// State returns a snapshot of the current bucket state.
func (s *InMemoryStorage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
