/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package inredis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-tocket"
)

const (
	availableTokensKeySuffix = ":available_tokens"
	lastRefillKeySuffix      = ":last_refill"
)

// Default parameters of the optimistic-transaction retry.
const (
	DefaultRetryInitialInterval = time.Millisecond * 5
	DefaultRetryMaxAttempts     = 8
)

// Storage keeps the bucket state in Redis under two keys derived from the
// configured prefix: "<prefix>:available_tokens" and "<prefix>:last_refill"
// (the latter holds unix nanoseconds). Absent keys are read as a full bucket.
//
// The algorithm is applied atomically via an optimistic WATCH/MULTI/EXEC
// transaction; conflicts with concurrent writers are retried with backoff.
type Storage struct {
	client             redis.UniversalClient
	availableTokensKey string
	lastRefillKey      string
	cap                uint32
	refillTick         time.Duration
	clock              clockwork.Clock
	logger             log.FieldLogger
	retryPolicy        retry.Policy
}

// Option configures Storage.
type Option func(*Storage)

// WithClock sets the clock used for refill accounting. Intended mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Storage) {
		s.clock = clock
	}
}

// WithLogger sets the logger for transaction retries.
func WithLogger(logger log.FieldLogger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// WithRetryPolicy overrides the backoff policy used to retry conflicted transactions.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Storage) {
		s.retryPolicy = policy
	}
}

// New creates Redis-backed storage. rpsLimit must be >= 1, otherwise an error
// is returned. The client is not owned by the storage and is not closed by it.
func New(client redis.UniversalClient, keysPrefix string, rpsLimit uint32, opts ...Option) (*Storage, error) {
	s := &Storage{
		client:             client,
		availableTokensKey: keysPrefix + availableTokensKeySuffix,
		lastRefillKey:      keysPrefix + lastRefillKeySuffix,
		clock:              clockwork.NewRealClock(),
		logger:             log.NewDisabledLogger(),
		retryPolicy: retry.PolicyFunc(func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = DefaultRetryInitialInterval
			return backoff.WithMaxRetries(eb, DefaultRetryMaxAttempts)
		}),
	}
	for _, opt := range opts {
		opt(s)
	}

	state, err := tocket.NewState(rpsLimit, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.cap = state.Cap
	s.refillTick = state.RefillTick

	return s, nil
}

// TryAcquire implements the tocket.Storage interface.
func (s *Storage) TryAcquire(alg tocket.TokenBucketAlgorithm, permits uint32) error {
	return s.TryAcquireContext(context.Background(), alg, permits)
}

// TryAcquireContext is TryAcquire with the context propagated to Redis commands
// and to the retry loop.
func (s *Storage) TryAcquireContext(ctx context.Context, alg tocket.TokenBucketAlgorithm, permits uint32) error {
	var algErr error

	txFn := func(tx *redis.Tx) error {
		algErr = nil

		vals, err := tx.MGet(ctx, s.availableTokensKey, s.lastRefillKey).Result()
		if err != nil {
			return err
		}
		state, err := s.stateFromValues(vals)
		if err != nil {
			return err
		}

		// The refill is persisted even when the debit is rejected.
		algErr = alg.TryAcquire(&state, permits, s.clock.Now())

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.availableTokensKey, state.AvailableTokens, 0)
			pipe.Set(ctx, s.lastRefillKey, state.LastRefill.UnixNano(), 0)
			return nil
		})
		return err
	}

	isTxConflict := func(err error) bool {
		return errors.Is(err, redis.TxFailedErr)
	}
	notify := func(err error, delay time.Duration) {
		s.logger.Warn("redis transaction conflicted, retrying",
			log.Error(err), log.Duration("delay", delay))
	}
	err := retry.DoWithRetry(ctx, s.retryPolicy, isTxConflict, notify, func(ctx context.Context) error {
		return s.client.Watch(ctx, txFn, s.availableTokensKey, s.lastRefillKey)
	})
	if err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}

	return algErr
}

// stateFromValues rebuilds the bucket state from the MGET reply.
// Keys that were never written read as a full, never refilled bucket.
func (s *Storage) stateFromValues(vals []interface{}) (tocket.State, error) {
	state := tocket.State{
		Cap:             s.cap,
		AvailableTokens: s.cap,
		LastRefill:      time.Unix(0, 0),
		RefillTick:      s.refillTick,
	}
	if v, ok := vals[0].(string); ok {
		tokens, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return tocket.State{}, fmt.Errorf("parse available tokens value: %w", err)
		}
		state.AvailableTokens = uint32(tokens)
		// The stored value may exceed the capacity if the limit was lowered
		// between runs; clamp to keep the bucket invariant.
		if state.AvailableTokens > s.cap {
			state.AvailableTokens = s.cap
		}
	}
	if v, ok := vals[1].(string); ok {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return tocket.State{}, fmt.Errorf("parse last refill value: %w", err)
		}
		state.LastRefill = time.Unix(0, nanos)
	}
	return state, nil
}
