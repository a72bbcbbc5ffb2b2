/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tocket

// Storage owns (or proxies to) a persisted bucket State and applies
// the passed algorithm to it atomically: load state, execute the algorithm,
// save the updated state, all within a single critical section
// (a mutex for local storages, an atomic read-modify-write transaction
// for remote ones).
//
// Rate-limit exhaustion must stay matchable with
// errors.Is(err, ErrRateLimitExceeded) even if the returned error wraps it.
type Storage interface {
	TryAcquire(alg TokenBucketAlgorithm, permits uint32) error
}

// TokenBucket is a rate limiter implementing the token bucket algorithm
// on top of any Storage.
type TokenBucket struct {
	storage Storage
}

// NewTokenBucket creates a new token bucket rate limiter with the provided storage.
func NewTokenBucket(storage Storage) *TokenBucket {
	return &TokenBucket{storage: storage}
}

// TryAcquire tries to acquire exactly permits tokens.
// Returns an error matching ErrRateLimitExceeded if there are not enough tokens,
// or a storage error if the state could not be loaded/saved.
func (tb *TokenBucket) TryAcquire(permits uint32) error {
	return tb.storage.TryAcquire(TokenBucketAlgorithm{Mode: AcquireExact}, permits)
}

// TryAcquireOne tries to acquire a single token.
func (tb *TokenBucket) TryAcquireOne() error {
	return tb.TryAcquire(1)
}

// TryAcquireUpToAll acquires permits tokens, or all the available ones
// if fewer are left. It fails only on storage errors.
func (tb *TokenBucket) TryAcquireUpToAll(permits uint32) error {
	return tb.storage.TryAcquire(TokenBucketAlgorithm{Mode: AcquireUpToAll}, permits)
}
