/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package tocket provides rate limiting based on the token bucket algorithm
// behind a pluggable storage abstraction.
//
// The bucket arithmetic itself is pure (TokenBucketAlgorithm); a Storage
// implementation owns the persisted State and applies the algorithm
// atomically. Available storages:
//   - InMemoryStorage (this package) - State behind a mutex, no I/O;
//   - distributed.DistributedStorage - local in-memory state synchronized
//     across application instances over UDP, best-effort;
//   - inredis.Storage - State persisted in Redis, applied inside an
//     optimistic transaction.
//
// Custom storages (e.g. Postgres) can be plugged in by implementing the
// Storage interface: load State, apply the passed algorithm, save State,
// all within a single atomic read-modify-write section.
//
// Typical usage:
//
//	storage, err := tocket.NewInMemoryStorage(100) // 100 requests per second
//	if err != nil {
//		return err
//	}
//	tb := tocket.NewTokenBucket(storage)
//	if err := tb.TryAcquireOne(); err != nil {
//		// errors.Is(err, tocket.ErrRateLimitExceeded) == true
//	}
package tocket
