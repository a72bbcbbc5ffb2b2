/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package inredis provides a tocket.Storage implementation that keeps
// the bucket state in Redis, so that multiple application instances
// share one exact limit.
//
// The token bucket algorithm is applied inside an optimistic transaction
// (WATCH/MULTI/EXEC): the state keys are watched, the state is loaded,
// the algorithm runs locally and the updated state is written back only
// if no concurrent writer modified the keys in between. Conflicted
// transactions are retried with exponential backoff.
package inredis
