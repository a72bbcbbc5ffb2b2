/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tocket

import "errors"

// ErrRateLimitExceeded is returned by Storage.TryAcquire in the exact-permits mode
// when the bucket does not contain enough tokens.
// Composite storages must keep it matchable with errors.Is even when wrapping
// it into their own error types.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")
