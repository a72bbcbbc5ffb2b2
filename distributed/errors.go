/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import "fmt"

// ChecksumMismatchError is returned when a received datagram carries
// a checksum that does not match the one calculated over its content.
// Such datagrams are dropped whole.
type ChecksumMismatchError struct {
	Actual   uint32 // checksum carried by the datagram
	Expected uint32 // checksum calculated by the receiver
}

// Error implements the error interface.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum does not match: actual = %#x expected = %#x", e.Actual, e.Expected)
}

// PeerNotWhitelistedError is returned when a datagram arrives from an address
// that is not a member of the configured peer set.
type PeerNotWhitelistedError struct {
	Peer string
}

// Error implements the error interface.
func (e *PeerNotWhitelistedError) Error() string {
	return fmt.Sprintf("peer %s not whitelisted", e.Peer)
}

// MessageContentMismatchError is returned when a message carries content
// of a kind the strategy does not expect.
type MessageContentMismatchError struct {
	Expected ContentKind
	Actual   ContentKind
}

// Error implements the error interface.
func (e *MessageContentMismatchError) Error() string {
	return fmt.Sprintf("message content mismatch: expected %q, but actual is %q", e.Expected, e.Actual)
}
