/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"fmt"
	"hash/crc32"
	"time"

	"github.com/acronis/go-tocket/internal/libinfo"
)

// ContentKind is the wire discriminant of message content.
type ContentKind uint8

// ContentKindWhitelist marks content produced by WhitelistStrategy.
const ContentKindWhitelist ContentKind = 0

// String implements the fmt.Stringer interface.
func (k ContentKind) String() string {
	switch k {
	case ContentKindWhitelist:
		return "whitelist"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Content is the payload of a Message. The union is open on the wire:
// a datagram with an unrecognized discriminant decodes to UnknownContent,
// never to a decode failure, so newer producers stay compatible with
// older consumers.
type Content interface {
	Kind() ContentKind
}

// WhitelistContent carries a debit notification between whitelisted peers.
type WhitelistContent struct {
	// SentTS is the sender's wall-clock time (with UTC offset) at send time.
	// Receivers use it as a plausibility filter against clock skew and replay.
	SentTS time.Time

	// Permits is the number of permits the sender just consumed.
	Permits uint32
}

// Kind implements the Content interface.
func (WhitelistContent) Kind() ContentKind { return ContentKindWhitelist }

// UnknownContent marks content with a discriminant unknown to this build.
type UnknownContent struct {
	RawKind ContentKind
}

// Kind implements the Content interface.
func (c UnknownContent) Kind() ContentKind { return c.RawKind }

// Message is what a single UDP datagram carries, one message per datagram.
type Message struct {
	// Version identifies the build of the producer.
	Version string

	// Content is the message payload.
	Content Content

	// Checksum is CRC32 (IEEE) over the encoded version and content bytes.
	Checksum uint32
}

// NewMessage creates a message with the version of the current build
// and a checksum calculated over the encoded body.
func NewMessage(content Content) (Message, error) {
	version := libinfo.GetLibVersion()
	body, err := encodeBody(version, content)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Version:  version,
		Content:  content,
		Checksum: crc32.ChecksumIEEE(body),
	}, nil
}
