/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"time"
)

// Wire format, committed and fixed. Compact binary, big-endian,
// one message per datagram (UDP datagram boundaries are the framing,
// so no length prefix is needed):
//
//	[u8 version length] [version bytes]
//	[u8 content kind]   [content payload]
//	[u32 checksum]      CRC32 (IEEE) over everything before it
//
// Whitelist content payload (20 bytes):
//
//	[i64 unix seconds] [u32 nanoseconds] [i32 utc offset seconds] [u32 permits]

const (
	checksumSize         = 4
	whitelistPayloadSize = 20
)

func encodeMessage(msg Message) ([]byte, error) {
	body, err := encodeBody(msg.Version, msg.Content)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(body)+checksumSize)
	copy(buf, body)
	binary.BigEndian.PutUint32(buf[len(body):], msg.Checksum)
	return buf, nil
}

func encodeBody(version string, content Content) ([]byte, error) {
	if len(version) > math.MaxUint8 {
		return nil, fmt.Errorf("version %q is too long to encode: %d bytes", version, len(version))
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(len(version)))
	buf.WriteString(version)

	switch c := content.(type) {
	case WhitelistContent:
		buf.WriteByte(byte(ContentKindWhitelist))
		var p [whitelistPayloadSize]byte
		binary.BigEndian.PutUint64(p[0:8], uint64(c.SentTS.Unix()))
		binary.BigEndian.PutUint32(p[8:12], uint32(c.SentTS.Nanosecond()))
		_, offset := c.SentTS.Zone()
		binary.BigEndian.PutUint32(p[12:16], uint32(int32(offset)))
		binary.BigEndian.PutUint32(p[16:20], c.Permits)
		buf.Write(p[:])
	default:
		return nil, fmt.Errorf("content of kind %q is not encodable", content.Kind())
	}

	return buf.Bytes(), nil
}

// decodeMessage decodes the full datagram payload into a message.
// An empty payload means "no message" and yields (nil, nil).
// A non-empty payload that fails structural decoding or checksum
// verification yields an error; there is no partial-message recovery.
func decodeMessage(payload []byte) (*Message, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	versionLen := int(payload[0])
	if len(payload) < 1+versionLen+1+checksumSize {
		return nil, fmt.Errorf("datagram too short: %d bytes", len(payload))
	}
	version := string(payload[1 : 1+versionLen])
	kind := ContentKind(payload[1+versionLen])

	body := payload[: len(payload)-checksumSize : len(payload)-checksumSize]
	wireChecksum := binary.BigEndian.Uint32(payload[len(payload)-checksumSize:])
	if calculated := crc32.ChecksumIEEE(body); calculated != wireChecksum {
		return nil, &ChecksumMismatchError{Actual: wireChecksum, Expected: calculated}
	}

	contentPayload := payload[1+versionLen+1 : len(payload)-checksumSize]
	var content Content
	switch kind {
	case ContentKindWhitelist:
		if len(contentPayload) != whitelistPayloadSize {
			return nil, fmt.Errorf("whitelist content: want %d payload bytes, got %d",
				whitelistPayloadSize, len(contentPayload))
		}
		seconds := int64(binary.BigEndian.Uint64(contentPayload[0:8]))
		nanoseconds := binary.BigEndian.Uint32(contentPayload[8:12])
		offset := int32(binary.BigEndian.Uint32(contentPayload[12:16]))
		content = WhitelistContent{
			SentTS:  time.Unix(seconds, int64(nanoseconds)).In(time.FixedZone("", int(offset))),
			Permits: binary.BigEndian.Uint32(contentPayload[16:20]),
		}
	default:
		content = UnknownContent{RawKind: kind}
	}

	return &Message{Version: version, Content: content, Checksum: wireChecksum}, nil
}
