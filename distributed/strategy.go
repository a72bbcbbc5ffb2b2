/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"fmt"
	"net"

	"github.com/acronis/go-tocket"
)

// Strategy defines the dissemination policy of a DistributedStorage:
// how local debits are announced to peers and how messages received from
// peers are folded into the local state. Both callbacks run on the storage's
// background task, never on the caller's goroutine.
//
// The set of strategies is closed: the interface has unexported methods,
// so it can only be implemented by types of this package.
// Available strategies:
//   - WhitelistStrategy
type Strategy interface {
	// onAcquire is called after every successful local acquire.
	onAcquire(permits uint32, tr *transport) error

	// onMsgRecv is called for every successfully decoded inbound message.
	onMsgRecv(msg Message, source *net.UDPAddr, storage *tocket.InMemoryStorage, tr *transport) error
}

// transport sends messages through the storage's UDP socket,
// one encoded message per datagram.
type transport struct {
	conn    *net.UDPConn
	metrics MetricsCollector
}

func (t *transport) sendMessage(msg Message, to *net.UDPAddr) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := t.conn.WriteToUDP(payload, to); err != nil {
		return fmt.Errorf("send datagram to %s: %w", to, err)
	}
	t.metrics.IncMessagesSent()
	return nil
}
