/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/jonboulle/clockwork"

	"github.com/acronis/go-tocket"
)

// maxSentTSDiff is the staleness window: messages whose send timestamp is
// older than this (or in the future) are ignored. It is a plausibility
// filter against clock skew and replay, not a cryptographic guarantee.
const maxSentTSDiff = 5 * time.Second

// WhitelistStrategy disseminates debits to a static set of trusted peers
// and accepts debit messages only from members of that set.
//
// The peer set is resolved once at construction and is immutable for the
// life of the strategy: no dynamic join/leave, no periodic re-resolution.
// Membership checks match the exact source address and port; there are
// no wildcards and no CIDR ranges.
//
// Delivery is fire-and-forget over UDP: no retries, no acknowledgments.
type WhitelistStrategy struct {
	peers  map[string]*net.UDPAddr
	clock  clockwork.Clock
	logger log.FieldLogger
}

// WhitelistStrategyOption configures WhitelistStrategy.
type WhitelistStrategyOption func(*WhitelistStrategy)

// WithWhitelistStrategyClock sets the clock used for message timestamps
// and the staleness check. Intended mostly for tests.
func WithWhitelistStrategyClock(clock clockwork.Clock) WhitelistStrategyOption {
	return func(s *WhitelistStrategy) {
		s.clock = clock
	}
}

// WithWhitelistStrategyLogger sets the logger for skipped messages.
func WithWhitelistStrategyLogger(logger log.FieldLogger) WhitelistStrategyOption {
	return func(s *WhitelistStrategy) {
		s.logger = logger
	}
}

// NewWhitelistStrategy creates a strategy trusting the given peer addresses
// (host:port). All addresses are resolved here, once; a resolution failure
// fails the construction.
func NewWhitelistStrategy(peers []string, opts ...WhitelistStrategyOption) (*WhitelistStrategy, error) {
	s := &WhitelistStrategy{
		peers:  make(map[string]*net.UDPAddr, len(peers)),
		clock:  clockwork.NewRealClock(),
		logger: log.NewDisabledLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, peer := range peers {
		addr, err := net.ResolveUDPAddr("udp", peer)
		if err != nil {
			return nil, fmt.Errorf("resolve peer address %q: %w", peer, err)
		}
		s.peers[addr.String()] = addr
	}
	return s, nil
}

// onAcquire implements the Strategy interface. It sends one copy of
// a whitelist message, individually, to every configured peer.
// A failure to send to one peer does not prevent sending to the rest.
func (s *WhitelistStrategy) onAcquire(permits uint32, tr *transport) error {
	msg, err := NewMessage(WhitelistContent{
		SentTS:  s.clock.Now().UTC(),
		Permits: permits,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, peer := range s.peers {
		if err := tr.sendMessage(msg, peer); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onMsgRecv implements the Strategy interface. An accepted message debits
// the local bucket by min(permits, available): the debit deliberately never
// fails since there is no caller to report an error to.
func (s *WhitelistStrategy) onMsgRecv(
	msg Message, source *net.UDPAddr, storage *tocket.InMemoryStorage, _ *transport,
) error {
	if _, ok := s.peers[source.String()]; !ok {
		return &PeerNotWhitelistedError{Peer: source.String()}
	}

	content, ok := msg.Content.(WhitelistContent)
	if !ok {
		return &MessageContentMismatchError{Expected: ContentKindWhitelist, Actual: msg.Content.Kind()}
	}

	now := s.clock.Now()
	if content.SentTS.After(now) || content.SentTS.Before(now.Add(-maxSentTSDiff)) {
		s.logger.Warn("received expired message, skip it",
			log.String("peer", source.String()), log.Time("sent_ts", content.SentTS))
		return nil
	}

	return storage.TryAcquire(tocket.TokenBucketAlgorithm{Mode: tocket.AcquireUpToAll}, content.Permits)
}
