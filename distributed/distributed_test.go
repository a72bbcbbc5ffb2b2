/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/acronis/go-appkit/log/logtest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-tocket"
)

// getLocalFreeUDPPort returns a free UDP port on the loopback interface.
// Needed to construct mutually whitelisted peer sets before the storages
// are actually served.
func getLocalFreeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestDistributedStorageSingleNode(t *testing.T) {
	strategy, err := NewWhitelistStrategy(nil)
	require.NoError(t, err)
	storage, err := Serve(2, "127.0.0.1:0", strategy)
	require.NoError(t, err)
	defer func() { require.NoError(t, storage.Close()) }()

	tb := tocket.NewTokenBucket(storage)

	require.NoError(t, tb.TryAcquire(2))
	require.ErrorIs(t, tb.TryAcquireOne(), tocket.ErrRateLimitExceeded)

	time.Sleep(time.Millisecond * 1500)
	require.NoError(t, tb.TryAcquire(2))
	require.ErrorIs(t, tb.TryAcquireOne(), tocket.ErrRateLimitExceeded)
}

func TestDistributedStorageThreeNodes(t *testing.T) {
	// One shared fake clock freezes refill on all nodes, so the only way
	// a node loses tokens without acquiring is via dissemination.
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	addrs := make([]string, 3)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("127.0.0.1:%d", getLocalFreeUDPPort(t))
	}

	storages := make([]*DistributedStorage, 3)
	for i := range addrs {
		var peers []string
		for j, addr := range addrs {
			if j != i {
				peers = append(peers, addr)
			}
		}
		strategy, err := NewWhitelistStrategy(peers, WithWhitelistStrategyClock(clock))
		require.NoError(t, err)
		storage, err := Serve(2, addrs[i], strategy,
			WithStorageOptions(tocket.WithInMemoryStorageClock(clock)))
		require.NoError(t, err)
		defer func() { require.NoError(t, storage.Close()) }()
		storages[i] = storage
	}

	require.NoError(t, tocket.NewTokenBucket(storages[0]).TryAcquire(2))

	// Give the datagrams a moment to settle on the loopback.
	time.Sleep(time.Millisecond * 500)

	require.ErrorIs(t, tocket.NewTokenBucket(storages[1]).TryAcquireOne(), tocket.ErrRateLimitExceeded)
	require.ErrorIs(t, tocket.NewTokenBucket(storages[2]).TryAcquireOne(), tocket.ErrRateLimitExceeded)
}

func TestDistributedStorageDrainsNotificationsOnClose(t *testing.T) {
	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = peerConn.Close() }()

	strategy, err := NewWhitelistStrategy([]string{peerConn.LocalAddr().String()})
	require.NoError(t, err)
	storage, err := Serve(100, "127.0.0.1:0", strategy)
	require.NoError(t, err)

	const acquires = 10
	tb := tocket.NewTokenBucket(storage)
	for i := 0; i < acquires; i++ {
		require.NoError(t, tb.TryAcquireOne())
	}

	// Close drains the already-queued notifications before stopping.
	require.NoError(t, storage.Close())

	for i := 0; i < acquires; i++ {
		require.NoError(t, peerConn.SetReadDeadline(time.Now().Add(time.Second*3)))
		buf := make([]byte, 65535)
		n, _, err := peerConn.ReadFromUDP(buf)
		require.NoError(t, err, "datagram %d out of %d not received", i+1, acquires)

		msg, err := decodeMessage(buf[:n])
		require.NoError(t, err)
		content, ok := msg.Content.(WhitelistContent)
		require.True(t, ok)
		require.Equal(t, uint32(1), content.Permits)
	}
}

func TestDistributedStorageIgnoresDatagramFromUnknownPeer(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	logRecorder := logtest.NewRecorder()

	strategy, err := NewWhitelistStrategy(nil) // nobody is trusted
	require.NoError(t, err)
	storage, err := Serve(2, "127.0.0.1:0", strategy,
		WithLogger(logRecorder),
		WithStorageOptions(tocket.WithInMemoryStorageClock(clock)))
	require.NoError(t, err)
	defer func() { require.NoError(t, storage.Close()) }()

	msg, err := NewMessage(WhitelistContent{SentTS: time.Now().UTC(), Permits: 2})
	require.NoError(t, err)
	payload, err := encodeMessage(msg)
	require.NoError(t, err)

	senderConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = senderConn.Close() }()
	_, err = senderConn.WriteToUDP(payload, storage.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, found := logRecorder.FindEntry("processing of message from peer failed")
		return found
	}, time.Second*3, time.Millisecond*10)

	// The clock is frozen, so the full bucket proves nothing was debited.
	require.NoError(t, tocket.NewTokenBucket(storage).TryAcquire(2))
}

func TestDistributedStorageDropsCorruptedDatagram(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	logRecorder := logtest.NewRecorder()
	metrics := &countingMetrics{}

	strategy, err := NewWhitelistStrategy(nil)
	require.NoError(t, err)
	storage, err := Serve(2, "127.0.0.1:0", strategy,
		WithLogger(logRecorder),
		WithMetrics(metrics),
		WithStorageOptions(tocket.WithInMemoryStorageClock(clock)))
	require.NoError(t, err)
	defer func() { require.NoError(t, storage.Close()) }()

	msg, err := NewMessage(WhitelistContent{SentTS: time.Now().UTC(), Permits: 2})
	require.NoError(t, err)
	payload, err := encodeMessage(msg)
	require.NoError(t, err)
	payload[2] ^= 0x01 // corrupt a version byte, the checksum must catch it

	senderConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = senderConn.Close() }()
	_, err = senderConn.WriteToUDP(payload, storage.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, found := logRecorder.FindEntry("failed to decode datagram")
		return found
	}, time.Second*3, time.Millisecond*10)
	require.Equal(t, 1, metrics.droppedCount(MessagesDropReasonChecksumMismatch))

	require.NoError(t, tocket.NewTokenBucket(storage).TryAcquire(2))
}

func TestDistributedStorageTryAcquireAfterClosePanics(t *testing.T) {
	strategy, err := NewWhitelistStrategy(nil)
	require.NoError(t, err)
	storage, err := Serve(2, "127.0.0.1:0", strategy)
	require.NoError(t, err)
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close(), "close must be idempotent")

	require.Panics(t, func() {
		_ = storage.TryAcquire(tocket.TokenBucketAlgorithm{Mode: tocket.AcquireExact}, 1)
	})
}

func TestServeConstructionFailures(t *testing.T) {
	strategy, err := NewWhitelistStrategy(nil)
	require.NoError(t, err)

	t.Run("unresolvable listen address", func(t *testing.T) {
		_, err := Serve(2, "127.0.0.1:not-a-port", strategy)
		require.Error(t, err)
		require.Contains(t, err.Error(), "resolve listen address")
	})

	t.Run("zero rps", func(t *testing.T) {
		_, err := Serve(0, "127.0.0.1:0", strategy)
		require.Error(t, err)
	})
}

func TestNotifyQueue(t *testing.T) {
	t.Run("fifo order", func(t *testing.T) {
		q := newNotifyQueue()
		require.True(t, q.push(1))
		require.True(t, q.push(2))
		require.True(t, q.push(3))

		for _, expected := range []uint32{1, 2, 3} {
			<-q.wake()
			permits, ok := q.pop()
			require.True(t, ok)
			require.Equal(t, expected, permits)
		}
		_, ok := q.pop()
		require.False(t, ok)
	})

	t.Run("close lets the consumer drain the rest", func(t *testing.T) {
		q := newNotifyQueue()
		require.True(t, q.push(1))
		require.True(t, q.push(2))
		q.close()

		require.False(t, q.push(3), "push after close must be refused")
		require.False(t, q.closedAndDrained())

		var drained []uint32
		for {
			<-q.wake()
			permits, ok := q.pop()
			if !ok {
				break
			}
			drained = append(drained, permits)
		}
		require.Equal(t, []uint32{1, 2}, drained)
		require.True(t, q.closedAndDrained())
	})

	t.Run("concurrent producers", func(t *testing.T) {
		q := newNotifyQueue()
		const producers = 10
		const perProducer = 100

		var wg sync.WaitGroup
		for i := 0; i < producers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perProducer; j++ {
					q.push(1)
				}
			}()
		}
		wg.Wait()
		q.close()

		total := 0
		for {
			<-q.wake()
			if _, ok := q.pop(); !ok {
				break
			}
			total++
		}
		require.Equal(t, producers*perProducer, total)
	})
}

type countingMetrics struct {
	mu       sync.Mutex
	sent     int
	received int
	dropped  map[string]int
}

func (m *countingMetrics) IncMessagesSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}

func (m *countingMetrics) IncMessagesReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received++
}

func (m *countingMetrics) IncMessagesDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped == nil {
		m.dropped = make(map[string]int)
	}
	m.dropped[reason]++
}

func (m *countingMetrics) droppedCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}
