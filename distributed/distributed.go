/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-tocket"
)

// inboundBufferSize is the capacity of the channel between the socket reader
// and the event loop. Datagrams that arrive while it is full are dropped,
// which is no worse than what UDP itself already allows.
const inboundBufferSize = 128

// DistributedStorage is a tocket.Storage that keeps the authoritative state
// in a local InMemoryStorage and lets peers know about every successful
// acquire via UDP messages, according to the strategy used.
//
// The admission decision is always local and synchronous; dissemination
// happens on a background task and never delays or fails the caller.
type DistributedStorage struct {
	storage   *tocket.InMemoryStorage
	queue     *notifyQueue
	conn      *net.UDPConn
	localAddr *net.UDPAddr
	logger    log.FieldLogger
	loopDone  chan struct{}
	closeOnce sync.Once
}

// Option configures DistributedStorage.
type Option func(*storageOptions)

type storageOptions struct {
	logger      log.FieldLogger
	metrics     MetricsCollector
	storageOpts []tocket.InMemoryStorageOption
}

// WithLogger sets the logger for the background task.
// Without it, protocol anomalies are dropped silently.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *storageOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the collector of dissemination metrics.
func WithMetrics(mc MetricsCollector) Option {
	return func(o *storageOptions) {
		o.metrics = mc
	}
}

// WithStorageOptions passes options through to the underlying InMemoryStorage.
func WithStorageOptions(opts ...tocket.InMemoryStorageOption) Option {
	return func(o *storageOptions) {
		o.storageOpts = append(o.storageOpts, opts...)
	}
}

// Serve binds a UDP socket to listenAddr (":0" style ephemeral ports are
// supported, see LocalAddr), creates the local storage with a full bucket
// and starts the background task driving the socket through the strategy.
//
// The returned storage must be closed with Close to stop the background task.
func Serve(rpsLimit uint32, listenAddr string, strategy Strategy, opts ...Option) (*DistributedStorage, error) {
	options := storageOptions{
		logger:  log.NewDisabledLogger(),
		metrics: disabledMetrics{},
	}
	for _, opt := range opts {
		opt(&options)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp on %q: %w", listenAddr, err)
	}

	storage, err := tocket.NewInMemoryStorage(rpsLimit, options.storageOpts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	ds := &DistributedStorage{
		storage:   storage,
		queue:     newNotifyQueue(),
		conn:      conn,
		localAddr: conn.LocalAddr().(*net.UDPAddr),
		logger:    options.logger,
		loopDone:  make(chan struct{}),
	}

	inbound := make(chan datagram, inboundBufferSize)
	go ds.readLoop(inbound)
	go ds.processLoop(strategy, inbound, options.metrics)

	return ds, nil
}

// LocalAddr returns the address the UDP socket is bound to.
// Useful to discover the port when listening on an ephemeral one.
func (ds *DistributedStorage) LocalAddr() *net.UDPAddr {
	return ds.localAddr
}

// TryAcquire implements the tocket.Storage interface.
//
// The decision is made synchronously against the local storage and is
// authoritative. On success the consumed permits are handed off to the
// background task, which informs the peers; the handoff never blocks.
// Calling TryAcquire after Close is a lifecycle bug and panics.
func (ds *DistributedStorage) TryAcquire(alg tocket.TokenBucketAlgorithm, permits uint32) error {
	if err := ds.storage.TryAcquire(alg, permits); err != nil {
		return err
	}
	if !ds.queue.push(permits) {
		panic("tocket/distributed: notify queue is closed, storage used after Close")
	}
	return nil
}

// Close stops the background task and closes the socket. The task first
// drains the notifications that were already queued and disseminates them;
// datagrams already sent are not recalled, and there is no flush or drain
// guarantee for the network side. Close blocks until the task exits
// and is safe to call multiple times.
func (ds *DistributedStorage) Close() error {
	ds.closeOnce.Do(func() {
		ds.queue.close()
	})
	<-ds.loopDone
	return nil
}

type datagram struct {
	payload []byte
	source  *net.UDPAddr
}

// readLoop pumps received datagrams into the inbound channel until
// the socket is closed. Transient receive errors are logged and do not
// stop the loop.
func (ds *DistributedStorage) readLoop(inbound chan<- datagram) {
	defer close(inbound)

	buf := make([]byte, 65535)
	for {
		n, source, err := ds.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			ds.logger.Error("failed to receive datagram", log.Error(err))
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case inbound <- datagram{payload: payload, source: source}:
		default:
			// The loop is behind; dropping is acceptable for this protocol.
			ds.logger.Warn("inbound buffer is full, datagram dropped",
				log.String("source", source.String()))
		}
	}
}

// processLoop is the single background task of the storage. It serves two
// event sources without starving either: local-acquire notifications from
// the queue and inbound datagrams from the socket reader. Their relative
// interleaving is determined by readiness only, there is no priority.
//
// The loop exits when the notify queue is closed and fully drained.
// All peer-protocol anomalies are contained here: they are logged and
// never reach any caller.
func (ds *DistributedStorage) processLoop(strategy Strategy, inbound <-chan datagram, metrics MetricsCollector) {
	defer close(ds.loopDone)
	defer func() { _ = ds.conn.Close() }()

	ds.logger.Debug("start background task")
	defer ds.logger.Debug("stop background task")

	tr := &transport{conn: ds.conn, metrics: metrics}

	for {
		select {
		case <-ds.queue.wake():
			permits, ok := ds.queue.pop()
			if !ok {
				if ds.queue.closedAndDrained() {
					return
				}
				continue
			}
			ds.logger.Debug("received acquiring of permits", log.Uint32("permits", permits))
			if err := strategy.onAcquire(permits, tr); err != nil {
				ds.logger.Error("processing of acquiring failed", log.Error(err))
			}

		case d, ok := <-inbound:
			if !ok {
				// Socket is gone; keep draining acquire notifications
				// until the queue is closed.
				inbound = nil
				continue
			}
			metrics.IncMessagesReceived()
			msg, err := decodeMessage(d.payload)
			if err != nil {
				metrics.IncMessagesDropped(decodeDropReason(err))
				ds.logger.Error("failed to decode datagram",
					log.String("source", d.source.String()), log.Error(err))
				continue
			}
			if msg == nil {
				continue
			}
			ds.logger.Debug("received message from peer",
				log.String("source", d.source.String()), log.String("version", msg.Version))
			if err := strategy.onMsgRecv(*msg, d.source, ds.storage, tr); err != nil {
				metrics.IncMessagesDropped(strategyDropReason(err))
				ds.logger.Error("processing of message from peer failed",
					log.String("source", d.source.String()), log.Error(err))
			}
		}
	}
}

func decodeDropReason(err error) string {
	var checksumErr *ChecksumMismatchError
	if errors.As(err, &checksumErr) {
		return MessagesDropReasonChecksumMismatch
	}
	return MessagesDropReasonMalformed
}

func strategyDropReason(err error) string {
	var notWhitelistedErr *PeerNotWhitelistedError
	var contentMismatchErr *MessageContentMismatchError
	switch {
	case errors.As(err, &notWhitelistedErr):
		return MessagesDropReasonPeerNotWhitelisted
	case errors.As(err, &contentMismatchErr):
		return MessagesDropReasonContentMismatch
	default:
		return MessagesDropReasonStrategyError
	}
}

// notifyQueue is an unbounded multi-producer/single-consumer queue between
// the synchronous acquire path and the background task. push never blocks.
type notifyQueue struct {
	mu     sync.Mutex
	items  []uint32
	wakeCh chan struct{}
	closed bool
}

func newNotifyQueue() *notifyQueue {
	return &notifyQueue{wakeCh: make(chan struct{}, 1)}
}

// wake returns a channel that becomes receivable when the queue may have
// items to pop or has been closed.
func (q *notifyQueue) wake() <-chan struct{} {
	return q.wakeCh
}

// push enqueues permits and returns false if the queue is already closed.
func (q *notifyQueue) push(permits uint32) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, permits)
	q.mu.Unlock()

	q.signal()
	return true
}

// pop dequeues a single item. It re-arms the wake channel if more work
// remains, so the consumer handles one item per wakeup and cannot starve
// its other event sources.
func (q *notifyQueue) pop() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return 0, false
	}
	permits := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 || q.closed {
		q.signal()
	}
	return permits, true
}

func (q *notifyQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *notifyQueue) closedAndDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

func (q *notifyQueue) signal() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}
