// SPDX-License-Identifier: GPL-3.0-or-later

// Package rdpqueue implements the RDP retransmission queues.
//
// A [*Queue] has two directions. The tx direction holds packets that have
// been sent and wait for an acknowledgment, while the rx direction holds
// packets received out of order and waiting for reassembly. Each entry is
// tagged with the connection it belongs to.
//
// Each direction holds at most twice the RDP window. The bound is shared by
// all the connections: a connection with many packets in flight can fill
// the queue for everyone else. Adding to a full direction returns [ErrFull]
// and leaves the packet with the caller.
package rdpqueue

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/rbmk-project/cspnet/queue"
)

var (
	// ErrFull indicates that the direction already holds its maximum.
	ErrFull = fmt.Errorf("rdpqueue: queue full: %w", errno.ENOBUFS)

	// ErrNilPacket indicates an attempt to add a nil packet.
	ErrNilPacket = fmt.Errorf("rdpqueue: nil packet: %w", errno.EINVAL)
)

// Freer releases packets. The [*bufpool.Pool] implements this interface.
type Freer interface {
	Free(pkt *packet.Packet) error
}

// Option configures a [*Queue].
type Option func(s *settings)

// settings contains the optional settings.
type settings struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger. By default the queue does not log.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// direction selects the tx or the rx queue.
type direction int

const (
	directionTx direction = iota
	directionRx
)

// entry is a queued packet tagged with its connection.
type entry[C comparable] struct {
	conn C
	pkt  *packet.Packet
}

// Queue contains the tx and rx retransmission queues. The type parameter
// is the connection identity; its zero value (e.g., a nil pointer) is the
// "no connection" identity and is valid.
//
// Construct using [New].
type Queue[C comparable] struct {
	// bound is the maximum number of entries per direction.
	bound int

	// freer releases flushed packets.
	freer Freer

	// logger is the optional logger.
	logger *slog.Logger

	// mu makes the scan-and-rotate operations atomic.
	mu sync.Mutex

	// rx holds out-of-order received packets.
	rx *queue.Queue[entry[C]]

	// tx holds packets waiting for an acknowledgment.
	tx *queue.Queue[entry[C]]
}

// New creates a new [*Queue] bounded at 2*maxWindow entries per direction.
//
// The freer releases the packets dropped by [*Queue.Init] and
// [*Queue.Flush]; when it is nil such packets are just forgotten.
//
// This function panics if maxWindow is not positive.
func New[C comparable](maxWindow int, freer Freer, options ...Option) *Queue[C] {
	if maxWindow <= 0 {
		panic("rdpqueue: window must be positive")
	}
	s := &settings{}
	for _, option := range options {
		option(s)
	}
	q := &Queue[C]{
		bound:  2 * maxWindow,
		freer:  freer,
		logger: s.logger,
		mu:     sync.Mutex{},
		rx:     queue.New[entry[C]](2 * maxWindow),
		tx:     queue.New[entry[C]](2 * maxWindow),
	}
	return q
}

// Bound returns the maximum number of entries per direction.
func (q *Queue[C]) Bound() int {
	return q.bound
}

// Init empties both directions, releasing any queued packet. It is safe
// to call Init more than once.
func (q *Queue[C]) Init() {
	q.mu.Lock()
	released := q.drainLocked(q.tx) + q.drainLocked(q.rx)
	q.tx = queue.New[entry[C]](q.bound)
	q.rx = queue.New[entry[C]](q.bound)
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.Debug("rdpQueueInit", slog.Int("bound", q.bound), slog.Int("released", released))
	}
}

// TxSize returns the number of packets in the tx direction.
func (q *Queue[C]) TxSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tx.Size()
}

// RxSize returns the number of packets in the rx direction.
func (q *Queue[C]) RxSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rx.Size()
}

// TxAdd moves pkt at the tail of the tx direction. On error the caller
// still owns pkt. The following errors are possible:
//
// 1. nil if the packet has been queued;
//
// 2. [ErrFull] if the direction is full;
//
// 3. [ErrNilPacket] if pkt is nil.
func (q *Queue[C]) TxAdd(conn C, pkt *packet.Packet) error {
	return q.add(directionTx, conn, pkt)
}

// RxAdd is like [*Queue.TxAdd] for the rx direction.
func (q *Queue[C]) RxAdd(conn C, pkt *packet.Packet) error {
	return q.add(directionRx, conn, pkt)
}

// TxGet removes and returns the oldest tx packet of conn, or nil if there
// is none. It never blocks.
func (q *Queue[C]) TxGet(conn C) *packet.Packet {
	return q.get(directionTx, conn)
}

// RxGet is like [*Queue.TxGet] for the rx direction.
func (q *Queue[C]) RxGet(conn C) *packet.Packet {
	return q.get(directionRx, conn)
}

// Flush releases all the packets of conn in both directions. When conn is
// the zero value, Flush releases every queued packet. It returns the number
// of released packets.
func (q *Queue[C]) Flush(conn C) int {
	var zero C
	all := conn == zero
	match := func(e entry[C]) bool {
		return all || e.conn == conn
	}

	q.mu.Lock()
	var flushed []*packet.Packet
	for _, dir := range []*queue.Queue[entry[C]]{q.tx, q.rx} {
		flushed = append(flushed, q.removeLocked(dir, match, -1)...)
	}
	q.mu.Unlock()

	for _, pkt := range flushed {
		q.release(pkt)
	}
	if q.logger != nil {
		q.logger.Debug("rdpQueueFlush", slog.Bool("all", all), slog.Int("released", len(flushed)))
	}
	return len(flushed)
}

// add implements TxAdd and RxAdd.
func (q *Queue[C]) add(d direction, conn C, pkt *packet.Packet) error {
	if pkt == nil {
		return ErrNilPacket
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.dirLocked(d).Enqueue(entry[C]{conn: conn, pkt: pkt}, 0); err != nil {
		return ErrFull
	}
	return nil
}

// get implements TxGet and RxGet.
func (q *Queue[C]) get(d direction, conn C) *packet.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	found := q.removeLocked(q.dirLocked(d), func(e entry[C]) bool { return e.conn == conn }, 1)
	if len(found) <= 0 {
		return nil
	}
	return found[0]
}

// dirLocked returns the queue of the given direction.
//
// The caller must hold the mu lock.
func (q *Queue[C]) dirLocked(d direction) *queue.Queue[entry[C]] {
	if d == directionRx {
		return q.rx
	}
	return q.tx
}

// removeLocked removes up to limit entries matching the given function
// (all of them when limit is negative) and returns their packets. The
// relative order of the entries left in the queue does not change.
//
// The caller must hold the mu lock.
func (q *Queue[C]) removeLocked(dir *queue.Queue[entry[C]], match func(e entry[C]) bool, limit int) []*packet.Packet {
	var removed []*packet.Packet
	for n := dir.Size(); n > 0; n-- {
		e := runtimex.Try1(dir.Dequeue(0))
		if limit != 0 && match(e) {
			removed = append(removed, e.pkt)
			limit--
			continue
		}
		// We just freed a slot, so this cannot fail.
		runtimex.Try0(dir.Enqueue(e, 0))
	}
	return removed
}

// drainLocked releases all the packets in dir.
//
// The caller must hold the mu lock.
func (q *Queue[C]) drainLocked(dir *queue.Queue[entry[C]]) int {
	removed := q.removeLocked(dir, func(entry[C]) bool { return true }, -1)
	for _, pkt := range removed {
		q.release(pkt)
	}
	return len(removed)
}

// release returns pkt to the freer, if any.
func (q *Queue[C]) release(pkt *packet.Packet) {
	if q.freer == nil {
		return
	}
	if err := q.freer.Free(pkt); err != nil && q.logger != nil {
		q.logger.Warn("bufferReleaseFailed", slog.Any("err", err))
	}
}
