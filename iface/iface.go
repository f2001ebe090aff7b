// SPDX-License-Identifier: GPL-3.0-or-later

// Package iface contains definitions shared by the interface
// implementations living in its subpackages.
//
// An interface moves packets between a node and the outside world.
// On transmit it takes ownership of the packet it is given and must
// release it to the node's pool whatever the outcome. On receive it
// acquires a buffer from the pool, fills it and hands it over to the
// node using [Receiver.Deliver].
package iface

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/rbmk-project/cspnet/bufpool"
	"github.com/rbmk-project/cspnet/errclass"
	"github.com/rbmk-project/cspnet/packet"
)

// ErrClosed indicates that the interface has been closed.
var ErrClosed = errors.New("iface: interface closed")

// Receiver is the node as seen by an interface.
type Receiver interface {
	// Deliver hands a received packet over to the node, which takes
	// ownership of it regardless of the returned error.
	Deliver(pkt *packet.Packet, ifname string) error

	// Logger returns the optional logger (nil means silent).
	Logger() *slog.Logger

	// Pool returns the pool from which to acquire receive buffers.
	Pool() *bufpool.Pool

	// Version returns the identity header version to use on the wire.
	Version() packet.Version
}

// Stats is a snapshot of the counters of an interface.
type Stats struct {
	// TX is the number of packets sent.
	TX uint64

	// RX is the number of packets received.
	RX uint64

	// TXError is the number of transmit errors.
	TXError uint64

	// RXError is the number of receive errors.
	RXError uint64

	// Drop is the number of packets dropped because the node
	// could not accept them or no buffer was available.
	Drop uint64

	// Frame is the number of malformed frames.
	Frame uint64

	// TXBytes is the number of bytes sent.
	TXBytes uint64

	// RXBytes is the number of bytes received.
	RXBytes uint64
}

// Counters are the live counters of an interface.
//
// The zero value is ready to use.
type Counters struct {
	TX      atomic.Uint64
	RX      atomic.Uint64
	TXError atomic.Uint64
	RXError atomic.Uint64
	Drop    atomic.Uint64
	Frame   atomic.Uint64
	TXBytes atomic.Uint64
	RXBytes atomic.Uint64
}

// Snapshot returns the current value of the counters.
func (c *Counters) Snapshot() Stats {
	return Stats{
		TX:      c.TX.Load(),
		RX:      c.RX.Load(),
		TXError: c.TXError.Load(),
		RXError: c.RXError.Load(),
		Drop:    c.Drop.Load(),
		Frame:   c.Frame.Load(),
		TXBytes: c.TXBytes.Load(),
		RXBytes: c.RXBytes.Load(),
	}
}

// Release returns pkt to pool. Interfaces call it on every path that
// ends the life of a packet they own. A release error means the caller
// broke buffer ownership and is logged when a logger is available.
func Release(logger *slog.Logger, pool *bufpool.Pool, pkt *packet.Packet) {
	if err := pool.Free(pkt); err != nil && logger != nil {
		logger.Warn(
			"bufferReleaseFailed",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
		)
	}
}
