// SPDX-License-Identifier: GPL-3.0-or-later

package cspnet

import (
	"context"

	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/packet"
)

// Conn is the identity of a connection.
//
// A nil [*Conn] means "no connection" and is a valid key for the
// retransmission queue returned by [*Node.RDP].
type Conn struct {
	// ID is the identity of the packets belonging to the connection.
	ID packet.ID
}

// String returns a human readable representation of the connection.
func (c *Conn) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.ID.String()
}

// Interface moves packets between a [*Node] and the outside world.
type Interface interface {
	// Name returns the unique name of the interface.
	Name() string

	// Send transmits pkt. The interface takes ownership of pkt
	// and releases it to the pool whatever the outcome.
	Send(ctx context.Context, pkt *packet.Packet) error

	// Stats returns a snapshot of the interface counters.
	Stats() iface.Stats

	// Close stops the interface.
	Close() error
}
