// SPDX-License-Identifier: GPL-3.0-or-later

// Package loopback implements an interface delivering the packets
// it sends back to the node that owns it.
package loopback

import (
	"context"
	"sync/atomic"

	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/packet"
)

// DefaultName is the conventional name of the loopback interface.
const DefaultName = "LOOP"

// Interface is the loopback interface.
//
// Construct using [New].
type Interface struct {
	closed   atomic.Bool
	counters iface.Counters
	name     string
	rx       iface.Receiver
}

// New creates a loopback [*Interface] delivering to rx.
func New(name string, rx iface.Receiver) *Interface {
	return &Interface{name: name, rx: rx}
}

// Name returns the interface name.
func (ifc *Interface) Name() string {
	return ifc.name
}

// Send delivers pkt to the receiver.
func (ifc *Interface) Send(ctx context.Context, pkt *packet.Packet) error {
	if ifc.closed.Load() {
		ifc.counters.TXError.Add(1)
		iface.Release(ifc.rx.Logger(), ifc.rx.Pool(), pkt)
		return iface.ErrClosed
	}
	size := uint64(pkt.Length)
	ifc.counters.TX.Add(1)
	ifc.counters.TXBytes.Add(size)
	if err := ifc.rx.Deliver(pkt, ifc.name); err != nil {
		ifc.counters.Drop.Add(1)
		return err
	}
	ifc.counters.RX.Add(1)
	ifc.counters.RXBytes.Add(size)
	return nil
}

// Stats returns a snapshot of the interface counters.
func (ifc *Interface) Stats() iface.Stats {
	return ifc.counters.Snapshot()
}

// Close prevents further sends.
func (ifc *Interface) Close() error {
	ifc.closed.Store(true)
	return nil
}
