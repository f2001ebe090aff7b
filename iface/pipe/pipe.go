// SPDX-License-Identifier: GPL-3.0-or-later

// Package pipe connects two nodes back to back in memory.
//
// Each side encodes the packets it sends into frames, exactly like
// an interface writing on a real medium would, and the [*Pipe] moves
// the frames to the other side, which decodes and delivers them.
package pipe

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rbmk-project/cspnet/crc"
	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/packet"
)

// Pipe models a link between two [*Interface].
//
// The zero value is not ready to use; construct using [New].
type Pipe struct {
	// eof unblocks any blocking channel operation.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// left is the left endpoint.
	left *Interface

	// right is the right endpoint.
	right *Interface

	// wg tracks the goroutines moving frames.
	wg sync.WaitGroup
}

// New creates a new [*Pipe] between the left and right receivers and
// sets up moving frames between the two sides. Both endpoints use the
// given interface name. When withCRC is true, every frame carries a
// CRC32 trailer. Use Close to shut down background goroutines.
func New(name string, left, right iface.Receiver, withCRC bool) *Pipe {
	p := &Pipe{
		eof:     make(chan struct{}),
		eofOnce: sync.Once{},
		wg:      sync.WaitGroup{},
	}
	p.left = newInterface(name, left, withCRC, p)
	p.right = newInterface(name, right, withCRC, p)
	p.wg.Add(2)
	go p.move(p.left, p.right)
	go p.move(p.right, p.left)
	return p
}

// Left returns the left [*Interface].
func (p *Pipe) Left() *Interface {
	return p.left
}

// Right returns the right [*Interface].
func (p *Pipe) Right() *Interface {
	return p.right
}

// Close stops background goroutines moving frames.
func (p *Pipe) Close() error {
	p.eofOnce.Do(func() { close(p.eof) })
	p.wg.Wait()
	return nil
}

// move moves frames from the left endpoint to the right endpoint.
func (p *Pipe) move(left, right *Interface) {
	defer p.wg.Done()
	for {
		select {
		case <-p.eof:
			return
		case frame := <-left.output:
			right.receive(frame)
		}
	}
}

// Interface is one endpoint of a [*Pipe].
type Interface struct {
	counters iface.Counters
	crc      bool
	name     string
	output   chan []byte
	pipe     *Pipe
	rx       iface.Receiver
}

func newInterface(name string, rx iface.Receiver, withCRC bool, p *Pipe) *Interface {
	return &Interface{
		counters: iface.Counters{},
		crc:      withCRC,
		name:     name,
		output:   make(chan []byte),
		pipe:     p,
		rx:       rx,
	}
}

// Name returns the interface name.
func (ifc *Interface) Name() string {
	return ifc.name
}

// Stats returns a snapshot of the interface counters.
func (ifc *Interface) Stats() iface.Stats {
	return ifc.counters.Snapshot()
}

// Close closes the whole [*Pipe].
func (ifc *Interface) Close() error {
	return ifc.pipe.Close()
}

// Send encodes pkt and hands the frame over to the other side. The
// packet is released to the pool whatever the outcome.
func (ifc *Interface) Send(ctx context.Context, pkt *packet.Packet) error {
	defer iface.Release(ifc.rx.Logger(), ifc.rx.Pool(), pkt)

	frame, err := iface.Encode(pkt, ifc.rx.Version(), ifc.crc)
	if err != nil {
		ifc.counters.TXError.Add(1)
		return err
	}
	frame = slices.Clone(frame)

	select {
	case <-ifc.pipe.eof:
		ifc.counters.TXError.Add(1)
		return iface.ErrClosed
	case <-ctx.Done():
		ifc.counters.TXError.Add(1)
		return ctx.Err()
	case ifc.output <- frame:
		ifc.counters.TX.Add(1)
		ifc.counters.TXBytes.Add(uint64(len(frame)))
		return nil
	}
}

// receive decodes a frame into a pool buffer and delivers it.
func (ifc *Interface) receive(frame []byte) {
	pool, version := ifc.rx.Pool(), ifc.rx.Version()
	pkt, err := pool.Get(0)
	if err != nil {
		ifc.counters.Drop.Add(1)
		return
	}
	area := pkt.SetupRX(version)
	if len(frame) > len(area) {
		iface.Release(ifc.rx.Logger(), pool, pkt)
		ifc.counters.Frame.Add(1)
		return
	}
	count := copy(area, frame)
	if err := iface.Decode(pkt, version, count); err != nil {
		iface.Release(ifc.rx.Logger(), pool, pkt)
		if errors.Is(err, crc.ErrCRC32) {
			ifc.counters.RXError.Add(1)
		} else {
			ifc.counters.Frame.Add(1)
		}
		return
	}
	ifc.counters.RX.Add(1)
	ifc.counters.RXBytes.Add(uint64(count))
	if err := ifc.rx.Deliver(pkt, ifc.name); err != nil {
		ifc.counters.Drop.Add(1)
	}
}
