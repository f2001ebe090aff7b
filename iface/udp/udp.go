// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp implements an interface tunneling CSP frames over UDP.
//
// Each datagram carries exactly one frame: the identity header followed
// by the payload and, when [packet.FlagCRC32] is set, the CRC32 trailer.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbmk-project/cspnet/crc"
	"github.com/rbmk-project/cspnet/errclass"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/netipx"
	"github.com/rbmk-project/cspnet/packet"
)

// Config contains the UDP interface configuration.
type Config struct {
	// CRC adds a CRC32 trailer to every transmitted frame.
	CRC bool

	// Conn is the MANDATORY bound socket. The interface owns it
	// and closes it when closed.
	Conn net.PacketConn

	// Name is the MANDATORY interface name.
	Name string

	// Peer is the MANDATORY address to which we send frames.
	Peer net.Addr
}

// validate ensures the configuration is usable.
func (c *Config) validate() error {
	if c.Conn == nil {
		return fmt.Errorf("udp: nil Conn: %w", errno.EINVAL)
	}
	if c.Name == "" {
		return fmt.Errorf("udp: empty Name: %w", errno.EINVAL)
	}
	if c.Peer == nil {
		return fmt.Errorf("udp: nil Peer: %w", errno.EINVAL)
	}
	return nil
}

// Interface is the UDP interface.
//
// Construct using [New] or [Listen].
type Interface struct {
	closeErr  error
	closeOnce sync.Once
	config    Config
	counters  iface.Counters
	rx        iface.Receiver
	wg        sync.WaitGroup
	wmu       sync.Mutex
}

// New creates a new [*Interface] and starts the receive loop,
// which delivers the received packets to rx.
func New(config *Config, rx iface.Receiver) (*Interface, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	ifc := &Interface{
		closeErr:  nil,
		closeOnce: sync.Once{},
		config:    *config,
		counters:  iface.Counters{},
		rx:        rx,
		wg:        sync.WaitGroup{},
		wmu:       sync.Mutex{},
	}
	ifc.wg.Add(1)
	go ifc.loop()
	return ifc, nil
}

// Listen binds a UDP socket at laddr and creates an [*Interface]
// sending frames to the given peer address.
func Listen(ctx context.Context, name, laddr, peer string, withCRC bool, rx iface.Receiver) (*Interface, error) {
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, err
	}
	lc := &net.ListenConfig{}
	conn, err := lc.ListenPacket(ctx, "udp", laddr)
	if err != nil {
		return nil, err
	}
	ifc, err := New(&Config{CRC: withCRC, Conn: conn, Name: name, Peer: raddr}, rx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ifc, nil
}

// Name returns the interface name.
func (ifc *Interface) Name() string {
	return ifc.config.Name
}

// LocalAddr returns the address of the bound socket.
func (ifc *Interface) LocalAddr() net.Addr {
	return ifc.config.Conn.LocalAddr()
}

// Stats returns a snapshot of the interface counters.
func (ifc *Interface) Stats() iface.Stats {
	return ifc.counters.Snapshot()
}

// Send encodes pkt and writes the frame to the peer. The packet is
// released to the pool whatever the outcome.
func (ifc *Interface) Send(ctx context.Context, pkt *packet.Packet) error {
	defer iface.Release(ifc.rx.Logger(), ifc.rx.Pool(), pkt)

	frame, err := iface.Encode(pkt, ifc.rx.Version(), ifc.config.CRC)
	if err != nil {
		ifc.counters.TXError.Add(1)
		return err
	}
	ifc.wmu.Lock()
	defer ifc.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		ifc.config.Conn.SetWriteDeadline(deadline)
		defer ifc.config.Conn.SetWriteDeadline(time.Time{})
	}
	count, err := ifc.config.Conn.WriteTo(frame, ifc.config.Peer)
	if err != nil {
		ifc.counters.TXError.Add(1)
		return err
	}
	ifc.counters.TX.Add(1)
	ifc.counters.TXBytes.Add(uint64(count))
	return nil
}

// Close closes the socket and waits for the receive loop to terminate.
func (ifc *Interface) Close() error {
	ifc.closeOnce.Do(func() {
		ifc.closeErr = ifc.config.Conn.Close()
		ifc.wg.Wait()
	})
	return ifc.closeErr
}

// loop reads frames until the socket is closed.
func (ifc *Interface) loop() {
	defer ifc.wg.Done()
	pool, version := ifc.rx.Pool(), ifc.rx.Version()
	// One byte more than any acceptable frame, to detect truncation.
	scratch := make([]byte, packet.HeaderSize(version)+pool.DataSize()+1)
	for {
		pkt, err := pool.Get(0)
		if err != nil {
			// Consume the datagram to avoid spinning on it.
			_, addr, rerr := ifc.config.Conn.ReadFrom(scratch)
			if errors.Is(rerr, net.ErrClosed) {
				return
			}
			ifc.counters.Drop.Add(1)
			ifc.logDrop(err, addr)
			continue
		}

		count, addr, err := ifc.config.Conn.ReadFrom(scratch)
		if err != nil {
			iface.Release(ifc.rx.Logger(), pool, pkt)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			ifc.counters.RXError.Add(1)
			ifc.logDrop(err, addr)
			continue
		}
		area := pkt.SetupRX(version)
		if count > len(area) {
			iface.Release(ifc.rx.Logger(), pool, pkt)
			ifc.counters.Frame.Add(1)
			ifc.logDrop(packet.ErrFrameTooLong, addr)
			continue
		}
		copy(area, scratch[:count])

		if err := iface.Decode(pkt, version, count); err != nil {
			iface.Release(ifc.rx.Logger(), pool, pkt)
			if errors.Is(err, crc.ErrCRC32) {
				ifc.counters.RXError.Add(1)
			} else {
				ifc.counters.Frame.Add(1)
			}
			ifc.logDrop(err, addr)
			continue
		}

		ifc.counters.RX.Add(1)
		ifc.counters.RXBytes.Add(uint64(count))
		if err := ifc.rx.Deliver(pkt, ifc.config.Name); err != nil {
			ifc.counters.Drop.Add(1)
		}
	}
}

// logDrop logs a datagram we could not deliver.
func (ifc *Interface) logDrop(err error, addr net.Addr) {
	if logger := ifc.rx.Logger(); logger != nil {
		logger.Debug(
			"udpDrop",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("iface", ifc.config.Name),
			slog.String("localAddr", netipx.FormatAddr(ifc.LocalAddr())),
			slog.String("remoteAddr", netipx.FormatAddr(addr)),
			slog.Time("t", time.Now()),
		)
	}
}
