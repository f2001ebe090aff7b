// SPDX-License-Identifier: GPL-3.0-or-later

package cspnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/cspnet/bufpool"
	"github.com/rbmk-project/cspnet/closepool"
	"github.com/rbmk-project/cspnet/errclass"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/rbmk-project/cspnet/queue"
	"github.com/rbmk-project/cspnet/rdpqueue"
)

var (
	// ErrQFIFOFull indicates that the incoming packet FIFO is full.
	ErrQFIFOFull = fmt.Errorf("cspnet: incoming packet queue: %w", queue.ErrFull)

	// ErrNoSuchInterface indicates that no interface has the given name.
	ErrNoSuchInterface = fmt.Errorf("cspnet: no such interface: %w", errno.EINVAL)

	// ErrInterfaceExists indicates that an interface with the same name is attached.
	ErrInterfaceExists = fmt.Errorf("cspnet: interface already attached: %w", errno.EINVAL)

	// ErrClosed indicates that the node has been closed.
	ErrClosed = errors.New("cspnet: node closed")
)

// Delivery is a packet received by an interface.
type Delivery struct {
	// Packet is the received packet, owned by the reader.
	Packet *packet.Packet

	// Interface is the name of the receiving interface.
	Interface string
}

// Node owns the resources of a CSP node.
//
// Construct using [New] or [MustNew].
//
// A [*Node] is safe for concurrent use by multiple goroutines.
type Node struct {
	// closed is closed by Close.
	closed chan struct{}

	// closeOnce ensures we close just once.
	closeOnce sync.Once

	// closers tracks the attached interfaces.
	closers closepool.Pool

	// config is a private copy of the configuration.
	config Config

	// ifaces maps interface names to interfaces.
	ifaces map[string]Interface

	// mu protects ifaces and orders Deliver before the Close drain.
	mu sync.RWMutex

	// pool is the buffer pool.
	pool *bufpool.Pool

	// qfifo is the incoming packet FIFO.
	qfifo *queue.Queue[Delivery]

	// rdp is the retransmission queue.
	rdp *rdpqueue.Queue[*Conn]
}

// New creates a new [*Node] using the given configuration.
func New(config *Config) (*Node, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	options := []bufpool.Option{bufpool.WithLogger(config.Logger)}
	if config.FatalHandler != nil {
		options = append(options, bufpool.WithFatalHandler(config.FatalHandler))
	}
	pool, err := bufpool.New(config.BufferCount, config.BufferDataSize, options...)
	if err != nil {
		return nil, err
	}
	nd := &Node{
		closed:    make(chan struct{}),
		closeOnce: sync.Once{},
		closers:   closepool.Pool{},
		config:    *config,
		ifaces:    make(map[string]Interface),
		mu:        sync.RWMutex{},
		pool:      pool,
		qfifo:     queue.New[Delivery](config.QFIFOLength),
		rdp:       rdpqueue.New[*Conn](config.RDPMaxWindow, pool, rdpqueue.WithLogger(config.Logger)),
	}
	return nd, nil
}

// MustNew is like [New] but panics on error.
func MustNew(config *Config) *Node {
	return runtimex.Try1(New(config))
}

// Pool returns the buffer pool.
func (nd *Node) Pool() *bufpool.Pool {
	return nd.pool
}

// RDP returns the retransmission queue.
func (nd *Node) RDP() *rdpqueue.Queue[*Conn] {
	return nd.rdp
}

// Version returns the identity header version used on the wire.
func (nd *Node) Version() packet.Version {
	return nd.config.Version
}

// Logger returns the optional logger.
func (nd *Node) Logger() *slog.Logger {
	return nd.config.Logger
}

// Pending returns the number of packets waiting in the incoming FIFO.
func (nd *Node) Pending() int {
	return nd.qfifo.Size()
}

// Deliver writes a received packet into the incoming FIFO. The node
// takes ownership of pkt: when the FIFO is full, the packet is released
// to the pool and [ErrQFIFOFull] is returned.
func (nd *Node) Deliver(pkt *packet.Packet, ifname string) error {
	if pkt == nil {
		return fmt.Errorf("cspnet: nil packet: %w", errno.EINVAL)
	}

	// Hold the read lock until the packet is queued so the Close drain sees it.
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	select {
	case <-nd.closed:
		nd.release(pkt)
		return ErrClosed
	default:
	}
	if err := nd.qfifo.Enqueue(Delivery{Packet: pkt, Interface: ifname}, 0); err != nil {
		if nd.config.Logger != nil {
			nd.config.Logger.Debug(
				"qfifoDrop",
				slog.Any("err", ErrQFIFOFull),
				slog.String("errClass", errclass.New(ErrQFIFOFull)),
				slog.String("iface", ifname),
				slog.String("packet", pkt.String()),
			)
		}
		nd.release(pkt)
		return ErrQFIFOFull
	}
	return nil
}

// Read returns the oldest packet in the incoming FIFO, waiting until
// one is available, the context is done, or the node is closed.
func (nd *Node) Read(ctx context.Context) (Delivery, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-nd.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	dv, err := nd.qfifo.DequeueContext(ctx)
	if err != nil {
		select {
		case <-nd.closed:
			return Delivery{}, ErrClosed
		default:
			return Delivery{}, err
		}
	}
	return dv, nil
}

// Attach registers an interface with the node. The interface is
// closed by [*Node.Close] in the reverse order of attachment.
func (nd *Node) Attach(ifc Interface) error {
	name := ifc.Name()
	if name == "" {
		return fmt.Errorf("cspnet: empty interface name: %w", errno.EINVAL)
	}
	nd.mu.Lock()
	defer nd.mu.Unlock()
	select {
	case <-nd.closed:
		return ErrClosed
	default:
	}
	if _, found := nd.ifaces[name]; found {
		return ErrInterfaceExists
	}
	nd.ifaces[name] = ifc
	nd.closers.Add(name, ifc)
	if nd.config.Logger != nil {
		nd.config.Logger.Info("ifaceAttach", slog.String("iface", name))
	}
	return nil
}

// Interface returns the interface with the given name.
func (nd *Node) Interface(name string) (Interface, bool) {
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	ifc, found := nd.ifaces[name]
	return ifc, found
}

// Send transmits pkt using the named interface. The node takes
// ownership of pkt whatever the outcome.
func (nd *Node) Send(ctx context.Context, ifname string, pkt *packet.Packet) error {
	if pkt == nil {
		return fmt.Errorf("cspnet: nil packet: %w", errno.EINVAL)
	}
	ifc, found := nd.Interface(ifname)
	if !found {
		nd.release(pkt)
		return ErrNoSuchInterface
	}

	t0 := nd.config.timeNow()
	if nd.config.Logger != nil {
		nd.config.Logger.InfoContext(
			ctx,
			"sendStart",
			slog.String("iface", ifname),
			slog.String("packet", pkt.String()),
			slog.Time("t", t0),
		)
	}

	// We cannot use pkt after Send returns.
	desc := pkt.String()
	err := ifc.Send(ctx, pkt)

	if nd.config.Logger != nil {
		nd.config.Logger.InfoContext(
			ctx,
			"sendDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("iface", ifname),
			slog.String("packet", desc),
			slog.Time("t0", t0),
			slog.Time("t", nd.config.timeNow()),
		)
	}
	return err
}

// Close closes the attached interfaces in the reverse order of
// attachment and releases the packets still owned by the node.
func (nd *Node) Close() (err error) {
	nd.closeOnce.Do(func() {
		nd.mu.Lock()
		close(nd.closed)
		nd.mu.Unlock()

		err = nd.closers.Close()

		for {
			dv, derr := nd.qfifo.Dequeue(0)
			if derr != nil {
				break
			}
			nd.release(dv.Packet)
		}
		nd.rdp.Init()

		if nd.config.Logger != nil {
			nd.config.Logger.Info(
				"nodeClose",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.Int("buffersInUse", nd.pool.InUse()),
			)
		}
	})
	return
}

// release returns pkt to the pool.
func (nd *Node) release(pkt *packet.Packet) {
	iface.Release(nd.config.Logger, nd.pool, pkt)
}
