// SPDX-License-Identifier: GPL-3.0-or-later

package udp_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rbmk-project/cspnet"
	"github.com/rbmk-project/cspnet/bufpool"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/iface/udp"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pair is a pair of nodes connected through UDP sockets on the loopback.
type pair struct {
	left, right       *cspnet.Node
	leftIfc, rightIfc *udp.Interface
}

func newPair(t *testing.T, withCRC bool) *pair {
	leftConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	rightConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &pair{
		left:  cspnet.MustNew(cspnet.DefaultConfig()),
		right: cspnet.MustNew(cspnet.DefaultConfig()),
	}
	p.leftIfc, err = udp.New(&udp.Config{
		CRC:  withCRC,
		Conn: leftConn,
		Name: "UDP",
		Peer: rightConn.LocalAddr(),
	}, p.left)
	require.NoError(t, err)
	p.rightIfc, err = udp.New(&udp.Config{
		CRC:  withCRC,
		Conn: rightConn,
		Name: "UDP",
		Peer: leftConn.LocalAddr(),
	}, p.right)
	require.NoError(t, err)

	require.NoError(t, p.left.Attach(p.leftIfc))
	require.NoError(t, p.right.Attach(p.rightIfc))
	t.Cleanup(func() {
		p.left.Close()
		p.right.Close()
	})
	return p
}

func TestExchange(t *testing.T) {
	for _, withCRC := range []bool{false, true} {
		t.Run(map[bool]string{false: "without CRC", true: "with CRC"}[withCRC], func(t *testing.T) {
			p := newPair(t, withCRC)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			pkt := p.left.Pool().GetAlways()
			pkt.ID = packet.ID{Pri: packet.PriorityNorm, Src: 1, Dst: 2, Dport: 10, Sport: 20}
			require.NoError(t, pkt.SetPayload([]byte("Hello, CSP")))
			require.NoError(t, p.left.Send(ctx, "UDP", pkt))
			assert.Equal(t, p.left.Pool().Count(), p.left.Pool().Remaining())

			dv, err := p.right.Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, "UDP", dv.Interface)
			assert.Equal(t, []byte("Hello, CSP"), dv.Packet.Payload())
			assert.Equal(t, uint16(1), dv.Packet.ID.Src)
			assert.Equal(t, uint16(2), dv.Packet.ID.Dst)
			assert.Equal(t, withCRC, dv.Packet.ID.Flags&packet.FlagCRC32 != 0)
			require.NoError(t, p.right.Pool().Free(dv.Packet))

			assert.Equal(t, uint64(1), p.leftIfc.Stats().TX)
			assert.Equal(t, uint64(1), p.rightIfc.Stats().RX)
			assert.Equal(t, p.right.Pool().Count(), p.right.Pool().Remaining())
		})
	}
}

func TestMalformedDatagrams(t *testing.T) {
	p := newPair(t, true)
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	t.Run("short frame", func(t *testing.T) {
		_, err := conn.WriteTo([]byte{0x01}, p.rightIfc.LocalAddr())
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return p.rightIfc.Stats().Frame == 1
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("corrupted frame", func(t *testing.T) {
		pool := bufpool.MustNew(1, 64)
		pkt := pool.GetAlways()
		require.NoError(t, pkt.SetPayload([]byte("corrupted")))
		frame, err := iface.Encode(pkt, packet.Version2, true)
		require.NoError(t, err)
		frame[len(frame)-1] ^= 0x01
		_, err = conn.WriteTo(frame, p.rightIfc.LocalAddr())
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return p.rightIfc.Stats().RXError == 1
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("oversized frame", func(t *testing.T) {
		frame := make([]byte, packet.HeaderSize(packet.Version2)+p.right.Pool().DataSize()+1)
		_, err := conn.WriteTo(frame, p.rightIfc.LocalAddr())
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return p.rightIfc.Stats().Frame == 2
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, uint64(0), p.rightIfc.Stats().RX)
	})

	assert.Equal(t, 0, p.right.Pending())
	assert.Equal(t, p.right.Pool().Count(), p.right.Pool().Remaining())
}

func TestConcurrentSend(t *testing.T) {
	const senders = 10
	p := newPair(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for idx := 0; idx < senders; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			pkt := p.left.Pool().GetAlways()
			pkt.ID = packet.ID{Src: 1, Dst: 2, Sport: uint8(idx)}
			if err := pkt.SetPayload([]byte("concurrent")); err != nil {
				errs <- err
				return
			}
			errs <- p.left.Send(ctx, "UDP", pkt)
		}(idx)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(senders), p.leftIfc.Stats().TX)
	assert.Equal(t, uint64(0), p.leftIfc.Stats().TXError)

	for idx := 0; idx < senders; idx++ {
		dv, err := p.right.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("concurrent"), dv.Packet.Payload())
		require.NoError(t, p.right.Pool().Free(dv.Packet))
	}
	assert.Equal(t, p.left.Pool().Count(), p.left.Pool().Remaining())
	assert.Equal(t, p.right.Pool().Count(), p.right.Pool().Remaining())
}

func TestNewErrors(t *testing.T) {
	node := cspnet.MustNew(cspnet.DefaultConfig())
	defer node.Close()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	configs := map[string]*udp.Config{
		"nil Conn":   {Name: "UDP", Peer: conn.LocalAddr()},
		"empty Name": {Conn: conn, Peer: conn.LocalAddr()},
		"nil Peer":   {Conn: conn, Name: "UDP"},
	}
	for name, config := range configs {
		t.Run(name, func(t *testing.T) {
			ifc, err := udp.New(config, node)
			assert.ErrorIs(t, err, errno.EINVAL)
			assert.Nil(t, ifc)
		})
	}
}

func TestListenAndClose(t *testing.T) {
	node := cspnet.MustNew(cspnet.DefaultConfig())
	defer node.Close()

	ifc, err := udp.Listen(context.Background(), "UDP", "127.0.0.1:0", "127.0.0.1:9", false, node)
	require.NoError(t, err)
	require.NoError(t, node.Attach(ifc))
	require.NoError(t, ifc.Close())
	require.NoError(t, ifc.Close())

	pkt := node.Pool().GetAlways()
	require.NoError(t, pkt.SetPayload([]byte("late")))
	err = node.Send(context.Background(), "UDP", pkt)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Equal(t, uint64(1), ifc.Stats().TXError)
	assert.Equal(t, node.Pool().Count(), node.Pool().Remaining())
}
