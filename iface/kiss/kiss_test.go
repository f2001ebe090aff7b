// SPDX-License-Identifier: GPL-3.0-or-later

package kiss_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rbmk-project/common/mocks"
	"github.com/rbmk-project/cspnet"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/iface/kiss"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchange(t *testing.T) {
	leftConn, rightConn := net.Pipe()
	left := cspnet.MustNew(cspnet.DefaultConfig())
	defer left.Close()
	right := cspnet.MustNew(cspnet.DefaultConfig())
	defer right.Close()

	leftIfc, err := kiss.New(&kiss.Config{CRC: true, Conn: leftConn, Name: "KISS"}, left)
	require.NoError(t, err)
	require.NoError(t, left.Attach(leftIfc))
	rightIfc, err := kiss.New(&kiss.Config{CRC: true, Conn: rightConn, Name: "KISS"}, right)
	require.NoError(t, err)
	require.NoError(t, right.Attach(rightIfc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The payload contains the bytes that must be escaped.
	payload := []byte{0xc0, 0x01, 0xdb, 0xdc, 0xdd, 0xc0}
	for i := 0; i < 3; i++ {
		pkt := left.Pool().GetAlways()
		pkt.ID = packet.ID{Src: 1, Dst: 2, Dport: uint8(i), Sport: 9}
		require.NoError(t, pkt.SetPayload(payload))
		require.NoError(t, left.Send(ctx, "KISS", pkt))
	}
	for i := 0; i < 3; i++ {
		dv, err := right.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, payload, dv.Packet.Payload())
		assert.Equal(t, uint8(i), dv.Packet.ID.Dport)
		require.NoError(t, right.Pool().Free(dv.Packet))
	}
	assert.Equal(t, uint64(3), leftIfc.Stats().TX)
	assert.Equal(t, uint64(3), rightIfc.Stats().RX)
	assert.Equal(t, left.Pool().Count(), left.Pool().Remaining())
}

func TestMalformedStream(t *testing.T) {
	peer, conn := net.Pipe()
	defer peer.Close()
	node := cspnet.MustNew(cspnet.DefaultConfig())
	defer node.Close()
	ifc, err := kiss.New(&kiss.Config{Conn: conn, Name: "KISS"}, node)
	require.NoError(t, err)
	require.NoError(t, node.Attach(ifc))

	header := make([]byte, packet.HeaderSize(node.Version()))
	overlong := append([]byte{0xc0, 0x00}, make([]byte, 2*node.Pool().DataSize())...)
	overlong = append(overlong, 0xc0)

	stream := [][]byte{
		{0x55, 0x66},                         // noise before the first FEND
		{0xc0, 0x01, 0xaa, 0xc0},             // non-data command
		{0xc0, 0x00, 0x01, 0xdb, 0x01, 0xc0}, // invalid escape
		{0xc0, 0x00, 0x01, 0xc0},             // short frame
		overlong,                             // frame too long
		append(append([]byte{0xc0, 0x00}, header...), 'o', 'k', 0xc0),
	}
	for _, chunk := range stream {
		_, err := peer.Write(chunk)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dv, err := node.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), dv.Packet.Payload())
	require.NoError(t, node.Pool().Free(dv.Packet))

	stats := ifc.Stats()
	assert.Equal(t, uint64(3), stats.Frame)
	assert.Equal(t, uint64(1), stats.RX)
	assert.Equal(t, node.Pool().Count(), node.Pool().Remaining())
}

func TestWriteError(t *testing.T) {
	expected := errors.New("mocked write error")
	conn := &mocks.Conn{
		MockRead: func(b []byte) (int, error) {
			return 0, io.EOF
		},
		MockWrite: func(b []byte) (int, error) {
			return 0, expected
		},
		MockClose: func() error {
			return nil
		},
	}
	node := cspnet.MustNew(cspnet.DefaultConfig())
	defer node.Close()
	ifc, err := kiss.New(&kiss.Config{Conn: conn, Name: "KISS"}, node)
	require.NoError(t, err)
	require.NoError(t, node.Attach(ifc))

	err = node.Send(context.Background(), "KISS", node.Pool().GetAlways())
	assert.ErrorIs(t, err, expected)
	assert.Equal(t, uint64(1), ifc.Stats().TXError)
	assert.Equal(t, node.Pool().Count(), node.Pool().Remaining())
}

func TestReadError(t *testing.T) {
	conn := &mocks.Conn{
		MockRead: func(b []byte) (int, error) {
			return 0, errno.EINVAL
		},
		MockClose: func() error {
			return nil
		},
	}
	node := cspnet.MustNew(cspnet.DefaultConfig())
	defer node.Close()
	ifc, err := kiss.New(&kiss.Config{Conn: conn, Name: "KISS"}, node)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ifc.Stats().RXError == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, ifc.Close())
}

func TestNewErrors(t *testing.T) {
	node := cspnet.MustNew(cspnet.DefaultConfig())
	defer node.Close()
	_, err := kiss.New(&kiss.Config{Name: "KISS"}, node)
	assert.ErrorIs(t, err, errno.EINVAL)
	_, err = kiss.New(&kiss.Config{Conn: &mocks.Conn{}}, node)
	assert.ErrorIs(t, err, errno.EINVAL)
}
