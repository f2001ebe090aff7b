// SPDX-License-Identifier: GPL-3.0-or-later

package iface_test

import (
	"testing"

	"github.com/rbmk-project/cspnet/bufpool"
	"github.com/rbmk-project/cspnet/crc"
	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	for _, v := range []packet.Version{packet.Version1, packet.Version2} {
		for _, withCRC := range []bool{false, true} {
			pool := bufpool.MustNew(2, 32)
			tx := pool.GetAlways()
			tx.ID = packet.ID{Pri: packet.PriorityHigh, Src: 5, Dst: 6, Dport: 7, Sport: 8}
			require.NoError(t, tx.SetPayload([]byte("telemetry")))

			frame, err := iface.Encode(tx, v, withCRC)
			require.NoError(t, err)
			expectSize := packet.HeaderSize(v) + len("telemetry")
			if withCRC {
				expectSize += crc.Size
			}
			assert.Len(t, frame, expectSize)

			rx := pool.GetAlways()
			n := copy(rx.SetupRX(v), frame)
			require.NoError(t, iface.Decode(rx, v, n))
			assert.Equal(t, tx.ID, rx.ID)
			assert.Equal(t, []byte("telemetry"), rx.Payload())
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	pool := bufpool.MustNew(2, 32)

	t.Run("short frame", func(t *testing.T) {
		rx := pool.GetAlways()
		defer pool.Free(rx)
		n := copy(rx.SetupRX(packet.Version2), []byte{0x01, 0x02})
		assert.ErrorIs(t, iface.Decode(rx, packet.Version2, n), packet.ErrFrameTooShort)
	})

	t.Run("corrupted frame", func(t *testing.T) {
		tx := pool.GetAlways()
		require.NoError(t, tx.SetPayload([]byte("payload")))
		frame, err := iface.Encode(tx, packet.Version1, true)
		require.NoError(t, err)
		wire := append([]byte{}, frame...)
		require.NoError(t, pool.Free(tx))
		wire[len(wire)-crc.Size-1] ^= 0xff

		rx := pool.GetAlways()
		defer pool.Free(rx)
		n := copy(rx.SetupRX(packet.Version1), wire)
		assert.ErrorIs(t, iface.Decode(rx, packet.Version1, n), crc.ErrCRC32)
	})

	t.Run("no room for the trailer", func(t *testing.T) {
		tx := pool.GetAlways()
		defer pool.Free(tx)
		require.NoError(t, tx.SetPayload(make([]byte, 30)))
		_, err := iface.Encode(tx, packet.Version2, true)
		assert.ErrorIs(t, err, crc.ErrNoRoom)
	})
}
