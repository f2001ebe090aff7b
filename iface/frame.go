// SPDX-License-Identifier: GPL-3.0-or-later

package iface

import (
	"github.com/rbmk-project/cspnet/crc"
	"github.com/rbmk-project/cspnet/packet"
)

// Encode prepends the identity header to pkt and, when withCRC is true
// or the identity already carries [packet.FlagCRC32], appends the CRC32
// trailer. It returns the frame to write on the wire, which aliases the
// packet buffer and is only valid until pkt is released.
func Encode(pkt *packet.Packet, v packet.Version, withCRC bool) ([]byte, error) {
	if withCRC {
		pkt.ID.Flags |= packet.FlagCRC32
	}
	if err := pkt.Prepend(v); err != nil {
		return nil, err
	}
	if pkt.ID.Flags&packet.FlagCRC32 != 0 {
		if err := crc.Append(pkt); err != nil {
			return nil, err
		}
	}
	return pkt.Frame(), nil
}

// Decode parses the n-byte frame written into the area returned by
// [*packet.Packet.SetupRX]. When the identity carries [packet.FlagCRC32],
// the trailer is verified and removed from the payload.
func Decode(pkt *packet.Packet, v packet.Version, n int) error {
	if err := pkt.Strip(v, n); err != nil {
		return err
	}
	if pkt.ID.Flags&packet.FlagCRC32 != 0 {
		if err := crc.Verify(pkt); err != nil {
			return err
		}
		crc.Trim(pkt)
	}
	return nil
}
