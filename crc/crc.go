// SPDX-License-Identifier: GPL-3.0-or-later

// Package crc implements the CRC32 integrity trailer of a [*packet.Packet].
//
// The checksum is CRC32-C (Castagnoli), which is what CSP peers compute. It
// covers the payload or, once a header has been prepended, the whole frame.
// The 4-byte result is stored in network byte order right after the payload.
//
// Framing is not automatic: callers that send a header must invoke
// [*packet.Packet.Prepend] before [Append] so that the checksum protects
// header and payload as a single unit.
package crc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/packet"
)

// Size is the size of the trailer.
const Size = 4

var (
	// ErrCRC32 indicates a missing or mismatching trailer.
	ErrCRC32 = errors.New("crc: checksum mismatch")

	// ErrNoRoom indicates that the trailer does not fit into the buffer.
	ErrNoRoom = fmt.Errorf("crc: no room for checksum: %w", errno.EMSGSIZE)
)

// table is the Castagnoli table.
var table = crc32.MakeTable(crc32.Castagnoli)

// Memory returns the checksum of data.
func Memory(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Append computes the checksum over the frame when framing is established
// or over the payload otherwise, writes it after the payload and increments
// Length by [Size]. The frame, if any, grows to include the trailer. It
// returns [ErrNoRoom] if the trailer does not fit.
func Append(pkt *packet.Packet) error {
	if pkt.Length+Size > pkt.Capacity() {
		return ErrNoRoom
	}
	covered := pkt.Payload()
	if pkt.HasFrame() {
		covered = pkt.Frame()
	}
	binary.BigEndian.PutUint32(pkt.Data[pkt.Length:], Memory(covered))
	if pkt.HasFrame() {
		pkt.FrameLength += Size
	}
	pkt.Length += Size
	return nil
}

// Verify recomputes the checksum over the bytes preceding the trailer and
// compares it with the trailer. It returns [ErrCRC32] if Length cannot hold
// a trailer or if the values differ.
func Verify(pkt *packet.Packet) error {
	if pkt.Length < Size {
		return ErrCRC32
	}
	expect := binary.BigEndian.Uint32(pkt.Data[pkt.Length-Size : pkt.Length])
	if Memory(pkt.Covered(Size)) != expect {
		return ErrCRC32
	}
	return nil
}

// Trim removes the trailer from a packet that passed [Verify]. When the
// frame extends to the end of the payload, the frame is shortened too.
func Trim(pkt *packet.Packet) {
	if pkt.Length < Size {
		return
	}
	if pkt.HasFrame() && pkt.FrameBegin+pkt.FrameLength == packet.Headroom+pkt.Length {
		pkt.FrameLength -= Size
	}
	pkt.Length -= Size
}
