// SPDX-License-Identifier: GPL-3.0-or-later

// Package packet contains [*Packet] and the related definitions.
package packet

import (
	"errors"
	"fmt"
)

// Headroom is the number of bytes reserved in front of [*Packet] Data
// so that an identity header can be prepended without copying.
const Headroom = 8

// Packet is a fixed-capacity packet buffer.
//
// The zero value is invalid; buffers are allocated by the buffer pool
// using [New] and are then reused for the process lifetime.
type Packet struct {
	// ID is the CSP identity of the packet.
	ID ID

	// Length is the number of valid payload bytes in Data.
	Length int

	// Data is the payload area. Its length is the data capacity
	// of the buffer and never changes.
	Data []byte

	// FrameBegin is the offset, within the backing storage, of the
	// first byte of the frame (header followed by payload).
	FrameBegin int

	// FrameLength is the number of bytes in the frame. A zero
	// value means no header framing has been established.
	FrameLength int

	// buf is the backing storage: headroom followed by Data.
	buf []byte
}

// New allocates a zeroed [*Packet] whose Data can hold dataSize bytes.
func New(dataSize int) *Packet {
	buf := make([]byte, Headroom+dataSize)
	return &Packet{
		Data: buf[Headroom : Headroom+dataSize : Headroom+dataSize],
		buf:  buf,
	}
}

// Capacity returns the payload capacity of the buffer.
func (p *Packet) Capacity() int {
	return len(p.Data)
}

// Payload returns the valid payload bytes.
func (p *Packet) Payload() []byte {
	return p.Data[:p.Length]
}

// SetPayload copies data into the payload area and updates Length.
//
// It returns [ErrFrameTooLong] if data does not fit.
func (p *Packet) SetPayload(data []byte) error {
	if len(data) > len(p.Data) {
		return ErrFrameTooLong
	}
	p.Length = copy(p.Data, data)
	return nil
}

// HasFrame returns whether header framing has been established.
func (p *Packet) HasFrame() bool {
	return p.FrameLength > 0
}

// Frame returns the framed bytes or nil when there is no framing.
func (p *Packet) Frame() []byte {
	if !p.HasFrame() {
		return nil
	}
	return p.buf[p.FrameBegin : p.FrameBegin+p.FrameLength]
}

// Covered returns the bytes protected by a trailer of the given size
// stored at the end of the payload. The range starts at the frame when
// framing is established and at Data otherwise, and ends right before
// the trailer. It returns nil when Length is smaller than trailer.
func (p *Packet) Covered(trailer int) []byte {
	if p.Length < trailer {
		return nil
	}
	begin := Headroom
	if p.HasFrame() {
		begin = p.FrameBegin
	}
	return p.buf[begin : Headroom+p.Length-trailer]
}

// Reset clears the identity, the length and the framing. It does
// not zero Data, which the next owner overwrites anyway.
func (p *Packet) Reset() {
	p.ID = ID{}
	p.Length = 0
	p.FrameBegin = 0
	p.FrameLength = 0
}

// CopyFrom copies identity, payload and framing from other.
//
// It returns [ErrFrameTooLong] if the payload does not fit.
func (p *Packet) CopyFrom(other *Packet) error {
	if other.Length > len(p.Data) {
		return ErrFrameTooLong
	}
	p.ID = other.ID
	p.Length = copy(p.Data, other.Payload())
	p.FrameBegin, p.FrameLength = 0, 0
	if other.HasFrame() {
		headerSize := Headroom - other.FrameBegin
		copy(p.buf[Headroom-headerSize:Headroom], other.buf[other.FrameBegin:Headroom])
		p.FrameBegin = other.FrameBegin
		p.FrameLength = other.FrameLength
	}
	return nil
}

// String returns the string representation of the packet.
func (p *Packet) String() string {
	return fmt.Sprintf("%s length=%d frame=%d", p.ID.String(), p.Length, p.FrameLength)
}

var (
	// ErrFrameTooShort indicates a received frame smaller than the header.
	ErrFrameTooShort = errors.New("packet: frame too short")

	// ErrFrameTooLong indicates data that does not fit into the buffer.
	ErrFrameTooLong = errors.New("packet: frame too long")

	// ErrFieldRange indicates an identity field too large for the header version.
	ErrFieldRange = errors.New("packet: identity field out of range")
)
