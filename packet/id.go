//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// CSP identity header codec.
//

package packet

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Priority is the CSP packet priority.
type Priority uint8

const (
	// PriorityCritical is the highest priority.
	PriorityCritical Priority = 0

	// PriorityHigh is the high priority.
	PriorityHigh Priority = 1

	// PriorityNorm is the default priority.
	PriorityNorm Priority = 2

	// PriorityLow is the lowest priority.
	PriorityLow Priority = 3
)

// Flags is a set of CSP header flags.
type Flags uint8

const (
	// FlagCRC32 indicates a CRC32 trailer follows the payload.
	FlagCRC32 Flags = 0x01

	// FlagRDP indicates the packet belongs to an RDP connection.
	FlagRDP Flags = 0x02

	// FlagHMAC indicates an HMAC trailer follows the payload.
	FlagHMAC Flags = 0x08

	// FlagFRAG indicates a fragmented packet.
	FlagFRAG Flags = 0x10
)

// String returns the string representation of the flags.
func (flags Flags) String() string {
	var builder strings.Builder

	if flags&FlagFRAG != 0 {
		builder.WriteString("F")
	} else {
		builder.WriteString(".")
	}

	if flags&FlagHMAC != 0 {
		builder.WriteString("H")
	} else {
		builder.WriteString(".")
	}

	if flags&FlagRDP != 0 {
		builder.WriteString("R")
	} else {
		builder.WriteString(".")
	}

	if flags&FlagCRC32 != 0 {
		builder.WriteString("C")
	} else {
		builder.WriteString(".")
	}

	return builder.String()
}

// Version is the CSP header version.
type Version uint8

const (
	// Version1 is the 32-bit header with 5-bit host addresses.
	Version1 Version = 1

	// Version2 is the 48-bit header with 14-bit host addresses.
	Version2 Version = 2
)

// layout describes the bit layout of a header version.
type layout struct {
	size                                       int
	priOff, dstOff, srcOff, dportOff, sportOff uint
	hostMax, portMax, flagsMax                 uint64
}

var (
	layoutV1 = layout{
		size:   4,
		priOff: 30, srcOff: 25, dstOff: 20, dportOff: 14, sportOff: 8,
		hostMax: 0x1f, portMax: 0x3f, flagsMax: 0xff,
	}

	layoutV2 = layout{
		size:   6,
		priOff: 46, dstOff: 32, srcOff: 18, dportOff: 12, sportOff: 6,
		hostMax: 0x3fff, portMax: 0x3f, flagsMax: 0x3f,
	}
)

func layoutFor(v Version) layout {
	if v == Version1 {
		return layoutV1
	}
	return layoutV2
}

// HeaderSize returns the encoded header size for the given version.
func HeaderSize(v Version) int {
	return layoutFor(v).size
}

// ID is the CSP identity carried in the packet header.
type ID struct {
	// Pri is the packet priority.
	Pri Priority

	// Src is the source host address.
	Src uint16

	// Dst is the destination host address.
	Dst uint16

	// Dport is the destination port.
	Dport uint8

	// Sport is the source port.
	Sport uint8

	// Flags contains the header flags.
	Flags Flags
}

// String returns the string representation of the identity.
func (id ID) String() string {
	return fmt.Sprintf("%d:%d -> %d:%d pri=%d flags=%s", id.Src, id.Sport, id.Dst, id.Dport, id.Pri, id.Flags)
}

// encode returns the header value for the given layout.
func (id ID) encode(l layout) (uint64, error) {
	if uint64(id.Src) > l.hostMax || uint64(id.Dst) > l.hostMax ||
		uint64(id.Dport) > l.portMax || uint64(id.Sport) > l.portMax ||
		uint64(id.Flags) > l.flagsMax || id.Pri > PriorityLow {
		return 0, fmt.Errorf("%w: %s", ErrFieldRange, id)
	}
	return uint64(id.Pri)<<l.priOff |
		uint64(id.Dst)<<l.dstOff |
		uint64(id.Src)<<l.srcOff |
		uint64(id.Dport)<<l.dportOff |
		uint64(id.Sport)<<l.sportOff |
		uint64(id.Flags), nil
}

// decodeID returns the identity stored in the given header value.
func decodeID(value uint64, l layout) ID {
	return ID{
		Pri:   Priority(value >> l.priOff & 0x3),
		Dst:   uint16(value >> l.dstOff & l.hostMax),
		Src:   uint16(value >> l.srcOff & l.hostMax),
		Dport: uint8(value >> l.dportOff & l.portMax),
		Sport: uint8(value >> l.sportOff & l.portMax),
		Flags: Flags(value & l.flagsMax),
	}
}

// Prepend encodes ID in network byte order in front of Data and
// establishes the framing over header and current payload.
func (p *Packet) Prepend(v Version) error {
	l := layoutFor(v)
	value, err := p.ID.encode(l)
	if err != nil {
		return err
	}
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], value)
	p.FrameBegin = Headroom - l.size
	copy(p.buf[p.FrameBegin:Headroom], scratch[8-l.size:])
	p.FrameLength = l.size + p.Length
	return nil
}

// SetupRX prepares the buffer for receiving a frame with the given
// header version and returns the area where to write the frame.
func (p *Packet) SetupRX(v Version) []byte {
	p.Reset()
	p.FrameBegin = Headroom - layoutFor(v).size
	return p.buf[p.FrameBegin:]
}

// Strip decodes the header of an n-byte frame written into the area
// returned by [*Packet.SetupRX] and sets ID and Length accordingly.
func (p *Packet) Strip(v Version, n int) error {
	l := layoutFor(v)
	if n < l.size {
		return ErrFrameTooShort
	}
	if n > l.size+len(p.Data) {
		return ErrFrameTooLong
	}
	var scratch [8]byte
	copy(scratch[8-l.size:], p.buf[p.FrameBegin:Headroom])
	p.ID = decodeID(binary.BigEndian.Uint64(scratch[:]), l)
	p.FrameLength = n
	p.Length = n - l.size
	return nil
}
