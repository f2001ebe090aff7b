// SPDX-License-Identifier: GPL-3.0-or-later

// Package netipx contains [net/netip] extensions used when
// logging the endpoints of datagram interfaces.
package netipx

import (
	"net"
	"net/netip"
)

// AddrToAddrPort converts a [net.Addr] to a [netip.AddrPort].
//
// If the input is nil or neither a [*net.TCPAddr] nor [*net.UDPAddr],
// returns an unspecified IPv6 address with port 0.
func AddrToAddrPort(addr net.Addr) netip.AddrPort {
	switch addr := addr.(type) {
	case *net.UDPAddr:
		return addr.AddrPort()
	case *net.TCPAddr:
		return addr.AddrPort()
	default:
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}
}

// FormatAddr returns the string representation of addr suitable for
// structured logs. IPv4-mapped IPv6 addresses are unmapped, so that
// the same peer always produces the same string. A nil addr maps to
// the empty string.
func FormatAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	ap := AddrToAddrPort(addr)
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()).String()
}
