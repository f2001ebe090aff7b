// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package cspnet implements the packet-resource core of a lightweight,
CSP-style networking stack for constrained nodes.

# Usage and Features

The [New] function creates a [*Node] from a [*Config]. The node owns
every resource the stack needs, which are allocated once and never grow:

- a [*bufpool.Pool] of fixed-size packet buffers;

- an [*rdpqueue.Queue] holding packets awaiting acknowledgment or
in-order delivery on reliable connections;

- the incoming packet FIFO, which [*Node.Deliver] writes and
[*Node.Read] consumes.

Interfaces implementing [Interface] move packets between the node and
the outside world. The [iface/loopback] package delivers sent packets
back to the node, [iface/udp] tunnels frames over UDP and [iface/pipe]
connects two nodes back to back in memory. Use [*Node.Attach] to
register an interface and [*Node.Send] to transmit through it.

# Buffer Ownership

Every buffer is owned either by the pool or by exactly one holder.
[*Node.Send] and [*Node.Deliver] take ownership of the packet they
receive whatever the outcome. A packet returned by [*Node.Read] belongs
to the caller, who must eventually release it using [*bufpool.Pool.Free].

# Data Flow

On transmit, the caller acquires a buffer, populates its payload and
identity, and sends it. The interface prepends the identity header,
appends a CRC32 trailer when [packet.FlagCRC32] is set, and writes the
frame. On receive, the interface reads the frame into a fresh buffer,
strips the header, verifies and removes the trailer, and delivers the
packet to the node. The [crc] package implements the checksum.

# Structured Logging

All the components accept an optional [*slog.Logger]. A nil logger
means that we do not emit structured logs. Events carry the original
error in the `err` field and its class, computed by [errclass.New],
in the `errClass` field.
*/
package cspnet
