// SPDX-License-Identifier: GPL-3.0-or-later

package cspnet

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/packet"
)

// Config contains the [*Node] configuration.
//
// Construct using [DefaultConfig] and override the fields you need.
type Config struct {
	// BufferCount is the number of packet buffers in the pool.
	BufferCount int

	// BufferDataSize is the payload capacity of each buffer.
	BufferDataSize int

	// FatalHandler is the optional function invoked when the pool
	// is exhausted during an unconditional acquisition. If nil, the
	// pool logs the condition and panics.
	FatalHandler func(err error)

	// Logger is the optional structured logger.
	Logger *slog.Logger

	// QFIFOLength is the capacity of the incoming packet FIFO.
	QFIFOLength int

	// RDPMaxWindow is the maximum RDP window. The retransmission
	// queue holds at most twice this number of packets per direction.
	RDPMaxWindow int

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time

	// Version is the identity header version used on the wire.
	Version packet.Version
}

// DefaultConfig returns the default [*Config].
func DefaultConfig() *Config {
	return &Config{
		BufferCount:    20,
		BufferDataSize: 256,
		FatalHandler:   nil,
		Logger:         nil,
		QFIFOLength:    15,
		RDPMaxWindow:   5,
		TimeNow:        nil,
		Version:        packet.Version2,
	}
}

// validate ensures the configuration is usable.
func (c *Config) validate() error {
	if c.BufferCount <= 0 {
		return fmt.Errorf("cspnet: invalid BufferCount %d: %w", c.BufferCount, errno.EINVAL)
	}
	if c.BufferDataSize <= 0 {
		return fmt.Errorf("cspnet: invalid BufferDataSize %d: %w", c.BufferDataSize, errno.EINVAL)
	}
	if c.QFIFOLength <= 0 {
		return fmt.Errorf("cspnet: invalid QFIFOLength %d: %w", c.QFIFOLength, errno.EINVAL)
	}
	if c.RDPMaxWindow <= 0 {
		return fmt.Errorf("cspnet: invalid RDPMaxWindow %d: %w", c.RDPMaxWindow, errno.EINVAL)
	}
	switch c.Version {
	case packet.Version1, packet.Version2:
	default:
		return fmt.Errorf("cspnet: invalid Version %d: %w", c.Version, errno.EINVAL)
	}
	return nil
}

// timeNow returns the current time using the configured function.
func (c *Config) timeNow() time.Time {
	if c.TimeNow != nil {
		return c.TimeNow()
	}
	return time.Now()
}
