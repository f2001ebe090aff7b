// SPDX-License-Identifier: GPL-3.0-or-later

// Package kiss implements an interface carrying CSP frames over a byte
// stream, such as a serial line or a TCP connection, using KISS framing.
//
// Every frame starts and ends with FEND and the first byte after FEND
// is the command, which is zero for data frames. FEND and FESC bytes
// inside the frame are escaped as FESC TFEND and FESC TFESC.
package kiss

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbmk-project/cspnet/crc"
	"github.com/rbmk-project/cspnet/errclass"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/valyala/bytebufferpool"
)

const (
	fend    = 0xc0
	fesc    = 0xdb
	tfend   = 0xdc
	tfesc   = 0xdd
	cmdData = 0x00
)

// ErrEscape indicates an invalid escape sequence.
var ErrEscape = errors.New("kiss: invalid escape sequence")

// appendFrame appends the KISS encoding of frame to dst.
func appendFrame(dst, frame []byte) []byte {
	dst = append(dst, fend, cmdData)
	for _, b := range frame {
		switch b {
		case fend:
			dst = append(dst, fesc, tfend)
		case fesc:
			dst = append(dst, fesc, tfesc)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, fend)
}

// Config contains the KISS interface configuration.
type Config struct {
	// CRC adds a CRC32 trailer to every transmitted frame.
	CRC bool

	// Conn is the MANDATORY stream. The interface owns it
	// and closes it when closed.
	Conn net.Conn

	// Name is the MANDATORY interface name.
	Name string
}

// Interface is the KISS interface.
//
// Construct using [New].
type Interface struct {
	closed    atomic.Bool
	closeErr  error
	closeOnce sync.Once
	config    Config
	counters  iface.Counters
	rx        iface.Receiver
	wg        sync.WaitGroup
	wmu       sync.Mutex
}

// New creates a new [*Interface] and starts the receive loop.
func New(config *Config, rx iface.Receiver) (*Interface, error) {
	if config.Conn == nil {
		return nil, fmt.Errorf("kiss: nil Conn: %w", errno.EINVAL)
	}
	if config.Name == "" {
		return nil, fmt.Errorf("kiss: empty Name: %w", errno.EINVAL)
	}
	ifc := &Interface{config: *config, rx: rx}
	ifc.wg.Add(1)
	go ifc.loop()
	return ifc, nil
}

// Name returns the interface name.
func (ifc *Interface) Name() string {
	return ifc.config.Name
}

// Stats returns a snapshot of the interface counters.
func (ifc *Interface) Stats() iface.Stats {
	return ifc.counters.Snapshot()
}

// Send encodes pkt and writes the KISS frame to the stream. The
// packet is released to the pool whatever the outcome.
func (ifc *Interface) Send(ctx context.Context, pkt *packet.Packet) error {
	defer iface.Release(ifc.rx.Logger(), ifc.rx.Pool(), pkt)

	frame, err := iface.Encode(pkt, ifc.rx.Version(), ifc.config.CRC)
	if err != nil {
		ifc.counters.TXError.Add(1)
		return err
	}
	wire := bytebufferpool.Get()
	defer bytebufferpool.Put(wire)
	wire.B = appendFrame(wire.B[:0], frame)

	ifc.wmu.Lock()
	defer ifc.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		ifc.config.Conn.SetWriteDeadline(deadline)
		defer ifc.config.Conn.SetWriteDeadline(time.Time{})
	}
	if _, err := ifc.config.Conn.Write(wire.B); err != nil {
		ifc.counters.TXError.Add(1)
		return err
	}
	ifc.counters.TX.Add(1)
	ifc.counters.TXBytes.Add(uint64(len(frame)))
	return nil
}

// Close closes the stream and waits for the receive loop to terminate.
func (ifc *Interface) Close() error {
	ifc.closeOnce.Do(func() {
		ifc.closed.Store(true)
		ifc.closeErr = ifc.config.Conn.Close()
		ifc.wg.Wait()
	})
	return ifc.closeErr
}

// rxState is the state of the receive loop.
type rxState int

const (
	// stateIdle discards bytes until FEND.
	stateIdle rxState = iota

	// stateCommand expects the command byte.
	stateCommand

	// stateData copies bytes into the frame.
	stateData

	// stateEscape expects TFEND or TFESC.
	stateEscape
)

// loop decodes frames until the stream fails or is closed.
func (ifc *Interface) loop() {
	defer ifc.wg.Done()
	var (
		area    []byte
		count   int
		pkt     *packet.Packet
		pool    = ifc.rx.Pool()
		reader  = bufio.NewReader(ifc.config.Conn)
		state   = stateIdle
		version = ifc.rx.Version()
	)

	// drop releases the partial frame and resynchronizes.
	drop := func(err error) {
		if pkt != nil {
			iface.Release(ifc.rx.Logger(), pool, pkt)
			pkt = nil
		}
		ifc.counters.Frame.Add(1)
		ifc.logDrop(err)
		state = stateIdle
	}

	// put appends a byte to the frame.
	put := func(b byte) {
		if count >= len(area) {
			drop(packet.ErrFrameTooLong)
			return
		}
		area[count] = b
		count++
		state = stateData
	}

	for {
		b, err := reader.ReadByte()
		if err != nil {
			if pkt != nil {
				iface.Release(ifc.rx.Logger(), pool, pkt)
			}
			if !ifc.closed.Load() && !errors.Is(err, io.EOF) {
				ifc.counters.RXError.Add(1)
				ifc.logDrop(err)
			}
			return
		}

		switch state {
		case stateIdle:
			if b == fend {
				state = stateCommand
			}

		case stateCommand:
			switch {
			case b == fend:
				// back-to-back FEND
			case b != cmdData:
				state = stateIdle
			default:
				if pkt, err = pool.Get(0); err != nil {
					ifc.counters.Drop.Add(1)
					ifc.logDrop(err)
					state = stateIdle
					continue
				}
				area, count, state = pkt.SetupRX(version), 0, stateData
			}

		case stateData:
			switch b {
			case fend:
				ifc.complete(pkt, count)
				pkt, state = nil, stateCommand
			case fesc:
				state = stateEscape
			default:
				put(b)
			}

		case stateEscape:
			switch b {
			case tfend:
				put(fend)
			case tfesc:
				put(fesc)
			default:
				drop(ErrEscape)
			}
		}
	}
}

// complete decodes a received frame and delivers it.
func (ifc *Interface) complete(pkt *packet.Packet, count int) {
	if err := iface.Decode(pkt, ifc.rx.Version(), count); err != nil {
		iface.Release(ifc.rx.Logger(), ifc.rx.Pool(), pkt)
		if errors.Is(err, crc.ErrCRC32) {
			ifc.counters.RXError.Add(1)
		} else {
			ifc.counters.Frame.Add(1)
		}
		ifc.logDrop(err)
		return
	}
	ifc.counters.RX.Add(1)
	ifc.counters.RXBytes.Add(uint64(count))
	if err := ifc.rx.Deliver(pkt, ifc.config.Name); err != nil {
		ifc.counters.Drop.Add(1)
	}
}

// logDrop logs a frame we could not deliver.
func (ifc *Interface) logDrop(err error) {
	if logger := ifc.rx.Logger(); logger != nil {
		logger.Debug(
			"kissDrop",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("iface", ifc.config.Name),
			slog.Time("t", time.Now()),
		)
	}
}
