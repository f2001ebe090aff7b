// SPDX-License-Identifier: GPL-3.0-or-later

// Package ws implements an interface carrying CSP frames over
// a WebSocket connection, one frame per binary message.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbmk-project/cspnet/crc"
	"github.com/rbmk-project/cspnet/errclass"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/iface"
	"github.com/rbmk-project/cspnet/packet"
)

const (
	readBufferSize  = 4096
	writeBufferSize = 4096
)

// Config contains the WebSocket interface configuration.
type Config struct {
	// CRC adds a CRC32 trailer to every transmitted frame.
	CRC bool

	// Conn is the MANDATORY WebSocket connection. The interface
	// owns it and closes it when closed.
	Conn *websocket.Conn

	// Name is the MANDATORY interface name.
	Name string
}

// Interface is the WebSocket interface.
//
// Construct using [New], [Dial] or [Upgrade].
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
		return nil, fmt.Errorf("ws: nil Conn: %w", errno.EINVAL)
	}
	if config.Name == "" {
		return nil, fmt.Errorf("ws: empty Name: %w", errno.EINVAL)
	}
	// Larger messages fail ReadMessage with websocket.ErrReadLimit.
	config.Conn.SetReadLimit(int64(packet.HeaderSize(rx.Version()) + rx.Pool().DataSize()))
	ifc := &Interface{config: *config, rx: rx}
	ifc.wg.Add(1)
	go ifc.loop()
	return ifc, nil
}

// Dial connects to the WebSocket server at URL and creates an [*Interface].
func Dial(ctx context.Context, name, URL string, withCRC bool, rx iface.Receiver) (*Interface, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  writeBufferSize,
	}
	conn, _, err := dialer.DialContext(ctx, URL, nil)
	if err != nil {
		return nil, err
	}
	ifc, err := New(&Config{CRC: withCRC, Conn: conn, Name: name}, rx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ifc, nil
}

// Upgrade upgrades an HTTP server connection to the WebSocket protocol
// and creates an [*Interface]. On failure, Upgrade replies to the client
// with an HTTP error.
func Upgrade(w http.ResponseWriter, r *http.Request, name string, withCRC bool, rx iface.Receiver) (*Interface, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ifc, err := New(&Config{CRC: withCRC, Conn: conn, Name: name}, rx)
	if err != nil {
		conn.Close()
		return nil, err
	}
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

// Send encodes pkt and writes the frame as a binary message. The
// packet is released to the pool whatever the outcome.
func (ifc *Interface) Send(ctx context.Context, pkt *packet.Packet) error {
	defer iface.Release(ifc.rx.Logger(), ifc.rx.Pool(), pkt)

	frame, err := iface.Encode(pkt, ifc.rx.Version(), ifc.config.CRC)
	if err != nil {
		ifc.counters.TXError.Add(1)
		return err
	}

	// The connection supports one concurrent writer.
	ifc.wmu.Lock()
	defer ifc.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		ifc.config.Conn.SetWriteDeadline(deadline)
		defer ifc.config.Conn.SetWriteDeadline(time.Time{})
	}
	if err := ifc.config.Conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		ifc.counters.TXError.Add(1)
		return err
	}
	ifc.counters.TX.Add(1)
	ifc.counters.TXBytes.Add(uint64(len(frame)))
	return nil
}

// Close closes the connection and waits for the receive loop to terminate.
func (ifc *Interface) Close() error {
	ifc.closeOnce.Do(func() {
		ifc.closed.Store(true)
		ifc.closeErr = ifc.config.Conn.Close()
		ifc.wg.Wait()
	})
	return ifc.closeErr
}

// loop reads messages until the connection fails or is closed.
func (ifc *Interface) loop() {
	defer ifc.wg.Done()
	pool, version := ifc.rx.Pool(), ifc.rx.Version()
	for {
		kind, data, err := ifc.config.Conn.ReadMessage()
		if err != nil {
			if !ifc.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				ifc.counters.RXError.Add(1)
				ifc.logDrop(err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			ifc.counters.Frame.Add(1)
			continue
		}

		pkt, err := pool.Get(0)
		if err != nil {
			ifc.counters.Drop.Add(1)
			ifc.logDrop(err)
			continue
		}
		area := pkt.SetupRX(version)
		if len(data) > len(area) {
			iface.Release(ifc.rx.Logger(), pool, pkt)
			ifc.counters.Frame.Add(1)
			ifc.logDrop(packet.ErrFrameTooLong)
			continue
		}
		count := copy(area, data)
		if err := iface.Decode(pkt, version, count); err != nil {
			iface.Release(ifc.rx.Logger(), pool, pkt)
			if errors.Is(err, crc.ErrCRC32) {
				ifc.counters.RXError.Add(1)
			} else {
				ifc.counters.Frame.Add(1)
			}
			ifc.logDrop(err)
			continue
		}

		ifc.counters.RX.Add(1)
		ifc.counters.RXBytes.Add(uint64(count))
		if err := ifc.rx.Deliver(pkt, ifc.config.Name); err != nil {
			ifc.counters.Drop.Add(1)
		}
	}
}

// logDrop logs a message we could not deliver.
func (ifc *Interface) logDrop(err error) {
	if logger := ifc.rx.Logger(); logger != nil {
		logger.Debug(
			"wsDrop",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("iface", ifc.config.Name),
			slog.String("remoteAddr", ifc.config.Conn.RemoteAddr().String()),
			slog.Time("t", time.Now()),
		)
	}
}
