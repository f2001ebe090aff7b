// SPDX-License-Identifier: GPL-3.0-or-later

// Package bufpool implements a fixed-count pool of [*packet.Packet].
//
// All the buffers are allocated by [New] and live as long as the [*Pool].
// A buffer is either free (owned by the pool) or in use (owned by exactly
// one caller until it invokes [*Pool.Free]). The pool never grows.
//
// There are two acquisition modes. [*Pool.Get] returns [ErrExhausted] when
// no buffer becomes free within the timeout. [*Pool.GetAlways] is for
// callers that have no fallback: it never blocks and, if the pool is
// empty, it invokes the fatal handler, which by default panics.
package bufpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/cspnet/errno"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/rbmk-project/cspnet/queue"
)

var (
	// ErrExhausted indicates that no buffer became free in time.
	ErrExhausted = fmt.Errorf("bufpool: no free buffers: %w", errno.ENOBUFS)

	// ErrFatalExhaustion indicates that [*Pool.GetAlways] found no free buffer.
	ErrFatalExhaustion = fmt.Errorf("bufpool: out of buffers in unconditional get: %w", errno.ENOBUFS)

	// ErrDoubleFree indicates an attempt to free a buffer that is already free.
	ErrDoubleFree = fmt.Errorf("bufpool: buffer is already free: %w", errno.EINVAL)

	// ErrForeignBuffer indicates an attempt to free a buffer the pool does not own.
	ErrForeignBuffer = fmt.Errorf("bufpool: buffer not owned by this pool: %w", errno.EINVAL)
)

// Option configures a [*Pool].
type Option func(p *Pool)

// WithLogger sets the structured logger. By default the pool does not log.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithFatalHandler overrides the function invoked by [*Pool.GetAlways] when
// the pool is exhausted. The handler receives [ErrFatalExhaustion] and is
// expected not to return; if it returns, GetAlways returns nil.
func WithFatalHandler(fn func(err error)) Option {
	return func(p *Pool) {
		p.fatal = fn
	}
}

// Pool is a fixed-count pool of packet buffers.
//
// Construct using [New].
type Pool struct {
	// dataSize is the payload capacity of each buffer.
	dataSize int

	// fatal handles exhaustion in GetAlways.
	fatal func(err error)

	// free is the free list.
	free *queue.Queue[*packet.Packet]

	// inuse maps every owned buffer to whether it is in use.
	inuse map[*packet.Packet]bool

	// logger is the optional logger.
	logger *slog.Logger

	// mu protects inuse and used.
	mu sync.Mutex

	// used is the number of buffers in use.
	used int
}

// New creates a [*Pool] with count zeroed buffers of dataSize bytes each.
func New(count, dataSize int, options ...Option) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("bufpool: invalid buffer count %d: %w", count, errno.EINVAL)
	}
	if dataSize <= 0 {
		return nil, fmt.Errorf("bufpool: invalid buffer size %d: %w", dataSize, errno.EINVAL)
	}
	p := &Pool{
		dataSize: dataSize,
		fatal:    nil,
		free:     queue.New[*packet.Packet](count),
		inuse:    make(map[*packet.Packet]bool, count),
		logger:   nil,
		mu:       sync.Mutex{},
		used:     0,
	}
	for _, option := range options {
		option(p)
	}
	if p.fatal == nil {
		p.fatal = p.defaultFatal
	}
	for i := 0; i < count; i++ {
		pkt := packet.New(dataSize)
		p.inuse[pkt] = false
		runtimex.Try0(p.free.Enqueue(pkt, 0))
	}
	if p.logger != nil {
		p.logger.Debug("bufpoolInit", slog.Int("count", count), slog.Int("dataSize", dataSize))
	}
	return p, nil
}

// MustNew is like [New] but panics on error.
func MustNew(count, dataSize int, options ...Option) *Pool {
	return runtimex.Try1(New(count, dataSize, options...))
}

// Count returns the total number of buffers.
func (p *Pool) Count() int {
	return p.free.Capacity()
}

// DataSize returns the payload capacity of each buffer.
func (p *Pool) DataSize() int {
	return p.dataSize
}

// Remaining returns the number of free buffers.
func (p *Pool) Remaining() int {
	return p.free.Size()
}

// InUse returns the number of buffers in use.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Get acquires a buffer waiting up to timeout for one to be released. A zero
// timeout never blocks. It returns [ErrExhausted] if no buffer became free.
func (p *Pool) Get(timeout time.Duration) (*packet.Packet, error) {
	pkt, err := p.free.Dequeue(timeout)
	if err != nil {
		return nil, ErrExhausted
	}
	return p.take(pkt), nil
}

// GetContext is like [*Pool.Get] but waits until the context is done. The
// returned error wraps both [ErrExhausted] and the context error.
func (p *Pool) GetContext(ctx context.Context) (*packet.Packet, error) {
	pkt, err := p.free.DequeueContext(ctx)
	if err != nil {
		return nil, errors.Join(ErrExhausted, ctx.Err())
	}
	return p.take(pkt), nil
}

// TryGetAlways acquires a buffer without blocking. It returns
// [ErrFatalExhaustion] if the pool is empty so that the caller may decide
// whether to abort or to propagate the error.
func (p *Pool) TryGetAlways() (*packet.Packet, error) {
	pkt, err := p.free.Dequeue(0)
	if err != nil {
		return nil, ErrFatalExhaustion
	}
	return p.take(pkt), nil
}

// GetAlways acquires a buffer without blocking. An empty pool is an
// unrecoverable condition: GetAlways invokes the fatal handler, which by
// default logs and panics with [ErrFatalExhaustion].
func (p *Pool) GetAlways() *packet.Packet {
	pkt, err := p.TryGetAlways()
	if err != nil {
		p.fatal(err)
		return nil
	}
	return pkt
}

// take marks pkt as in use and clears its metadata.
func (p *Pool) take(pkt *packet.Packet) *packet.Packet {
	pkt.Reset()
	p.mu.Lock()
	p.inuse[pkt] = true
	p.used++
	p.mu.Unlock()
	return pkt
}

// Free returns pkt to the pool. Misuse leaves the pool unchanged and
// returns one of the following errors:
//
// 1. [ErrForeignBuffer] if pkt is nil or was not allocated by this pool;
//
// 2. [ErrDoubleFree] if pkt is already free.
func (p *Pool) Free(pkt *packet.Packet) error {
	p.mu.Lock()
	inuse, owned := p.inuse[pkt]
	switch {
	case !owned:
		p.mu.Unlock()
		return ErrForeignBuffer
	case !inuse:
		p.mu.Unlock()
		return ErrDoubleFree
	}
	p.inuse[pkt] = false
	p.used--
	p.mu.Unlock()

	// The free list has room for every buffer, so this cannot fail.
	runtimex.Try0(p.free.Enqueue(pkt, 0))
	return nil
}

// Clone copies pkt into a buffer acquired without blocking.
func (p *Pool) Clone(pkt *packet.Packet) (*packet.Packet, error) {
	clone, err := p.Get(0)
	if err != nil {
		return nil, err
	}
	if err := clone.CopyFrom(pkt); err != nil {
		if ferr := p.Free(clone); ferr != nil && p.logger != nil {
			p.logger.Warn("bufferReleaseFailed", slog.Any("err", ferr))
		}
		return nil, err
	}
	return clone, nil
}

// defaultFatal is the default fatal handler.
func (p *Pool) defaultFatal(err error) {
	if p.logger != nil {
		p.logger.Error(
			"bufpoolExhausted",
			slog.Any("err", err),
			slog.Int("count", p.Count()),
		)
	}
	panic(err)
}
