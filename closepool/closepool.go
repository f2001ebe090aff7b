// SPDX-License-Identifier: GPL-3.0-or-later

// Package closepool tears down the resources attached to a node
// in the reverse order of attachment.
package closepool

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// closerFunc adapts a function to [io.Closer].
type closerFunc func() error

// Close implements [io.Closer].
func (fn closerFunc) Close() error {
	return fn()
}

// handle is a named [io.Closer].
type handle struct {
	closer io.Closer
	name   string
}

// Pool allows pooling a set of named [io.Closer].
//
// The zero value is ready to use.
type Pool struct {
	// handles contains the [io.Closer] to close.
	handles []handle

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// Add adds a given [io.Closer] to the pool. The name is used to
// annotate the error returned by Close, if any.
func (p *Pool) Add(name string, closer io.Closer) {
	p.mu.Lock()
	p.handles = append(p.handles, handle{closer: closer, name: name})
	p.mu.Unlock()
}

// AddFunc is like [*Pool.Add] but registers a function.
func (p *Pool) AddFunc(name string, fn func() error) {
	p.Add(name, closerFunc(fn))
}

// Len returns the number of resources waiting to be closed.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Close closes all the [io.Closer] inside the pool iterating in
// backward order. Therefore, if one attaches an interface and then
// a goroutine reading from it, the goroutine is stopped first. The
// returned error is the join of all the errors that occurred, each
// prefixed with the name of the resource that failed.
//
// Close is idempotent: the pool is empty after the first call.
func (p *Pool) Close() error {
	// Lock and copy the handles to close.
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	// Close all the handles.
	var errv []error
	for _, h := range slices.Backward(handles) {
		if err := h.closer.Close(); err != nil {
			errv = append(errv, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errv...)
}
