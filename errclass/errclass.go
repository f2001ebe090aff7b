// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package errclass implements error classification.

The general idea is to classify golang errors to an enum of strings
with names resembling standard Unix error names.

We extend [github.com/rbmk-project/common/errclass] with classes for
the errors returned by the packet-resource core. Errors we do not know
about are classified by the common package.

# Design Principles

1. Preserve original error in `err` in the structured logs.

2. Add the classified error as the `errClass` field.

3. Use [errors.Is] for classification.

4. Prefix subsystem-specific errors (`EBUF_`, `ECRC_`, `EQUEUE_`, `ERDP_`).

5. Map the nil error to an empty string.

# Packet Errors

- [EFRAME_SHORT] for [packet.ErrFrameTooShort]

- [EFRAME_LONG] for [packet.ErrFrameTooLong]

- [EFRAME_FIELD] for [packet.ErrFieldRange]

# Buffer Pool Errors

- [EBUF_EXHAUSTED] for [bufpool.ErrExhausted]

- [EBUF_FATAL] for [bufpool.ErrFatalExhaustion]

- [EBUF_DOUBLE_FREE] for [bufpool.ErrDoubleFree]

- [EBUF_FOREIGN] for [bufpool.ErrForeignBuffer]

# Integrity Errors

- [ECRC_MISMATCH] for [crc.ErrCRC32]

- [ECRC_NOROOM] for [crc.ErrNoRoom]

# Queue Errors

- [EQUEUE_FULL] and [EQUEUE_EMPTY] for [queue.ErrFull] and [queue.ErrEmpty]

- [ERDP_FULL] for [rdpqueue.ErrFull]

# Fallback

Everything else goes through [errclass.New], which yields [ETIMEDOUT],
[EINTR], [ENOBUFS] and friends, and [EGENERIC] for unclassified errors.
*/
package errclass

import (
	"errors"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/cspnet/bufpool"
	"github.com/rbmk-project/cspnet/crc"
	"github.com/rbmk-project/cspnet/packet"
	"github.com/rbmk-project/cspnet/queue"
	"github.com/rbmk-project/cspnet/rdpqueue"
)

const (
	EFRAME_SHORT     = "EFRAME_SHORT"
	EFRAME_LONG      = "EFRAME_LONG"
	EFRAME_FIELD     = "EFRAME_FIELD"
	EBUF_EXHAUSTED   = "EBUF_EXHAUSTED"
	EBUF_FATAL       = "EBUF_FATAL"
	EBUF_DOUBLE_FREE = "EBUF_DOUBLE_FREE"
	EBUF_FOREIGN     = "EBUF_FOREIGN"
	ECRC_MISMATCH    = "ECRC_MISMATCH"
	ECRC_NOROOM      = "ECRC_NOROOM"
	EQUEUE_FULL      = "EQUEUE_FULL"
	EQUEUE_EMPTY     = "EQUEUE_EMPTY"
	ERDP_FULL        = "ERDP_FULL"
)

const (
	// EINVAL is the invalid argument error.
	EINVAL = errclass.EINVAL

	// EINTR is the interrupted system call error.
	EINTR = errclass.EINTR

	// ENOBUFS is the no buffer space available error.
	ENOBUFS = errclass.ENOBUFS

	// ETIMEDOUT is the operation timed out error.
	ETIMEDOUT = errclass.ETIMEDOUT

	// EGENERIC is the generic, unclassified error.
	EGENERIC = errclass.EGENERIC
)

// errorsIsMap contains the sentinel errors of this module. They are
// all distinct, so the iteration order does not matter. Several of them
// wrap an errno value and must be checked before falling back.
var errorsIsMap = map[error]string{
	packet.ErrFrameTooShort:    EFRAME_SHORT,
	packet.ErrFrameTooLong:     EFRAME_LONG,
	packet.ErrFieldRange:       EFRAME_FIELD,
	bufpool.ErrExhausted:       EBUF_EXHAUSTED,
	bufpool.ErrFatalExhaustion: EBUF_FATAL,
	bufpool.ErrDoubleFree:      EBUF_DOUBLE_FREE,
	bufpool.ErrForeignBuffer:   EBUF_FOREIGN,
	crc.ErrCRC32:               ECRC_MISMATCH,
	crc.ErrNoRoom:              ECRC_NOROOM,
	queue.ErrFull:              EQUEUE_FULL,
	queue.ErrEmpty:             EQUEUE_EMPTY,
	rdpqueue.ErrFull:           ERDP_FULL,
}

// New creates a new error class from the given error.
func New(err error) string {
	if err == nil {
		return ""
	}
	for candidate, class := range errorsIsMap {
		if errors.Is(err, candidate) {
			return class
		}
	}
	return errclass.New(err)
}
