//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UNIX errno definitions.
//

package errno

import "golang.org/x/sys/unix"

const (
	// EINVAL is the invalid argument error.
	EINVAL = unix.EINVAL

	// EMSGSIZE is the message too long error.
	EMSGSIZE = unix.EMSGSIZE

	// ENOBUFS is the no buffer space available error.
	ENOBUFS = unix.ENOBUFS
)
