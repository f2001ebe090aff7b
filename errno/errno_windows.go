//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Windows errno definitions.
//

package errno

import "golang.org/x/sys/windows"

const (
	// EINVAL is the invalid argument error.
	EINVAL = windows.WSAEINVAL

	// EMSGSIZE is the message too long error.
	EMSGSIZE = windows.WSAEMSGSIZE

	// ENOBUFS is the no buffer space available error.
	ENOBUFS = windows.WSAENOBUFS
)
