// SPDX-License-Identifier: GPL-3.0-or-later

// Package errno contains the platform errno values that the stack wraps
// inside its own sentinel errors.
//
// Wrapping a [syscall.Errno] allows callers (and the errclass package) to
// use [errors.Is] with the same values the kernel would return when a
// socket runs out of buffers or receives an invalid argument. We use
// the [x/sys] repository to pull system-dependent error values.
package errno
