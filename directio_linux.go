//go:build linux

package ploop

import "golang.org/x/sys/unix"

// directIOFlag returns the extra open(2) flag needed to request direct
// I/O (kernel bypass of the page cache for data transfers). It forces the
// alignment discipline callers must already observe: every user-supplied
// buffer, offset, and length must be a multiple of PageSize.
func directIOFlag() int {
	return unix.O_DIRECT
}
