//go:build windows

package reachability

import "syscall"

// WSAECONNREFUSED
var errConnRefused error = syscall.Errno(10061)
