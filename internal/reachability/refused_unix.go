//go:build !windows

package reachability

import "syscall"

var errConnRefused error = syscall.ECONNREFUSED
