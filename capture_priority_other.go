//go:build !linux

package main

import "errors"

// raiseThreadPriority is unsupported here: Darwin and Windows only expose
// per-thread priority through APIs outside golang.org/x/sys/unix.
func raiseThreadPriority() error {
	return errors.New("per-thread priority not supported on this platform")
}
