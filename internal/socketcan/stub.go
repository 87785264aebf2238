//go:build !linux

package socketcan

import "errors"

var ErrUnsupported = errors.New("socketcan: unsupported on this platform")

// Open always fails off linux.
func Open(iface string) (Dev, error) { return nil, ErrUnsupported }
