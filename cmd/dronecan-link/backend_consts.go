package main

import "time"

const (
	// One frame in the mailbox: the driver keeps at most one frame in flight.
	txMailboxSize     = 1
	serialReadBufSize = 4096
	// largeBufferReclaimThreshold is the capacity above which the drained
	// serial RX accumulator is reallocated, so a burst of line noise does
	// not pin a large backing array.
	largeBufferReclaimThreshold = 16 * 1024
	rxBackoffMin                = 20 * time.Millisecond
	rxBackoffMax                = 500 * time.Millisecond
)
