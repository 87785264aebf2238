// Package hal describes the peripheral a Driver talks to: a frame sink with
// a transmit-complete interrupt, a frame source read from the receive
// interrupt, and a monotonic clock.
package hal

import "github.com/kstaniek/go-dronecan-link/internal/can"

// TxResult is the outcome of handing a frame to the transmitter.
type TxResult int

const (
	TxAccepted   TxResult = iota // queued in hardware; completion reported later
	TxRejected                   // refused; frame is lost
	TxWouldBlock                 // no mailbox free right now
)

func (r TxResult) String() string {
	switch r {
	case TxAccepted:
		return "accepted"
	case TxRejected:
		return "rejected"
	case TxWouldBlock:
		return "would_block"
	default:
		return "unknown"
	}
}

// Transmitter hands a frame to the hardware. It must not block and must copy
// the frame before returning; the pointer refers to a ring slot.
type Transmitter interface {
	Transmit(*can.Frame) TxResult
}

// Receiver is the receive side as seen from inside the RX interrupt.
type Receiver interface {
	// ReceiveFrameInto copies the pending hardware frame into dst.
	ReceiveFrameInto(dst *can.Frame)
	// ReleaseReceiveResource discards the pending frame without copying.
	ReleaseReceiveResource()
}

// InterruptController masks the transmit-complete interrupt.
type InterruptController interface {
	DisableTxInterrupt()
	EnableTxInterrupt()
	MemoryBarrier()
}

// Clock is a monotonic microsecond clock.
type Clock interface {
	MonotonicMicros() uint64
}
