package hal

import "github.com/kstaniek/go-dronecan-link/internal/can"

// LatchedFrame is a Receiver over a frame a backend has already read off the
// wire, standing in for a peripheral's receive mailbox.
type LatchedFrame struct {
	Frame    can.Frame
	Released bool
}

var _ Receiver = (*LatchedFrame)(nil)

func (l *LatchedFrame) ReceiveFrameInto(dst *can.Frame) { *dst = l.Frame }

func (l *LatchedFrame) ReleaseReceiveResource() { l.Released = true }
