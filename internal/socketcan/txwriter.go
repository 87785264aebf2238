package socketcan

import (
	"context"
	"errors"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
	"github.com/kstaniek/go-dronecan-link/internal/transport"
)

var ErrTxOverflow = errors.New("socketcan tx overflow")

// Dev is the minimal interface needed by the backend and TXWriter.
// Implemented by *Device on linux and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// TXWriter is the SocketCAN transmit mailbox; done reports each write.
type TXWriter struct{ base *transport.AsyncTx }

var _ hal.Transmitter = (*TXWriter)(nil)

// NewTXWriter creates a SocketCAN TXWriter holding up to buf frames. done may be nil.
func NewTXWriter(parent context.Context, dev Dev, buf int, done func(ok bool)) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(err error) { metrics.IncError(metrics.ErrSocketCANWrite) },
		OnAfter: func() { metrics.IncSocketCANTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
		OnComplete: done,
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, dev.WriteFrame, hooks)}
}

func (w *TXWriter) Transmit(fr *can.Frame) hal.TxResult { return w.base.Transmit(fr) }

// SendFrame queues a frame (drops with ErrTxOverflow if the mailbox is full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
