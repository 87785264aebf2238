package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
	"github.com/kstaniek/go-dronecan-link/internal/logging"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
	"github.com/kstaniek/go-dronecan-link/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter is the serial transmit mailbox: frames are encoded and written by
// one goroutine, and done reports each write's outcome.
type TXWriter struct{ base *transport.AsyncTx }

var _ hal.Transmitter = (*TXWriter)(nil)

// NewTXWriter creates a serial TXWriter holding up to buf frames. done may be nil.
func NewTXWriter(parent context.Context, sp Port, codec Codec, buf int, done func(ok bool)) *TXWriter {
	wire := make([]byte, 0, envelopeLen+txHeaderLen+can.ClassicDataLen)
	send := func(fr can.Frame) error {
		var err error
		if wire, err = codec.AppendEncode(wire[:0], fr); err != nil {
			return err
		}
		_, err = sp.Write(wire)
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncSerialTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
		OnComplete: done,
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// Transmit queues a copy of fr without blocking.
func (w *TXWriter) Transmit(fr *can.Frame) hal.TxResult { return w.base.Transmit(fr) }

// SendFrame queues a frame (drops with ErrTxOverflow if the mailbox is full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for its goroutine to exit.
func (w *TXWriter) Close() { w.base.Close() }
