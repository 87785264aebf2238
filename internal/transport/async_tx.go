// Package transport provides the host-side transmit mailbox: a
// non-blocking hal.Transmitter whose completion is reported
// asynchronously, the way a CAN controller raises its TX interrupt.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
)

var (
	ErrAsyncTxClosed = errors.New("async tx closed")
	ErrMailboxFull   = errors.New("async tx mailbox full")
)

// AsyncTx funnels frame writes through a single goroutine. Enqueue never
// blocks: a full mailbox is reported to the caller immediately.
//
//	a := NewAsyncTx(ctx, 1, sendFn, hooks)
//	a.Transmit(&frame) // hooks.OnComplete fires once the write finishes
//	a.Close()
//
// With a mailbox of one slot and a caller that waits for OnComplete before
// the next Transmit, AsyncTx behaves like a single hardware TX buffer.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the mailbox is full; its error is returned from
	// SendFrame. Nil means ErrMailboxFull.
	OnDrop func() error
	// OnComplete runs on the worker goroutine after every send attempt,
	// ok reporting success. This is the transmit-complete interrupt.
	OnComplete func(ok bool)
}

var _ hal.Transmitter = (*AsyncTx)(nil)

// NewAsyncTx constructs an AsyncTx with a mailbox of buf frames.
func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	if buf < 1 {
		buf = 1
	}
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			a.complete(a.send(fr))
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *AsyncTx) complete(err error) {
	if err != nil {
		if a.hooks.OnError != nil {
			a.hooks.OnError(err)
		}
	} else if a.hooks.OnAfter != nil {
		a.hooks.OnAfter()
	}
	if a.hooks.OnComplete != nil {
		a.hooks.OnComplete(err == nil)
	}
}

// SendFrame queues a copy of fr. It returns ErrAsyncTxClosed after Close and
// the OnDrop error (or ErrMailboxFull) when the mailbox is full.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			if err := a.hooks.OnDrop(); err != nil {
				return err
			}
		}
		return ErrMailboxFull
	}
}

// Transmit implements hal.Transmitter on top of SendFrame.
func (a *AsyncTx) Transmit(fr *can.Frame) hal.TxResult {
	switch err := a.SendFrame(*fr); {
	case err == nil:
		return hal.TxAccepted
	case errors.Is(err, ErrAsyncTxClosed):
		return hal.TxRejected
	default:
		return hal.TxWouldBlock
	}
}

// Close stops the worker and waits for it to exit. A frame still queued is
// discarded without a completion.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
