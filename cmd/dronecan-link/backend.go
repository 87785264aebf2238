package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/driver"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// backend is an opened CAN peripheral. Its transmitter is the one-frame TX
// mailbox; startRx launches the receive loop, which plays the RX interrupt.
type backend struct {
	tx      hal.Transmitter
	startRx func(onFrame func(can.Frame))
	close   func()
}

// interrupts routes backend events into the driver's interrupt entry points.
// drv must be set before the first Transmit and before startRx.
type interrupts struct {
	line hal.IRQLine
	drv  *driver.Driver
}

// rxFrame is the RX interrupt body.
func (in *interrupts) rxFrame(fr can.Frame) {
	lf := hal.LatchedFrame{Frame: fr}
	in.drv.OnRxInterrupt(&lf)
}

// txDone is the transmit-complete interrupt, held off while the main loop
// has it masked.
func (in *interrupts) txDone(ok bool) {
	in.line.Raise(func() { in.drv.TxComplete(ok) })
}

// initBackend opens the configured peripheral. txDone is invoked from the
// mailbox goroutine after every write.
func initBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup, txDone func(ok bool)) (*backend, error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, l, wg, txDone)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, l, wg, txDone)
	default:
		return nil, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}

// backoff doubles the wait between failed reads up to rxBackoffMax.
type backoff time.Duration

func (b *backoff) reset() { *b = backoff(rxBackoffMin) }

func (b *backoff) wait() {
	sleepFn(time.Duration(*b))
	*b *= 2
	if *b > backoff(rxBackoffMax) {
		*b = backoff(rxBackoffMax)
	}
}
