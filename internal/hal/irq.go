package hal

import (
	"sync"
	"sync/atomic"
)

// IRQLine emulates a maskable transmit-complete interrupt on a host. The
// "interrupt handler" runs through Raise and holds the line while it runs;
// DisableTxInterrupt holds it off until EnableTxInterrupt.
//
// Not reentrant: Raise must not be called from code running with the line
// disabled on the same goroutine.
type IRQLine struct {
	mu    sync.Mutex
	fence atomic.Uint32
}

var _ InterruptController = (*IRQLine)(nil)

func (l *IRQLine) DisableTxInterrupt() { l.mu.Lock() }
func (l *IRQLine) EnableTxInterrupt()  { l.mu.Unlock() }

// MemoryBarrier issues a sequentially consistent atomic operation.
func (l *IRQLine) MemoryBarrier() { l.fence.Add(1) }

// Raise runs isr as the interrupt handler, waiting while the line is masked.
func (l *IRQLine) Raise(isr func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	isr()
}

// NopInterrupts is an InterruptController for single-context use and tests.
type NopInterrupts struct{}

func (NopInterrupts) DisableTxInterrupt() {}
func (NopInterrupts) EnableTxInterrupt()  {}
func (NopInterrupts) MemoryBarrier()      {}
