package driver

import "github.com/kstaniek/go-dronecan-link/internal/hal"

// txMask keeps the transmit-complete interrupt masked until release.
// Acquire it and defer release so every exit path unmasks.
type txMask struct{ ic hal.InterruptController }

func maskTx(ic hal.InterruptController) txMask {
	ic.DisableTxInterrupt()
	ic.MemoryBarrier()
	return txMask{ic: ic}
}

func (m txMask) release() {
	m.ic.EnableTxInterrupt()
	m.ic.MemoryBarrier()
}
