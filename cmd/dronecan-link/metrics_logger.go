package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/driver"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
)

// startMetricsLogger logs counters every interval and starts a new peak
// interval after each line.
func startMetricsLogger(ctx context.Context, interval time.Duration, drv *driver.Driver, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap(), drv.Stats())
				drv.ResetIntervalPeaks()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot, st driver.Stats) {
	l.Info("metrics_snapshot",
		"serial_rx", snap.SerialRx,
		"socketcan_rx", snap.SocketCANRx,
		"serial_tx", snap.SerialTx,
		"socketcan_tx", snap.SocketCANTx,
		"errors", snap.Errors,
		"malformed", snap.Malformed,
		"rx_frames", st.RxFrames,
		"tx_frames", st.TxFrames,
		"rx_errors", st.RxErrors,
		"tx_errors", st.TxErrors,
		"broadcast_errors", st.BroadcastErrors,
		"rx_peak", st.RxPeak,
		"tx_peak", st.TxPeak,
	)
}
