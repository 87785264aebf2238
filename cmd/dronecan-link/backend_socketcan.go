package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
	"github.com/kstaniek/go-dronecan-link/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

func initSocketCANBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup, txDone func(bool)) (*backend, error) {
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, txMailboxSize, txDone)
	startRx := func(onFrame func(can.Frame)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.Info("socketcan_rx_end")
			socketCANRxLoop(ctx, dev, l, onFrame)
		}()
	}
	return &backend{tx: tw, startRx: startRx, close: func() { _ = dev.Close(); tw.Close() }}, nil
}

func socketCANRxLoop(ctx context.Context, dev socketcan.Dev, l *slog.Logger, onFrame func(can.Frame)) {
	var bo backoff
	bo.reset()
	for ctx.Err() == nil {
		var fr can.Frame
		if err := dev.ReadFrame(&fr); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			l.Warn("socketcan_read_error", "error", err, "backoff", time.Duration(bo))
			bo.wait()
			continue
		}
		metrics.IncSocketCANRx()
		onFrame(fr)
		bo.reset()
	}
}
