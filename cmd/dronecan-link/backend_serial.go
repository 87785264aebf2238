package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
	"github.com/kstaniek/go-dronecan-link/internal/serial"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serial.Open

func initSerialBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup, txDone func(bool)) (*backend, error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	codec := serial.Codec{}
	w := serial.NewTXWriter(ctx, sp, codec, txMailboxSize, txDone)
	startRx := func(onFrame func(can.Frame)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.Info("serial_rx_end")
			serialRxLoop(ctx, sp, codec, l, onFrame)
		}()
	}
	return &backend{tx: w, startRx: startRx, close: func() { _ = sp.Close(); w.Close() }}, nil
}

func serialRxLoop(ctx context.Context, sp serial.Port, codec serial.Codec, l *slog.Logger, onFrame func(can.Frame)) {
	buf := make([]byte, serialReadBufSize)
	acc := bytes.NewBuffer(nil)
	var bo backoff
	bo.reset()
	for ctx.Err() == nil {
		n, err := sp.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			_ = codec.DecodeStream(acc, onFrame)
			if acc.Len() == 0 && acc.Cap() > largeBufferReclaimThreshold {
				acc = bytes.NewBuffer(nil)
			}
			bo.reset()
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		var perr *os.PathError
		if errors.As(err, &perr) {
			l.Error("serial_device_lost", "error", err)
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			continue // read timeout
		}
		metrics.IncError(metrics.ErrSerialRead)
		l.Warn("serial_read_error", "error", err, "backoff", time.Duration(bo))
		bo.wait()
	}
}
