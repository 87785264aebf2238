package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-dronecan-link/internal/driver"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("dronecan-link %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	irq := &interrupts{}
	be, err := initBackend(ctx, cfg, l, &wg, irq.txDone)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}

	clock := hal.NewSystemClock()
	drv := driver.New(be.tx,
		driver.WithRxSlots(cfg.rxQueue),
		driver.WithTxSlots(cfg.txQueue),
		driver.WithInterrupts(&irq.line),
		driver.WithClock(clock),
		driver.WithHandler(&frameTracer{l: l}),
		driver.WithNodeID(uint8(cfg.nodeID)),
		driver.WithLogger(l),
	)
	irq.drv = drv
	be.startRx(irq.rxFrame)
	l.Info("driver_config", "rx_slots", cfg.rxQueue, "tx_slots", cfg.txQueue, "node_id", cfg.nodeID)

	var pub *nodePublisher
	if cfg.nodeID != 0 {
		pub = newNodePublisher(drv, clock, l)
		pub.publishLog(logLevelInfo, "dronecan-link", fmt.Sprintf("dronecan-link %s started on %s", version, cfg.backend))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		runMainLoop(ctx, drv, pub, cfg.serviceEvery, cfg.statusEvery)
	}()
	startMetricsLogger(ctx, cfg.logMetricsEvery, drv, l, &wg)

	metrics.SetStatsSource(drv.Stats)
	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		if cfg.mdnsEnable {
			advertise(ctx, cfg, l)
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	be.close()
	wg.Wait()
	logSnapshot(l, metrics.Snap(), drv.Stats())
}

// advertise publishes the telemetry endpoint over mDNS until ctx ends.
func advertise(ctx context.Context, cfg *appConfig, l *slog.Logger) {
	port, err := listenPort(cfg.metricsAddr)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	cleanup, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
	go func() { <-ctx.Done(); cleanup() }()
}
