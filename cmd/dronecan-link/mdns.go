package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType names the telemetry HTTP endpoint (/metrics, /stats).
const mdnsServiceType = "_dronecan-link._tcp"

// startMDNS advertises the telemetry port and returns a cleanup function.
// Disabled advertisement is a no-op.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("dronecan-link-%s", host)
	}
	meta := []string{
		"backend=" + cfg.backend,
		"node_id=" + strconv.Itoa(cfg.nodeID),
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}

// listenPort extracts the port of a listen address such as ":9100" or
// "0.0.0.0:9100".
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port in %q", addr)
	}
	return n, nil
}
