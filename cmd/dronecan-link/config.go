package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/canard"
)

const envPrefix = "DRONECAN_LINK_"

type appConfig struct {
	backend         string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	canIf           string
	nodeID          int
	serviceEvery    time.Duration
	statusEvery     time.Duration
	rxQueue         int
	txQueue         int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	flag.StringVar(&cfg.backend, "backend", "socketcan", "CAN backend: serial|socketcan")
	flag.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path (when --backend=serial)")
	flag.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	flag.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	flag.StringVar(&cfg.canIf, "can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	flag.IntVar(&cfg.nodeID, "node-id", 0, "Local node id 1..127 (0 = listen only, no broadcasts)")
	flag.DurationVar(&cfg.serviceEvery, "service-interval", time.Millisecond, "Scheduler tick period")
	flag.DurationVar(&cfg.statusEvery, "status-interval", time.Second, "NodeStatus broadcast period (0 disables)")
	flag.IntVar(&cfg.rxQueue, "rx-queue", 64, "RX ring slots (one stays unused)")
	flag.IntVar(&cfg.txQueue, "tx-queue", 64, "TX ring slots (one stays unused)")
	flag.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Telemetry HTTP listen address (e.g., :9100); empty disables")
	flag.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log counters and queue peaks")
	flag.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the telemetry endpoint over mDNS")
	flag.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default dronecan-link-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Flags given on the command line win over the environment.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate checks values and ranges only; it opens nothing.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.nodeID != 0 && (c.nodeID < canard.NodeIDMin || c.nodeID > canard.NodeIDMax) {
		return fmt.Errorf("node-id must be 0 or %d..%d (got %d)", canard.NodeIDMin, canard.NodeIDMax, c.nodeID)
	}
	if c.serviceEvery <= 0 {
		return fmt.Errorf("service-interval must be > 0")
	}
	if c.statusEvery < 0 {
		return fmt.Errorf("status-interval must be >= 0")
	}
	if c.rxQueue < 2 || c.txQueue < 2 {
		return fmt.Errorf("rx-queue and tx-queue must be >= 2 (got %d, %d)", c.rxQueue, c.txQueue)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// envOverrides collects the first parse error while applying DRONECAN_LINK_*
// variables to flags that were not set explicitly. Empty values are ignored.
type envOverrides struct {
	set      map[string]struct{}
	firstErr error
}

func (e *envOverrides) lookup(flagName, key string) (string, bool) {
	if _, ok := e.set[flagName]; ok {
		return "", false
	}
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envOverrides) fail(key string, err error) {
	if e.firstErr == nil {
		e.firstErr = fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
}

func (e *envOverrides) setString(dst *string, flagName, key string) {
	if v, ok := e.lookup(flagName, key); ok {
		*dst = v
	}
}

func (e *envOverrides) setInt(dst *int, flagName, key string) {
	if v, ok := e.lookup(flagName, key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) setDuration(dst *time.Duration, flagName, key string) {
	if v, ok := e.lookup(flagName, key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envOverrides) setBool(dst *bool, flagName, key string) {
	if v, ok := e.lookup(flagName, key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			e.fail(key, fmt.Errorf("not a boolean: %q", v))
		}
	}
}

// applyEnvOverrides maps DRONECAN_LINK_* variables onto c unless the
// corresponding flag was set. Durations use time.ParseDuration syntax.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	e := &envOverrides{set: set}
	e.setString(&c.backend, "backend", "BACKEND")
	e.setString(&c.serialDev, "serial", "SERIAL")
	e.setInt(&c.baud, "baud", "BAUD")
	e.setDuration(&c.serialReadTO, "serial-read-timeout", "SERIAL_READ_TIMEOUT")
	e.setString(&c.canIf, "can-if", "IF")
	e.setInt(&c.nodeID, "node-id", "NODE_ID")
	e.setDuration(&c.serviceEvery, "service-interval", "SERVICE_INTERVAL")
	e.setDuration(&c.statusEvery, "status-interval", "STATUS_INTERVAL")
	e.setInt(&c.rxQueue, "rx-queue", "RX_QUEUE")
	e.setInt(&c.txQueue, "tx-queue", "TX_QUEUE")
	e.setString(&c.logFormat, "log-format", "LOG_FORMAT")
	e.setString(&c.logLevel, "log-level", "LOG_LEVEL")
	e.setString(&c.metricsAddr, "metrics-addr", "METRICS")
	e.setDuration(&c.logMetricsEvery, "log-metrics-interval", "LOG_METRICS_INTERVAL")
	e.setBool(&c.mdnsEnable, "mdns-enable", "MDNS_ENABLE")
	e.setString(&c.mdnsName, "mdns-name", "MDNS_NAME")
	return e.firstErr
}
