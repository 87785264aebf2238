package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"

	"github.com/kstaniek/go-dronecan-link/internal/driver"
	"github.com/kstaniek/go-dronecan-link/internal/logging"
)

// Backend counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial link.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed serial frames (bad length or checksum).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Driver statistics, read from the registered source at scrape time.
var (
	statsFn atomic.Pointer[func() driver.Stats]

	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "driver_rx_frames_total",
		Help: "Frames accepted into the RX ring.",
	}, func() float64 { return float64(Stats().RxFrames) })
	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "driver_tx_frames_total",
		Help: "Frames confirmed sent by the transmitter.",
	}, func() float64 { return float64(Stats().TxFrames) })
	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "driver_rx_errors_total",
		Help: "Frames dropped because the RX ring was full.",
	}, func() float64 { return float64(Stats().RxErrors) })
	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "driver_tx_errors_total",
		Help: "Partial transfers, rejected frames and failed completions.",
	}, func() float64 { return float64(Stats().TxErrors) })
	_ = promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "driver_broadcast_errors_total",
		Help: "Broadcasts that did not fit completely into the TX ring.",
	}, func() float64 { return float64(Stats().BroadcastErrors) })
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "driver_rx_queue_len",
		Help: "Frames waiting in the RX ring.",
	}, func() float64 { return float64(Stats().RxLen) })
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "driver_tx_queue_len",
		Help: "Frames waiting in the TX ring.",
	}, func() float64 { return float64(Stats().TxLen) })
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "driver_rx_queue_peak",
		Help: "Highest RX ring occupancy since start.",
	}, func() float64 { return float64(Stats().RxPeakAll) })
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "driver_tx_queue_peak",
		Help: "Highest TX ring occupancy since start.",
	}, func() float64 { return float64(Stats().TxPeakAll) })
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrBroadcast      = "broadcast"
)

// SetStatsSource registers the function behind the driver_* series and /stats.
func SetStatsSource(fn func() driver.Stats) {
	if fn == nil {
		statsFn.Store(nil)
		return
	}
	statsFn.Store(&fn)
}

// Stats returns the registered driver statistics, or a zero value.
func Stats() driver.Stats {
	if p := statsFn.Load(); p != nil {
		return (*p)()
	}
	return driver.Stats{}
}

// Handler returns the telemetry mux: /metrics, /ready and /stats.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	mux.HandleFunc("/stats", serveStats)
	return mux
}

func serveStats(w http.ResponseWriter, r *http.Request) {
	b, err := sonnet.Marshal(Stats())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(b, '\n'))
}

// StartHTTP serves Handler on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: Handler(),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSerialRx    uint64
	localSerialTx    uint64
	localSocketCANTx uint64
	localSocketCANRx uint64
	localErrors      uint64
	localMalformed   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx    uint64
	SocketCANRx uint64
	SerialTx    uint64
	SocketCANTx uint64
	Errors      uint64 // sum across error labels
	Malformed   uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:    atomic.LoadUint64(&localSerialRx),
		SocketCANRx: atomic.LoadUint64(&localSocketCANRx),
		SerialTx:    atomic.LoadUint64(&localSerialTx),
		SocketCANTx: atomic.LoadUint64(&localSocketCANTx),
		Errors:      atomic.LoadUint64(&localErrors),
		Malformed:   atomic.LoadUint64(&localMalformed),
	}
}

func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
		ErrBroadcast,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not wired yet: report ready so probes don't flap
		return true
	}
	return fn()
}
