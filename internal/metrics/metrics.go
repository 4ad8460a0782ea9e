package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/canscope/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_frames_total",
		Help: "Total CAN frames received and ingested into the frame table.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_tx_frames_total",
		Help: "Total queued CAN frames transmitted on the bus.",
	})
	RxTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_timeouts_total",
		Help: "Receive attempts that ended without a frame (silent bus).",
	})
	TxQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tx_queue_depth",
		Help: "Frames waiting in the outgoing queue.",
	})
	TableEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frame_table_entries",
		Help: "Distinct identifiers currently tracked in the frame table.",
	})
	SessionRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_running",
		Help: "1 while the bus session loop is running.",
	})
	SessionStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_starts_total",
		Help: "Total successful session starts.",
	})
	CatalogMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_messages",
		Help: "Message definitions in the active catalog (0 when none loaded).",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_errors_total",
		Help: "Signals that failed to decode from a frame payload.",
	})
	StreamDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_dropped_updates_total",
		Help: "Table updates dropped by the stream hub due to slow subscribers.",
	})
	StreamKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_kicked_clients_total",
		Help: "Stream subscribers disconnected due to backpressure kick policy.",
	})
	StreamActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_active_clients",
		Help: "Current number of live stream subscribers.",
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
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrOpen          = "open"
	ErrReceive       = "receive"
	ErrTransmit      = "transmit"
	ErrQueueOverflow = "tx_queue_overflow"
	ErrUsage         = "usage"
	ErrCatalog       = "catalog"
	ErrSerialRead    = "serial_read"
	ErrHTTP          = "http"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	Register(mux)
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Register mounts /metrics and /ready on mux.
func Register(mux *http.ServeMux) {
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
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx        uint64
	localTx        uint64
	localTimeouts  uint64
	localQueue     uint64
	localEntries   uint64
	localRunning   uint64
	localStarts    uint64
	localCatalog   uint64
	localDecodeErr uint64
	localDrops     uint64
	localKicks     uint64
	localClients   uint64
	localErrors    uint64
	localMalformed uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Rx            uint64
	Tx            uint64
	RxTimeouts    uint64
	QueueDepth    uint64
	TableEntries  uint64
	Running       bool
	Starts        uint64
	CatalogMsgs   uint64
	DecodeErrors  uint64
	StreamDrops   uint64
	StreamKicks   uint64
	StreamClients uint64
	Errors        uint64 // sum across error labels
	Malformed     uint64
}

func Snap() Snapshot {
	return Snapshot{
		Rx:            atomic.LoadUint64(&localRx),
		Tx:            atomic.LoadUint64(&localTx),
		RxTimeouts:    atomic.LoadUint64(&localTimeouts),
		QueueDepth:    atomic.LoadUint64(&localQueue),
		TableEntries:  atomic.LoadUint64(&localEntries),
		Running:       atomic.LoadUint64(&localRunning) == 1,
		Starts:        atomic.LoadUint64(&localStarts),
		CatalogMsgs:   atomic.LoadUint64(&localCatalog),
		DecodeErrors:  atomic.LoadUint64(&localDecodeErr),
		StreamDrops:   atomic.LoadUint64(&localDrops),
		StreamKicks:   atomic.LoadUint64(&localKicks),
		StreamClients: atomic.LoadUint64(&localClients),
		Errors:        atomic.LoadUint64(&localErrors),
		Malformed:     atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncRxTimeout() {
	RxTimeouts.Inc()
	atomic.AddUint64(&localTimeouts, 1)
}

func SetQueueDepth(n int) {
	TxQueueDepth.Set(float64(n))
	atomic.StoreUint64(&localQueue, uint64(n))
}

func SetTableEntries(n int) {
	TableEntries.Set(float64(n))
	atomic.StoreUint64(&localEntries, uint64(n))
}

// SetRunning flips the session_running gauge.
func SetRunning(running bool) {
	v := uint64(0)
	if running {
		v = 1
	}
	SessionRunning.Set(float64(v))
	atomic.StoreUint64(&localRunning, v)
}

func IncSessionStart() {
	SessionStarts.Inc()
	atomic.AddUint64(&localStarts, 1)
}

func SetCatalogMessages(n int) {
	CatalogMessages.Set(float64(n))
	atomic.StoreUint64(&localCatalog, uint64(n))
}

func IncDecodeError() {
	DecodeErrors.Inc()
	atomic.AddUint64(&localDecodeErr, 1)
}

func IncStreamDrop() {
	StreamDroppedFrames.Inc()
	atomic.AddUint64(&localDrops, 1)
}

func IncStreamKick() {
	StreamKickedClients.Inc()
	atomic.AddUint64(&localKicks, 1)
}

func SetStreamClients(n int) {
	StreamActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
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
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrOpen, ErrReceive, ErrTransmit, ErrQueueOverflow,
		ErrUsage, ErrCatalog, ErrSerialRead, ErrHTTP,
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
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
