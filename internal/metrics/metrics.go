package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/linkarq/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges for the ARQ domain.
var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_frames_sent_total",
		Help: "Total first transmissions of Data Frames that crossed the simulated channel and were written to the transport.",
	})
	FramesResent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_frames_resent_total",
		Help: "Total Data Frame retransmissions due to timeout or NACK.",
	})
	FramesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_frames_delivered_total",
		Help: "Total Data Frames delivered in order to the output sink.",
	})
	FramesDroppedChannel = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_frames_dropped_channel_total",
		Help: "Total Data Frames lost in transit by the simulated channel.",
	})
	FramesCorrupted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_frames_corrupted_total",
		Help: "Total Data Frames the channel delivered with injected bit errors.",
	})
	FramesFCSInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_frames_fcs_invalid_total",
		Help: "Total received frames that failed FCS validation.",
	})
	AcksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_acks_sent_total",
		Help: "Total ACK frames sent by a receiver.",
	})
	AcksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_acks_received_total",
		Help: "Total ACK frames observed by a sender.",
	})
	NacksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_nacks_sent_total",
		Help: "Total NACK frames sent by a Selective Repeat receiver.",
	})
	NacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_nacks_received_total",
		Help: "Total NACK frames observed by a Selective Repeat sender.",
	})
	Timeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_timeouts_total",
		Help: "Total retransmit-timer expirations.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arq_malformed_frames_total",
		Help: "Total rejected malformed frames (truncated reads); address mismatches are not counted.",
	})
	WindowOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arq_window_occupancy",
		Help: "Current count of in-flight (unacknowledged) frames at the sender.",
	})
	ReorderBufferOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arq_reorder_buffer_occupancy",
		Help: "Current count of out-of-order frames buffered at a Selective Repeat receiver.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTransportRead  = "transport_read"
	ErrTransportWrite = "transport_write"
	ErrSourceRead     = "source_read"
	ErrSinkWrite      = "sink_write"
	ErrSessionLimit   = "session_limit"
)

// StartHTTP serves Prometheus metrics at /metrics on a fresh mux.
func StartHTTP(addr string) *http.Server {
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

// Local mirrored counters for cheap in-process logging without scraping.
var (
	localSent      uint64
	localResent    uint64
	localDelivered uint64
	localDropped   uint64
	localCorrupted uint64
	localFCSBad    uint64
	localAcksSent  uint64
	localAcksRecv  uint64
	localNacksSent uint64
	localNacksRecv uint64
	localTimeouts  uint64
	localMalformed uint64
	localErrors    uint64
	localWindow    uint64
	localReorder   uint64
)

// Snapshot is a cheap copy of local counters for periodic logging.
type Snapshot struct {
	Sent      uint64
	Resent    uint64
	Delivered uint64
	Dropped   uint64
	Corrupted uint64
	FCSBad    uint64
	AcksSent  uint64
	AcksRecv  uint64
	NacksSent uint64
	NacksRecv uint64
	Timeouts  uint64
	Malformed uint64
	Errors    uint64
	Window    uint64
	Reorder   uint64
}

func Snap() Snapshot {
	return Snapshot{
		Sent:      atomic.LoadUint64(&localSent),
		Resent:    atomic.LoadUint64(&localResent),
		Delivered: atomic.LoadUint64(&localDelivered),
		Dropped:   atomic.LoadUint64(&localDropped),
		Corrupted: atomic.LoadUint64(&localCorrupted),
		FCSBad:    atomic.LoadUint64(&localFCSBad),
		AcksSent:  atomic.LoadUint64(&localAcksSent),
		AcksRecv:  atomic.LoadUint64(&localAcksRecv),
		NacksSent: atomic.LoadUint64(&localNacksSent),
		NacksRecv: atomic.LoadUint64(&localNacksRecv),
		Timeouts:  atomic.LoadUint64(&localTimeouts),
		Malformed: atomic.LoadUint64(&localMalformed),
		Errors:    atomic.LoadUint64(&localErrors),
		Window:    atomic.LoadUint64(&localWindow),
		Reorder:   atomic.LoadUint64(&localReorder),
	}
}

func IncFramesSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localSent, 1)
}

func IncFramesResent() {
	FramesResent.Inc()
	atomic.AddUint64(&localResent, 1)
}

func IncFramesDelivered() {
	FramesDelivered.Inc()
	atomic.AddUint64(&localDelivered, 1)
}

func IncFramesDroppedChannel() {
	FramesDroppedChannel.Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncFramesCorrupted() {
	FramesCorrupted.Inc()
	atomic.AddUint64(&localCorrupted, 1)
}

func IncFramesFCSInvalid() {
	FramesFCSInvalid.Inc()
	atomic.AddUint64(&localFCSBad, 1)
}

func IncAcksSent() {
	AcksSent.Inc()
	atomic.AddUint64(&localAcksSent, 1)
}

func IncAcksReceived() {
	AcksReceived.Inc()
	atomic.AddUint64(&localAcksRecv, 1)
}

func IncNacksSent() {
	NacksSent.Inc()
	atomic.AddUint64(&localNacksSent, 1)
}

func IncNacksReceived() {
	NacksReceived.Inc()
	atomic.AddUint64(&localNacksRecv, 1)
}

func IncTimeouts() {
	Timeouts.Inc()
	atomic.AddUint64(&localTimeouts, 1)
}

func IncMalformedFrames() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func SetWindowOccupancy(n int) {
	WindowOccupancy.Set(float64(n))
	atomic.StoreUint64(&localWindow, uint64(n))
}

func SetReorderBufferOccupancy(n int) {
	ReorderBufferOccupancy.Set(float64(n))
	atomic.StoreUint64(&localReorder, uint64(n))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTransportRead, ErrTransportWrite, ErrSourceRead, ErrSinkWrite, ErrSessionLimit,
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
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
