package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mavlink_frames_total",
		Help: "Total frames sliced out of the link byte stream, by protocol version.",
	}, []string{"version"})
	DiscardedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavlink_discarded_bytes_total",
		Help: "Bytes dropped while resynchronising on a magic byte.",
	})
	RxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_rx_bytes_total",
		Help: "Total raw bytes received from the telemetry link.",
	})
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mavlink_messages_total",
		Help: "Decoded catalog messages by name.",
	}, []string{"msg"})
	SkippedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mavlink_messages_skipped_total",
		Help: "Catalog messages ignored because the payload was shorter than the layout.",
	}, []string{"msg"})
	UnknownMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavlink_unknown_messages_total",
		Help: "Frames whose message id is not in the catalog.",
	})
	FrameErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavlink_frame_errors_total",
		Help: "Frames whose decode or apply step failed and was recovered.",
	})
	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_state",
		Help: "Connection state (0=disconnected 1=connecting 2=connected 3=weak 4=error).",
	})
	LinkReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_reconnects_total",
		Help: "Reconnect attempts scheduled after the transport closed.",
	})
	HeartbeatAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_heartbeat_age_seconds",
		Help: "Seconds since the last vehicle heartbeat at the most recent liveness check.",
	})
	HubDroppedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_updates_total",
		Help: "Total updates dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active feed subscribers.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of subscribers targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued updates among subscribers in the last broadcast.",
	})
	FeedTxUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_tx_updates_total",
		Help: "Total updates written to TCP feed clients.",
	})
	MQTTPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_published_total",
		Help: "Total messages handed to the MQTT broker.",
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

// Error label constants (stable label values to bound cardinality)
const (
	ErrLinkDial    = "link_dial"
	ErrLinkRead    = "link_read"
	ErrFrameApply  = "frame_apply"
	ErrFeedAccept  = "feed_accept"
	ErrFeedRead    = "feed_read"
	ErrFeedWrite   = "feed_write"
	ErrFeedEncode  = "feed_encode"
	ErrMQTTConnect = "mqtt_connect"
	ErrMQTTPublish = "mqtt_publish"
	ErrSerialRead  = "serial_read"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
// Extra handlers (e.g. /telemetry) can be mounted through mounts.
func StartHTTP(addr string, mounts ...func(*http.ServeMux)) *http.Server {
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
	for _, m := range mounts {
		m(mux)
	}

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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localFramesV1   uint64
	localFramesV2   uint64
	localDiscarded  uint64
	localRxBytes    uint64
	localDecoded    uint64
	localSkipped    uint64
	localUnknown    uint64
	localFrameErrs  uint64
	localLinkState  uint64
	localReconnects uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localHubClients uint64
	localFanout     uint64
	localFeedTx     uint64
	localMQTT       uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesV1   uint64
	FramesV2   uint64
	Discarded  uint64
	RxBytes    uint64
	Decoded    uint64
	Skipped    uint64
	Unknown    uint64
	FrameErrs  uint64
	LinkState  uint64
	Reconnects uint64
	HubDrops   uint64
	HubKicks   uint64
	HubRejects uint64
	HubClients uint64
	Fanout     uint64
	FeedTx     uint64
	MQTT       uint64
	Errors     uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		FramesV1:   atomic.LoadUint64(&localFramesV1),
		FramesV2:   atomic.LoadUint64(&localFramesV2),
		Discarded:  atomic.LoadUint64(&localDiscarded),
		RxBytes:    atomic.LoadUint64(&localRxBytes),
		Decoded:    atomic.LoadUint64(&localDecoded),
		Skipped:    atomic.LoadUint64(&localSkipped),
		Unknown:    atomic.LoadUint64(&localUnknown),
		FrameErrs:  atomic.LoadUint64(&localFrameErrs),
		LinkState:  atomic.LoadUint64(&localLinkState),
		Reconnects: atomic.LoadUint64(&localReconnects),
		HubDrops:   atomic.LoadUint64(&localHubDrop),
		HubKicks:   atomic.LoadUint64(&localHubKick),
		HubRejects: atomic.LoadUint64(&localHubReject),
		HubClients: atomic.LoadUint64(&localHubClients),
		Fanout:     atomic.LoadUint64(&localFanout),
		FeedTx:     atomic.LoadUint64(&localFeedTx),
		MQTT:       atomic.LoadUint64(&localMQTT),
		Errors:     atomic.LoadUint64(&localErrors),
	}
}

// IncFrame counts one extracted frame of the given protocol version.
func IncFrame(version int) {
	FramesTotal.WithLabelValues(strconv.Itoa(version)).Inc()
	if version == 2 {
		atomic.AddUint64(&localFramesV2, 1)
		return
	}
	atomic.AddUint64(&localFramesV1, 1)
}

func AddDiscarded(n int) {
	if n <= 0 {
		return
	}
	DiscardedBytes.Add(float64(n))
	atomic.AddUint64(&localDiscarded, uint64(n))
}

func AddRxBytes(n int) {
	RxBytes.Add(float64(n))
	atomic.AddUint64(&localRxBytes, uint64(n))
}

// IncMessage counts a successfully decoded catalog message.
func IncMessage(name string) {
	MessagesTotal.WithLabelValues(name).Inc()
	atomic.AddUint64(&localDecoded, 1)
}

func IncSkipped(name string) {
	SkippedMessages.WithLabelValues(name).Inc()
	atomic.AddUint64(&localSkipped, 1)
}

func IncUnknown() {
	UnknownMessages.Inc()
	atomic.AddUint64(&localUnknown, 1)
}

func IncFrameError() {
	FrameErrors.Inc()
	atomic.AddUint64(&localFrameErrs, 1)
	IncError(ErrFrameApply)
}

// SetLinkState records the numeric connection state.
func SetLinkState(s int) {
	LinkState.Set(float64(s))
	atomic.StoreUint64(&localLinkState, uint64(s))
}

func IncReconnect() {
	LinkReconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func SetHeartbeatAge(seconds float64) { HeartbeatAge.Set(seconds) }

func IncHubDrop() {
	HubDroppedUpdates.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func SetQueueDepthMax(n int) { HubQueueDepthMax.Set(float64(n)) }

func AddFeedTx(n int) {
	FeedTxUpdates.Add(float64(n))
	atomic.AddUint64(&localFeedTx, uint64(n))
}

func IncMQTTPublish() {
	MQTTPublished.Inc()
	atomic.AddUint64(&localMQTT, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrLinkDial, ErrLinkRead, ErrFrameApply,
		ErrFeedAccept, ErrFeedRead, ErrFeedWrite, ErrFeedEncode,
		ErrMQTTConnect, ErrMQTTPublish, ErrSerialRead,
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
