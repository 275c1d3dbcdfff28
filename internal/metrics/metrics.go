package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors for the transport/state synchronization plane.
var (
	Connections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landnet_ws_connections_total",
		Help: "Total WebSocket connections accepted.",
	})
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "landnet_frames_sent_total",
		Help: "Outbound frames enqueued, by kind.",
	}, []string{"kind"})
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landnet_dropped_frames_total",
		Help: "Frames dropped because a client send queue was full.",
	})
	Joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "landnet_joins_total",
		Help: "Join attempts, by outcome.",
	}, []string{"outcome"})
	ActiveLands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "landnet_active_lands",
		Help: "Lands currently held by the manager.",
	})
	JoinedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "landnet_joined_sessions",
		Help: "Sessions currently joined across all lands.",
	})
	RuleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landnet_rule_errors_total",
		Help: "Rule bodies that returned an error and were rolled back.",
	})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "landnet_decode_errors_total",
		Help: "Inbound frames dropped by the codec, by reason.",
	}, []string{"reason"})
	CodecFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "landnet_codec_fallbacks_total",
		Help: "Bundled events re-emitted as standalone frames after a body encode mismatch.",
	})
)

// NewServer returns an HTTP server exposing /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
