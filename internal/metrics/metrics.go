// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting deskwatch runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 1. Internal State (Source of Truth)
var (
	framesReceived     int64
	framesDropped      int64
	alertsReceived     int64
	handlerFailures    int64
	reconnectsPlanned  int64
	connectionsOpened  int64
	toastsSent         int64
	toastsFailed       int64
	toastsSuppressed   int64
	connected          int64
	newAlerts          int64
	lastFrameTimestamp int64
)

const counterInc int64 = 1

// 2. Prometheus Collectors
var (
	promFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskwatch_frames_total",
			Help: "Inbound realtime frames by outcome",
		},
		[]string{"outcome"},
	)
	promAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskwatch_alerts_total",
			Help: "Alert frames received",
		},
	)
	promHandlerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskwatch_handler_failures_total",
			Help: "Message handlers that returned an error or panicked",
		},
	)
	promReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskwatch_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after a dropped socket",
		},
	)
	promConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskwatch_connections_opened_total",
			Help: "Realtime sockets successfully opened",
		},
	)
	promToasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskwatch_toasts_total",
			Help: "Alert toasts delivered to providers by status",
		},
		[]string{"status"},
	)
	promConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskwatch_connected",
			Help: "1 while the realtime socket is open",
		},
	)
	promNewAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskwatch_has_new_alerts",
			Help: "1 while unacknowledged alerts exist",
		},
	)
	promLastFrame = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskwatch_last_frame_timestamp_seconds",
			Help: "Unix timestamp of the last inbound frame",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promFrames,
		promAlerts,
		promHandlerFailures,
		promReconnects,
		promConnections,
		promToasts,
		promConnected,
		promNewAlerts,
		promLastFrame,
	)
}

// 3. Public API (Updates both Atomic and Prometheus)

// IncFrameReceived counts an inbound frame and records its arrival time.
func IncFrameReceived() {
	atomic.AddInt64(&framesReceived, counterInc)
	promFrames.WithLabelValues("received").Inc()
	now := time.Now().Unix()
	atomic.StoreInt64(&lastFrameTimestamp, now)
	promLastFrame.Set(float64(now))
}

// IncFrameDropped counts a frame that could not be decoded.
func IncFrameDropped() {
	atomic.AddInt64(&framesDropped, counterInc)
	promFrames.WithLabelValues("dropped").Inc()
}

func IncAlert() {
	atomic.AddInt64(&alertsReceived, counterInc)
	promAlerts.Inc()
}

func IncHandlerFailure() {
	atomic.AddInt64(&handlerFailures, counterInc)
	promHandlerFailures.Inc()
}

func IncReconnectScheduled() {
	atomic.AddInt64(&reconnectsPlanned, counterInc)
	promReconnects.Inc()
}

func IncConnectionOpened() {
	atomic.AddInt64(&connectionsOpened, counterInc)
	promConnections.Inc()
}

func IncToastSent() {
	atomic.AddInt64(&toastsSent, counterInc)
	promToasts.WithLabelValues("sent").Inc()
}

func IncToastFailed() {
	atomic.AddInt64(&toastsFailed, counterInc)
	promToasts.WithLabelValues("failed").Inc()
}

// IncToastSuppressed counts a repeated toast skipped during a provider cooldown.
func IncToastSuppressed() {
	atomic.AddInt64(&toastsSuppressed, counterInc)
	promToasts.WithLabelValues("suppressed").Inc()
}

// SetConnected mirrors the realtime connection flag.
func SetConnected(v bool) {
	atomic.StoreInt64(&connected, boolToInt(v))
	promConnected.Set(float64(boolToInt(v)))
}

// SetNewAlerts mirrors the has-new-alerts flag.
func SetNewAlerts(v bool) {
	atomic.StoreInt64(&newAlerts, boolToInt(v))
	promNewAlerts.Set(float64(boolToInt(v)))
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// 4. JSON Snapshot Struct

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Connected         bool   `json:"connected"`
	HasNewAlerts      bool   `json:"has_new_alerts"`
	FramesReceived    int64  `json:"frames_received"`
	FramesDropped     int64  `json:"frames_dropped"`
	AlertsReceived    int64  `json:"alerts_received"`
	HandlerFailures   int64  `json:"handler_failures"`
	ReconnectsPlanned int64  `json:"reconnects_scheduled"`
	ConnectionsOpened int64  `json:"connections_opened"`
	ToastsSent        int64  `json:"toasts_sent"`
	ToastsFailed      int64  `json:"toasts_failed"`
	ToastsSuppressed  int64  `json:"toasts_suppressed"`
	LastFrame         int64  `json:"last_frame_timestamp"`
	LastFrameHuman    string `json:"last_frame_human,omitempty"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and flags.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastFrameTimestamp)
	s := StatsSnapshot{
		Connected:         atomic.LoadInt64(&connected) == 1,
		HasNewAlerts:      atomic.LoadInt64(&newAlerts) == 1,
		FramesReceived:    atomic.LoadInt64(&framesReceived),
		FramesDropped:     atomic.LoadInt64(&framesDropped),
		AlertsReceived:    atomic.LoadInt64(&alertsReceived),
		HandlerFailures:   atomic.LoadInt64(&handlerFailures),
		ReconnectsPlanned: atomic.LoadInt64(&reconnectsPlanned),
		ConnectionsOpened: atomic.LoadInt64(&connectionsOpened),
		ToastsSent:        atomic.LoadInt64(&toastsSent),
		ToastsFailed:      atomic.LoadInt64(&toastsFailed),
		ToastsSuppressed:  atomic.LoadInt64(&toastsSuppressed),
		LastFrame:         ts,
	}
	if ts > 0 {
		s.LastFrameHuman = time.Unix(ts, 0).Format(time.RFC3339)
	}
	return s
}

// 5. Handlers

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
