package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	EngineStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "engine_starts_total",
		Help:      "Total number of download engine instances created.",
	})

	EngineFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "engine_failures_total",
		Help:      "Total number of download engine instances discarded after a fatal error.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "active_sessions",
		Help:      "Number of sessions in the active registry set.",
	})

	StoppedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "stopped_sessions",
		Help:      "Number of sessions held paused by the stopped policy.",
	})

	AddingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "adding_sessions",
		Help:      "Number of attaches currently in flight.",
	})

	AttachTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "attach_total",
		Help:      "Total engine attaches by result.",
	}, []string{"result"})

	AttachDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streamgate",
		Name:      "attach_duration_seconds",
		Help:      "Time from attach request to parsed metadata.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	PreloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streamgate",
		Name:      "preload_duration_seconds",
		Help:      "Time until the preload threshold of a new session was reached.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	PreloadTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "preload_timeouts_total",
		Help:      "Total number of preload gates that gave up before the threshold.",
	})

	AutoResumeSuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "auto_resume_suppressed_total",
		Help:      "Total number of times a stopped session was found downloading and paused again.",
	})

	StreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "stream_requests_total",
		Help:      "Total stream requests by source (disk or live).",
	}, []string{"source"})

	StreamBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "stream_bytes_total",
		Help:      "Total bytes written to stream clients by source.",
	}, []string{"source"})

	RestoreTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "restore_total",
		Help:      "Total restore outcomes by status.",
	}, []string{"status"})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "ws_connections",
		Help:      "Number of connected push subscribers.",
	})

	WSMessagesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "ws_messages_dropped_total",
		Help:      "Total push messages dropped for unknown or slow subscribers.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all sessions.",
	})

	DiskFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "disk_free_bytes",
		Help:      "Free bytes on the filesystem holding the data directory.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EngineStartsTotal,
		EngineFailuresTotal,
		ActiveSessions,
		StoppedSessions,
		AddingSessions,
		AttachTotal,
		AttachDuration,
		PreloadDuration,
		PreloadTimeoutsTotal,
		AutoResumeSuppressedTotal,
		StreamRequestsTotal,
		StreamBytesTotal,
		RestoreTotal,
		WSConnections,
		WSMessagesDroppedTotal,
		DownloadSpeedBytes,
		PeersConnected,
		DiskFreeBytes,
	)
}
