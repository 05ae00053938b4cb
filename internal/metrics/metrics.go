// Package metrics exposes Prometheus instrumentation and the health
// endpoint for the alert engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Upstream client
	UpstreamCalls   prometheus.Counter
	UpstreamRetries prometheus.Counter
	UpstreamErrors  *prometheus.CounterVec // labels: class=transient|auth|not_found|budget
	BudgetRemaining prometheus.Gauge
	FetchDur        prometheus.Histogram

	// Ingestion
	SkippedTicks      prometheus.Counter     // ticks skipped because the prior one still ran
	OverCapacity      prometheus.Counter     // live fixtures beyond the monitoring cap
	MonitoredFixtures prometheus.Gauge
	StaleServed       prometheus.Counter     // evaluations served from expired snapshots
	EventsEmitted     *prometheus.CounterVec // labels: type
	ShapeAnomalies    prometheus.Counter     // non-monotone or malformed upstream payloads

	// Evaluation
	EvalDur          prometheus.Histogram
	TriggersTotal    prometheus.Counter
	SuppressedTotal  prometheus.Counter     // cooldown suppressions
	EvalErrorsTotal  prometheus.Counter     // alerts skipped on formula errors
	PatternsDetected *prometheus.CounterVec // labels: kind

	// Dispatch
	DispatchesTotal  *prometheus.CounterVec // labels: channel
	DispatchFailures *prometheus.CounterVec // labels: channel, class=transient|permanent
	PersistFailures  prometheus.Counter

	// Broadcast
	WSClients      prometheus.Gauge
	BroadcastDrops prometheus.Counter
	MirrorDrops    prometheus.Counter // envelopes dropped on the full mirror queue
	RedisCircuit   prometheus.Gauge   // 0=closed, 1=open, 2=half-open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		UpstreamCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_upstream_calls_total",
			Help: "Total upstream API calls attempted",
		}),
		UpstreamRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_upstream_retries_total",
			Help: "Total upstream call retries",
		}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchpulse_upstream_errors_total",
			Help: "Upstream call failures by class",
		}, []string{"class"}),
		BudgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchpulse_upstream_budget_remaining",
			Help: "Upstream calls remaining in the rolling hour window",
		}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchpulse_fetch_duration_seconds",
			Help:    "Per-tick fetch phase latency",
			Buckets: prometheus.DefBuckets,
		}),

		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_skipped_ticks_total",
			Help: "Poll ticks skipped because the previous tick was still running",
		}),
		OverCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_over_capacity_total",
			Help: "Live fixtures left unmonitored due to the fixture cap",
		}),
		MonitoredFixtures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchpulse_monitored_fixtures",
			Help: "Fixtures currently monitored",
		}),
		StaleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_stale_snapshots_served_total",
			Help: "Evaluations run against snapshots past their TTL",
		}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchpulse_events_emitted_total",
			Help: "Match events produced by the snapshot differ",
		}, []string{"type"}),
		ShapeAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_shape_anomalies_total",
			Help: "Upstream payloads with non-monotone or malformed fields",
		}),

		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchpulse_eval_duration_seconds",
			Help:    "Per-tick evaluation phase latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		TriggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_triggers_total",
			Help: "Alert condition false-to-true transitions",
		}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_triggers_suppressed_total",
			Help: "Triggers suppressed by cooldown",
		}),
		EvalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_eval_errors_total",
			Help: "Alert evaluations skipped due to formula errors",
		}),
		PatternsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchpulse_patterns_detected_total",
			Help: "Detected game patterns by kind",
		}, []string{"kind"}),

		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchpulse_dispatches_total",
			Help: "Successful notification deliveries by channel",
		}, []string{"channel"}),
		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchpulse_dispatch_failures_total",
			Help: "Notification delivery failures by channel and class",
		}, []string{"channel", "class"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_trigger_persist_failures_total",
			Help: "Trigger records that could not be persisted (dispatch aborted)",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchpulse_ws_clients",
			Help: "Connected websocket subscribers",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_broadcast_drops_total",
			Help: "Broadcast frames dropped on full client buffers",
		}),
		MirrorDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchpulse_redis_mirror_drops_total",
			Help: "Envelopes dropped because the Redis mirror queue was full",
		}),
		RedisCircuit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchpulse_redis_circuit_breaker_state",
			Help: "Redis mirror circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}

	prometheus.MustRegister(
		m.UpstreamCalls,
		m.UpstreamRetries,
		m.UpstreamErrors,
		m.BudgetRemaining,
		m.FetchDur,
		m.SkippedTicks,
		m.OverCapacity,
		m.MonitoredFixtures,
		m.StaleServed,
		m.EventsEmitted,
		m.ShapeAnomalies,
		m.EvalDur,
		m.TriggersTotal,
		m.SuppressedTotal,
		m.EvalErrorsTotal,
		m.PatternsDetected,
		m.DispatchesTotal,
		m.DispatchFailures,
		m.PersistFailures,
		m.WSClients,
		m.BroadcastDrops,
		m.MirrorDrops,
		m.RedisCircuit,
	)

	return m
}

// HealthStatus represents the engine's dependency health.
type HealthStatus struct {
	mu sync.RWMutex

	UpstreamOK     bool
	LastPollTime   time.Time
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetUpstreamOK(v bool) {
	h.mu.Lock()
	h.UpstreamOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPollTime(t time.Time) {
	h.mu.Lock()
	h.LastPollTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes until ctx is
// cancelled. rdb may be nil when the Redis mirror is disabled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.UpstreamOK || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.UpstreamOK && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	pollAge := ""
	if !h.LastPollTime.IsZero() {
		pollAge = time.Since(h.LastPollTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		UpstreamOK      bool    `json:"upstream_ok"`
		LastPollTime    string  `json:"last_poll_time"`
		PollAge         string  `json:"poll_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		UpstreamOK:      h.UpstreamOK,
		LastPollTime:    h.LastPollTime.Format(time.RFC3339),
		PollAge:         pollAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
