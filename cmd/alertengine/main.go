// Command alertengine runs the real-time alert evaluation core: the
// ingestion poll loop, metric extraction, pattern detection, condition
// evaluation and notification dispatch, plus the control and metrics
// HTTP surfaces.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"matchpulse/config"
	"matchpulse/internal/broadcast"
	"matchpulse/internal/condition"
	"matchpulse/internal/control"
	"matchpulse/internal/dispatch"
	"matchpulse/internal/engine"
	"matchpulse/internal/eventbuf"
	"matchpulse/internal/ingest"
	"matchpulse/internal/logger"
	"matchpulse/internal/metrics"
	"matchpulse/internal/model"
	"matchpulse/internal/notification"
	"matchpulse/internal/pattern"
	"matchpulse/internal/snapstore"
	storeredis "matchpulse/internal/store/redis"
	"matchpulse/internal/store/sqlite"
	"matchpulse/internal/upstream"
)

// shutdownDeadline bounds in-flight fetches and dispatch draining.
const shutdownDeadline = 30 * time.Second

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("[main] loaded .env")
	}

	cfg := config.Load()
	slg := logger.Init("alertengine", logger.ParseLevel(cfg.LogLevel))

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[main] sqlite unavailable: %v", err)
	}
	defer store.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL:    cfg.UpstreamBaseURL,
		APIKey:     cfg.UpstreamAPIKey,
		BudgetHour: cfg.UpstreamBudget,
		MinDelay:   cfg.UpstreamMinDelay,
		Timeout:    cfg.UpstreamTimeout,
	}, slg)
	client.OnCall = func() {
		m.UpstreamCalls.Inc()
		m.BudgetRemaining.Set(float64(client.Budget().Remaining()))
	}
	client.OnRetry = m.UpstreamRetries.Inc
	client.OnError = func(err error) {
		m.UpstreamErrors.WithLabelValues(upstream.Classify(err)).Inc()
		health.SetUpstreamOK(false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps := snapstore.New()
	events := eventbuf.New(cfg.EventBufferSize)
	patterns := pattern.New(cfg.PatternRetention, slg)

	hub := broadcast.NewHub()
	hub.OnDrop = m.BroadcastDrops.Inc

	// The Redis mirror is optional; without it the websocket hub is the
	// only broadcast path.
	var (
		pub model.Publisher = hub
		rdb *goredis.Client
	)
	if cfg.RedisAddr != "" {
		mirror, err := storeredis.NewMirror(storeredis.MirrorConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[main] redis mirror disabled: %v", err)
		} else {
			defer mirror.Close()
			mirror.OnDrop = m.MirrorDrops.Inc
			mirror.OnFlush = func(count int) {
				slg.Info("redis mirror recovered", "replayed", count)
			}
			rdb = mirror.Client()
			pub = tee{hub, mirror}
			go mirror.Run(ctx)
			go watchBreaker(ctx, mirror, m)
		}
	}

	var sms model.SMSSender
	var email model.EmailSender
	if cfg.SMSProviderURL != "" {
		sms = notification.NewSMSGateway(cfg.SMSProviderURL, cfg.SMSAPIKey)
	} else {
		sms = notification.NewLogSender()
	}
	if cfg.EmailProviderURL != "" {
		email = notification.NewEmailGateway(cfg.EmailProviderURL, cfg.EmailAPIKey, cfg.EmailFrom)
	} else {
		email = notification.NewLogSender()
	}

	disp := dispatch.New(store, sms, email, pub, slg)
	disp.OnDispatched = func(_ int64, ch model.ChannelKind) {
		m.DispatchesTotal.WithLabelValues(string(ch)).Inc()
	}
	disp.OnSuppressed = func(int64) { m.SuppressedTotal.Inc() }
	disp.OnFailure = func(_ int64, ch model.ChannelKind, permanent bool) {
		class := "transient"
		if permanent {
			class = "permanent"
		}
		m.DispatchFailures.WithLabelValues(string(ch), class).Inc()
	}
	disp.OnPersistFailure = func(int64, error) { m.PersistFailures.Inc() }

	evaluator := condition.NewEvaluator(cfg.EvalConcurrency, slg)
	evaluator.OnEvalError = func(alertID int64, fixtureID string, err error) {
		m.EvalErrorsTotal.Inc()
		slg.Warn("alert evaluation skipped", "alert_id", alertID,
			"fixture_id", fixtureID, "err", err)
	}

	pipeline := ingest.New(client, snaps, events, ingest.Config{
		PollInterval: cfg.PollInterval,
		MaxMonitored: cfg.MaxMonitored,
		Workers:      cfg.IngestConcurrency,
	}, slg)
	pipeline.OnSkippedTick = m.SkippedTicks.Inc
	pipeline.OnOverCap = func(excess int) { m.OverCapacity.Add(float64(excess)) }
	pipeline.OnMonitored = func(n int) { m.MonitoredFixtures.Set(float64(n)) }
	pipeline.OnStale = m.StaleServed.Inc
	pipeline.OnShape = m.ShapeAnomalies.Inc
	pipeline.OnEvent = func(ev model.Event) {
		m.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	}
	pipeline.OnFetchDone = func(elapsed time.Duration, ok bool) {
		m.FetchDur.Observe(elapsed.Seconds())
		health.SetUpstreamOK(ok)
		health.SetLastPollTime(time.Now())
	}

	svc := engine.New(pipeline, snaps, events, patterns, evaluator, disp, store, pub, slg)
	svc.OnEvalDone = func(elapsed time.Duration) { m.EvalDur.Observe(elapsed.Seconds()) }
	svc.OnPattern = func(p model.Pattern) {
		m.PatternsDetected.WithLabelValues(string(p.Kind)).Inc()
	}
	evaluator.OnTrigger = func(t condition.Trigger) {
		m.TriggersTotal.Inc()
		disp.Dispatch(context.Background(), t)
	}

	health.StartLivenessChecker(ctx, rdb, store.DB(), 30*time.Second)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.WSClients.Set(float64(hub.ClientCount()))
			}
		}
	}()

	stats := svc.StatsFn(client.Budget().Used, client.Budget().Remaining)
	go hub.BroadcastStatus(ctx, 30*time.Second, func() interface{} { return stats() })

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	controlSrv := control.NewServer(cfg.ControlAddr, svc, stats, hub, store)
	controlSrv.Start()

	go svc.Run(ctx)
	slg.Info("alert engine started",
		"poll_interval", cfg.PollInterval,
		"max_monitored", cfg.MaxMonitored,
		"budget_per_hour", cfg.UpstreamBudget)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slg.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer shutdownCancel()

	// Let the in-flight tick and dispatches finish before the root
	// context is torn down; past the deadline the cancel aborts them.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slg.Warn("shutdown drain incomplete", "err", err)
	}
	cancel()
	controlSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	slg.Info("alert engine stopped")
}

// tee publishes to both the websocket hub and the Redis mirror.
type tee struct {
	a, b model.Publisher
}

func (t tee) Publish(ctx context.Context, msg model.Message) {
	t.a.Publish(ctx, msg)
	t.b.Publish(ctx, msg)
}

// watchBreaker reflects the mirror's circuit state into the gauge.
func watchBreaker(ctx context.Context, mirror *storeredis.Mirror, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RedisCircuit.Set(float64(mirror.Breaker().CurrentState()))
		}
	}
}
