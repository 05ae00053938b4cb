// Package engine wires the poll pipeline, metric extraction, pattern
// detection, condition evaluation and dispatch into one service.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"matchpulse/internal/condition"
	"matchpulse/internal/dispatch"
	"matchpulse/internal/eventbuf"
	"matchpulse/internal/extract"
	"matchpulse/internal/ingest"
	"matchpulse/internal/model"
	"matchpulse/internal/pattern"
	"matchpulse/internal/snapstore"
)

// AlertSource is the slice of persistence the service needs for alert
// reloads.
type AlertSource interface {
	ActiveAlerts(ctx context.Context) ([]model.Alert, error)
	AllCustomMetrics(ctx context.Context) ([]model.CustomMetric, error)
}

// Service runs the evaluation core. All cross-component flow funnels
// through EvaluateTick, invoked by the ingestion pipeline once per
// tick.
type Service struct {
	pipeline  *ingest.Pipeline
	store     *snapstore.Store
	events    *eventbuf.Buffer
	patterns  *pattern.Engine
	evaluator *condition.Evaluator
	disp      *dispatch.Dispatcher
	alerts    AlertSource
	pub       model.Publisher
	log       *slog.Logger

	mu         sync.Mutex
	lastTickAt time.Time
	lastCount  int

	// OnEvalDone observes evaluation phase latency.
	OnEvalDone func(elapsed time.Duration)
	// OnPattern observes every emitted pattern.
	OnPattern func(model.Pattern)
}

// New wires a service. The pipeline's Evaluate hook and the evaluator's
// trigger hook are installed here.
func New(
	pipeline *ingest.Pipeline,
	store *snapstore.Store,
	events *eventbuf.Buffer,
	patterns *pattern.Engine,
	evaluator *condition.Evaluator,
	disp *dispatch.Dispatcher,
	alerts AlertSource,
	pub model.Publisher,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		pipeline:  pipeline,
		store:     store,
		events:    events,
		patterns:  patterns,
		evaluator: evaluator,
		disp:      disp,
		alerts:    alerts,
		pub:       pub,
		log:       log,
	}

	pipeline.Evaluate = s.EvaluateTick
	pipeline.OnEvicted = func(fixtureID string) {
		patterns.Drop(fixtureID)
		evaluator.DropFixture(fixtureID)
	}
	evaluator.OnTrigger = func(t condition.Trigger) {
		disp.Dispatch(context.Background(), t)
	}
	return s
}

// Run starts the poll loop and the pattern state sweeper; blocks until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if err := s.ReloadAlerts(ctx); err != nil {
		s.log.Error("initial alert load failed", "err", err)
	}

	go s.sweepLoop(ctx)
	s.pipeline.Run(ctx)
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.patterns.Sweep(); n > 0 {
				s.log.Info("swept pattern state", "fixtures", n)
			}
		}
	}
}

// EvaluateTick runs one tick's results through extraction, pattern
// detection, broadcast and condition evaluation.
func (s *Service) EvaluateTick(ctx context.Context, results []ingest.TickResult) {
	start := time.Now()

	inputs := make([]condition.TickInput, 0, len(results))
	for _, r := range results {
		if !r.Snapshot.Fixture.Status.Evaluable() {
			continue
		}
		vector := extract.Extract(r.Snapshot, r.Events)

		for _, p := range s.patterns.Observe(r.Snapshot.Fixture.ID, &vector, r.Events) {
			if s.OnPattern != nil {
				s.OnPattern(p)
			}
			s.log.Info("pattern detected",
				"fixture_id", p.FixtureID, "kind", p.Kind,
				"team", p.Team, "severity", p.Severity,
				"confidence", p.Confidence)
			s.pub.Publish(ctx, model.NewMessage(model.MsgPatternDetected, p))
		}
		vector.ActivePatterns = s.patterns.Active(r.Snapshot.Fixture.ID)

		s.pub.Publish(ctx, model.NewMessage(model.MsgMatchUpdate, r.Snapshot.Fixture))

		fixture := r.Snapshot.Fixture
		inputs = append(inputs, condition.TickInput{
			Fixture: &fixture,
			Vector:  &vector,
			Events:  r.Events,
		})
	}

	s.evaluator.EvaluateTick(ctx, inputs)

	s.mu.Lock()
	s.lastTickAt = time.Now()
	s.lastCount = len(inputs)
	s.mu.Unlock()

	if s.OnEvalDone != nil {
		s.OnEvalDone(time.Since(start))
	}
}

// ReloadAlerts re-reads active alerts and custom metrics from storage.
// The new set takes effect on the next tick; per-alert channel
// disablement is cleared.
func (s *Service) ReloadAlerts(ctx context.Context) error {
	alerts, err := s.alerts.ActiveAlerts(ctx)
	if err != nil {
		return err
	}
	customs, err := s.alerts.AllCustomMetrics(ctx)
	if err != nil {
		return err
	}
	s.evaluator.Reload(alerts, customs)
	s.disp.ResetDisabled()
	s.log.Info("alerts reloaded", "alerts", len(alerts), "custom_metrics", len(customs))
	return nil
}

// Pause suspends polling; Resume lifts it.
func (s *Service) Pause()  { s.pipeline.Pause() }
func (s *Service) Resume() { s.pipeline.Resume() }

// PollNow requests an immediate tick.
func (s *Service) PollNow() { s.pipeline.PollNow() }

// Stats is the control surface's status snapshot.
type Stats struct {
	Paused            bool      `json:"paused"`
	MonitoredFixtures int       `json:"monitored_fixtures"`
	LoadedAlerts      int       `json:"loaded_alerts"`
	LastTickAt        time.Time `json:"last_tick_at"`
	LastTickFixtures  int       `json:"last_tick_fixtures"`
	BudgetUsed        int       `json:"budget_used"`
	BudgetRemaining   int       `json:"budget_remaining"`
}

// StatsFn builds a Stats snapshot; budget figures come from the
// supplied reader so the service stays decoupled from the client type.
func (s *Service) StatsFn(budgetUsed, budgetRemaining func() int) func() Stats {
	return func() Stats {
		s.mu.Lock()
		lastAt, lastN := s.lastTickAt, s.lastCount
		s.mu.Unlock()
		return Stats{
			Paused:            s.pipeline.Paused(),
			MonitoredFixtures: s.store.Len(),
			LoadedAlerts:      s.evaluator.AlertCount(),
			LastTickAt:        lastAt,
			LastTickFixtures:  lastN,
			BudgetUsed:        budgetUsed(),
			BudgetRemaining:   budgetRemaining(),
		}
	}
}

// Shutdown stops polling, lets the in-flight tick finish and drains
// in-flight dispatches, all within the deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	s.pipeline.Pause()
	tickErr := s.pipeline.Drain(ctx)
	dispErr := s.disp.Drain(ctx)
	if tickErr != nil {
		return tickErr
	}
	return dispErr
}
