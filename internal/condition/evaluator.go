package condition

import (
	"context"
	"log/slog"
	"sync"

	"matchpulse/internal/model"
)

// TickInput is one fixture's evaluation context for a tick.
type TickInput struct {
	Fixture *model.Fixture
	Vector  *model.MetricVector
	Events  []model.Event
}

// Trigger is a false→true transition of one alert on one fixture.
type Trigger struct {
	Alert     model.Alert
	Fixture   *model.Fixture
	Vector    *model.MetricVector
	Condition string // human-readable summary for notification bodies
}

// activeAlert is an alert loaded into the evaluator with its parsed
// expression and per-fixture truth memory. The mutex serializes all
// evaluation of this alert; an alert is never evaluated concurrently
// against two snapshots.
type activeAlert struct {
	mu        sync.Mutex
	alert     model.Alert
	expr      *Expression
	lastTruth map[string]bool // fixture id → truth at previous evaluation
}

// Evaluator runs all active alerts against each tick's snapshots and
// reports false→true transitions. Triggering is edge-based: a condition
// that stays true produces exactly one trigger until it turns false and
// true again.
type Evaluator struct {
	mu      sync.RWMutex
	alerts  map[int64]*activeAlert
	customs map[int64]map[string]string // user id → metric name → formula

	workers int
	log     *slog.Logger

	// OnTrigger receives each false→true transition. Called from worker
	// goroutines; the dispatcher behind it must be safe for that.
	OnTrigger func(Trigger)

	// OnEvalError observes per-alert evaluation failures (bad custom
	// metric formulas, unknown variables). The alert is suppressed for
	// the tick and its truth state is left unchanged.
	OnEvalError func(alertID int64, fixtureID string, err error)
}

// NewEvaluator creates an evaluator running at most workers alert
// evaluations in parallel.
func NewEvaluator(workers int, log *slog.Logger) *Evaluator {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{
		alerts:  make(map[int64]*activeAlert),
		customs: make(map[int64]map[string]string),
		workers: workers,
		log:     log,
	}
}

// Reload swaps in the active alert set and custom metric formulas.
// Truth memory survives for alerts that remain active, so a reload does
// not re-fire alerts whose conditions are already true. Alerts with
// unparseable expressions are skipped and logged.
func (e *Evaluator) Reload(alerts []model.Alert, customs []model.CustomMetric) {
	next := make(map[int64]*activeAlert, len(alerts))
	nextCustoms := make(map[int64]map[string]string)

	for _, cm := range customs {
		byName := nextCustoms[cm.UserID]
		if byName == nil {
			byName = make(map[string]string)
			nextCustoms[cm.UserID] = byName
		}
		byName[cm.Name] = cm.Formula
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range alerts {
		expr, err := Parse(a.ExpressionJSON)
		if err != nil {
			e.log.Warn("skipping alert with invalid expression",
				"alert_id", a.ID, "err", err)
			continue
		}
		aa := &activeAlert{alert: a, expr: expr, lastTruth: make(map[string]bool)}
		if prev, ok := e.alerts[a.ID]; ok {
			prev.mu.Lock()
			aa.lastTruth = prev.lastTruth
			prev.mu.Unlock()
		}
		next[a.ID] = aa
	}
	e.alerts = next
	e.customs = nextCustoms
}

// AlertCount returns the number of loaded alerts.
func (e *Evaluator) AlertCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.alerts)
}

// DropFixture clears truth memory for an evicted fixture.
func (e *Evaluator) DropFixture(fixtureID string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, aa := range e.alerts {
		aa.mu.Lock()
		delete(aa.lastTruth, fixtureID)
		aa.mu.Unlock()
	}
}

// EvaluateTick runs every loaded alert against every evaluable fixture
// in the tick. Work is distributed alert-wise across the worker pool;
// each alert holds its own lock for the duration of its pass, so
// per-alert state transitions are strictly ordered.
func (e *Evaluator) EvaluateTick(ctx context.Context, inputs []TickInput) {
	evaluable := inputs[:0:0]
	for _, in := range inputs {
		if in.Fixture != nil && in.Vector != nil && in.Fixture.Status.Evaluable() {
			evaluable = append(evaluable, in)
		}
	}
	if len(evaluable) == 0 {
		return
	}

	e.mu.RLock()
	batch := make([]*activeAlert, 0, len(e.alerts))
	for _, aa := range e.alerts {
		batch = append(batch, aa)
	}
	customs := e.customs
	e.mu.RUnlock()

	work := make(chan *activeAlert)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for aa := range work {
				e.evalAlert(aa, evaluable, customs[aa.alert.UserID])
			}
		}()
	}

	for _, aa := range batch {
		select {
		case work <- aa:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		}
	}
	close(work)
	wg.Wait()
}

func (e *Evaluator) evalAlert(aa *activeAlert, inputs []TickInput, customs map[string]string) {
	aa.mu.Lock()
	defer aa.mu.Unlock()

	for _, in := range inputs {
		if aa.alert.FixtureID != "" && aa.alert.FixtureID != in.Fixture.ID {
			continue
		}

		ectx := &EvalCtx{
			Vector:  in.Vector,
			Fixture: in.Fixture,
			Events:  in.Events,
			Customs: customs,
		}
		truth, err := aa.expr.Evaluate(ectx)
		if err != nil {
			if e.OnEvalError != nil {
				e.OnEvalError(aa.alert.ID, in.Fixture.ID, err)
			}
			continue
		}

		prev := aa.lastTruth[in.Fixture.ID]
		aa.lastTruth[in.Fixture.ID] = truth
		if truth && !prev && e.OnTrigger != nil {
			e.OnTrigger(Trigger{
				Alert:     aa.alert,
				Fixture:   in.Fixture,
				Vector:    in.Vector,
				Condition: aa.expr.Describe(),
			})
		}
	}
}
